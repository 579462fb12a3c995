// Package registry tracks in-flight delegated worker invocations across
// processes.
//
// State lives in a JSON file. Mutations take an exclusive flock on a
// sibling ".lock" file with a bounded non-blocking retry and replace the
// state file by rename, so readers never block and never see a partial
// write. Entries older than the staleness threshold are hidden from
// snapshots and dropped on the next mutation.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"submon/pkg/logging"
	"submon/pkg/protocol"
)

// Defaults.
const (
	DefaultStaleness   = time.Hour
	DefaultLockTimeout = 500 * time.Millisecond
	lockRetryInterval  = 10 * time.Millisecond
	fileVersion        = 1
)

var errLockTimeout = errors.New("lock timeout")

// Options configures a Registry. Zero fields take defaults.
type Options struct {
	Staleness   time.Duration
	LockTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

// Registry is the active invocation store. It holds no state in memory;
// every call reads the file.
type Registry struct {
	path        string
	lockPath    string
	staleness   time.Duration
	lockTimeout time.Duration
	log         *slog.Logger
	now         func() time.Time
}

type fileState struct {
	Version     int                         `json:"version"`
	Invocations []protocol.ActiveInvocation `json:"invocations"`
}

// New returns a Registry backed by path.
func New(path string, opts Options) *Registry {
	r := &Registry{
		path:        path,
		lockPath:    path + ".lock",
		staleness:   opts.Staleness,
		lockTimeout: opts.LockTimeout,
		log:         logging.OrDiscard(opts.Logger),
		now:         opts.Now,
	}
	if r.staleness <= 0 {
		r.staleness = DefaultStaleness
	}
	if r.lockTimeout <= 0 {
		r.lockTimeout = DefaultLockTimeout
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Path returns the state file path.
func (r *Registry) Path() string { return r.path }

// Register records a new invocation and returns its id. The worker type
// is stored in canonical case.
func (r *Registry) Register(ctx context.Context, sessionID, workerType, description string) (string, error) {
	workerType = protocol.NormalizeWorker(workerType)
	if workerType == "" {
		workerType = protocol.GeneralPurposeWorker
	}
	inv := protocol.ActiveInvocation{
		InvocationID: uuid.NewString(),
		SessionID:    sessionID,
		WorkerType:   workerType,
		Description:  description,
		StartedAt:    r.now().UTC(),
	}

	err := r.mutate(ctx, func(list []protocol.ActiveInvocation) []protocol.ActiveInvocation {
		return append(list, inv)
	})
	if err != nil {
		return "", err
	}
	r.log.Info("invocation registered",
		"session_id", sessionID, "invocation_id", inv.InvocationID, "worker_type", workerType)
	return inv.InvocationID, nil
}

// Unregister removes the invocation with id. It reports whether an entry
// was removed; a missing id is not an error.
func (r *Registry) Unregister(ctx context.Context, invocationID string) (bool, error) {
	removed := false
	err := r.mutate(ctx, func(list []protocol.ActiveInvocation) []protocol.ActiveInvocation {
		out := list[:0]
		for _, inv := range list {
			if inv.InvocationID == invocationID {
				removed = true
				continue
			}
			out = append(out, inv)
		}
		return out
	})
	if err != nil {
		return false, err
	}
	if removed {
		r.log.Info("invocation unregistered", "invocation_id", invocationID)
	}
	return removed, nil
}

// Reap drops stale entries and returns what was dropped.
func (r *Registry) Reap(ctx context.Context) ([]protocol.StaleEntryReaped, error) {
	var reaped []protocol.StaleEntryReaped
	err := r.lockAndWrite(ctx, func(list []protocol.ActiveInvocation) []protocol.ActiveInvocation {
		var live []protocol.ActiveInvocation
		live, reaped = r.partition(list)
		r.logReaped(reaped)
		return live
	})
	return reaped, err
}

// Snapshot returns the live invocations of a session ordered by start
// time. It never takes the lock.
func (r *Registry) Snapshot(_ context.Context, sessionID string) ([]protocol.ActiveInvocation, error) {
	return r.snapshot(func(inv protocol.ActiveInvocation) bool { return inv.SessionID == sessionID })
}

// SnapshotAll returns live invocations of every session ordered by start
// time.
func (r *Registry) SnapshotAll(_ context.Context) ([]protocol.ActiveInvocation, error) {
	return r.snapshot(func(protocol.ActiveInvocation) bool { return true })
}

func (r *Registry) snapshot(keep func(protocol.ActiveInvocation) bool) ([]protocol.ActiveInvocation, error) {
	list, err := r.read()
	if err != nil {
		return nil, err
	}
	live, _ := r.partition(list)

	out := make([]protocol.ActiveInvocation, 0, len(live))
	for _, inv := range live {
		if keep(inv) {
			out = append(out, inv)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// mutate reaps stale entries and applies fn under the lock.
func (r *Registry) mutate(ctx context.Context, fn func([]protocol.ActiveInvocation) []protocol.ActiveInvocation) error {
	return r.lockAndWrite(ctx, func(list []protocol.ActiveInvocation) []protocol.ActiveInvocation {
		live, stale := r.partition(list)
		r.logReaped(stale)
		return fn(live)
	})
}

func (r *Registry) logReaped(stale []protocol.StaleEntryReaped) {
	for i := range stale {
		r.log.Info("reaped stale invocation",
			"invocation_id", stale[i].InvocationID, "worker_type", stale[i].WorkerType, "err", &stale[i])
	}
}

func (r *Registry) lockAndWrite(ctx context.Context, fn func([]protocol.ActiveInvocation) []protocol.ActiveInvocation) error {
	release, err := r.lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	list, err := r.read()
	if err != nil {
		return err
	}
	return r.write(fn(list))
}

// partition splits list into live and stale entries.
func (r *Registry) partition(list []protocol.ActiveInvocation) ([]protocol.ActiveInvocation, []protocol.StaleEntryReaped) {
	now := r.now()
	var live []protocol.ActiveInvocation
	var stale []protocol.StaleEntryReaped
	for _, inv := range list {
		age := now.Sub(inv.StartedAt)
		if age > r.staleness {
			stale = append(stale, protocol.StaleEntryReaped{
				InvocationID: inv.InvocationID, WorkerType: inv.WorkerType, Age: age,
			})
			continue
		}
		live = append(live, inv)
	}
	return live, stale
}

// lock acquires the exclusive registry lock, retrying until the lock
// timeout or ctx expires.
func (r *Registry) lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(r.lockPath), 0o750); err != nil {
		return nil, r.unavailable("create registry dir", err)
	}
	//nolint:gosec // lock path derives from the configured registry path
	f, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, r.unavailable("open registry lock", err)
	}

	deadline := time.Now().Add(r.lockTimeout)
	for {
		busy, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			return nil, r.unavailable("lock registry", err)
		}
		if !busy {
			break
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, r.unavailable("lock registry", errLockTimeout)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, r.unavailable("lock registry", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		_ = unlock(f)
		_ = f.Close()
	}, nil
}

// read loads the state file. A missing file is empty; a corrupt file is
// logged and treated as empty so the next write replaces it.
func (r *Registry) read() ([]protocol.ActiveInvocation, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, r.unavailable("read registry", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		r.log.Warn("corrupt registry file, treating as empty", "path", r.path, "err", err)
		return nil, nil
	}
	return st.Invocations, nil
}

// write replaces the state file atomically.
func (r *Registry) write(list []protocol.ActiveInvocation) error {
	if list == nil {
		list = []protocol.ActiveInvocation{}
	}
	data, err := json.MarshalIndent(fileState{Version: fileVersion, Invocations: list}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".active_invocations-*.tmp")
	if err != nil {
		return r.unavailable("create registry temp file", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return r.unavailable("write registry", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return r.unavailable("sync registry", err)
	}
	if err := tmp.Close(); err != nil {
		return r.unavailable("close registry", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return r.unavailable("replace registry", err)
	}
	return nil
}

func (r *Registry) unavailable(op string, err error) error {
	return &protocol.StoreUnavailableError{Op: op, Path: r.path, Err: err}
}
