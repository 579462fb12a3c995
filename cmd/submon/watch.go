package main

import (
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// fsChangeMsg is sent when a file in a watched state directory changes.
type fsChangeMsg struct{}

// debounceDuration coalesces bursts such as a registry temp-file write
// followed by its rename.
const debounceDuration = 100 * time.Millisecond

// initWatcher creates a watcher over the existing dirs. It returns nil
// when no directory can be watched; the dashboard then relies on its
// refresh tick.
func initWatcher(log func(string, ...any), dirs ...string) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log("fsnotify unavailable, polling only", "err", err)
		return nil
	}

	watched := 0
	seen := map[string]bool{}
	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			log("cannot watch directory", "dir", dir, "err", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return nil
	}
	return watcher
}

// waitForChange returns a tea.Cmd that blocks until the watcher reports a
// change, debounced, and then yields fsChangeMsg. It yields nil when the
// watcher is closed or fails.
func waitForChange(watcher *fsnotify.Watcher) tea.Cmd {
	if watcher == nil {
		return nil
	}
	return func() tea.Msg {
		debounceTimer := newDebounceTimer()
		defer debounceTimer.Stop()

		for {
			select {
			case _, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				resetDebounceTimer(debounceTimer)

			case <-debounceTimer.C:
				return fsChangeMsg{}

			case _, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				// Keep watching; the tick covers anything missed.
			}
		}
	}
}

// newDebounceTimer creates a stopped timer.
func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

// resetDebounceTimer restarts the debounce window.
func resetDebounceTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}
