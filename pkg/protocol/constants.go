package protocol

// Directory and file name constants used throughout submon.
const (
	// ClaudeDir is the host's user-level state directory (e.g., ~/.claude).
	ClaudeDir = ".claude"

	// DataDir is the submon data directory relative to ClaudeDir.
	DataDir = "subagent-monitor/data"

	// DBFile holds the worker_stats, correlations and hook_events tables.
	DBFile = "submon.db"

	// RegistryFile is the JSON active-invocation registry.
	RegistryFile = "active_invocations.json"

	// ConfigFile is the optional TOML configuration file in the data dir.
	ConfigFile = "config.toml"

	// EnvFile is the optional dotenv file in the data dir.
	EnvFile = ".env"

	// LogFile receives hook process logs (stdout is the hook channel).
	LogFile = "submon.log"
)

// Worker type labels with special meaning.
const (
	// UnknownWorker is reported when no evidence identifies the worker.
	UnknownWorker = "unknown"

	// MainWorker labels calls made by the host's main thread, outside any
	// delegated invocation.
	MainWorker = "main"

	// GeneralPurposeWorker is the host's built-in delegated worker type.
	GeneralPurposeWorker = "general-purpose"
)

// TaskTool is the host tool name that spawns a delegated worker.
const TaskTool = "Task"
