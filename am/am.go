// Package am loads hammer's configuration ("I am").
//
// Values come from defaults, TOML files and HAMMER_* environment variables,
// in increasing precedence. CLI flags override the loaded values in cmd/hammer.
package am

// Config represents the hammer configuration
type Config struct {
	Session   SessionConfig   `mapstructure:"session" toml:"session"`
	Toolchain ToolchainConfig `mapstructure:"toolchain" toml:"toolchain"`
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

// SessionConfig configures the fuzz session scheduler
type SessionConfig struct {
	// Workers is the number of concurrent toolchain builds (0 = recommend from CPU and memory)
	Workers int `mapstructure:"workers" toml:"workers"`

	// DupFactor is the number of independent trials per feature (1 disables cross-checking)
	DupFactor int `mapstructure:"dup_factor" toml:"dup_factor"`

	// DupTolerance is the number of bit positions trials may disagree on before the run fails.
	// 0 means any discrepancy is fatal.
	DupTolerance int `mapstructure:"dup_tolerance" toml:"dup_tolerance"`

	// Seed drives trial seeds and job shuffling (0 = random per run)
	Seed uint64 `mapstructure:"seed" toml:"seed"`

	// MemoryPerBuildGB is the expected peak memory of one toolchain build, used to size workers
	MemoryPerBuildGB float64 `mapstructure:"memory_per_build_gb" toml:"memory_per_build_gb"`
}

// ToolchainConfig describes how to invoke the vendor toolchain wrapper
type ToolchainConfig struct {
	Command           string   `mapstructure:"command" toml:"command"`                         // Shell-quoted command line
	WorkDir           string   `mapstructure:"work_dir" toml:"work_dir"`                       // Root for per-build directories (default: os.TempDir())
	KeepWorkDirs      bool     `mapstructure:"keep_work_dirs" toml:"keep_work_dirs"`           // Keep build directories for inspection
	LaunchesPerSecond float64  `mapstructure:"launches_per_second" toml:"launches_per_second"` // 0 = unlimited
	Env               []string `mapstructure:"env" toml:"env"`                                 // Extra KEY=VALUE entries
}

// DatabaseConfig configures where the tile database is written
type DatabaseConfig struct {
	Path     string `mapstructure:"path" toml:"path"`
	DumpPath string `mapstructure:"dump_path" toml:"dump_path"` // Optional YAML dump written after each run
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// File permission constants
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o644
)

// ConfigFileName is the file name searched for in system, user and project locations
const ConfigFileName = "hammer.toml"
