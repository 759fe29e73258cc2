package am

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Session defaults
	v.SetDefault("session.workers", 0)    // Recommend from CPU count and memory
	v.SetDefault("session.dup_factor", 2) // Two independent trials per feature
	v.SetDefault("session.dup_tolerance", 0)
	v.SetDefault("session.seed", 0)
	v.SetDefault("session.memory_per_build_gb", 2.0)

	// Toolchain defaults
	v.SetDefault("toolchain.command", "")
	v.SetDefault("toolchain.work_dir", "")
	v.SetDefault("toolchain.keep_work_dirs", false)
	v.SetDefault("toolchain.launches_per_second", 0.0)
	v.SetDefault("toolchain.env", []string{})

	// Database defaults
	v.SetDefault("database.path", "tiledb.hdb")
	v.SetDefault("database.dump_path", "")

	// Log defaults
	v.SetDefault("log.json", false)
}
