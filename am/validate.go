package am

import (
	"strings"

	"github.com/teranos/hammer/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Workers: 0 = recommend from system resources, negative = invalid
	if c.Session.Workers < 0 {
		return errors.Newf("session.workers must be >= 0, got %d", c.Session.Workers)
	}

	// Every feature needs at least one trial
	if c.Session.DupFactor < 1 {
		return errors.Newf("session.dup_factor must be >= 1, got %d", c.Session.DupFactor)
	}

	if c.Session.DupTolerance < 0 {
		return errors.Newf("session.dup_tolerance must be >= 0, got %d", c.Session.DupTolerance)
	}
	if c.Session.DupTolerance > 0 && c.Session.DupFactor < 2 {
		return errors.WithHint(
			errors.New("session.dup_tolerance has no effect with session.dup_factor = 1"),
			"set dup_tolerance = 0 or raise dup_factor",
		)
	}

	if c.Session.MemoryPerBuildGB < 0 {
		return errors.Newf("session.memory_per_build_gb must be >= 0, got %f", c.Session.MemoryPerBuildGB)
	}

	// Launch rate: 0 = unlimited, negative = invalid
	if c.Toolchain.LaunchesPerSecond < 0 {
		return errors.Newf("toolchain.launches_per_second must be >= 0, got %f", c.Toolchain.LaunchesPerSecond)
	}

	for _, kv := range c.Toolchain.Env {
		if !validEnvEntry(kv) {
			return errors.Newf("toolchain.env entry %q is not KEY=VALUE", kv)
		}
	}

	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	return nil
}

func validEnvEntry(kv string) bool {
	return strings.IndexByte(kv, '=') > 0
}
