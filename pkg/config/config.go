// Package config holds the Configuration object shared by the archive,
// publisher, and telemetry components (see SPEC_FULL.md §6).
package config

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// ConfigError wraps the aggregate of every offending field Validate finds,
// letting callers distinguish a bad configuration from any other failure
// kind via errors.As while still reporting the full list of offenders.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config: %v", e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// Config is the single configuration object the publisher and extractor
// consume.
type Config struct {
	APIURL   string
	Username string
	Password string

	BackupThreads int
	MaxRetries    int

	ArchivePath   string
	ArchiveSizeKB int

	TelemetryGroup string

	PrometheusBackup     bool
	FullPrometheusBackup bool

	LogsBackup         bool
	LogsFilterPatterns []string
	OCCliPath          string
}

// Validate checks every recognized option and returns an aggregate error
// naming every offending field, or nil if the configuration is usable.
// TelemetryGroup defaults to "default" when empty rather than failing
// validation, matching how the rest of the system treats an unset group.
func (c *Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, fmt.Errorf("api_url is missing"))
	}
	if c.Username == "" {
		errs = append(errs, fmt.Errorf("username is missing"))
	}
	if c.Password == "" {
		errs = append(errs, fmt.Errorf("password is missing"))
	}
	if c.BackupThreads <= 0 {
		errs = append(errs, fmt.Errorf("backup_threads must be a positive integer, got %d", c.BackupThreads))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries))
	}
	if c.ArchivePath == "" {
		errs = append(errs, fmt.Errorf("archive_path is missing"))
	}
	if c.ArchiveSizeKB <= 0 {
		errs = append(errs, fmt.Errorf("archive_size must be a positive integer, got %d", c.ArchiveSizeKB))
	}
	if len(errs) > 0 {
		return &ConfigError{Err: utilerrors.NewAggregate(errs)}
	}
	if c.TelemetryGroup == "" {
		c.TelemetryGroup = "default"
	}
	return nil
}
