// Package config loads genpoold settings from a file, .env files and
// GENPOOL_* environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Bootstrap asks for Count instances of Service at boot.
type Bootstrap struct {
	Service string `json:"service" yaml:"service" toml:"service" validate:"oneof=aistudio doubao grok simulated"`
	Count   int    `json:"count" yaml:"count" toml:"count" validate:"min=1,max=64"`
}

// Config holds runtime parameters for the service.
type Config struct {
	APIAddr        string `json:"api_addr" yaml:"api_addr" toml:"api_addr" validate:"required"`
	ManagementAddr string `json:"management_addr" yaml:"management_addr" toml:"management_addr" validate:"required"`
	DataDir        string `json:"data_dir" yaml:"data_dir" toml:"data_dir" validate:"required"`
	DefaultService string `json:"default_service" yaml:"default_service" toml:"default_service" validate:"oneof=aistudio doubao grok simulated"`

	MaxRetries            int `json:"max_retries" yaml:"max_retries" toml:"max_retries" validate:"min=0,max=10"`
	TaskTimeoutSeconds    int `json:"task_timeout_seconds" yaml:"task_timeout_seconds" toml:"task_timeout_seconds" validate:"min=1"`
	StartTimeoutSeconds   int `json:"start_timeout_seconds" yaml:"start_timeout_seconds" toml:"start_timeout_seconds" validate:"min=1"`
	CleanupTimeoutSeconds int `json:"cleanup_timeout_seconds" yaml:"cleanup_timeout_seconds" toml:"cleanup_timeout_seconds" validate:"min=1"`
	QueueTimeoutSeconds   int `json:"queue_timeout_seconds" yaml:"queue_timeout_seconds" toml:"queue_timeout_seconds" validate:"min=0"`
	MaxQueueDepth         int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth" validate:"min=0"`
	DrainTimeoutSeconds   int `json:"drain_timeout_seconds" yaml:"drain_timeout_seconds" toml:"drain_timeout_seconds" validate:"min=0"`

	ProbeIntervalSeconds int  `json:"probe_interval_seconds" yaml:"probe_interval_seconds" toml:"probe_interval_seconds" validate:"min=1"`
	ProbeTimeoutSeconds  int  `json:"probe_timeout_seconds" yaml:"probe_timeout_seconds" toml:"probe_timeout_seconds" validate:"min=1"`
	FailureThreshold     int  `json:"failure_threshold" yaml:"failure_threshold" toml:"failure_threshold" validate:"min=1"`
	AutoRestart          bool `json:"auto_restart" yaml:"auto_restart" toml:"auto_restart"`
	MaxRestarts          int  `json:"max_restarts" yaml:"max_restarts" toml:"max_restarts" validate:"min=0"`
	RestartBackoffMS     int  `json:"restart_backoff_ms" yaml:"restart_backoff_ms" toml:"restart_backoff_ms" validate:"min=1"`
	MaxRestartBackoffMS  int  `json:"max_restart_backoff_ms" yaml:"max_restart_backoff_ms" toml:"max_restart_backoff_ms" validate:"gtefield=RestartBackoffMS"`
	Autostart            bool `json:"autostart" yaml:"autostart" toml:"autostart"`

	RequestTimeoutSeconds int      `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds" validate:"min=0"`
	MaxBodyBytes          int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" validate:"min=0"`
	CORSEnabled           bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins           []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	Headless           bool   `json:"headless" yaml:"headless" toml:"headless"`
	Browser            string `json:"browser" yaml:"browser" toml:"browser" validate:"oneof=chromium firefox webkit"`
	InstallBrowsers    bool   `json:"install_browsers" yaml:"install_browsers" toml:"install_browsers"`
	UserAgent          string `json:"user_agent" yaml:"user_agent" toml:"user_agent"`
	SimulatedLatencyMS int    `json:"simulated_latency_ms" yaml:"simulated_latency_ms" toml:"simulated_latency_ms" validate:"min=0"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level" validate:"oneof=trace debug info warn error off"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format" validate:"oneof=console json"`

	Bootstrap []Bootstrap `json:"bootstrap" yaml:"bootstrap" toml:"bootstrap" validate:"dive"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		APIAddr:               ":8812",
		ManagementAddr:        ":8813",
		DataDir:               "./data",
		DefaultService:        "aistudio",
		MaxRetries:            2,
		TaskTimeoutSeconds:    300,
		StartTimeoutSeconds:   120,
		CleanupTimeoutSeconds: 60,
		DrainTimeoutSeconds:   30,
		ProbeIntervalSeconds:  30,
		ProbeTimeoutSeconds:   10,
		FailureThreshold:      3,
		AutoRestart:           true,
		MaxRestarts:           3,
		RestartBackoffMS:      2000,
		MaxRestartBackoffMS:   60000,
		RequestTimeoutSeconds: 600,
		MaxBodyBytes:          64 << 20,
		Headless:              true,
		Browser:               "chromium",
		LogLevel:              "info",
		LogFormat:             "console",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) && len(ves) > 0 {
			msgs := make([]string, 0, len(ves))
			for _, fe := range ves {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// InstancesFile is where instance metadata is kept.
func (c Config) InstancesFile() string { return filepath.Join(c.DataDir, "instances.json") }

// CookieDir is where per-instance cookie files are kept.
func (c Config) CookieDir() string { return filepath.Join(c.DataDir, "cookies") }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// TaskTimeout is the per-execution deadline.
func (c Config) TaskTimeout() time.Duration { return seconds(c.TaskTimeoutSeconds) }

// StartTimeout bounds Initialize.
func (c Config) StartTimeout() time.Duration { return seconds(c.StartTimeoutSeconds) }

// CleanupTimeout bounds Cleanup.
func (c Config) CleanupTimeout() time.Duration { return seconds(c.CleanupTimeoutSeconds) }

// QueueTimeout bounds the wait of a Queued task; zero waits forever.
func (c Config) QueueTimeout() time.Duration { return seconds(c.QueueTimeoutSeconds) }

// DrainTimeout bounds how long shutdown waits for running tasks.
func (c Config) DrainTimeout() time.Duration { return seconds(c.DrainTimeoutSeconds) }

// ProbeInterval is the health check period.
func (c Config) ProbeInterval() time.Duration { return seconds(c.ProbeIntervalSeconds) }

// ProbeTimeout bounds one probe.
func (c Config) ProbeTimeout() time.Duration { return seconds(c.ProbeTimeoutSeconds) }

// RestartBackoff is the first auto-restart delay.
func (c Config) RestartBackoff() time.Duration { return millis(c.RestartBackoffMS) }

// MaxRestartBackoff caps the auto-restart delay.
func (c Config) MaxRestartBackoff() time.Duration { return millis(c.MaxRestartBackoffMS) }

// SimulatedLatency is how long a simulated generation takes.
func (c Config) SimulatedLatency() time.Duration { return millis(c.SimulatedLatencyMS) }
