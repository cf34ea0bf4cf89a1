package bpmcore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the job executor configuration of an engine instance.
type Config struct {
	// EngineName is a human-readable name logged alongside the node ID.
	EngineName string

	// MaxJobsPerAcquisition caps the number of jobs locked per acquisition
	// cycle.
	MaxJobsPerAcquisition int

	// CorePoolSize is the number of workers that are always running.
	CorePoolSize int

	// MaxPoolSize is the upper bound on workers when the queue is full.
	MaxPoolSize int

	// QueueSize is the number of acquired jobs that may wait for a worker
	// before acquisition pauses.
	QueueSize int

	// LockTime is how long an acquired job stays locked by this instance.
	// It must exceed the expected maximum job execution time.
	LockTime time.Duration

	// WaitTime is how long the acquisition loop sleeps when idle.
	WaitTime time.Duration

	// KeepAlive is how long a non-core worker may stay idle before it exits.
	KeepAlive time.Duration

	// LockRenewInterval extends the lock of running jobs periodically.
	// Zero disables renewal.
	LockRenewInterval time.Duration

	// DefaultRetries is the retry budget of jobs enqueued without one.
	DefaultRetries int

	// Exclusive serializes jobs of the same process or case instance.
	Exclusive bool

	// ShutdownTimeout is the maximum time to wait for running jobs on stop.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the stock job executor configuration.
func DefaultConfig() Config {
	return Config{
		EngineName:            "default",
		MaxJobsPerAcquisition: 3,
		CorePoolSize:          1,
		MaxPoolSize:           3,
		QueueSize:             3,
		LockTime:              5 * time.Minute,
		WaitTime:              5 * time.Second,
		KeepAlive:             0,
		DefaultRetries:        3,
		ShutdownTimeout:       30 * time.Second,
	}
}

// Validate reports the first invalid setting as an ErrValidation.
func (c Config) Validate() error {
	switch {
	case c.MaxJobsPerAcquisition < 1:
		return fmt.Errorf("%w: maxJobsPerAcquisition must be at least 1", ErrValidation)
	case c.CorePoolSize < 1:
		return fmt.Errorf("%w: corePoolSize must be at least 1", ErrValidation)
	case c.MaxPoolSize < c.CorePoolSize:
		return fmt.Errorf("%w: maxPoolSize (%d) is smaller than corePoolSize (%d)", ErrValidation, c.MaxPoolSize, c.CorePoolSize)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: queueSize must not be negative", ErrValidation)
	case c.LockTime <= 0:
		return fmt.Errorf("%w: lockTimeInMillis must be positive", ErrValidation)
	case c.WaitTime <= 0:
		return fmt.Errorf("%w: waitTimeInMillis must be positive", ErrValidation)
	case c.LockRenewInterval < 0 || (c.LockRenewInterval > 0 && c.LockRenewInterval >= c.LockTime):
		return fmt.Errorf("%w: lockRenewIntervalInMillis must be shorter than lockTimeInMillis", ErrValidation)
	case c.DefaultRetries < 1:
		return fmt.Errorf("%w: defaultRetries must be at least 1", ErrValidation)
	}
	return nil
}

// yamlConfig is the on-disk shape of Config. Durations are expressed in
// milliseconds to keep the familiar job executor property names.
type yamlConfig struct {
	EngineName                string `yaml:"engineName"`
	MaxJobsPerAcquisition     int    `yaml:"maxJobsPerAcquisition"`
	CorePoolSize              int    `yaml:"corePoolSize"`
	MaxPoolSize               int    `yaml:"maxPoolSize"`
	QueueSize                 int    `yaml:"queueSize"`
	LockTimeInMillis          int64  `yaml:"lockTimeInMillis"`
	WaitTimeInMillis          int64  `yaml:"waitTimeInMillis"`
	KeepAliveInMillis         int64  `yaml:"keepAliveInMillis"`
	LockRenewIntervalInMillis int64  `yaml:"lockRenewIntervalInMillis"`
	DefaultRetries            int    `yaml:"defaultRetries"`
	Exclusive                 bool   `yaml:"exclusive"`
	ShutdownTimeoutInMillis   int64  `yaml:"shutdownTimeoutInMillis"`
}

func (c Config) toYAML() yamlConfig {
	return yamlConfig{
		EngineName:                c.EngineName,
		MaxJobsPerAcquisition:     c.MaxJobsPerAcquisition,
		CorePoolSize:              c.CorePoolSize,
		MaxPoolSize:               c.MaxPoolSize,
		QueueSize:                 c.QueueSize,
		LockTimeInMillis:          c.LockTime.Milliseconds(),
		WaitTimeInMillis:          c.WaitTime.Milliseconds(),
		KeepAliveInMillis:         c.KeepAlive.Milliseconds(),
		LockRenewIntervalInMillis: c.LockRenewInterval.Milliseconds(),
		DefaultRetries:            c.DefaultRetries,
		Exclusive:                 c.Exclusive,
		ShutdownTimeoutInMillis:   c.ShutdownTimeout.Milliseconds(),
	}
}

func (y yamlConfig) toConfig() Config {
	return Config{
		EngineName:            y.EngineName,
		MaxJobsPerAcquisition: y.MaxJobsPerAcquisition,
		CorePoolSize:          y.CorePoolSize,
		MaxPoolSize:           y.MaxPoolSize,
		QueueSize:             y.QueueSize,
		LockTime:              time.Duration(y.LockTimeInMillis) * time.Millisecond,
		WaitTime:              time.Duration(y.WaitTimeInMillis) * time.Millisecond,
		KeepAlive:             time.Duration(y.KeepAliveInMillis) * time.Millisecond,
		LockRenewInterval:     time.Duration(y.LockRenewIntervalInMillis) * time.Millisecond,
		DefaultRetries:        y.DefaultRetries,
		Exclusive:             y.Exclusive,
		ShutdownTimeout:       time.Duration(y.ShutdownTimeoutInMillis) * time.Millisecond,
	}
}

// UnmarshalYAML implements yaml.Unmarshaler. Keys absent from the document
// keep the value already present in c.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	y := c.toYAML()
	if err := value.Decode(&y); err != nil {
		return err
	}
	*c = y.toConfig()
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c Config) MarshalYAML() (any, error) {
	return c.toYAML(), nil
}

// ParseConfig decodes a YAML job executor document on top of DefaultConfig
// and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse config: %w", ErrValidation, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Environment variables that override job executor settings.
const (
	EnvMaxJobsPerAcquisition = "BPMCORE_MAX_JOBS_PER_ACQUISITION"
	EnvCorePoolSize          = "BPMCORE_CORE_POOL_SIZE"
	EnvMaxPoolSize           = "BPMCORE_MAX_POOL_SIZE"
	EnvQueueSize             = "BPMCORE_QUEUE_SIZE"
	EnvLockTimeInMillis      = "BPMCORE_LOCK_TIME_IN_MILLIS"
	EnvWaitTimeInMillis      = "BPMCORE_WAIT_TIME_IN_MILLIS"
	EnvExclusive             = "BPMCORE_EXCLUSIVE"
)

// ApplyEnv overrides c with any job executor variables set in the
// environment. Malformed values are reported as ErrValidation.
func (c *Config) ApplyEnv() error {
	ints := []struct {
		key string
		dst *int
	}{
		{EnvMaxJobsPerAcquisition, &c.MaxJobsPerAcquisition},
		{EnvCorePoolSize, &c.CorePoolSize},
		{EnvMaxPoolSize, &c.MaxPoolSize},
		{EnvQueueSize, &c.QueueSize},
	}
	for _, e := range ints {
		v := strings.TrimSpace(os.Getenv(e.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrValidation, e.key, err)
		}
		*e.dst = n
	}

	millis := []struct {
		key string
		dst *time.Duration
	}{
		{EnvLockTimeInMillis, &c.LockTime},
		{EnvWaitTimeInMillis, &c.WaitTime},
	}
	for _, e := range millis {
		v := strings.TrimSpace(os.Getenv(e.key))
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrValidation, e.key, err)
		}
		*e.dst = time.Duration(n) * time.Millisecond
	}

	if v := strings.TrimSpace(os.Getenv(EnvExclusive)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrValidation, EnvExclusive, err)
		}
		c.Exclusive = b
	}
	return nil
}
