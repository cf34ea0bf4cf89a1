package bpmcore_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/bpmcore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := bpmcore.DefaultConfig()

	if cfg.MaxJobsPerAcquisition != 3 {
		t.Errorf("MaxJobsPerAcquisition = %d, want 3", cfg.MaxJobsPerAcquisition)
	}
	if cfg.CorePoolSize != 1 || cfg.MaxPoolSize != 3 || cfg.QueueSize != 3 {
		t.Errorf("pool = %d/%d/%d, want 1/3/3", cfg.CorePoolSize, cfg.MaxPoolSize, cfg.QueueSize)
	}
	if cfg.LockTime != 5*time.Minute {
		t.Errorf("LockTime = %v, want 5m", cfg.LockTime)
	}
	if cfg.WaitTime != 5*time.Second {
		t.Errorf("WaitTime = %v, want 5s", cfg.WaitTime)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseConfig(t *testing.T) {
	doc := []byte(`
engineName: billing
maxJobsPerAcquisition: 10
maxPoolSize: 8
lockTimeInMillis: 60000
waitTimeInMillis: 250
exclusive: true
`)
	cfg, err := bpmcore.ParseConfig(doc)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.EngineName != "billing" {
		t.Errorf("EngineName = %q, want %q", cfg.EngineName, "billing")
	}
	if cfg.MaxJobsPerAcquisition != 10 {
		t.Errorf("MaxJobsPerAcquisition = %d, want 10", cfg.MaxJobsPerAcquisition)
	}
	if cfg.MaxPoolSize != 8 {
		t.Errorf("MaxPoolSize = %d, want 8", cfg.MaxPoolSize)
	}
	// Absent keys keep their defaults.
	if cfg.CorePoolSize != 1 {
		t.Errorf("CorePoolSize = %d, want 1", cfg.CorePoolSize)
	}
	if cfg.LockTime != time.Minute {
		t.Errorf("LockTime = %v, want 1m", cfg.LockTime)
	}
	if cfg.WaitTime != 250*time.Millisecond {
		t.Errorf("WaitTime = %v, want 250ms", cfg.WaitTime)
	}
	if !cfg.Exclusive {
		t.Error("expected Exclusive to be true")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*bpmcore.Config)
	}{
		{"zero batch", func(c *bpmcore.Config) { c.MaxJobsPerAcquisition = 0 }},
		{"zero core", func(c *bpmcore.Config) { c.CorePoolSize = 0 }},
		{"max below core", func(c *bpmcore.Config) { c.CorePoolSize = 4; c.MaxPoolSize = 2 }},
		{"negative queue", func(c *bpmcore.Config) { c.QueueSize = -1 }},
		{"zero lock time", func(c *bpmcore.Config) { c.LockTime = 0 }},
		{"zero wait time", func(c *bpmcore.Config) { c.WaitTime = 0 }},
		{"renew not shorter than lock", func(c *bpmcore.Config) { c.LockRenewInterval = c.LockTime }},
		{"zero retries", func(c *bpmcore.Config) { c.DefaultRetries = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := bpmcore.DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, bpmcore.ErrValidation) {
				t.Fatalf("Validate() = %v, want ErrValidation", err)
			}
		})
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := bpmcore.ParseConfig([]byte("corePoolSize: 5\nmaxPoolSize: 2\n"))
	if !errors.Is(err, bpmcore.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(bpmcore.EnvMaxJobsPerAcquisition, "7")
	t.Setenv(bpmcore.EnvLockTimeInMillis, "1500")
	t.Setenv(bpmcore.EnvExclusive, "true")

	cfg := bpmcore.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.MaxJobsPerAcquisition != 7 {
		t.Errorf("MaxJobsPerAcquisition = %d, want 7", cfg.MaxJobsPerAcquisition)
	}
	if cfg.LockTime != 1500*time.Millisecond {
		t.Errorf("LockTime = %v, want 1.5s", cfg.LockTime)
	}
	if !cfg.Exclusive {
		t.Error("expected Exclusive to be true")
	}
}

func TestApplyEnv_Malformed(t *testing.T) {
	t.Setenv(bpmcore.EnvQueueSize, "lots")

	cfg := bpmcore.DefaultConfig()
	if err := cfg.ApplyEnv(); !errors.Is(err, bpmcore.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("%w: empty name", bpmcore.ErrValidation), "ValidationError"},
		{bpmcore.ErrTypeMismatch, "TypeMismatchError"},
		{bpmcore.ErrUnsupportedOperation, "UnsupportedOperationError"},
		{bpmcore.ErrTaskNotFound, "NotFoundError"},
		{bpmcore.ErrJobNotFound, "NotFoundError"},
		{bpmcore.ErrIllegalState, "IllegalStateError"},
		{bpmcore.ErrLockConflict, "LockConflictError"},
		{errors.New("disk on fire"), "EngineFault"},
	}
	for _, tt := range tests {
		if got := bpmcore.Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestFault(t *testing.T) {
	raw := errors.New("connection reset")
	err := bpmcore.Fault("complete task", raw)
	if !errors.Is(err, bpmcore.ErrEngineFault) {
		t.Fatalf("expected ErrEngineFault, got %v", err)
	}
	if !errors.Is(err, raw) {
		t.Fatal("expected the cause to stay in the chain")
	}

	// Classified errors pass through untouched.
	if got := bpmcore.Fault("get task", bpmcore.ErrTaskNotFound); got != bpmcore.ErrTaskNotFound {
		t.Fatalf("Fault changed a classified error: %v", got)
	}
}
