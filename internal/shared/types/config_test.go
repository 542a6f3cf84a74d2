package types

import (
	"strings"
	"testing"
	"time"
)

func TestSetDefaultsFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	if cfg.PoolConf.FailureThreshold != 3 {
		t.Errorf("failure threshold = %d, want 3", cfg.PoolConf.FailureThreshold)
	}
	if cfg.PoolConf.ProbeConcurrency != 30 {
		t.Errorf("probe concurrency = %d, want 30", cfg.PoolConf.ProbeConcurrency)
	}
	if cfg.FetchScheduleConf.IntervalHours != 6 {
		t.Errorf("fetch interval = %d, want 6", cfg.FetchScheduleConf.IntervalHours)
	}
	if cfg.ValidationScheduleConf.BatchSize != 100 {
		t.Errorf("batch size = %d, want 100", cfg.ValidationScheduleConf.BatchSize)
	}
	if cfg.NotificationConf.MinValidProxiesThreshold != 50 {
		t.Errorf("min valid threshold = %d, want 50", cfg.NotificationConf.MinValidProxiesThreshold)
	}
	if cfg.Validate() != nil {
		t.Error("defaults must pass validation")
	}
}

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	var cfg Config
	cfg.PoolConf.FailureThreshold = 5
	cfg.ValidationScheduleConf.BatchSize = 250
	cfg.SetDefaults()

	if cfg.PoolConf.FailureThreshold != 5 {
		t.Errorf("explicit threshold overwritten: %d", cfg.PoolConf.FailureThreshold)
	}
	if cfg.ValidationScheduleConf.BatchSize != 250 {
		t.Errorf("explicit batch size overwritten: %d", cfg.ValidationScheduleConf.BatchSize)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.PoolConf.FailureThreshold = -1
	cfg.PoolConf.ProbeConcurrency = 0
	cfg.ValidationScheduleConf.BatchSize = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config passed validation")
	}
	msg := err.Error()
	for _, want := range []string{"failure_threshold", "probe_concurrency", "batch_size"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestValidateSkipsDisabledSchedules(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.FetchScheduleConf.Enabled = false
	cfg.FetchScheduleConf.IntervalHours = -5

	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled schedule validated its interval: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	var cfg Config
	cfg.PoolConf.ProbeTimeoutSec = 10
	cfg.ValidationScheduleConf.TaskBudgetMin = 30

	if got := cfg.ProbeTimeout(); got != 10*time.Second {
		t.Errorf("probe timeout = %v", got)
	}
	if got := cfg.ValidationBudget(); got != 30*time.Minute {
		t.Errorf("validation budget = %v", got)
	}
}
