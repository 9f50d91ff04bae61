package main

import (
	"testing"
	"time"
)

func validConfig() *stressConfig {
	return &stressConfig{
		workers:  4,
		size:     64,
		duration: time.Second,
		flavor:   "swiss",
		optP:     0.1,
		readPct:  80,
	}
}

func TestStressConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*stressConfig)
		wantErr bool
	}{
		{"defaults", func(*stressConfig) {}, false},
		{"lock flavor", func(c *stressConfig) { c.flavor = "lock" }, false},
		{"zero workers", func(c *stressConfig) { c.workers = 0 }, true},
		{"too many workers", func(c *stressConfig) { c.workers = 1000 }, true},
		{"zero size", func(c *stressConfig) { c.size = 0 }, true},
		{"zero duration", func(c *stressConfig) { c.duration = 0 }, true},
		{"unknown flavor", func(c *stressConfig) { c.flavor = "mvcc" }, true},
		{"read pct over 100", func(c *stressConfig) { c.readPct = 101 }, true},
		{"opt chance over 1", func(c *stressConfig) { c.optP = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestStressSmoke runs a tiny workload end to end.
func TestStressSmoke(t *testing.T) {
	cfg := validConfig()
	cfg.workers = 2
	cfg.size = 8
	cfg.duration = 50 * time.Millisecond
	if err := runStress(cfg); err != nil {
		t.Fatalf("runStress: %v", err)
	}
}
