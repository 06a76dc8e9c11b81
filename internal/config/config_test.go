package config

import (
	"math"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.DBPath == "" {
		t.Error("expected a default db path")
	}
	if cfg.Embedder.Provider != "" {
		t.Errorf("default provider should be keyword-only, got %q", cfg.Embedder.Provider)
	}

	w := cfg.Recall
	sum := w.WeightVector + w.WeightImportance + w.WeightRecency + w.WeightKeyword
	if math.Abs(sum-1.0) > 0.0001 {
		t.Errorf("recall weights sum to %f, want 1.0", sum)
	}
	if w.WeightVector != 0.50 {
		t.Errorf("vector weight = %f, want 0.50", w.WeightVector)
	}

	if cfg.Dedup.Threshold != 0.92 {
		t.Errorf("dedup threshold = %f, want 0.92", cfg.Dedup.Threshold)
	}
	if cfg.Dedup.ContradictionLow != 0.75 {
		t.Errorf("contradiction band lower bound = %f, want 0.75", cfg.Dedup.ContradictionLow)
	}

	if cfg.Decay.HalfLife != 90*24*time.Hour {
		t.Errorf("decay half-life = %v, want 90 days", cfg.Decay.HalfLife)
	}
	if cfg.Decay.Floor != 0.1 {
		t.Errorf("decay floor = %f, want 0.1", cfg.Decay.Floor)
	}

	if cfg.Audit.Retention != 365*24*time.Hour {
		t.Errorf("audit retention = %v, want 365 days", cfg.Audit.Retention)
	}
	if cfg.Consolidate.DecayInterval != 6*time.Hour {
		t.Errorf("decay interval = %v, want 6h", cfg.Consolidate.DecayInterval)
	}
	if cfg.Consolidate.BatchSize != 200 {
		t.Errorf("batch size = %d, want 200", cfg.Consolidate.BatchSize)
	}
}

func TestLoadWithoutConfigFile(t *testing.T) {
	t.Setenv("CLAUDIA_MEMORY_DB", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load with no config file: %v", err)
	}
	if cfg.Dedup.Threshold != 0.92 {
		t.Errorf("defaults not applied: threshold %f", cfg.Dedup.Threshold)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CLAUDIA_MEMORY_DEDUP_THRESHOLD", "0.88")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dedup.Threshold != 0.88 {
		t.Errorf("env override ignored: threshold %f", cfg.Dedup.Threshold)
	}
}
