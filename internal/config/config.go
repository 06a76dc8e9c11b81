// Package config loads memory store configuration from defaults, an optional
// config file, and CLAUDIA_MEMORY_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for the store, ranking, and consolidation.
type Config struct {
	DBPath string

	Embedder EmbedderConfig
	Recall   RecallConfig
	Dedup    DedupConfig
	Decay    DecayConfig
	Pattern  PatternConfig
	Audit    AuditConfig

	Consolidate ConsolidateConfig
}

// EmbedderConfig selects and bounds the embedding provider.
type EmbedderConfig struct {
	Provider string // "ollama" | "openai" | "" (keyword-only)
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	Retries  int
}

// RecallConfig holds ranking weights and scan bounds.
type RecallConfig struct {
	WeightVector     float64
	WeightImportance float64
	WeightRecency    float64
	WeightKeyword    float64
	RecencyHalfLife  time.Duration
	ScanLimit        int
	DefaultLimit     int
	MaxHops          int
}

// DedupConfig controls near-duplicate detection and merging.
type DedupConfig struct {
	Threshold         float64 // cosine similarity at or above which two memories merge
	ContradictionLow  float64 // lower bound of the contradiction band
	CandidateWindow   int     // recent same-entity memories checked on write
	MergeStrategy     string  // "max_boost" | "keep_max"
	MergeBoost        float64
	DefaultImportance float64
}

// DecayConfig controls the importance decay job.
type DecayConfig struct {
	HalfLife      time.Duration
	Floor         float64
	MinIdle       time.Duration // memories accessed within this window are left alone
	ProtectedConf float64       // user_stated memories at or above this confidence are exempt
}

// PatternConfig controls attention tier and contact velocity recomputation.
type PatternConfig struct {
	Window        time.Duration // recent/previous comparison window
	ActiveWithin  time.Duration
	WatchWithin   time.Duration
	AccelerateMin float64 // recent/previous ratio at or above which velocity accelerates
}

// AuditConfig controls audit log retention.
type AuditConfig struct {
	Retention time.Duration
}

// ConsolidateConfig holds the background scheduler intervals and batch size.
type ConsolidateConfig struct {
	DecayInterval time.Duration
	FullInterval  time.Duration
	BatchSize     int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", defaultDBPath())

	v.SetDefault("embedder.provider", "")
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.base_url", "")
	v.SetDefault("embedder.timeout", "5s")
	v.SetDefault("embedder.retries", 2)

	v.SetDefault("recall.weight_vector", 0.50)
	v.SetDefault("recall.weight_importance", 0.25)
	v.SetDefault("recall.weight_recency", 0.10)
	v.SetDefault("recall.weight_keyword", 0.15)
	v.SetDefault("recall.recency_half_life", "168h") // 7 days
	v.SetDefault("recall.scan_limit", 5000)
	v.SetDefault("recall.default_limit", 10)
	v.SetDefault("recall.max_hops", 3)

	v.SetDefault("dedup.threshold", 0.92)
	v.SetDefault("dedup.contradiction_low", 0.75)
	v.SetDefault("dedup.candidate_window", 20)
	v.SetDefault("dedup.merge_strategy", "max_boost")
	v.SetDefault("dedup.merge_boost", 0.05)
	v.SetDefault("dedup.default_importance", 0.5)

	v.SetDefault("decay.half_life", "2160h") // 90 days
	v.SetDefault("decay.floor", 0.1)
	v.SetDefault("decay.min_idle", "168h")
	v.SetDefault("decay.protected_confidence", 0.9)

	v.SetDefault("pattern.window", "720h") // 30 days
	v.SetDefault("pattern.active_within", "336h")
	v.SetDefault("pattern.watch_within", "1440h")
	v.SetDefault("pattern.accelerate_min", 2.0)

	v.SetDefault("audit.retention", "8760h") // 365 days

	v.SetDefault("consolidate.decay_interval", "6h")
	v.SetDefault("consolidate.full_interval", "24h")
	v.SetDefault("consolidate.batch_size", 200)
}

// Load reads configuration. A missing config file is not an error; defaults
// and environment variables still apply.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".claudia-memory"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("CLAUDIA_MEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return fromViper(v), nil
}

// Default returns the built-in configuration without touching disk or env.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		DBPath: v.GetString("db_path"),
		Embedder: EmbedderConfig{
			Provider: v.GetString("embedder.provider"),
			Model:    v.GetString("embedder.model"),
			BaseURL:  v.GetString("embedder.base_url"),
			APIKey:   v.GetString("embedder.api_key"),
			Timeout:  v.GetDuration("embedder.timeout"),
			Retries:  v.GetInt("embedder.retries"),
		},
		Recall: RecallConfig{
			WeightVector:     v.GetFloat64("recall.weight_vector"),
			WeightImportance: v.GetFloat64("recall.weight_importance"),
			WeightRecency:    v.GetFloat64("recall.weight_recency"),
			WeightKeyword:    v.GetFloat64("recall.weight_keyword"),
			RecencyHalfLife:  v.GetDuration("recall.recency_half_life"),
			ScanLimit:        v.GetInt("recall.scan_limit"),
			DefaultLimit:     v.GetInt("recall.default_limit"),
			MaxHops:          v.GetInt("recall.max_hops"),
		},
		Dedup: DedupConfig{
			Threshold:         v.GetFloat64("dedup.threshold"),
			ContradictionLow:  v.GetFloat64("dedup.contradiction_low"),
			CandidateWindow:   v.GetInt("dedup.candidate_window"),
			MergeStrategy:     v.GetString("dedup.merge_strategy"),
			MergeBoost:        v.GetFloat64("dedup.merge_boost"),
			DefaultImportance: v.GetFloat64("dedup.default_importance"),
		},
		Decay: DecayConfig{
			HalfLife:      v.GetDuration("decay.half_life"),
			Floor:         v.GetFloat64("decay.floor"),
			MinIdle:       v.GetDuration("decay.min_idle"),
			ProtectedConf: v.GetFloat64("decay.protected_confidence"),
		},
		Pattern: PatternConfig{
			Window:        v.GetDuration("pattern.window"),
			ActiveWithin:  v.GetDuration("pattern.active_within"),
			WatchWithin:   v.GetDuration("pattern.watch_within"),
			AccelerateMin: v.GetFloat64("pattern.accelerate_min"),
		},
		Audit: AuditConfig{
			Retention: v.GetDuration("audit.retention"),
		},
		Consolidate: ConsolidateConfig{
			DecayInterval: v.GetDuration("consolidate.decay_interval"),
			FullInterval:  v.GetDuration("consolidate.full_interval"),
			BatchSize:     v.GetInt("consolidate.batch_size"),
		},
	}
}

func defaultDBPath() string {
	if env := os.Getenv("CLAUDIA_MEMORY_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claudia-memory", "memory.db")
}
