// Package config loads the process-wide configuration singleton from
// flags, environment variables, and an optional config.yaml, in that
// precedence order, via github.com/spf13/viper — mirroring how the
// teacher CLI layers config.yaml under explicit flags. Exactly the
// environment variables named in spec.md §6 are recognized.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the process-wide configuration singleton. It is constructed
// once at startup (spec.md §9 "Global state") and its lifecycle is tied
// to the process; components receive it (or the narrow slice they need)
// by constructor injection, never through an ambient global.
type Config struct {
	DatabaseURL           string
	RedisURL              string
	AnthropicAPIKey       string
	AnthropicExtractionModel string
	APIKeyHashPepper      string
	CORSOrigins           []string
	Port                  int
	LogLevel              string
	JobConcurrency        int
	ConfidenceThreshold   float64
	DedupWindow           time.Duration
}

// Defaults matching spec.md §4.4 (extractionModel), §4.6 (threshold),
// and §4.3 (dedup window).
const (
	DefaultExtractionModel   = "claude-sonnet-4-20250514"
	DefaultMaxOutputTokens   = 4096
	DefaultConfidenceThresh  = 0.9
	DefaultDedupWindowMs     = 10 * 60 * 1000
	DefaultJobConcurrency    = 5
	DefaultPort              = 8080
)

// Load builds a Config from flags (already bound into v by the caller),
// environment variables, and an optional config.yaml found via
// viper's search path. Missing optional values fall back to the
// defaults above.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	bind := func(key string) {
		_ = v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}
	for _, key := range []string{
		"database_url", "redis_url", "anthropic_api_key",
		"anthropic_extraction_model", "api_key_hash_pepper", "cors_origins",
		"port", "log_level", "bullmq_concurrency", "confidence_threshold",
		"dedup_window_ms",
	} {
		bind(key)
	}

	v.SetDefault("anthropic_extraction_model", DefaultExtractionModel)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("log_level", "info")
	v.SetDefault("bullmq_concurrency", DefaultJobConcurrency)
	v.SetDefault("confidence_threshold", DefaultConfidenceThresh)
	v.SetDefault("dedup_window_ms", DefaultDedupWindowMs)

	cfg := &Config{
		DatabaseURL:              v.GetString("database_url"),
		RedisURL:                 v.GetString("redis_url"),
		AnthropicAPIKey:          v.GetString("anthropic_api_key"),
		AnthropicExtractionModel: v.GetString("anthropic_extraction_model"),
		APIKeyHashPepper:         v.GetString("api_key_hash_pepper"),
		Port:                     v.GetInt("port"),
		LogLevel:                 v.GetString("log_level"),
		JobConcurrency:           v.GetInt("bullmq_concurrency"),
		ConfidenceThreshold:      v.GetFloat64("confidence_threshold"),
		DedupWindow:              time.Duration(v.GetInt64("dedup_window_ms")) * time.Millisecond,
	}
	if origins := v.GetString("cors_origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("config: ANTHROPIC_API_KEY is required")
	}

	return cfg, nil
}
