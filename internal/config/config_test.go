package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	if _, err := Load(viper.New()); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pm")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.AnthropicExtractionModel != DefaultExtractionModel {
		t.Errorf("extraction model = %q, want default", cfg.AnthropicExtractionModel)
	}
	if cfg.ConfidenceThreshold != DefaultConfidenceThresh {
		t.Errorf("confidence threshold = %v, want %v", cfg.ConfidenceThreshold, DefaultConfidenceThresh)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("cors origins = %v, want 2 entries", cfg.CORSOrigins)
	}
}
