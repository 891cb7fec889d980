package main

import (
	"github.com/steveyegge/pm/internal/config"
	"github.com/steveyegge/pm/internal/extraction"
	"github.com/steveyegge/pm/internal/materialize"
	"github.com/steveyegge/pm/internal/organization"
)

const promptVersion = "v1"

func extractionConfig(cfg *config.Config) extraction.Config {
	return extraction.Config{
		Model:           cfg.AnthropicExtractionModel,
		PromptVersion:   promptVersion,
		MaxOutputTokens: config.DefaultMaxOutputTokens,
	}
}

func organizationConfig(cfg *config.Config) organization.Config {
	return organization.Config{
		Model:           cfg.AnthropicExtractionModel,
		PromptVersion:   promptVersion,
		MaxOutputTokens: config.DefaultMaxOutputTokens,
	}
}

func materializeConfig(cfg *config.Config) materialize.Config {
	return materialize.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		Model:               cfg.AnthropicExtractionModel,
		PromptVersion:       promptVersion,
	}
}
