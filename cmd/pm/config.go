package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steveyegge/pm/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Show the configuration pm resolved from flags, environment variables, and
config.yaml (in that precedence order). Secrets are masked.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

type maskedConfig struct {
	DatabaseURL              string   `json:"databaseUrl"`
	RedisURL                 string   `json:"redisUrl"`
	AnthropicAPIKey          string   `json:"anthropicApiKey"`
	AnthropicExtractionModel string   `json:"anthropicExtractionModel"`
	APIKeyHashPepper         string   `json:"apiKeyHashPepper"`
	CORSOrigins              []string `json:"corsOrigins"`
	Port                     int      `json:"port"`
	LogLevel                 string   `json:"logLevel"`
	JobConcurrency           int      `json:"jobConcurrency"`
	ConfidenceThreshold      float64  `json:"confidenceThreshold"`
	DedupWindow              string   `json:"dedupWindow"`
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	masked := maskedConfig{
		DatabaseURL:              cfg.DatabaseURL,
		RedisURL:                 cfg.RedisURL,
		AnthropicAPIKey:          mask(cfg.AnthropicAPIKey),
		AnthropicExtractionModel: cfg.AnthropicExtractionModel,
		APIKeyHashPepper:         mask(cfg.APIKeyHashPepper),
		CORSOrigins:              cfg.CORSOrigins,
		Port:                     cfg.Port,
		LogLevel:                 cfg.LogLevel,
		JobConcurrency:           cfg.JobConcurrency,
		ConfidenceThreshold:      cfg.ConfidenceThreshold,
		DedupWindow:              cfg.DedupWindow.String(),
	}

	if jsonOutput {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(masked)
	}

	fmt.Printf("%s %s\n", accentStyle.Render("Port:"), fmt.Sprint(masked.Port))
	fmt.Printf("%s %s\n", accentStyle.Render("Log level:"), masked.LogLevel)
	fmt.Printf("%s %s\n", accentStyle.Render("Extraction model:"), masked.AnthropicExtractionModel)
	fmt.Printf("%s %.2f\n", accentStyle.Render("Confidence threshold:"), masked.ConfidenceThreshold)
	fmt.Printf("%s %s\n", accentStyle.Render("Dedup window:"), masked.DedupWindow)
	fmt.Printf("%s %d\n", accentStyle.Render("Job concurrency:"), masked.JobConcurrency)
	fmt.Printf("%s %s\n", accentStyle.Render("Database URL:"), mutedStyle.Render(masked.DatabaseURL))
	fmt.Printf("%s %s\n", accentStyle.Render("Anthropic API key:"), masked.AnthropicAPIKey)
	return nil
}
