package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	DatabaseURL     string
	CORSAllowOrigin []string

	LogLevel  string
	LogFormat string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	Webhook   WebhookConfig
	Provider  ProviderConfig
	LLM       LLMConfig
	Credits   CreditsConfig
	Reconcile ReconcileConfig
}

// WebhookConfig controls the provider webhook endpoint.
type WebhookConfig struct {
	Secret                string
	ProcessingTimeout     time.Duration
	AttachmentConcurrency int
	RateLimitPerSecond    float64
	RateLimitBurst        int
}

// ProviderConfig holds the legal-records provider API settings.
type ProviderConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// LLMConfig selects the AI service used for analysis and timeline normalization.
type LLMConfig struct {
	Provider        string
	Model           string
	NormalizerModel string
	APIKey          string
	MaxTokens       int64
	Timeout         time.Duration
}

// CreditsConfig sets the price of each analysis type.
type CreditsConfig struct {
	FullAnalysisFullCredits     int
	ReportAnalysisReportCredits int
	// UnlimitedWorkspaces skip debit and refund; every skip is audited.
	UnlimitedWorkspaces []string
}

// ReconcileConfig controls orphaned-debit detection and the escalation queue.
type ReconcileConfig struct {
	QueueURL    string
	GraceWindow time.Duration
}

// Load reads configuration from config.yaml (optional) and environment
// variables. Nested keys map to env vars with "." replaced by "_", e.g.
// webhook.secret -> WEBHOOK_SECRET.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, eris.Wrap(err, "config: read file")
		}
	}

	cfg := Config{
		Port:            v.GetString("port"),
		Env:             normalizeEnv(v.GetString("env")),
		DatabaseURL:     strings.TrimSpace(v.GetString("database_url")),
		CORSAllowOrigin: splitAndTrim(v.GetString("cors_allow_origins")),
		LogLevel:        v.GetString("log.level"),
		LogFormat:       v.GetString("log.format"),
		ObjectStoreType: normalizeStoreType(v.GetString("object_store")),
		LocalStoreDir:   v.GetString("local_store_dir"),
		AWSRegion:       v.GetString("aws_region"),
		S3Bucket:        v.GetString("s3_bucket"),
		S3Prefix:        v.GetString("s3_prefix"),
		SSEKMSKeyID:     v.GetString("sse_kms_key_id"),
		Webhook: WebhookConfig{
			Secret:                v.GetString("webhook.secret"),
			ProcessingTimeout:     v.GetDuration("webhook.processing_timeout"),
			AttachmentConcurrency: v.GetInt("webhook.attachment_concurrency"),
			RateLimitPerSecond:    v.GetFloat64("webhook.rate_limit_per_second"),
			RateLimitBurst:        v.GetInt("webhook.rate_limit_burst"),
		},
		Provider: ProviderConfig{
			BaseURL:      v.GetString("provider.base_url"),
			TokenURL:     v.GetString("provider.token_url"),
			ClientID:     v.GetString("provider.client_id"),
			ClientSecret: v.GetString("provider.client_secret"),
			Timeout:      v.GetDuration("provider.timeout"),
		},
		LLM: LLMConfig{
			Provider:        strings.ToLower(strings.TrimSpace(v.GetString("llm.provider"))),
			Model:           v.GetString("llm.model"),
			NormalizerModel: v.GetString("llm.normalizer_model"),
			APIKey:          v.GetString("anthropic_api_key"),
			MaxTokens:       v.GetInt64("llm.max_tokens"),
			Timeout:         v.GetDuration("llm.timeout"),
		},
		Credits: CreditsConfig{
			FullAnalysisFullCredits:     v.GetInt("credits.full_analysis_full_credits"),
			ReportAnalysisReportCredits: v.GetInt("credits.report_analysis_report_credits"),
			UnlimitedWorkspaces:         splitAndTrim(v.GetString("credits.unlimited_workspaces")),
		},
		Reconcile: ReconcileConfig{
			QueueURL:    v.GetString("reconcile.queue_url"),
			GraceWindow: v.GetDuration("reconcile.grace_window"),
		},
	}

	if cfg.Env == "production" && cfg.DatabaseURL == "" {
		return Config{}, eris.New("config: DATABASE_URL is required in production")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("env", "dev")
	v.SetDefault("cors_allow_origins", "http://localhost:5173")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("object_store", "local")
	v.SetDefault("local_store_dir", "./data")
	v.SetDefault("webhook.processing_timeout", 5*time.Minute)
	v.SetDefault("webhook.attachment_concurrency", 5)
	v.SetDefault("webhook.rate_limit_per_second", 50.0)
	v.SetDefault("webhook.rate_limit_burst", 100)
	v.SetDefault("provider.timeout", 60*time.Second)
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.normalizer_model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("credits.full_analysis_full_credits", 1)
	v.SetDefault("credits.report_analysis_report_credits", 1)
	v.SetDefault("reconcile.grace_window", 15*time.Minute)
}

// IsDevLike reports whether env allows in-memory fallbacks.
func (c Config) IsDevLike() bool {
	switch c.Env {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
