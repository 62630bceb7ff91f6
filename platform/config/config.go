// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides ledger database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// EmailConfig provides settings for buyer email delivery.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetBrevoAPIKey() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSOrigins() []string
}

// SchedulerConfig provides settings for the asynq task queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// WaterfallConfig provides settings for the offer escalation engine.
type WaterfallConfig interface {
	GetExclusivityWindow() time.Duration
	GetPollInterval() time.Duration
	GetCallTimeout() time.Duration
	GetMaxBackoff() time.Duration
}

// PaymentConfig provides settings for the checkout provider.
type PaymentConfig interface {
	GetStripeSecretKey() string
	GetStripeWebhookSecret() string
	GetStripeAPIURL() string
	GetCheckoutSuccessURL() string
	GetCheckoutCancelURL() string
}

// IntakeConfig provides settings for the voice and form intake.
type IntakeConfig interface {
	GetPublicBaseURL() string
	GetLeadVertical() string
	GetLeadCity() string
	GetPhoneRegion() string
	GetSessionTTL() time.Duration
	GetDialogMaxAttempts() int
	GetVoiceLanguage() string
	GetTwilioAuthToken() string
}

// TTSConfig provides settings for the text-to-speech proxy.
type TTSConfig interface {
	GetElevenAPIKey() string
	GetElevenVoiceID() string
	GetTTSURLSecret() string
	IsTTSEnabled() bool
}

// FallbackConfig provides settings for the non-authoritative lead backup.
type FallbackConfig interface {
	GetFallbackDir() string
	GetFallbackReplay() bool
	GetFallbackReplayInterval() time.Duration
}

// MinIOConfig provides settings for the optional object-store archive.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOBucketFallback() string
	IsMinIOEnabled() bool
}

// RosterConfig provides the buyer roster source.
type RosterConfig interface {
	GetBuyersFile() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env         string
	HTTPAddr    string
	CORSOrigins []string
	DatabaseURL string

	PublicBaseURL     string
	LeadVertical      string
	LeadCity          string
	PhoneRegion       string
	SessionTTL        time.Duration
	DialogMaxAttempts int
	VoiceLanguage     string
	TwilioAuthToken   string

	EmailEnabled     bool
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
	BrevoAPIKey      string
	EmailFromName    string
	EmailFromAddress string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string

	ExclusivityWindow time.Duration
	PollInterval      time.Duration
	CallTimeout       time.Duration
	MaxBackoff        time.Duration

	RedisURL         string
	RedisTLSInsecure bool
	AsynqQueueName   string
	AsynqConcurrency int

	BuyersFile string

	ElevenAPIKey  string
	ElevenVoiceID string
	TTSURLSecret  string

	FallbackDir            string
	FallbackReplay         bool
	FallbackReplayInterval time.Duration

	MinIOEndpoint       string
	MinIOAccessKey      string
	MinIOSecretKey      string
	MinIOUseSSL         bool
	MinIOBucketFallback string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// WaterfallConfig implementation
func (c *Config) GetExclusivityWindow() time.Duration { return c.ExclusivityWindow }
func (c *Config) GetPollInterval() time.Duration      { return c.PollInterval }
func (c *Config) GetCallTimeout() time.Duration       { return c.CallTimeout }
func (c *Config) GetMaxBackoff() time.Duration        { return c.MaxBackoff }

// PaymentConfig implementation
func (c *Config) GetStripeSecretKey() string     { return c.StripeSecretKey }
func (c *Config) GetStripeWebhookSecret() string { return c.StripeWebhookSecret }
func (c *Config) GetStripeAPIURL() string        { return c.StripeAPIURL }
func (c *Config) GetCheckoutSuccessURL() string  { return c.CheckoutSuccessURL }
func (c *Config) GetCheckoutCancelURL() string   { return c.CheckoutCancelURL }

// IntakeConfig implementation
func (c *Config) GetPublicBaseURL() string     { return c.PublicBaseURL }
func (c *Config) GetLeadVertical() string      { return c.LeadVertical }
func (c *Config) GetLeadCity() string          { return c.LeadCity }
func (c *Config) GetPhoneRegion() string       { return c.PhoneRegion }
func (c *Config) GetSessionTTL() time.Duration { return c.SessionTTL }
func (c *Config) GetDialogMaxAttempts() int    { return c.DialogMaxAttempts }
func (c *Config) GetVoiceLanguage() string     { return c.VoiceLanguage }
func (c *Config) GetTwilioAuthToken() string   { return c.TwilioAuthToken }

// TTSConfig implementation
func (c *Config) GetElevenAPIKey() string  { return c.ElevenAPIKey }
func (c *Config) GetElevenVoiceID() string { return c.ElevenVoiceID }
func (c *Config) GetTTSURLSecret() string  { return c.TTSURLSecret }
func (c *Config) IsTTSEnabled() bool       { return c.ElevenAPIKey != "" && c.TTSURLSecret != "" }

// FallbackConfig implementation
func (c *Config) GetFallbackDir() string                   { return c.FallbackDir }
func (c *Config) GetFallbackReplay() bool                  { return c.FallbackReplay }
func (c *Config) GetFallbackReplayInterval() time.Duration { return c.FallbackReplayInterval }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string       { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string      { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string      { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool           { return c.MinIOUseSSL }
func (c *Config) GetMinIOBucketFallback() string { return c.MinIOBucketFallback }
func (c *Config) IsMinIOEnabled() bool           { return c.MinIOEndpoint != "" }

// RosterConfig implementation
func (c *Config) GetBuyersFile() string { return c.BuyersFile }

// =============================================================================
// Loading
// =============================================================================

// LoadAPI reads configuration for the intake/settlement HTTP server.
func LoadAPI() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	return cfg, nil
}

// MinExclusivityWindow is the shortest checkout session Stripe accepts. A
// shorter window would leave a buyer's payment link live after the lead moved on.
const MinExclusivityWindow = 30 * time.Minute

// LoadScheduler reads configuration for the waterfall scheduler.
func LoadScheduler() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.StripeSecretKey == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if cfg.ExclusivityWindow < MinExclusivityWindow {
		return nil, fmt.Errorf("WATERFALL_EXCLUSIVITY_WINDOW_MINUTES must be at least %d", int(MinExclusivityWindow/time.Minute))
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("WATERFALL_POLL_INTERVAL_SECONDS must be positive")
	}
	return cfg, nil
}

func load() (*Config, error) {
	_ = godotenv.Load()

	brevoAPIKey := getEnv("BREVO_API_KEY", "")
	smtpUsername := getEnv("SMTP_USERNAME", getEnv("EMAIL_FROM", ""))
	smtpPassword := getEnv("SMTP_PASSWORD", getEnv("EMAIL_APP_PASSWORD", ""))

	cfg := &Config{
		Env:         getEnv("APP_ENV", "development"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":3000"),
		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "")),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		PublicBaseURL:     strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		LeadVertical:      getEnv("LEAD_VERTICAL", "onoranze_funebri"),
		LeadCity:          getEnv("LEAD_CITY", "Milano"),
		PhoneRegion:       strings.ToUpper(getEnv("PHONE_REGION", "IT")),
		SessionTTL:        mustDuration(getEnv("SESSION_TTL", "15m")),
		DialogMaxAttempts: mustInt(getEnv("DIALOG_MAX_ATTEMPTS", "3")),
		VoiceLanguage:     getEnv("VOICE_LANGUAGE", "it-IT"),
		TwilioAuthToken:   getEnv("TWILIO_AUTH_TOKEN", ""),

		EmailEnabled:     strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true"),
		SMTPHost:         getEnv("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:         mustInt(getEnv("SMTP_PORT", "465")),
		SMTPUsername:     smtpUsername,
		SMTPPassword:     smtpPassword,
		BrevoAPIKey:      brevoAPIKey,
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Lead Desk"),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", getEnv("EMAIL_FROM", "")),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIURL:        strings.TrimRight(getEnv("STRIPE_API_URL", "https://api.stripe.com"), "/"),
		CheckoutSuccessURL:  getEnv("CHECKOUT_SUCCESS_URL", "https://example.com/success"),
		CheckoutCancelURL:   getEnv("CHECKOUT_CANCEL_URL", "https://example.com/cancel"),

		ExclusivityWindow: time.Duration(mustInt(getEnv("WATERFALL_EXCLUSIVITY_WINDOW_MINUTES", "30"))) * time.Minute,
		PollInterval:      time.Duration(mustInt(getEnv("WATERFALL_POLL_INTERVAL_SECONDS", "30"))) * time.Second,
		CallTimeout:       mustDuration(getEnv("WATERFALL_CALL_TIMEOUT", "10s")),
		MaxBackoff:        mustDuration(getEnv("WATERFALL_MAX_BACKOFF", "10m")),

		RedisURL:         getEnv("REDIS_URL", ""),
		RedisTLSInsecure: strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),

		BuyersFile: getEnv("BUYERS_FILE", "buyers.yaml"),

		ElevenAPIKey:  getEnv("ELEVEN_API_KEY", ""),
		ElevenVoiceID: getEnv("ELEVEN_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		TTSURLSecret:  getEnv("TTS_URL_SECRET", ""),

		FallbackDir:            getEnv("FALLBACK_DIR", "data"),
		FallbackReplay:         strings.EqualFold(getEnv("FALLBACK_REPLAY", "false"), "true"),
		FallbackReplayInterval: mustDuration(getEnv("FALLBACK_REPLAY_INTERVAL", "5m")),

		MinIOEndpoint:       getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:      getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:      getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:         strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOBucketFallback: getEnv("MINIO_BUCKET_FALLBACK", "lead-fallback"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EmailEnabled && cfg.BrevoAPIKey == "" && (cfg.SMTPUsername == "" || cfg.SMTPPassword == "") {
		return nil, fmt.Errorf("SMTP_USERNAME and SMTP_PASSWORD (or BREVO_API_KEY) are required when EMAIL_ENABLED is true")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.DialogMaxAttempts < 1 {
		cfg.DialogMaxAttempts = 1
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be a positive duration")
	}
	if cfg.CallTimeout <= 0 {
		return nil, fmt.Errorf("WATERFALL_CALL_TIMEOUT must be a positive duration")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}
