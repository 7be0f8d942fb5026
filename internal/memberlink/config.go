package memberlink

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the service.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int
	BaseURL     string // public URL of this service
	SiteURL     string // marketing site, target of checkout redirects

	StripeAPIKey        string
	StripeWebhookSecret string
	StripePriceID       string

	DiscordClientID     string
	DiscordClientSecret string
	DiscordBotToken     string
	DiscordGuildID      string
	DiscordRoleID       string

	StateSecret string

	BrevoAPIKey    string // optional; if empty, emails are logged
	BrevoListID    int64
	EmailFrom      string
	EmailFromName  string
	ResubscribeURL string

	AllowedOrigins []string
	AdminKey       string // optional; if empty, /metrics is public

	LogLevel    string
	LogFormat   string
	HTTPTimeout time.Duration
	DNSCacheTTL time.Duration
}

// CallbackURL is the OAuth redirect URI registered with Discord.
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/chat-callback"
}

// LoadConfig loads configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("MEMBERLINK_PORT", 8080)
	if err != nil {
		return nil, err
	}
	listID, err := envOrDefaultInt64("BREVO_LIST_ID", 6)
	if err != nil {
		return nil, err
	}
	httpTimeout, err := envOrDefaultDuration("HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	dnsTTL, err := envOrDefaultDuration("DNS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("BASE_URL")), "/")
	siteURL := strings.TrimRight(envOrDefault("SITE_URL", baseURL), "/")

	cfg := &Config{
		DataDir:             envOrDefault("MEMBERLINK_DATA_DIR", "./data"),
		BindAddress:         envOrDefault("MEMBERLINK_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		BaseURL:             baseURL,
		SiteURL:             siteURL,
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripePriceID:       strings.TrimSpace(os.Getenv("STRIPE_PRICE_ID")),
		DiscordClientID:     strings.TrimSpace(os.Getenv("DISCORD_CLIENT_ID")),
		DiscordClientSecret: strings.TrimSpace(os.Getenv("DISCORD_CLIENT_SECRET")),
		DiscordBotToken:     strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordGuildID:      strings.TrimSpace(os.Getenv("DISCORD_GUILD_ID")),
		DiscordRoleID:       strings.TrimSpace(os.Getenv("DISCORD_ROLE_ID")),
		StateSecret:         strings.TrimSpace(os.Getenv("STATE_SECRET")),
		BrevoAPIKey:         strings.TrimSpace(os.Getenv("BREVO_API_KEY")),
		BrevoListID:         listID,
		EmailFrom:           envOrDefault("EMAIL_FROM", "contact@maximeaugiat.com"),
		EmailFromName:       envOrDefault("EMAIL_FROM_NAME", "Maxime Augiat"),
		ResubscribeURL:      envOrDefault("RESUBSCRIBE_URL", siteURL+"/#pricing"),
		AllowedOrigins:      splitList(envOrDefault("ALLOWED_ORIGINS", "*")),
		AdminKey:            strings.TrimSpace(os.Getenv("ADMIN_KEY")),
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("LOG_FORMAT", "auto"),
		HTTPTimeout:         httpTimeout,
		DNSCacheTTL:         dnsTTL,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	for _, req := range []struct{ name, value string }{
		{"BASE_URL", c.BaseURL},
		{"STRIPE_WEBHOOK_SECRET", c.StripeWebhookSecret},
		{"DISCORD_CLIENT_ID", c.DiscordClientID},
		{"DISCORD_CLIENT_SECRET", c.DiscordClientSecret},
		{"DISCORD_BOT_TOKEN", c.DiscordBotToken},
		{"DISCORD_GUILD_ID", c.DiscordGuildID},
		{"DISCORD_ROLE_ID", c.DiscordRoleID},
		{"STATE_SECRET", c.StateSecret},
	} {
		if req.value == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("MEMBERLINK_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if len(c.StateSecret) < 32 {
		return fmt.Errorf("STATE_SECRET must be at least 32 bytes")
	}
	if c.BrevoListID <= 0 {
		return fmt.Errorf("BREVO_LIST_ID must be greater than 0, got %d", c.BrevoListID)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be greater than 0")
	}
	if err := validateHTTPURL("BASE_URL", c.BaseURL); err != nil {
		return err
	}
	return validateHTTPURL("SITE_URL", c.SiteURL)
}

func validateHTTPURL(name, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s must be a valid URL: %w", name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", name)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultInt64(key string, fallback int64) (int64, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
