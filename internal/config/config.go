package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Provider credentials. Empty values disable the corresponding channel.
	WhatsAppToken       string `env:"WHATSAPP_TOKEN"`
	WhatsAppPhoneID     string `env:"WHATSAPP_PHONE_ID"`
	WhatsAppAppSecret   string `env:"WHATSAPP_APP_SECRET"`
	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	MessengerPageToken  string `env:"MESSENGER_PAGE_TOKEN"`
	MessengerAppSecret  string `env:"MESSENGER_APP_SECRET"`
	InstagramPageToken  string `env:"INSTAGRAM_PAGE_TOKEN"`
	WebhookVerifyToken  string `env:"WEBHOOK_VERIFY_TOKEN"`
	// Per-business-unit overrides, "bu-id:token" pairs separated by commas.
	// Business units without an entry fall back to WebhookVerifyToken.
	WebhookVerifyTokens map[string]string `env:"WEBHOOK_VERIFY_TOKENS"`
	EmailRelayURL       string            `env:"EMAIL_RELAY_URL"`

	// Conversation tuning.
	GracePeriodSeconds    int     `env:"GRACE_PERIOD_SECONDS" envDefault:"300"`
	MinSendIntervalMillis int     `env:"MIN_SEND_INTERVAL_MS" envDefault:"1000"`
	MaxDeliveryAttempts   int     `env:"MAX_DELIVERY_ATTEMPTS" envDefault:"3"`
	ProviderTimeoutSecs   int     `env:"PROVIDER_TIMEOUT_SECONDS" envDefault:"10"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

func (c *Config) MinSendInterval() time.Duration {
	return time.Duration(c.MinSendIntervalMillis) * time.Millisecond
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSecs) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if c.MaxDeliveryAttempts < 1 {
		return fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be at least 1")
	}
	if c.GracePeriodSeconds < 0 {
		return fmt.Errorf("GRACE_PERIOD_SECONDS must not be negative")
	}

	if isProduction {
		if c.WebhookVerifyToken == "" {
			log.Warn().Msg("WEBHOOK_VERIFY_TOKEN is empty in production: webhook verification handshake will reject all requests")
		}
		if c.WhatsAppAppSecret == "" {
			log.Warn().Msg("WHATSAPP_APP_SECRET is empty in production: webhook signature verification disabled")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
