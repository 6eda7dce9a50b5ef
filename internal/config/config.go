/**
 * @description
 * This file handles configuration management for the billing service. It
 * loads settings from environment variables via viper, applies the engine's
 * documented defaults (grace period 3 days, 3 renewal attempts, batch of 25)
 * and validates that required credentials are present before anything else
 * starts.
 */
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the billing service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	PayChanguAPIURL    string `mapstructure:"PAYCHANGU_API_URL"`
	PayChanguSecretKey string `mapstructure:"PAYCHANGU_SECRET_KEY"`

	AppBaseURL      string `mapstructure:"APP_BASE_URL"`
	AlertWebhookURL string `mapstructure:"ALERT_WEBHOOK_URL"`
	DefaultCurrency string `mapstructure:"DEFAULT_CURRENCY"`

	GracePeriodDays    int `mapstructure:"GRACE_PERIOD_DAYS"`
	MaxRenewalAttempts int `mapstructure:"MAX_RENEWAL_ATTEMPTS"`
	RenewalBatchSize   int `mapstructure:"RENEWAL_BATCH_SIZE"`

	RenewalJobSchedule string `mapstructure:"RENEWAL_JOB_SCHEDULE"`

	JWTSecret      string `mapstructure:"JWT_SECRET"`
	InternalAPIKey string `mapstructure:"INTERNAL_API_KEY"`

	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	RenewalLockTTLSeconds int    `mapstructure:"RENEWAL_LOCK_TTL_SECONDS"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8084")
	viper.SetDefault("DEFAULT_CURRENCY", "MWK")
	viper.SetDefault("GRACE_PERIOD_DAYS", 3)
	viper.SetDefault("MAX_RENEWAL_ATTEMPTS", 3)
	viper.SetDefault("RENEWAL_BATCH_SIZE", 25)
	viper.SetDefault("RENEWAL_JOB_SCHEDULE", "0 * * * *") // hourly
	viper.SetDefault("RENEWAL_LOCK_TTL_SECONDS", 300)
	viper.AutomaticEnv()

	// Bind environment variables explicitly so they appear in Unmarshal.
	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL",
		"PAYCHANGU_API_URL", "PAYCHANGU_SECRET_KEY",
		"APP_BASE_URL", "ALERT_WEBHOOK_URL", "DEFAULT_CURRENCY",
		"GRACE_PERIOD_DAYS", "MAX_RENEWAL_ATTEMPTS", "RENEWAL_BATCH_SIZE",
		"RENEWAL_JOB_SCHEDULE", "JWT_SECRET", "INTERNAL_API_KEY",
		"RABBITMQ_URL", "REDIS_URL", "RENEWAL_LOCK_TTL_SECONDS",
	} {
		_ = viper.BindEnv(key)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	for env, value := range map[string]string{
		"DATABASE_URL":         config.DatabaseURL,
		"PAYCHANGU_API_URL":    config.PayChanguAPIURL,
		"PAYCHANGU_SECRET_KEY": config.PayChanguSecretKey,
		"APP_BASE_URL":         config.AppBaseURL,
		"JWT_SECRET":           config.JWTSecret,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("required configuration %s is not set", env)
		}
	}

	if config.GracePeriodDays <= 0 || config.MaxRenewalAttempts <= 0 || config.RenewalBatchSize <= 0 {
		return nil, fmt.Errorf("GRACE_PERIOD_DAYS, MAX_RENEWAL_ATTEMPTS and RENEWAL_BATCH_SIZE must be positive")
	}

	return &config, nil
}
