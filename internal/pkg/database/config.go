package database

import (
	"errors"
	"time"

	"github.com/acastrillo/spotbuddy/internal/pkg/env"
)

// Config holds DynamoDB connection and table configuration
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	EndpointURL     string // Optional, for DynamoDB Local

	AccountsTable string
	LedgerTable   string
	EmailIndex    string
	CustomerIndex string

	// CallTimeout bounds every single store call on top of the caller's deadline.
	CallTimeout time.Duration
	// LedgerRetention is how long a processed webhook event is remembered.
	LedgerRetention time.Duration
}

// LoadConfig loads DynamoDB configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		Region:          env.GetEnv("AWS_REGION", "us-east-1"),
		AccessKeyID:     env.GetEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("AWS_SECRET_ACCESS_KEY", ""),
		EndpointURL:     env.GetEnv("DYNAMODB_ENDPOINT", ""),
		AccountsTable:   env.GetEnv("DYNAMODB_ACCOUNTS_TABLE", "spotter-users"),
		LedgerTable:     env.GetEnv("DYNAMODB_LEDGER_TABLE", "spotter-webhook-events"),
		EmailIndex:      env.GetEnv("DYNAMODB_EMAIL_INDEX", "email-index"),
		CustomerIndex:   env.GetEnv("DYNAMODB_CUSTOMER_INDEX", "stripeCustomerId-index"),
		CallTimeout:     time.Duration(env.GetEnvInt("DYNAMODB_TIMEOUT_MS", 3000)) * time.Millisecond,
		LedgerRetention: time.Duration(env.GetEnvInt("WEBHOOK_RETENTION_DAYS", 7)) * 24 * time.Hour,
	}

	if config.Region == "" {
		return nil, errors.New("AWS_REGION is required")
	}
	if config.AccountsTable == "" || config.LedgerTable == "" {
		return nil, errors.New("DYNAMODB_ACCOUNTS_TABLE and DYNAMODB_LEDGER_TABLE are required")
	}
	if config.CallTimeout <= 0 {
		return nil, errors.New("DYNAMODB_TIMEOUT_MS must be positive")
	}
	if config.LedgerRetention <= 0 {
		return nil, errors.New("WEBHOOK_RETENTION_DAYS must be positive")
	}
	if (config.AccessKeyID == "") != (config.SecretAccessKey == "") {
		return nil, errors.New("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
	}

	return config, nil
}

// HasStaticCredentials reports whether explicit keys were configured. Without
// them the default AWS credential chain is used.
func (c *Config) HasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}
