package database

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gofiber/fiber/v2/log"
)

// NewClient builds the DynamoDB client shared by every repository. The client
// holds no per-request state and is safe for concurrent use; the caller owns it.
func NewClient(ctx context.Context, cfg *Config) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.HasStaticCredentials() {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsConfig, func(o *dynamodb.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	})

	log.Infof("[DynamoDB] Client initialized (region=%s accounts=%s ledger=%s)", cfg.Region, cfg.AccountsTable, cfg.LedgerTable)
	return client, nil
}

// Ping checks that both tables are reachable.
func Ping(ctx context.Context, client *dynamodb.Client, cfg *Config) error {
	for _, table := range []string{cfg.AccountsTable, cfg.LedgerTable} {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		_, err := client.DescribeTable(callCtx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		cancel()
		if err != nil {
			return fmt.Errorf("describe table %s: %w", table, err)
		}
	}
	return nil
}
