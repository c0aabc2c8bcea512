package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/acastrillo/spotbuddy/app/models"
)

const (
	ledgerKey              = "eventId"
	defaultLedgerRetention = 7 * 24 * time.Hour
)

// ledgerRepository implements LedgerRepository. Expired entries are treated as
// absent even before the table TTL has reclaimed them.
type ledgerRepository struct {
	dynamoTable
	retention time.Duration
}

// NewLedgerRepository creates the DynamoDB idempotency ledger
func NewLedgerRepository(client DynamoAPI, cfg TableConfig) LedgerRepository {
	retention := cfg.LedgerRetention
	if retention <= 0 {
		retention = defaultLedgerRetention
	}
	return &ledgerRepository{
		dynamoTable: dynamoTable{
			client:  client,
			name:    cfg.LedgerTable,
			timeout: cfg.CallTimeout,
			now:     time.Now,
		},
		retention: retention,
	}
}

// IsProcessed returns the ledger entry for eventID or ErrNotFound.
func (r *ledgerRepository) IsProcessed(ctx context.Context, eventID string) (*models.ProcessedEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, ErrNotFound
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	out, err := r.client.GetItem(callCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.name),
		Key:            stringKey(ledgerKey, eventID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get ledger entry", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var entry models.ProcessedEvent
	if err := attributevalue.UnmarshalMap(out.Item, &entry); err != nil {
		return nil, fmt.Errorf("repository: decode ledger entry %s: %w", eventID, err)
	}
	if entry.Expired(r.now()) {
		return nil, ErrNotFound
	}
	return &entry, nil
}

// MarkProcessed records eventID once. A live entry yields MarkDuplicate.
func (r *ledgerRepository) MarkProcessed(ctx context.Context, eventID, eventType string) (MarkResult, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return 0, fmt.Errorf("%w: event id is required", ErrInvalidArgument)
	}
	now := r.now().UTC()
	entry := models.NewProcessedEvent(eventID, eventType, now, r.retention)
	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return 0, fmt.Errorf("repository: encode ledger entry: %w", err)
	}

	cond := expression.AttributeNotExists(expression.Name(ledgerKey)).
		Or(expression.Name("expiresAt").LessThanEqual(expression.Value(now.Unix())))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return 0, fmt.Errorf("repository: mark processed: build expression: %w", err)
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	_, err = r.client.PutItem(callCtx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.name),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionalCheckFailed(err) {
		return MarkDuplicate, nil
	}
	if err != nil {
		return 0, unavailable("mark processed", err)
	}
	return MarkRecorded, nil
}

// Unmark removes a ledger entry so a failed application can be retried.
func (r *ledgerRepository) Unmark(ctx context.Context, eventID string) error {
	callCtx, cancel := r.detachedContext(ctx)
	defer cancel()
	_, err := r.client.DeleteItem(callCtx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.name),
		Key:       stringKey(ledgerKey, eventID),
	})
	return unavailable("unmark processed", err)
}
