package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/acastrillo/spotbuddy/app/models"
)

// counterRepository implements CounterRepository on the account records.
type counterRepository struct {
	accounts *accountRepository
}

// NewCounterRepository creates the DynamoDB counter engine store
func NewCounterRepository(client DynamoAPI, cfg TableConfig) CounterRepository {
	return &counterRepository{accounts: newAccountRepository(client, cfg)}
}

func validCounter(field models.CounterField, amount int64) error {
	if !field.Valid() {
		return fmt.Errorf("%w: unknown counter %q", ErrInvalidArgument, field)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: counter amount must be positive, got %d", ErrInvalidArgument, amount)
	}
	return nil
}

// Increment adds amount in a single ADD update, which starts from zero when
// the attribute is absent. Concurrent increments never lose an update.
func (r *counterRepository) Increment(ctx context.Context, id string, field models.CounterField, amount int64) (int64, error) {
	if err := validCounter(field, amount); err != nil {
		return 0, err
	}
	update := expression.Add(expression.Name(string(field)), expression.Value(amount)).
		Set(expression.Name("updatedAt"), expression.Value(r.accounts.now().UTC()))

	account, err := r.accounts.updateAccount(ctx, "increment "+field.Key(), id, update)
	if err != nil {
		return 0, err
	}
	return account.CounterValue(field), nil
}

// Decrement reads the current value and writes max(0, current-amount).
func (r *counterRepository) Decrement(ctx context.Context, id string, field models.CounterField, amount int64) (int64, error) {
	if err := validCounter(field, amount); err != nil {
		return 0, err
	}
	current, err := r.accounts.Get(ctx, id, true)
	if err != nil {
		return 0, err
	}
	next := current.CounterValue(field) - amount
	if next < 0 {
		next = 0
	}
	update := expression.Set(expression.Name(string(field)), expression.Value(next)).
		Set(expression.Name("updatedAt"), expression.Value(r.accounts.now().UTC()))

	account, err := r.accounts.updateAccount(ctx, "decrement "+field.Key(), id, update)
	if err != nil {
		return 0, err
	}
	return account.CounterValue(field), nil
}

// Reset zeroes a counter and optionally stamps its reset timestamp.
func (r *counterRepository) Reset(ctx context.Context, id string, field models.CounterField, stampReset bool) error {
	if !field.Valid() {
		return fmt.Errorf("%w: unknown counter %q", ErrInvalidArgument, field)
	}
	now := resetStamp(r.accounts.now())
	update := expression.Set(expression.Name(string(field)), expression.Value(int64(0))).
		Set(expression.Name("updatedAt"), expression.Value(now))
	if stampReset {
		update = update.Set(expression.Name(field.ResetField()), expression.Value(now))
	}
	_, err := r.accounts.updateAccount(ctx, "reset "+field.Key(), id, update)
	return err
}

// resetStamp drops sub-second precision. Reset stamps are compared as strings
// against whole-second period starts, which only orders correctly when both
// sides carry the same precision.
func resetStamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Second)
}

// RollOver zeroes a counter and stamps its reset only while the stored reset
// stamp is absent or older than periodStart. The period test is part of the
// write condition, so of several callers racing one rollover exactly one
// wins. The others get false and the value currently stored.
func (r *counterRepository) RollOver(ctx context.Context, id string, field models.CounterField, periodStart time.Time) (bool, int64, error) {
	if !field.Valid() {
		return false, 0, fmt.Errorf("%w: unknown counter %q", ErrInvalidArgument, field)
	}
	if id == "" || strings.HasPrefix(id, emailClaimPrefix) {
		return false, 0, ErrNotFound
	}
	op := "roll over " + field.Key()
	now := resetStamp(r.accounts.now())
	resetAttr := expression.Name(field.ResetField())
	update := expression.Set(expression.Name(string(field)), expression.Value(int64(0))).
		Set(resetAttr, expression.Value(now)).
		Set(expression.Name("updatedAt"), expression.Value(now))
	due := expression.AttributeNotExists(resetAttr).
		Or(resetAttr.LessThan(expression.Value(resetStamp(periodStart))))
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(accountKey)).And(due)).
		Build()
	if err != nil {
		return false, 0, fmt.Errorf("repository: %s: build expression: %w", op, err)
	}

	callCtx, cancel := r.accounts.callContext(ctx)
	defer cancel()
	out, err := r.accounts.client.UpdateItem(callCtx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.accounts.name),
		Key:                                 stringKey(accountKey, id),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if isConditionalCheckFailed(err) {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) && len(ccf.Item) > 0 {
			var current models.Account
			if err := attributevalue.UnmarshalMap(ccf.Item, &current); err != nil {
				return false, 0, fmt.Errorf("repository: %s: decode: %w", op, err)
			}
			return false, current.CounterValue(field), nil
		}
		// No old image: either the record is gone or the error came without
		// one. A consistent read settles which.
		current, err := r.accounts.Get(ctx, id, true)
		if err != nil {
			return false, 0, err
		}
		return false, current.CounterValue(field), nil
	}
	if err != nil {
		return false, 0, unavailable(op, err)
	}

	var account models.Account
	if err := attributevalue.UnmarshalMap(out.Attributes, &account); err != nil {
		return false, 0, fmt.Errorf("repository: %s: decode: %w", op, err)
	}
	return true, account.CounterValue(field), nil
}
