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
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/acastrillo/spotbuddy/app/models"
)

const (
	accountKey       = "id"
	emailClaimPrefix = "EMAIL#"
)

// emailClaimItem lives in the accounts table next to the records. It carries
// no email attribute so the email index never sees it.
type emailClaimItem struct {
	ID        string    `dynamodbav:"id"`
	AccountID string    `dynamodbav:"accountId"`
	ClaimedAt time.Time `dynamodbav:"claimedAt"`
}

func emailClaimID(email string) string {
	return emailClaimPrefix + models.NormalizeEmail(email)
}

// accountRepository implements AccountRepository on a single DynamoDB table.
type accountRepository struct {
	dynamoTable
	emailIndex    string
	customerIndex string
}

// NewAccountRepository creates the DynamoDB account store
func NewAccountRepository(client DynamoAPI, cfg TableConfig) AccountRepository {
	return newAccountRepository(client, cfg)
}

func newAccountRepository(client DynamoAPI, cfg TableConfig) *accountRepository {
	return &accountRepository{
		dynamoTable: dynamoTable{
			client:  client,
			name:    cfg.AccountsTable,
			timeout: cfg.CallTimeout,
			now:     time.Now,
		},
		emailIndex:    cfg.EmailIndex,
		customerIndex: cfg.CustomerIndex,
	}
}

// Get retrieves an account by id. consistent requests a strongly consistent read.
func (r *accountRepository) Get(ctx context.Context, id string, consistent bool) (*models.Account, error) {
	if id == "" || strings.HasPrefix(id, emailClaimPrefix) {
		return nil, ErrNotFound
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	out, err := r.client.GetItem(callCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.name),
		Key:            stringKey(accountKey, id),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, unavailable("get account", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var account models.Account
	if err := attributevalue.UnmarshalMap(out.Item, &account); err != nil {
		return nil, fmt.Errorf("repository: decode account %s: %w", id, err)
	}
	return &account, nil
}

// GetByEmail returns the canonical account for an email (earliest createdAt,
// then smallest id), independent of index order.
func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	accounts, err := r.GetAllByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNotFound
	}
	return &accounts[0], nil
}

// GetAllByEmail returns every account indexed under the email, canonical first.
// Only duplicate detection should need more than the first element.
func (r *accountRepository) GetAllByEmail(ctx context.Context, email string) ([]models.Account, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, nil
	}
	accounts, err := r.queryIndex(ctx, "query email index", r.emailIndex, "email", normalized)
	if err != nil {
		return nil, err
	}
	models.SortCanonical(accounts)
	return accounts, nil
}

// GetByBillingCustomerID retrieves the account linked to a billing customer.
func (r *accountRepository) GetByBillingCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrNotFound
	}
	accounts, err := r.queryIndex(ctx, "query customer index", r.customerIndex, "stripeCustomerId", customerID)
	if err != nil {
		return nil, err
	}
	if len(accounts) > 1 {
		log.Warnw("[Repository] Billing customer linked to several accounts", "customerId", customerID, "count", len(accounts))
	}
	canonical := models.CanonicalAccount(accounts)
	if canonical == nil {
		return nil, ErrNotFound
	}
	return canonical, nil
}

func (r *accountRepository) queryIndex(ctx context.Context, op, index, attr, value string) ([]models.Account, error) {
	keyCond := expression.Key(attr).Equal(expression.Value(value))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("repository: %s: build expression: %w", op, err)
	}

	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:                 aws.String(r.name),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var accounts []models.Account
	for paginator.HasMorePages() {
		callCtx, cancel := r.callContext(ctx)
		page, err := paginator.NextPage(callCtx)
		cancel()
		if err != nil {
			return nil, unavailable(op, err)
		}
		var batch []models.Account
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("repository: %s: decode: %w", op, err)
		}
		accounts = append(accounts, batch...)
	}
	return accounts, nil
}

// LookupEmailClaim reads the owner of an email with a strongly consistent read.
func (r *accountRepository) LookupEmailClaim(ctx context.Context, email string) (*EmailClaim, error) {
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, ErrNotFound
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	out, err := r.client.GetItem(callCtx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.name),
		Key:            stringKey(accountKey, emailClaimID(normalized)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("lookup email claim", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var item emailClaimItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("repository: decode email claim: %w", err)
	}
	return &EmailClaim{Email: normalized, AccountID: item.AccountID, ClaimedAt: item.ClaimedAt}, nil
}

// ReleaseEmailClaim deletes the claim if accountID still owns it.
func (r *accountRepository) ReleaseEmailClaim(ctx context.Context, email, accountID string) error {
	cond := expression.Name("accountId").Equal(expression.Value(accountID))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("repository: release email claim: build expression: %w", err)
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	_, err = r.client.DeleteItem(callCtx, &dynamodb.DeleteItemInput{
		TableName:                 aws.String(r.name),
		Key:                       stringKey(accountKey, emailClaimID(email)),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if isConditionalCheckFailed(err) {
		return nil
	}
	return unavailable("release email claim", err)
}

// Upsert writes the full record. Without RequireAbsent it replaces the stored
// record, so the caller must already have copied every protected field from
// the current record; ExpectedUpdatedAt guards that read. With RequireAbsent the email is claimed first and the
// record is then put only if its id is free; losing either race returns
// UpsertConflict. Timestamps are stamped on account.
func (r *accountRepository) Upsert(ctx context.Context, account *models.Account, opts UpsertOptions) (UpsertResult, error) {
	if account == nil || account.ID == "" || strings.HasPrefix(account.ID, emailClaimPrefix) {
		return 0, fmt.Errorf("%w: upsert requires an account id", ErrInvalidArgument)
	}
	now := r.now().UTC()
	account.Email = models.NormalizeEmail(account.Email)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	item, err := attributevalue.MarshalMap(account)
	if err != nil {
		return 0, fmt.Errorf("repository: encode account %s: %w", account.ID, err)
	}

	if !opts.RequireAbsent {
		input := &dynamodb.PutItemInput{
			TableName:    aws.String(r.name),
			Item:         item,
			ReturnValues: types.ReturnValueAllOld,
		}
		if opts.ExpectedUpdatedAt != nil {
			cond := expression.Name("updatedAt").Equal(expression.Value(opts.ExpectedUpdatedAt.UTC()))
			expr, err := expression.NewBuilder().WithCondition(cond).Build()
			if err != nil {
				return 0, fmt.Errorf("repository: upsert account: build expression: %w", err)
			}
			input.ConditionExpression = expr.Condition()
			input.ExpressionAttributeNames = expr.Names()
			input.ExpressionAttributeValues = expr.Values()
		}
		callCtx, cancel := r.callContext(ctx)
		defer cancel()
		out, err := r.client.PutItem(callCtx, input)
		if isConditionalCheckFailed(err) {
			return UpsertConflict, nil
		}
		if err != nil {
			return 0, unavailable("upsert account", err)
		}
		if len(out.Attributes) == 0 {
			return UpsertCreated, nil
		}
		return UpsertUpdated, nil
	}

	if account.Email != "" {
		claimed, err := r.claimEmail(ctx, account.Email, account.ID, now)
		if err != nil {
			return 0, err
		}
		if !claimed {
			return UpsertConflict, nil
		}
	}

	cond := expression.AttributeNotExists(expression.Name(accountKey))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return 0, fmt.Errorf("repository: create account: build expression: %w", err)
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	_, err = r.client.PutItem(callCtx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.name),
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err == nil {
		return UpsertCreated, nil
	}

	r.releaseClaimQuietly(ctx, account.Email, account.ID)
	if isConditionalCheckFailed(err) {
		return UpsertConflict, nil
	}
	return 0, unavailable("create account", err)
}

// claimEmail returns false when another account already owns the email.
// Re-claiming an email the same id already owns succeeds.
func (r *accountRepository) claimEmail(ctx context.Context, email, accountID string, now time.Time) (bool, error) {
	item, err := attributevalue.MarshalMap(emailClaimItem{
		ID:        emailClaimID(email),
		AccountID: accountID,
		ClaimedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("repository: encode email claim: %w", err)
	}
	cond := expression.AttributeNotExists(expression.Name(accountKey)).
		Or(expression.Name("accountId").Equal(expression.Value(accountID)))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return false, fmt.Errorf("repository: claim email: build expression: %w", err)
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
		return false, nil
	}
	if err != nil {
		return false, unavailable("claim email", err)
	}
	return true, nil
}

func (r *accountRepository) releaseClaimQuietly(ctx context.Context, email, accountID string) {
	if email == "" {
		return
	}
	releaseCtx, cancel := r.detachedContext(ctx)
	defer cancel()
	if err := r.ReleaseEmailClaim(releaseCtx, email, accountID); err != nil {
		log.Warnf("[Repository] Failed to release email claim for account %s: %v", accountID, err)
	}
}

// UpdateSubscription touches only the supplied subscription keys. An empty
// billing customer id removes the attribute since the index cannot hold it.
func (r *accountRepository) UpdateSubscription(ctx context.Context, id string, u SubscriptionUpdate) (*models.Account, error) {
	update := expression.Set(expression.Name("updatedAt"), expression.Value(r.now().UTC()))
	if u.Tier != nil {
		update = update.Set(expression.Name("subscriptionTier"), expression.Value(*u.Tier))
	}
	if u.Status != nil {
		update = update.Set(expression.Name("subscriptionStatus"), expression.Value(*u.Status))
	}
	if u.BillingCustomerID != nil {
		update = setOrRemove(update, "stripeCustomerId", *u.BillingCustomerID)
	}
	if u.BillingSubscriptionID != nil {
		update = setOrRemove(update, "stripeSubscriptionId", *u.BillingSubscriptionID)
	}
	if u.PeriodStart != nil {
		update = update.Set(expression.Name("subscriptionStartDate"), expression.Value(u.PeriodStart.UTC()))
	}
	if u.PeriodEnd != nil {
		update = update.Set(expression.Name("subscriptionEndDate"), expression.Value(u.PeriodEnd.UTC()))
	}
	if u.TrialEndsAt != nil {
		update = update.Set(expression.Name("trialEndsAt"), expression.Value(u.TrialEndsAt.UTC()))
	}
	return r.updateAccount(ctx, "update subscription", id, update)
}

// UpdateProfile touches only display and onboarding fields.
func (r *accountRepository) UpdateProfile(ctx context.Context, id string, u ProfileUpdate) (*models.Account, error) {
	update := expression.Set(expression.Name("updatedAt"), expression.Value(r.now().UTC()))
	if u.FirstName != nil {
		update = setOrRemove(update, "firstName", strings.TrimSpace(*u.FirstName))
	}
	if u.LastName != nil {
		update = setOrRemove(update, "lastName", strings.TrimSpace(*u.LastName))
	}
	if u.OnboardingCompleted != nil {
		update = update.Set(expression.Name("onboardingCompleted"), expression.Value(*u.OnboardingCompleted))
	}
	if u.OnboardingSkipped != nil {
		update = update.Set(expression.Name("onboardingSkipped"), expression.Value(*u.OnboardingSkipped))
	}
	return r.updateAccount(ctx, "update profile", id, update)
}

// SetDisabled flips the kill switch and its audit fields.
func (r *accountRepository) SetDisabled(ctx context.Context, id string, u DisableUpdate) (*models.Account, error) {
	now := r.now().UTC()
	update := expression.Set(expression.Name("updatedAt"), expression.Value(now)).
		Set(expression.Name("isDisabled"), expression.Value(u.Disabled))
	if u.Disabled {
		update = update.Set(expression.Name("disabledAt"), expression.Value(now))
		update = setOrRemove(update, "disabledBy", u.By)
		update = setOrRemove(update, "disabledReason", u.Reason)
	} else {
		update = update.Remove(expression.Name("disabledAt")).
			Remove(expression.Name("disabledBy")).
			Remove(expression.Name("disabledReason"))
	}
	return r.updateAccount(ctx, "set disabled", id, update)
}

// updateAccount applies a field-level update to an existing record and
// returns the record as stored afterwards.
func (r *accountRepository) updateAccount(ctx context.Context, op, id string, update expression.UpdateBuilder) (*models.Account, error) {
	if id == "" || strings.HasPrefix(id, emailClaimPrefix) {
		return nil, ErrNotFound
	}
	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name(accountKey))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("repository: %s: build expression: %w", op, err)
	}

	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	out, err := r.client.UpdateItem(callCtx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.name),
		Key:                       stringKey(accountKey, id),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionalCheckFailed(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(op, err)
	}

	var account models.Account
	if err := attributevalue.UnmarshalMap(out.Attributes, &account); err != nil {
		return nil, fmt.Errorf("repository: %s: decode: %w", op, err)
	}
	return &account, nil
}

func setOrRemove(update expression.UpdateBuilder, attr, value string) expression.UpdateBuilder {
	if value == "" {
		return update.Remove(expression.Name(attr))
	}
	return update.Set(expression.Name(attr), expression.Value(value))
}
