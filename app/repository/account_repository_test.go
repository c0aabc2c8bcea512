package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acastrillo/spotbuddy/app/models"
)

var testTables = TableConfig{
	AccountsTable:   "accounts",
	LedgerTable:     "ledger",
	EmailIndex:      "email-index",
	CustomerIndex:   "stripeCustomerId-index",
	CallTimeout:     time.Second,
	LedgerRetention: 7 * 24 * time.Hour,
}

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestAccountRepo(client DynamoAPI) *accountRepository {
	r := newAccountRepository(client, testTables)
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestGetUsesConsistentReadAndMapsMissing(t *testing.T) {
	fake := &fakeDynamo{}
	repo := newTestAccountRepo(fake)

	_, err := repo.Get(context.Background(), "acc-1", true)
	assert.ErrorIs(t, err, ErrNotFound)
	require.Len(t, fake.gets, 1)
	assert.True(t, aws.ToBool(fake.gets[0].ConsistentRead))
	assert.Equal(t, "acc-1", keyValue(fake.gets[0].Key, "id"))
}

func TestGetNeverReturnsEmailClaims(t *testing.T) {
	fake := &fakeDynamo{}
	repo := newTestAccountRepo(fake)

	_, err := repo.Get(context.Background(), "EMAIL#a@example.com", true)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, fake.gets)
}

func TestGetWrapsIOFailureAsStoreUnavailable(t *testing.T) {
	fake := &fakeDynamo{getFn: func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		return nil, errors.New("connection reset")
	}}
	repo := newTestAccountRepo(fake)

	_, err := repo.Get(context.Background(), "acc-1", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "get account", se.Op)
}

func TestGetByEmailPicksCanonicalAcrossPages(t *testing.T) {
	older := models.Account{ID: "zzz", Email: "a@example.com", CreatedAt: fixedNow.Add(-time.Hour)}
	newer := models.Account{ID: "aaa", Email: "a@example.com", CreatedAt: fixedNow}

	fake := &fakeDynamo{}
	fake.queryFn = func(n int, in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		if n == 1 {
			return &dynamodb.QueryOutput{
				Items:            []map[string]types.AttributeValue{mustMarshal(t, newer)},
				LastEvaluatedKey: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "aaa"}},
			}, nil
		}
		return &dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{mustMarshal(t, older)}}, nil
	}
	repo := newTestAccountRepo(fake)

	got, err := repo.GetByEmail(context.Background(), "  A@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "zzz", got.ID)
	require.Len(t, fake.queries, 2)
	assert.Equal(t, "email-index", aws.ToString(fake.queries[0].IndexName))
	assert.Equal(t, "a@example.com", fake.queries[0].ExpressionAttributeValues[":0"].(*types.AttributeValueMemberS).Value)

	all, err := repo.GetAllByEmail(context.Background(), "a@example.com")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "zzz", all[0].ID)
}

func TestUpsertRequireAbsentClaimsEmailThenCreates(t *testing.T) {
	fake := &fakeDynamo{}
	repo := newTestAccountRepo(fake)
	account := models.NewAccount("acc-1", "New@Example.com", time.Time{})

	res, err := repo.Upsert(context.Background(), account, UpsertOptions{RequireAbsent: true})
	require.NoError(t, err)
	assert.Equal(t, UpsertCreated, res)

	require.Len(t, fake.puts, 2)
	claim := fake.puts[0]
	assert.Equal(t, "EMAIL#new@example.com", keyValue(claim.Item, "id"))
	assert.Equal(t, "acc-1", keyValue(claim.Item, "accountId"))
	_, hasEmail := claim.Item["email"]
	assert.False(t, hasEmail, "claim items must stay out of the email index")

	put := fake.puts[1]
	assert.Equal(t, "acc-1", keyValue(put.Item, "id"))
	assert.Contains(t, aws.ToString(put.ConditionExpression), "attribute_not_exists")
	_, hasCustomer := put.Item["stripeCustomerId"]
	assert.False(t, hasCustomer, "absent billing customer must not be written")
	assert.Equal(t, fixedNow, account.CreatedAt)
	assert.Equal(t, fixedNow, account.UpdatedAt)
}

func TestUpsertRequireAbsentLosesEmailClaim(t *testing.T) {
	fake := &fakeDynamo{putFn: func(n int, _ *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		return nil, conditionFailed()
	}}
	repo := newTestAccountRepo(fake)

	res, err := repo.Upsert(context.Background(), models.NewAccount("acc-2", "new@example.com", fixedNow), UpsertOptions{RequireAbsent: true})
	require.NoError(t, err)
	assert.Equal(t, UpsertConflict, res)
	assert.Len(t, fake.puts, 1, "account must not be written after losing the claim")
}

func TestUpsertRequireAbsentReleasesClaimWhenAccountPutFails(t *testing.T) {
	fake := &fakeDynamo{putFn: func(n int, _ *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		if n == 2 {
			return nil, errors.New("throttled")
		}
		return &dynamodb.PutItemOutput{}, nil
	}}
	repo := newTestAccountRepo(fake)

	_, err := repo.Upsert(context.Background(), models.NewAccount("acc-3", "x@example.com", fixedNow), UpsertOptions{RequireAbsent: true})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	require.Len(t, fake.deletes, 1)
	assert.Equal(t, "EMAIL#x@example.com", keyValue(fake.deletes[0].Key, "id"))
	assert.Equal(t, "acc-3", fake.deletes[0].ExpressionAttributeValues[":0"].(*types.AttributeValueMemberS).Value)
}

func TestUpsertMergeReportsUpdated(t *testing.T) {
	fake := &fakeDynamo{putFn: func(int, *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		return &dynamodb.PutItemOutput{Attributes: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "acc-1"}}}, nil
	}}
	repo := newTestAccountRepo(fake)

	res, err := repo.Upsert(context.Background(), &models.Account{ID: "acc-1", Email: "a@example.com", Tier: models.TierPro}, UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, res)
	require.Len(t, fake.puts, 1)
	assert.Nil(t, fake.puts[0].ConditionExpression)
	assert.Equal(t, "pro", keyValue(fake.puts[0].Item, "subscriptionTier"))
}

func TestUpsertRejectsMissingID(t *testing.T) {
	repo := newTestAccountRepo(&fakeDynamo{})
	_, err := repo.Upsert(context.Background(), &models.Account{Email: "a@example.com"}, UpsertOptions{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpdateSubscriptionTouchesOnlySuppliedFields(t *testing.T) {
	stored := models.Account{ID: "acc-1", Tier: models.TierElite, OCRUsed: 5}
	fake := &fakeDynamo{}
	fake.updateFn = func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return &dynamodb.UpdateItemOutput{Attributes: mustMarshal(t, stored)}, nil
	}
	repo := newTestAccountRepo(fake)

	tier := models.TierElite
	got, err := repo.UpdateSubscription(context.Background(), "acc-1", SubscriptionUpdate{Tier: &tier})
	require.NoError(t, err)
	assert.Equal(t, models.TierElite, got.Tier)

	require.Len(t, fake.updates, 1)
	in := fake.updates[0]
	assert.Equal(t, []string{"id", "subscriptionTier", "updatedAt"}, attrNames(in.ExpressionAttributeNames))
	assert.Contains(t, aws.ToString(in.ConditionExpression), "attribute_exists")
	assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
}

func TestUpdateSubscriptionRemovesEmptyCustomerID(t *testing.T) {
	fake := &fakeDynamo{}
	fake.updateFn = func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return &dynamodb.UpdateItemOutput{Attributes: mustMarshal(t, models.Account{ID: "acc-1"})}, nil
	}
	repo := newTestAccountRepo(fake)

	empty := ""
	_, err := repo.UpdateSubscription(context.Background(), "acc-1", SubscriptionUpdate{BillingCustomerID: &empty})
	require.NoError(t, err)
	assert.Contains(t, aws.ToString(fake.updates[0].UpdateExpression), "REMOVE")
}

func TestUpdateOnMissingRecordIsNotFound(t *testing.T) {
	fake := &fakeDynamo{updateFn: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return nil, conditionFailed()
	}}
	repo := newTestAccountRepo(fake)

	name := "Ana"
	_, err := repo.UpdateProfile(context.Background(), "missing", ProfileUpdate{FirstName: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateProfileNeverNamesProtectedFields(t *testing.T) {
	fake := &fakeDynamo{}
	fake.updateFn = func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return &dynamodb.UpdateItemOutput{Attributes: mustMarshal(t, models.Account{ID: "acc-1"})}, nil
	}
	repo := newTestAccountRepo(fake)

	first, last, done := "Ana", "Lopez", true
	_, err := repo.UpdateProfile(context.Background(), "acc-1", ProfileUpdate{FirstName: &first, LastName: &last, OnboardingCompleted: &done})
	require.NoError(t, err)
	assert.Equal(t, []string{"firstName", "id", "lastName", "onboardingCompleted", "updatedAt"}, attrNames(fake.updates[0].ExpressionAttributeNames))
}

func TestSetDisabledStampsAuditFields(t *testing.T) {
	fake := &fakeDynamo{}
	fake.updateFn = func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return &dynamodb.UpdateItemOutput{Attributes: mustMarshal(t, models.Account{ID: "acc-1", IsDisabled: true})}, nil
	}
	repo := newTestAccountRepo(fake)

	got, err := repo.SetDisabled(context.Background(), "acc-1", DisableUpdate{Disabled: true, By: "admin-1", Reason: "fraud"})
	require.NoError(t, err)
	assert.True(t, got.IsDisabled)
	assert.Equal(t, []string{"disabledAt", "disabledBy", "disabledReason", "id", "isDisabled", "updatedAt"}, attrNames(fake.updates[0].ExpressionAttributeNames))
}

func TestLookupEmailClaim(t *testing.T) {
	fake := &fakeDynamo{getFn: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		return &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
			"id":        &types.AttributeValueMemberS{Value: keyValue(in.Key, "id")},
			"accountId": &types.AttributeValueMemberS{Value: "acc-9"},
			"claimedAt": &types.AttributeValueMemberS{Value: fixedNow.Format(time.RFC3339Nano)},
		}}, nil
	}}
	repo := newTestAccountRepo(fake)

	claim, err := repo.LookupEmailClaim(context.Background(), "Who@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "acc-9", claim.AccountID)
	assert.Equal(t, "who@example.com", claim.Email)
	assert.True(t, aws.ToBool(fake.gets[0].ConsistentRead))
	assert.Equal(t, "EMAIL#who@example.com", keyValue(fake.gets[0].Key, "id"))
}

func TestReleaseEmailClaimIgnoresForeignOwner(t *testing.T) {
	fake := &fakeDynamo{deleteFn: func(*dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
		return nil, conditionFailed()
	}}
	repo := newTestAccountRepo(fake)

	assert.NoError(t, repo.ReleaseEmailClaim(context.Background(), "a@example.com", "acc-1"))
}

func TestUpsertMergeGuardedByUpdatedAt(t *testing.T) {
	fake := &fakeDynamo{putFn: func(int, *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
		return nil, conditionFailed()
	}}
	repo := newTestAccountRepo(fake)

	readAt := fixedNow.Add(-time.Minute)
	res, err := repo.Upsert(context.Background(), &models.Account{ID: "acc-1", Email: "a@example.com"}, UpsertOptions{ExpectedUpdatedAt: &readAt})
	require.NoError(t, err)
	assert.Equal(t, UpsertConflict, res)
	assert.Equal(t, []string{"updatedAt"}, attrNames(fake.puts[0].ExpressionAttributeNames))
}
