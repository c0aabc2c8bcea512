package repository

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

// fakeDynamo records every request and answers with scripted responses.
type fakeDynamo struct {
	mu sync.Mutex

	gets    []*dynamodb.GetItemInput
	puts    []*dynamodb.PutItemInput
	updates []*dynamodb.UpdateItemInput
	deletes []*dynamodb.DeleteItemInput
	queries []*dynamodb.QueryInput

	getFn    func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	putFn    func(n int, in *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	updateFn func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	deleteFn func(in *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error)
	queryFn  func(n int, in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	f.gets = append(f.gets, in)
	f.mu.Unlock()
	if f.getFn == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getFn(in)
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	f.puts = append(f.puts, in)
	n := len(f.puts)
	f.mu.Unlock()
	if f.putFn == nil {
		return &dynamodb.PutItemOutput{}, nil
	}
	return f.putFn(n, in)
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	f.updates = append(f.updates, in)
	f.mu.Unlock()
	if f.updateFn == nil {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return f.updateFn(in)
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	f.deletes = append(f.deletes, in)
	f.mu.Unlock()
	if f.deleteFn == nil {
		return &dynamodb.DeleteItemOutput{}, nil
	}
	return f.deleteFn(in)
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	f.queries = append(f.queries, in)
	n := len(f.queries)
	f.mu.Unlock()
	if f.queryFn == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryFn(n, in)
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: stringPtr("The conditional request failed")}
}

func stringPtr(s string) *string { return &s }

func mustMarshal(t *testing.T, v interface{}) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(v)
	require.NoError(t, err)
	return item
}

// attrNames lists the real attribute names behind an expression's placeholders.
func attrNames(names map[string]string) []string {
	out := make([]string, 0, len(names))
	for _, v := range names {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func keyValue(key map[string]types.AttributeValue, name string) string {
	if v, ok := key[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
