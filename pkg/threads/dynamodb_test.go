package threads

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory dynamodbAPI honoring attribute_not_exists(PK).
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	putErr   error
	getErr   error
	gets     int
	scans    int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func pkOf(item map[string]types.AttributeValue) string {
	if v, ok := item["PK"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	pk := pkOf(in.Item)
	if aws.ToString(in.ConditionExpression) == "attribute_not_exists(PK)" {
		if _, exists := f.items[pk]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++

	prefix := in.ExpressionAttributeValues[":prefix"].(*types.AttributeValueMemberS).Value
	var keys []string
	for pk := range f.items {
		if strings.HasPrefix(pk, prefix) {
			keys = append(keys, pk)
		}
	}

	// Pages are positional: ExclusiveStartKey carries the offset in PK.
	offset := 0
	if in.ExclusiveStartKey != nil {
		offset = len(pkOf(in.ExclusiveStartKey))
	}
	size := f.pageSize
	if size <= 0 {
		size = len(keys)
	}
	end := min(offset+size, len(keys))

	out := &dynamodb.ScanOutput{Count: int32(end - offset)}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: strings.Repeat("x", end)},
		}
	}
	return out, nil
}

func TestNewDynamoStore_Validation(t *testing.T) {
	if _, err := NewDynamoStore(nil, "t"); err == nil {
		t.Error("expected error for nil api")
	}
	if _, err := NewDynamoStore(newFakeDynamo(), "  "); err == nil {
		t.Error("expected error for empty table")
	}
}

func TestDynamoStore_ConditionalPut(t *testing.T) {
	api := newFakeDynamo()
	s, _ := NewDynamoStore(api, "threads")
	ctx := context.Background()

	id, created, err := s.PutIfAbsent(ctx, "k", "t1")
	if err != nil || !created || id != "t1" {
		t.Fatalf("PutIfAbsent() = %q, %v, %v", id, created, err)
	}
	id, created, err = s.PutIfAbsent(ctx, "k", "t2")
	if err != nil || created || id != "t1" {
		t.Errorf("PutIfAbsent() on existing = %q, %v, %v; want t1, false", id, created, err)
	}

	if _, ok := api.items["THREAD#k"]; !ok {
		t.Error("item not stored under THREAD# partition key")
	}
}

func TestDynamoStore_PutError(t *testing.T) {
	api := newFakeDynamo()
	api.putErr = errors.New("throttled")
	s, _ := NewDynamoStore(api, "threads")

	_, _, err := s.PutIfAbsent(context.Background(), "k", "t1")
	if err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Errorf("PutIfAbsent() error = %v, want throttled", err)
	}
}

func TestDynamoStore_CountPaginates(t *testing.T) {
	api := newFakeDynamo()
	api.pageSize = 2
	s, _ := NewDynamoStore(api, "threads")
	ctx := context.Background()

	for _, k := range []SessionKey{"a", "b", "c", "d", "e"} {
		if _, _, err := s.PutIfAbsent(ctx, k, ThreadID("t-"+string(k))); err != nil {
			t.Fatalf("PutIfAbsent(%s) error = %v", k, err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil || n != 5 {
		t.Errorf("Count() = %d, %v; want 5", n, err)
	}
}

func TestDynamoStore_PingDoesNotScan(t *testing.T) {
	api := newFakeDynamo()
	s, _ := NewDynamoStore(api, "threads")
	reg := New(s)
	ctx := context.Background()

	for _, k := range []SessionKey{"a", "b", "c"} {
		if _, _, err := reg.Resolve(ctx, k); err != nil {
			t.Fatalf("Resolve(%s) error = %v", k, err)
		}
	}
	api.gets = 0

	if err := reg.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if api.scans != 0 {
		t.Errorf("Ping() issued %d scans, want 0", api.scans)
	}
	if api.gets != 1 {
		t.Errorf("Ping() issued %d GetItem calls, want 1", api.gets)
	}
	if _, ok := api.items[pingPK]; ok {
		t.Error("Ping() wrote its sentinel item")
	}
}

func TestDynamoStore_PingError(t *testing.T) {
	api := newFakeDynamo()
	api.getErr = errors.New("ResourceNotFoundException")
	s, _ := NewDynamoStore(api, "threads")

	err := s.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ResourceNotFoundException") {
		t.Errorf("Ping() error = %v, want ResourceNotFoundException", err)
	}
}
