package threads

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore persists mappings in a DynamoDB table keyed by "PK" (string).
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore wraps api and tableName.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("threads: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("threads: dynamodb table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

func threadPK(key SessionKey) string {
	return "THREAD#" + string(key)
}

// PutIfAbsent implements Store using a conditional write.
func (s *DynamoStore) PutIfAbsent(ctx context.Context, key SessionKey, id ThreadID) (ThreadID, bool, error) {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: threadPK(key)},
			"ThreadID":  &types.AttributeValueMemberS{Value: string(id)},
			"CreatedAt": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err == nil {
		return id, true, nil
	}

	var conditionFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &conditionFailed) {
		return "", false, fmt.Errorf("threads: PutItem: %w", err)
	}

	existing, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, fmt.Errorf("threads: thread for %s vanished after conflict", key)
	}
	return existing, false, nil
}

// Get implements Store.
func (s *DynamoStore) Get(ctx context.Context, key SessionKey) (ThreadID, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(key)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("threads: GetItem: %w", err)
	}
	if len(out.Item) == 0 {
		return "", false, nil
	}

	attr, ok := out.Item["ThreadID"].(*types.AttributeValueMemberS)
	if !ok {
		return "", false, fmt.Errorf("threads: item for %s has no ThreadID", key)
	}
	return ThreadID(attr.Value), true, nil
}

// Count implements Store with a paginated COUNT scan.
func (s *DynamoStore) Count(ctx context.Context) (int64, error) {
	var (
		total int64
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.tableName),
			Select:            types.SelectCount,
			FilterExpression:  aws.String("begins_with(PK, :prefix)"),
			ExclusiveStartKey: start,
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: "THREAD#"},
			},
		})
		if err != nil {
			return 0, fmt.Errorf("threads: Scan: %w", err)
		}
		total += int64(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		start = out.LastEvaluatedKey
	}
}

// pingPK is never written; reading it checks the table and credentials.
const pingPK = "PING#relay"

// Ping implements Store with a single-item read.
func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.tableName),
		Key:                  map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: pingPK}},
		ProjectionExpression: aws.String("PK"),
	})
	if err != nil {
		return fmt.Errorf("threads: GetItem: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *DynamoStore) Close() error {
	return nil
}
