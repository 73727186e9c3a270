package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultOpTimeout bounds every store call so a slow or dead store
// degrades throughput instead of wedging the coordinator
const DefaultOpTimeout = 500 * time.Millisecond

// storeItem is the single-table layout: one item per key, with the value,
// an optional counter and an expiry epoch registered as the DynamoDB TTL
// attribute. DynamoDB deletes expired items lazily, so every read and
// every conditional write re-checks expires_at itself.
type storeItem struct {
	PK        string `dynamodbav:"pk"`
	Val       string `dynamodbav:"val"`
	Counter   int64  `dynamodbav:"counter"`
	ExpiresAt int64  `dynamodbav:"expires_at"`
}

// DynamoDBStore implements Store on a single DynamoDB table
type DynamoDBStore struct {
	client    *dynamodb.Client
	tableName string
	opTimeout time.Duration
}

// NewDynamoDBStore creates a store backed by the given table
func NewDynamoDBStore(ctx context.Context, region, tableName string) (*DynamoDBStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &DynamoDBStore{
		client:    dynamodb.NewFromConfig(cfg),
		tableName: tableName,
		opTimeout: DefaultOpTimeout,
	}, nil
}

// SetNX writes key only if no live item exists. Expired items that the
// DynamoDB TTL sweeper has not removed yet count as absent.
func (d *DynamoDBStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	now := time.Now()
	item, err := attributevalue.MarshalMap(storeItem{
		PK:        key,
		Val:       value,
		ExpiresAt: now.Add(ttl).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) OR expires_at <= :now"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":now": &dynamodbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
		},
	})
	if err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return true, nil
}

// Set unconditionally writes key with a TTL
func (d *DynamoDBStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	item, err := attributevalue.MarshalMap(storeItem{
		PK:        key,
		Val:       value,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Get returns the live value at key. Consistent reads: the claim path
// cannot tolerate stale replicas.
func (d *DynamoDBStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            pkKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	if out.Item == nil {
		return "", ErrNotFound
	}

	var item storeItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return "", fmt.Errorf("failed to unmarshal item %s: %w", key, err)
	}
	if item.ExpiresAt <= time.Now().Unix() {
		return "", ErrNotFound
	}
	return item.Val, nil
}

// Delete removes key
func (d *DynamoDBStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       pkKey(key),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// CompareAndDelete removes key only while it still holds value. A
// conditional delete keeps the comparison atomic; an absent, expired or
// reassigned item fails the condition and the key is left alone.
func (d *DynamoDBStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 pkKey(key),
		ConditionExpression: aws.String("val = :v AND expires_at > :now"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":v":   &dynamodbtypes.AttributeValueMemberS{Value: value},
			":now": &dynamodbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix())},
		},
	})
	if err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("%w: conditional delete %s: %v", ErrUnavailable, key, err)
	}
	return true, nil
}

// IncrBy atomically adds n to the counter at key, creating the item with
// the given TTL when absent
func (d *DynamoDBStore) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opTimeout)
	defer cancel()

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tableName),
		Key:              pkKey(key),
		UpdateExpression: aws.String("ADD #c :n SET expires_at = if_not_exists(expires_at, :exp)"),
		ExpressionAttributeNames: map[string]string{
			"#c": "counter",
		},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":n":   &dynamodbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)},
			":exp": &dynamodbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Add(ttl).Unix())},
		},
		ReturnValues: dynamodbtypes.ReturnValueAllNew,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", ErrUnavailable, key, err)
	}

	var item storeItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return 0, fmt.Errorf("failed to unmarshal counter %s: %w", key, err)
	}
	return item.Counter, nil
}

// ScanPrefix returns all live keys beginning with prefix. Used only by
// the cleanup sweep, so a table scan is acceptable.
func (d *DynamoDBStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var keys []string
	var startKey map[string]dynamodbtypes.AttributeValue

	for {
		out, err := d.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(d.tableName),
			FilterExpression: aws.String("begins_with(pk, :p) AND expires_at > :now"),
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":p":   &dynamodbtypes.AttributeValueMemberS{Value: prefix},
				":now": &dynamodbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Unix())},
			},
			ProjectionExpression: aws.String("pk"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", ErrUnavailable, prefix, err)
		}

		for _, raw := range out.Items {
			var item storeItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				continue
			}
			keys = append(keys, item.PK)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return keys, nil
}

func pkKey(key string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"pk": &dynamodbtypes.AttributeValueMemberS{Value: key},
	}
}
