package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "BATCH#"
	skMeta   = "META"
	skItem   = "ITEM#"

	// maxBatchWrite is the DynamoDB BatchWriteItem limit per call.
	maxBatchWrite = 25
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements BatchStore using AWS DynamoDB.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// Compile-time interface check.
var _ BatchStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// --- Internal helpers ---

// batchPK returns the partition key for a batch.
func batchPK(batchID string) string {
	return pkPrefix + batchID
}

// itemSK returns the sort key of an item. Zero padding keeps SK order
// equal to batch order.
func itemSK(index int) string {
	return fmt.Sprintf("%s%05d", skItem, index)
}

// expiresAt returns the Unix epoch timestamp for record expiration (now + BatchTTL).
func expiresAt() int64 {
	return time.Now().Add(BatchTTL).Unix()
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// marshalItem marshals a domain object and adds PK, SK, and TTL.
// The domain object should use dynamodbav:"-" for fields derived from PK/SK.
func marshalItem(pk, sk string, data any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt(), 10)}
	return item, nil
}

// queryAll returns every item of a batch, optionally keys only.
func (s *DynamoStore) queryAll(ctx context.Context, batchID string, keysOnly bool) ([]map[string]types.AttributeValue, error) {
	pk := batchPK(batchID)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	if keysOnly {
		input.ProjectionExpression = aws.String("PK, SK")
	}

	var all []map[string]types.AttributeValue
	// Handle pagination: DynamoDB returns up to 1MB per Query call.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query PK=%s: %w", pk, err)
		}
		all = append(all, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return all, nil
}

// batchWrite sends write requests in chunks of maxBatchWrite.
func (s *DynamoStore) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	for i := 0; i < len(requests); i += maxBatchWrite {
		end := min(i+maxBatchWrite, len(requests))
		_, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				s.tableName: requests[i:end],
			},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem (%d items): %w", end-i, err)
		}
		// UnprocessedItems are not retried. The TTL removes anything a
		// failed delete leaves behind.
	}
	return nil
}

// --- Batch operations ---

func (s *DynamoStore) PutBatch(ctx context.Context, batch *BatchRecord) error {
	now := time.Now().Unix()
	if batch.CreatedAt == 0 {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now

	item, err := marshalItem(batchPK(batch.ID), skMeta, batch)
	if err != nil {
		return fmt.Errorf("put batch %s: %w", batch.ID, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.tableName, Item: item}); err != nil {
		return fmt.Errorf("put batch %s: PutItem: %w", batch.ID, err)
	}

	log.Debug().Str("batch", batch.ID).Str("status", batch.Status).Msg("Batch persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) GetBatch(ctx context.Context, batchID string) (*BatchRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       keyOf(batchPK(batchID), skMeta),
	})
	if err != nil {
		return nil, fmt.Errorf("get batch %s: GetItem: %w", batchID, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var batch BatchRecord
	if err := attributevalue.UnmarshalMap(result.Item, &batch); err != nil {
		return nil, fmt.Errorf("get batch %s: unmarshal: %w", batchID, err)
	}
	batch.ID = batchID
	return &batch, nil
}

func (s *DynamoStore) UpdateBatchStatus(ctx context.Context, batchID, status, errMsg string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              keyOf(batchPK(batchID), skMeta),
		UpdateExpression: aws.String("SET #s = :s, #e = :e, updatedAt = :u"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status", // "status" is a DynamoDB reserved word
			"#e": "error",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: status},
			":e": &types.AttributeValueMemberS{Value: errMsg},
			":u": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	if err != nil {
		return fmt.Errorf("update batch status %s -> %s: %w", batchID, status, err)
	}

	log.Debug().Str("batch", batchID).Str("status", status).Msg("Batch status updated")
	return nil
}

// --- Item operations ---

func (s *DynamoStore) PutItems(ctx context.Context, batchID string, items []ItemRecord) error {
	pk := batchPK(batchID)
	requests := make([]types.WriteRequest, 0, len(items))
	for i := range items {
		item, err := marshalItem(pk, itemSK(items[i].Index), &items[i])
		if err != nil {
			return fmt.Errorf("put items %s: %w", batchID, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	if err := s.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("put items %s: %w", batchID, err)
	}

	log.Debug().Str("batch", batchID).Int("items", len(items)).Msg("Item records persisted")
	return nil
}

func (s *DynamoStore) GetItems(ctx context.Context, batchID string) ([]ItemRecord, error) {
	raw, err := s.queryAll(ctx, batchID, false)
	if err != nil {
		return nil, fmt.Errorf("get items %s: %w", batchID, err)
	}

	items := make([]ItemRecord, 0, len(raw))
	for _, item := range raw {
		skAttr, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok || !strings.HasPrefix(skAttr.Value, skItem) {
			continue
		}
		var rec ItemRecord
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			log.Warn().Err(err).Str("batch", batchID).Str("sk", skAttr.Value).Msg("Failed to unmarshal item record, skipping")
			continue
		}
		// Extract index from SK: "ITEM#00003" → 3
		rec.Index, _ = strconv.Atoi(strings.TrimPrefix(skAttr.Value, skItem))
		items = append(items, rec)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Index < items[j].Index })
	return items, nil
}

func (s *DynamoStore) DeleteBatch(ctx context.Context, batchID string) error {
	raw, err := s.queryAll(ctx, batchID, true)
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", batchID, err)
	}
	requests := make([]types.WriteRequest, 0, len(raw))
	for _, item := range raw {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]}},
		})
	}
	if err := s.batchWrite(ctx, requests); err != nil {
		return fmt.Errorf("delete batch %s: %w", batchID, err)
	}

	log.Info().Str("batch", batchID).Int("deleted", len(requests)).Msg("Batch records deleted from DynamoDB")
	return nil
}
