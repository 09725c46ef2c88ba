package recordsync

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// DynamoMaxBatchSize is the BatchWriteItem request limit.
const DynamoMaxBatchSize = 25

// DynamoAPI is the part of *dynamodb.Client a DynamoStore uses.
type DynamoAPI interface {
	dynamodb.ScanAPIClient
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore keeps records as items of a DynamoDB table keyed by the dedup attribute.
type DynamoStore struct {
	Client    DynamoAPI
	TableName string
	// KeyAttribute names the item attribute used as Record.ID.
	KeyAttribute string
}

func NewDynamoStore(cfg aws.Config, table string) *DynamoStore {
	return &DynamoStore{
		Client:       dynamodb.NewFromConfig(cfg),
		TableName:    table,
		KeyAttribute: DefaultDedupField,
	}
}

func (s *DynamoStore) MaxBatchSize() int {
	return DynamoMaxBatchSize
}

// Records scans the table, projecting only the requested attributes.
func (s *DynamoStore) Records(ctx context.Context, fields []string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		input := &dynamodb.ScanInput{TableName: aws.String(s.TableName)}
		if len(fields) > 0 {
			names := make(map[string]string, len(fields))
			expr := ""
			for i, f := range fields {
				alias := fmt.Sprintf("#f%d", i)
				names[alias] = f
				if i > 0 {
					expr += ", "
				}
				expr += alias
			}
			input.ProjectionExpression = aws.String(expr)
			input.ExpressionAttributeNames = names
		}

		paginator := dynamodb.NewScanPaginator(s.Client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(Record{}, s.wrap("scan", err))
				return
			}
			for _, item := range page.Items {
				var attrs map[string]any
				if err := attributevalue.UnmarshalMap(item, &attrs); err != nil {
					yield(Record{}, s.wrap("scan", err))
					return
				}
				if !yield(Record{ID: fieldText(attrs[s.keyAttribute()]), Fields: attrs}, nil) {
					return
				}
			}
		}
	}
}

// BatchCreate writes records as PutRequests. Unprocessed items are an error; nothing is retried.
func (s *DynamoStore) BatchCreate(ctx context.Context, records []map[string]any) (int, error) {
	if len(records) > DynamoMaxBatchSize {
		return 0, s.wrap("batch_write", fmt.Errorf("batch of %d exceeds %d", len(records), DynamoMaxBatchSize))
	}

	writes := make([]types.WriteRequest, 0, len(records))
	for _, r := range records {
		item, err := attributevalue.MarshalMap(r)
		if err != nil {
			return 0, s.wrap("marshal", err)
		}
		writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}

	out, err := s.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.TableName: writes},
	})
	if err != nil {
		return 0, s.wrap("batch_write", err)
	}
	if left := len(out.UnprocessedItems[s.TableName]); left > 0 {
		return len(records) - left, s.wrap("batch_write", fmt.Errorf("%w: %d of %d", ErrUnprocessedItems, left, len(records)))
	}
	return len(records), nil
}

func (s *DynamoStore) keyAttribute() string {
	if s.KeyAttribute == "" {
		return DefaultDedupField
	}
	return s.KeyAttribute
}

func (s *DynamoStore) wrap(op string, err error) error {
	se := &StoreError{Store: "dynamodb", Op: op, Err: err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		se.Code = apiErr.ErrorCode()
	}
	return se
}
