package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mwilkes/clinicdesk/pkg/logging"
)

const (
	opTTL = 24 * time.Hour
)

// OpStatus represents the lifecycle of a queued write.
type OpStatus string

const (
	OpStatusPending OpStatus = "pending"
	OpStatusApplied OpStatus = "applied"
	OpStatusFailed  OpStatus = "failed"
)

// ErrOpNotFound indicates the requested op ID does not exist.
var ErrOpNotFound = errors.New("writer: op not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// OpRecord captures the persisted state of a queued write.
type OpRecord struct {
	OpID         string   `dynamodbav:"opId" json:"opId"`
	Status       OpStatus `dynamodbav:"status" json:"status"`
	Collection   string   `dynamodbav:"collection" json:"collection"`
	DocID        string   `dynamodbav:"docId" json:"docId"`
	Kind         string   `dynamodbav:"kind" json:"kind"`
	ErrorMessage string   `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt    string   `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt    string   `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt    int64    `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// OpRecorder inserts pending ops, resolves their status, and fails ops
// that never reached the queue.
type OpRecorder interface {
	PutPending(ctx context.Context, op *OpRecord) error
	GetOp(ctx context.Context, opID string) (*OpRecord, error)
	MarkFailed(ctx context.Context, opID string, errMsg string) error
}

// OpUpdater transitions ops to a terminal state.
type OpUpdater interface {
	MarkApplied(ctx context.Context, opID string) error
	MarkFailed(ctx context.Context, opID string, errMsg string) error
}

// OpStore persists op records to DynamoDB.
type OpStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ OpRecorder = (*OpStore)(nil)
var _ OpUpdater = (*OpStore)(nil)

// NewOpStore builds a store backed by the provided DynamoDB client.
func NewOpStore(client dynamoAPI, tableName string, logger *logging.Logger) *OpStore {
	if client == nil {
		panic("writer: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("writer: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &OpStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// PutPending inserts a new pending op record.
func (s *OpStore) PutPending(ctx context.Context, op *OpRecord) error {
	if op == nil {
		return errors.New("writer: op cannot be nil")
	}
	now := time.Now().UTC()
	op.Status = OpStatusPending
	op.CreatedAt = now.Format(time.RFC3339Nano)
	op.UpdatedAt = op.CreatedAt
	if op.ExpiresAt == 0 {
		op.ExpiresAt = now.Add(opTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(op)
	if err != nil {
		return fmt.Errorf("writer: failed to marshal op: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(opId)"),
	})
	if err != nil {
		return fmt.Errorf("writer: failed to persist op: %w", err)
	}
	return nil
}

// MarkApplied updates an op to the applied state.
func (s *OpStore) MarkApplied(ctx context.Context, opID string) error {
	if opID == "" {
		return errors.New("writer: opID required")
	}
	return s.updateOp(
		ctx,
		opID,
		map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(OpStatusApplied)},
			":error":   &types.AttributeValueMemberS{Value: ""},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#status":  "status",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		"SET #status = :status, #error = :error, #updated = :updated",
	)
}

// MarkFailed updates an op to the failed state.
func (s *OpStore) MarkFailed(ctx context.Context, opID string, errMsg string) error {
	if opID == "" {
		return errors.New("writer: opID required")
	}
	return s.updateOp(
		ctx,
		opID,
		map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(OpStatusFailed)},
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#status":  "status",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		"SET #status = :status, #error = :error, #updated = :updated",
	)
}

// GetOp fetches an op by ID.
func (s *OpStore) GetOp(ctx context.Context, opID string) (*OpRecord, error) {
	if opID == "" {
		return nil, errors.New("writer: opID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"opId": &types.AttributeValueMemberS{Value: opID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("writer: failed to fetch op: %w", err)
	}
	if out.Item == nil {
		return nil, ErrOpNotFound
	}

	var op OpRecord
	if err := attributevalue.UnmarshalMap(out.Item, &op); err != nil {
		return nil, fmt.Errorf("writer: failed to decode op: %w", err)
	}
	return &op, nil
}

func (s *OpStore) updateOp(ctx context.Context, opID string, values map[string]types.AttributeValue, names map[string]string, expression string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"opId": &types.AttributeValueMemberS{Value: opID},
		},
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(opId)"),
	})
	if err != nil {
		return fmt.Errorf("writer: failed to update op %s: %w", opID, err)
	}
	return nil
}
