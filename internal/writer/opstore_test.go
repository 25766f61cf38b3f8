package writer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mwilkes/clinicdesk/pkg/logging"
)

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	putErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	getOutput    *dynamodb.GetItemOutput
	getErr       error
}

func (m *mockDynamo) PutItem(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, input)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput != nil {
		return m.getOutput, nil
	}
	return &dynamodb.GetItemOutput{}, nil
}

func TestOpStore_PutPendingPersistsDefaults(t *testing.T) {
	mock := &mockDynamo{}
	store := NewOpStore(mock, "write_ops", logging.Default())

	op := &OpRecord{
		OpID:       "op-123",
		Collection: "patients",
		DocID:      "p1",
		Kind:       "create",
	}

	if err := store.PutPending(context.Background(), op); err != nil {
		t.Fatalf("PutPending returned error: %v", err)
	}

	if mock.putInput == nil {
		t.Fatalf("expected PutItem to be called")
	}

	var stored OpRecord
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored op: %v", err)
	}

	if stored.Status != OpStatusPending {
		t.Fatalf("expected status pending, got %s", stored.Status)
	}
	if stored.CreatedAt == "" || stored.UpdatedAt == "" {
		t.Fatal("expected timestamps to be populated")
	}
	if stored.ExpiresAt <= time.Now().Unix() {
		t.Fatal("expected TTL to be in the future")
	}

	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(opId)" {
		t.Fatalf("expected condition expression to prevent overwrites, got %v", expr)
	}
}

func TestOpStore_PutPendingNilOp(t *testing.T) {
	store := NewOpStore(&mockDynamo{}, "write_ops", logging.Default())
	if err := store.PutPending(context.Background(), nil); err == nil {
		t.Fatal("expected error when op is nil")
	}
}

func TestOpStore_MarkApplied_UsesReservedAttributeNames(t *testing.T) {
	mock := &mockDynamo{}
	store := NewOpStore(mock, "write_ops", logging.Default())

	if err := store.MarkApplied(context.Background(), "op-123"); err != nil {
		t.Fatalf("MarkApplied returned error: %v", err)
	}

	if len(mock.updateInputs) != 1 {
		t.Fatalf("expected 1 update call, got %d", len(mock.updateInputs))
	}

	update := mock.updateInputs[0]

	names := update.ExpressionAttributeNames
	if names["#status"] != "status" || names["#error"] != "errorMessage" {
		t.Fatalf("expected reserved attribute names to be aliased, got %v", names)
	}

	status := update.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS).Value
	if status != string(OpStatusApplied) {
		t.Fatalf("expected applied status, got %s", status)
	}
}

func TestOpStore_MarkFailed_RecordsMessage(t *testing.T) {
	mock := &mockDynamo{}
	store := NewOpStore(mock, "write_ops", logging.Default())

	if err := store.MarkFailed(context.Background(), "op-123", "boom"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	update := mock.updateInputs[0]
	msg := update.ExpressionAttributeValues[":error"].(*types.AttributeValueMemberS).Value
	if msg != "boom" {
		t.Fatalf("expected error message recorded, got %q", msg)
	}
}

func TestOpStore_MarkApplied_PropagatesError(t *testing.T) {
	mock := &mockDynamo{updateErr: errors.New("dynamo failed")}
	store := NewOpStore(mock, "write_ops", logging.Default())

	err := store.MarkApplied(context.Background(), "op-1")
	if err == nil || !strings.Contains(err.Error(), "dynamo failed") {
		t.Fatalf("expected dynamo error, got %v", err)
	}
}

func TestOpStore_GetOp(t *testing.T) {
	rec := OpRecord{
		OpID:       "op-9",
		Status:     OpStatusApplied,
		Collection: "invoices",
		DocID:      "inv-1",
		Kind:       "set",
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatal(err)
	}

	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{Item: item}}
	store := NewOpStore(mock, "write_ops", logging.Default())

	got, err := store.GetOp(context.Background(), "op-9")
	if err != nil {
		t.Fatalf("GetOp returned error: %v", err)
	}
	if got.Status != OpStatusApplied || got.DocID != "inv-1" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestOpStore_GetOpNotFound(t *testing.T) {
	store := NewOpStore(&mockDynamo{}, "write_ops", logging.Default())

	_, err := store.GetOp(context.Background(), "op-missing")
	if !errors.Is(err, ErrOpNotFound) {
		t.Fatalf("expected ErrOpNotFound, got %v", err)
	}
}
