package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chassis/application/ports"
	"chassis/domain/events"
	"chassis/pkg/utils"
)

// PublishStatus represents the publishing status of an outbox record
type PublishStatus string

const (
	PublishStatusPending   PublishStatus = "pending"
	PublishStatusPublished PublishStatus = "published"
	PublishStatusFailed    PublishStatus = "failed"
)

// OutboxRecord is how lifecycle events are stored before publication
type OutboxRecord struct {
	PK          string `dynamodbav:"PK"` // OUTBOX#<aggregate_id>
	SK          string `dynamodbav:"SK"` // EVENT#<timestamp>#<event_id>
	EventID     string `dynamodbav:"EventID"`
	EventType   string `dynamodbav:"EventType"`
	AggregateID string `dynamodbav:"AggregateID"`
	Detail      string `dynamodbav:"Detail"` // event JSON as published
	Timestamp   string `dynamodbav:"Timestamp"`
	Version     int    `dynamodbav:"Version"`

	PublishStatus   string `dynamodbav:"PublishStatus"`
	PublishAttempts int    `dynamodbav:"PublishAttempts"`
	PublishedAt     string `dynamodbav:"PublishedAt,omitempty"`
	ErrorMessage    string `dynamodbav:"ErrorMessage,omitempty"`

	TTL int64 `dynamodbav:"TTL,omitempty"`
}

// EventStore persists lifecycle events to the outbox table. Events land in
// pending state and the outbox processor relays them to the bus, so a
// publish never gets lost between a lifecycle transition and a crash.
type EventStore struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewEventStore creates a DynamoDB-backed event store
func NewEventStore(client *dynamodb.Client, tableName string, logger *zap.Logger) *EventStore {
	return &EventStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// SaveEvents persists lifecycle events as pending outbox records
func (es *EventStore) SaveEvents(ctx context.Context, domainEvents []events.DomainEvent) error {
	if len(domainEvents) == 0 {
		return nil
	}

	writeRequests := make([]types.WriteRequest, 0, len(domainEvents))
	for _, event := range domainEvents {
		record, err := es.toRecord(event)
		if err != nil {
			return fmt.Errorf("failed to convert event to record: %w", err)
		}
		item, err := attributevalue.MarshalMap(record)
		if err != nil {
			return fmt.Errorf("failed to marshal outbox record: %w", err)
		}
		writeRequests = append(writeRequests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: item},
		})
	}

	// DynamoDB limit is 25 items per batch
	for i := 0; i < len(writeRequests); i += 25 {
		end := i + 25
		if end > len(writeRequests) {
			end = len(writeRequests)
		}
		_, err := es.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				es.tableName: writeRequests[i:end],
			},
		})
		if err != nil {
			return fmt.Errorf("failed to write outbox batch: %w", err)
		}
	}
	return nil
}

// GetPendingEvents returns up to limit records awaiting publication
func (es *EventStore) GetPendingEvents(ctx context.Context, limit int32) ([]OutboxRecord, error) {
	out, err := es.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(es.tableName),
		FilterExpression: aws.String("PublishStatus = :pending AND begins_with(PK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(PublishStatusPending)},
			":prefix":  &types.AttributeValueMemberS{Value: "OUTBOX#"},
		},
		Limit: aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending events: %w", err)
	}

	records := make([]OutboxRecord, 0, len(out.Items))
	for _, item := range out.Items {
		var record OutboxRecord
		if err := attributevalue.UnmarshalMap(item, &record); err != nil {
			es.logger.Error("Failed to unmarshal outbox record", zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// MarkPublished flips a record to published
func (es *EventStore) MarkPublished(ctx context.Context, record OutboxRecord) error {
	return es.updateStatus(ctx, record, PublishStatusPublished, "")
}

// MarkFailed flips a record to failed with the error that stopped it
func (es *EventStore) MarkFailed(ctx context.Context, record OutboxRecord, message string) error {
	return es.updateStatus(ctx, record, PublishStatusFailed, message)
}

// RecordAttempt counts a failed relay attempt while keeping the record
// pending, so the retry bound holds across processor restarts
func (es *EventStore) RecordAttempt(ctx context.Context, record OutboxRecord, message string) error {
	_, err := es.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(es.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: record.PK},
			"SK": &types.AttributeValueMemberS{Value: record.SK},
		},
		UpdateExpression: aws.String("SET PublishAttempts = PublishAttempts + :one, ErrorMessage = :message"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":     &types.AttributeValueMemberN{Value: "1"},
			":message": &types.AttributeValueMemberS{Value: message},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to record attempt for outbox record %s: %w", record.EventID, err)
	}
	return nil
}

func (es *EventStore) updateStatus(ctx context.Context, record OutboxRecord, status PublishStatus, message string) error {
	update := "SET PublishStatus = :status, PublishAttempts = PublishAttempts + :one"
	values := map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(status)},
		":one":    &types.AttributeValueMemberN{Value: "1"},
	}
	if status == PublishStatusPublished {
		update += ", PublishedAt = :publishedAt"
		values[":publishedAt"] = &types.AttributeValueMemberS{Value: utils.NowRFC3339()}
	}
	if message != "" {
		update += ", ErrorMessage = :message"
		values[":message"] = &types.AttributeValueMemberS{Value: message}
	}

	_, err := es.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(es.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: record.PK},
			"SK": &types.AttributeValueMemberS{Value: record.SK},
		},
		UpdateExpression:          aws.String(update),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("failed to update outbox record %s: %w", record.EventID, err)
	}
	return nil
}

func (es *EventStore) toRecord(event events.DomainEvent) (OutboxRecord, error) {
	detail, err := json.Marshal(event)
	if err != nil {
		return OutboxRecord{}, err
	}

	eventID := uuid.New().String()
	timestamp := event.GetTimestamp().UTC().Format(time.RFC3339Nano)
	return OutboxRecord{
		PK:              "OUTBOX#" + event.GetAggregateID(),
		SK:              fmt.Sprintf("EVENT#%s#%s", timestamp, eventID),
		EventID:         eventID,
		EventType:       event.GetEventType(),
		AggregateID:     event.GetAggregateID(),
		Detail:          string(detail),
		Timestamp:       timestamp,
		Version:         event.GetVersion(),
		PublishStatus:   string(PublishStatusPending),
		PublishAttempts: 0,
		TTL:             time.Now().Add(7 * 24 * time.Hour).Unix(),
	}, nil
}

// OutboxPublisher implements ports.EventPublisher by writing events to the
// outbox instead of the bus; the processor relays them asynchronously
type OutboxPublisher struct {
	store *EventStore
}

// NewOutboxPublisher creates an outbox-backed publisher
func NewOutboxPublisher(store *EventStore) ports.EventPublisher {
	return &OutboxPublisher{store: store}
}

// Publish implements ports.EventPublisher
func (p *OutboxPublisher) Publish(ctx context.Context, event events.DomainEvent) error {
	return p.store.SaveEvents(ctx, []events.DomainEvent{event})
}

// PublishBatch implements ports.EventPublisher
func (p *OutboxPublisher) PublishBatch(ctx context.Context, batch []events.DomainEvent) error {
	return p.store.SaveEvents(ctx, batch)
}
