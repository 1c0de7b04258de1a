package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chassis/application/ports"
	"chassis/pkg/utils"
)

// storedEvent adapts an outbox record back to a publishable domain event.
// MarshalJSON emits the stored detail verbatim so the relayed payload is
// byte-identical to what the lifecycle produced.
type storedEvent struct {
	record OutboxRecord
}

func (e storedEvent) GetAggregateID() string { return e.record.AggregateID }
func (e storedEvent) GetEventType() string   { return e.record.EventType }
func (e storedEvent) GetVersion() int        { return e.record.Version }

func (e storedEvent) GetTimestamp() time.Time {
	ts, err := utils.ParseTimestamp(e.record.Timestamp)
	if err != nil {
		return time.Now()
	}
	return ts
}

func (e storedEvent) MarshalJSON() ([]byte, error) {
	return json.RawMessage(e.record.Detail), nil
}

// outboxStore is the slice of EventStore the processor needs
type outboxStore interface {
	GetPendingEvents(ctx context.Context, limit int32) ([]OutboxRecord, error)
	RecordAttempt(ctx context.Context, record OutboxRecord, message string) error
	MarkPublished(ctx context.Context, record OutboxRecord) error
	MarkFailed(ctx context.Context, record OutboxRecord, message string) error
}

// OutboxProcessor relays pending outbox records to the event bus in the
// background, giving at-least-once delivery for lifecycle events
type OutboxProcessor struct {
	eventStore outboxStore
	publisher  ports.EventPublisher
	logger     *zap.Logger

	batchSize          int32
	processingInterval time.Duration
	maxAttempts        int

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewOutboxProcessor creates a new outbox processor
func NewOutboxProcessor(eventStore outboxStore, publisher ports.EventPublisher, logger *zap.Logger) *OutboxProcessor {
	return &OutboxProcessor{
		eventStore:         eventStore,
		publisher:          publisher,
		logger:             logger,
		batchSize:          50,
		processingInterval: 5 * time.Second,
		maxAttempts:        3,
		stopChan:           make(chan struct{}),
		stoppedChan:        make(chan struct{}),
	}
}

// Start begins the background relay loop
func (op *OutboxProcessor) Start(ctx context.Context) {
	op.logger.Info("Starting outbox processor",
		zap.Int32("batchSize", op.batchSize),
		zap.Duration("interval", op.processingInterval),
	)
	go op.processLoop(ctx)
}

// Stop gracefully stops the processor
func (op *OutboxProcessor) Stop() {
	op.logger.Info("Stopping outbox processor")
	close(op.stopChan)
	<-op.stoppedChan
	op.logger.Info("Outbox processor stopped")
}

func (op *OutboxProcessor) processLoop(ctx context.Context) {
	defer close(op.stoppedChan)

	ticker := time.NewTicker(op.processingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			op.logger.Info("Context cancelled, stopping outbox processor")
			return
		case <-op.stopChan:
			return
		case <-ticker.C:
			if err := op.processBatch(ctx); err != nil {
				op.logger.Error("Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

func (op *OutboxProcessor) processBatch(ctx context.Context) error {
	pending, err := op.eventStore.GetPendingEvents(ctx, op.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending events: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	op.logger.Debug("Processing outbox batch", zap.Int("eventCount", len(pending)))

	for _, record := range pending {
		if err := op.publisher.Publish(ctx, storedEvent{record: record}); err != nil {
			op.logger.Error("Failed to relay event",
				zap.String("eventID", record.EventID),
				zap.String("eventType", record.EventType),
				zap.Error(err),
			)
			attempts := record.PublishAttempts + 1
			if attempts >= op.maxAttempts {
				if markErr := op.eventStore.MarkFailed(ctx, record, err.Error()); markErr != nil {
					op.logger.Error("Failed to mark event failed", zap.Error(markErr))
				}
			} else if recErr := op.eventStore.RecordAttempt(ctx, record, err.Error()); recErr != nil {
				op.logger.Error("Failed to record relay attempt", zap.Error(recErr))
			}
			continue
		}
		if err := op.eventStore.MarkPublished(ctx, record); err != nil {
			// relay succeeded; the record will be retried and the bus
			// consumer must deduplicate on EventID
			op.logger.Error("Failed to mark event published",
				zap.String("eventID", record.EventID),
				zap.Error(err),
			)
		}
	}
	return nil
}
