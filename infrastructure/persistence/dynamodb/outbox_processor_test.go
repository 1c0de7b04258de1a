package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chassis/domain/events"
)

type fakeOutboxStore struct {
	pending []OutboxRecord

	attempts  []OutboxRecord
	published []OutboxRecord
	failed    []OutboxRecord
}

func (f *fakeOutboxStore) GetPendingEvents(_ context.Context, _ int32) ([]OutboxRecord, error) {
	return f.pending, nil
}

func (f *fakeOutboxStore) RecordAttempt(_ context.Context, record OutboxRecord, _ string) error {
	f.attempts = append(f.attempts, record)
	return nil
}

func (f *fakeOutboxStore) MarkPublished(_ context.Context, record OutboxRecord) error {
	f.published = append(f.published, record)
	return nil
}

func (f *fakeOutboxStore) MarkFailed(_ context.Context, record OutboxRecord, _ string) error {
	f.failed = append(f.failed, record)
	return nil
}

type stubPublisher struct {
	err       error
	relayed   []events.DomainEvent
	relayedJS [][]byte
}

func (p *stubPublisher) Publish(_ context.Context, event events.DomainEvent) error {
	if p.err != nil {
		return p.err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.relayed = append(p.relayed, event)
	p.relayedJS = append(p.relayedJS, data)
	return nil
}

func (p *stubPublisher) PublishBatch(ctx context.Context, batch []events.DomainEvent) error {
	for _, event := range batch {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func pendingRecord(eventID string, attempts int) OutboxRecord {
	return OutboxRecord{
		PK:              "OUTBOX#order-cart",
		SK:              "EVENT#2026-08-30T10:00:00Z#" + eventID,
		EventID:         eventID,
		EventType:       "runtime.instance.associated",
		AggregateID:     "order-cart",
		Detail:          `{"aggregateId":"order-cart","identityKey":"cart-17"}`,
		Timestamp:       "2026-08-30T10:00:00Z",
		Version:         1,
		PublishStatus:   string(PublishStatusPending),
		PublishAttempts: attempts,
	}
}

func TestProcessBatchMarksPublishedOnSuccess(t *testing.T) {
	store := &fakeOutboxStore{pending: []OutboxRecord{pendingRecord("ev-1", 0)}}
	publisher := &stubPublisher{}
	processor := NewOutboxProcessor(store, publisher, zap.NewNop())

	err := processor.processBatch(context.Background())

	require.NoError(t, err)
	require.Len(t, store.published, 1)
	assert.Equal(t, "ev-1", store.published[0].EventID)
	assert.Empty(t, store.attempts)
	assert.Empty(t, store.failed)
}

func TestProcessBatchRelaysStoredDetailVerbatim(t *testing.T) {
	store := &fakeOutboxStore{pending: []OutboxRecord{pendingRecord("ev-1", 0)}}
	publisher := &stubPublisher{}
	processor := NewOutboxProcessor(store, publisher, zap.NewNop())

	require.NoError(t, processor.processBatch(context.Background()))

	require.Len(t, publisher.relayedJS, 1)
	assert.JSONEq(t, `{"aggregateId":"order-cart","identityKey":"cart-17"}`, string(publisher.relayedJS[0]))
}

func TestProcessBatchCountsFailedAttemptAndKeepsPending(t *testing.T) {
	store := &fakeOutboxStore{pending: []OutboxRecord{pendingRecord("ev-1", 0)}}
	publisher := &stubPublisher{err: errors.New("bus unavailable")}
	processor := NewOutboxProcessor(store, publisher, zap.NewNop())

	err := processor.processBatch(context.Background())

	require.NoError(t, err)
	require.Len(t, store.attempts, 1)
	assert.Equal(t, "ev-1", store.attempts[0].EventID)
	assert.Empty(t, store.failed)
	assert.Empty(t, store.published)
}

func TestProcessBatchMarksFailedAfterMaxAttempts(t *testing.T) {
	store := &fakeOutboxStore{pending: []OutboxRecord{pendingRecord("ev-1", 2)}}
	publisher := &stubPublisher{err: errors.New("bus unavailable")}
	processor := NewOutboxProcessor(store, publisher, zap.NewNop())

	err := processor.processBatch(context.Background())

	require.NoError(t, err)
	require.Len(t, store.failed, 1)
	assert.Equal(t, "ev-1", store.failed[0].EventID)
	assert.Empty(t, store.attempts)
}

func TestProcessBatchContinuesPastPoisonRecord(t *testing.T) {
	store := &fakeOutboxStore{pending: []OutboxRecord{
		pendingRecord("ev-poison", 2),
		pendingRecord("ev-ok", 0),
	}}
	publisher := &stubPublisher{}
	attempts := 0
	flaky := publisherFunc(func(ctx context.Context, event events.DomainEvent) error {
		attempts++
		if attempts == 1 {
			return errors.New("bus unavailable")
		}
		return publisher.Publish(ctx, event)
	})
	processor := NewOutboxProcessor(store, flaky, zap.NewNop())

	require.NoError(t, processor.processBatch(context.Background()))

	require.Len(t, store.failed, 1)
	assert.Equal(t, "ev-poison", store.failed[0].EventID)
	require.Len(t, store.published, 1)
	assert.Equal(t, "ev-ok", store.published[0].EventID)
}

type publisherFunc func(ctx context.Context, event events.DomainEvent) error

func (f publisherFunc) Publish(ctx context.Context, event events.DomainEvent) error {
	return f(ctx, event)
}

func (f publisherFunc) PublishBatch(ctx context.Context, batch []events.DomainEvent) error {
	for _, event := range batch {
		if err := f(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
