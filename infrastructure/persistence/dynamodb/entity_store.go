package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"chassis/domain/core/entities"
	"chassis/infrastructure/persistence/schema"
	pkgerrors "chassis/pkg/errors"
)

// PersistentTarget is implemented by target objects whose state the entity
// store synchronizes. Snapshot runs on store and passivate, Restore on
// load.
type PersistentTarget interface {
	Snapshot() (map[string]interface{}, error)
	Restore(state map[string]interface{}) error
}

// entityRecord is how entity state is stored in DynamoDB
type entityRecord struct {
	PK            string                 `dynamodbav:"PK"` // ENTITY#<component_type>
	SK            string                 `dynamodbav:"SK"` // ID#<identity_key>
	ComponentType string                 `dynamodbav:"ComponentType"`
	IdentityKey   string                 `dynamodbav:"IdentityKey"`
	State         map[string]interface{} `dynamodbav:"State"`
	SchemaVersion int                    `dynamodbav:"SchemaVersion"`
	Version       int64                  `dynamodbav:"Version"`
	UpdatedAt     string                 `dynamodbav:"UpdatedAt"`
}

// EntityStore is the DynamoDB-backed persistence collaborator for
// identity-bound component types. It implements entities.EntityCallbacks:
// load reads the record behind the instance's identity into the target,
// store and passivate write it back with optimistic version checking.
// Calls go through a circuit breaker so a degraded table surfaces fast
// failures instead of piling up timeouts.
type EntityStore struct {
	client    *dynamodb.Client
	tableName string
	breaker   *gobreaker.CircuitBreaker
	leases    *LeaseManager
	evolution *schema.Evolution
	logger    *zap.Logger

	mu       sync.Mutex
	versions map[string]int64  // instanceID -> version seen at load
	held     map[string]*Lease // instanceID -> lease taken at activate
}

// NewEntityStore creates an entity store for one DynamoDB table
func NewEntityStore(client *dynamodb.Client, tableName string, logger *zap.Logger) *EntityStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dynamodb-entity-store",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &EntityStore{
		client:    client,
		tableName: tableName,
		breaker:   breaker,
		evolution: schema.NewEvolution(),
		logger:    logger,
		versions:  make(map[string]int64),
		held:      make(map[string]*Lease),
	}
}

// Evolution exposes the snapshot upgrade registry so deployments can
// register state upgraders before the first load
func (s *EntityStore) Evolution() *schema.Evolution {
	return s.evolution
}

// WithLeaseManager makes activation take a cross-host lease on the
// identity, so only one host at a time has it live
func (s *EntityStore) WithLeaseManager(leases *LeaseManager) *EntityStore {
	s.leases = leases
	return s
}

const identityLeaseDuration = 5 * time.Minute

// Activate claims the identity for this host when leasing is on; the
// record itself is read by Load
func (s *EntityStore) Activate(ctx context.Context, inst *entities.ComponentInstance) error {
	if s.leases == nil {
		return nil
	}
	lease, err := s.leases.AcquireLease(ctx, inst.ComponentTypeName(), inst.Identity().String(), identityLeaseDuration)
	if err != nil {
		if errors.Is(err, ErrLeaseHeld) {
			return pkgerrors.NewConflictError(fmt.Sprintf("identity %q is active on another host", inst.Identity().String()))
		}
		return pkgerrors.NewStoreError("activate", err)
	}
	s.mu.Lock()
	s.held[inst.InstanceID().String()] = lease
	s.mu.Unlock()
	return nil
}

// Load reads the record behind the instance's identity into the target
func (s *EntityStore) Load(ctx context.Context, inst *entities.ComponentInstance) error {
	target, ok := inst.Target().(PersistentTarget)
	if !ok {
		return nil
	}
	key := inst.Identity()

	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: "ENTITY#" + inst.ComponentTypeName()},
				"SK": &types.AttributeValueMemberS{Value: "ID#" + key.String()},
			},
			ConsistentRead: aws.Bool(true),
		})
	})
	if err != nil {
		return s.translate("load", err)
	}

	result := out.(*dynamodb.GetItemOutput)
	if result.Item == nil {
		// fresh identity, the target keeps its zero state
		s.setVersion(inst, 0)
		return nil
	}

	var record entityRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return pkgerrors.NewStoreError("load", fmt.Errorf("failed to unmarshal entity record: %w", err))
	}

	state, upgraded, err := s.evolution.Upgrade(record.ComponentType, record.SchemaVersion, record.State)
	if err != nil {
		return pkgerrors.NewStoreError("load", err)
	}
	if upgraded != record.SchemaVersion {
		s.logger.Info("Upgraded entity snapshot",
			zap.String("componentType", record.ComponentType),
			zap.String("identityKey", record.IdentityKey),
			zap.Int("from", record.SchemaVersion),
			zap.Int("to", upgraded))
	}

	if err := target.Restore(state); err != nil {
		return pkgerrors.NewStoreError("load", err)
	}
	s.setVersion(inst, record.Version)
	return nil
}

// Store writes the target's state back with an optimistic version check
func (s *EntityStore) Store(ctx context.Context, inst *entities.ComponentInstance) error {
	return s.flush(ctx, inst, "store")
}

// Passivate flushes the target's state before the instance detaches from
// its identity
func (s *EntityStore) Passivate(ctx context.Context, inst *entities.ComponentInstance) error {
	if err := s.flush(ctx, inst, "passivate"); err != nil {
		return err
	}
	s.releaseLease(ctx, inst)
	s.forget(inst)
	return nil
}

func (s *EntityStore) releaseLease(ctx context.Context, inst *entities.ComponentInstance) {
	s.mu.Lock()
	lease, ok := s.held[inst.InstanceID().String()]
	if ok {
		delete(s.held, inst.InstanceID().String())
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := lease.Release(ctx); err != nil {
		// the TTL reclaims it eventually
		s.logger.Warn("Failed to release identity lease",
			zap.String("instanceID", inst.InstanceID().String()),
			zap.Error(err))
	}
}

func (s *EntityStore) flush(ctx context.Context, inst *entities.ComponentInstance, operation string) error {
	target, ok := inst.Target().(PersistentTarget)
	if !ok {
		return nil
	}
	state, err := target.Snapshot()
	if err != nil {
		return pkgerrors.NewStoreError(operation, err)
	}

	key := inst.Identity()
	version := s.version(inst)
	record := entityRecord{
		PK:            "ENTITY#" + inst.ComponentTypeName(),
		SK:            "ID#" + key.String(),
		ComponentType: inst.ComponentTypeName(),
		IdentityKey:   key.String(),
		State:         state,
		SchemaVersion: s.evolution.CurrentVersion(inst.ComponentTypeName()),
		Version:       version + 1,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return pkgerrors.NewStoreError(operation, fmt.Errorf("failed to marshal entity record: %w", err))
	}

	condition := "attribute_not_exists(PK) OR Version = :version"
	_, err = s.breaker.Execute(func() (interface{}, error) {
		return s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                item,
			ConditionExpression: aws.String(condition),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":version": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", version)},
			},
		})
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return pkgerrors.NewConflictError(fmt.Sprintf("entity %q was modified concurrently", key.String()))
		}
		return s.translate(operation, err)
	}

	s.setVersion(inst, version+1)
	return nil
}

// Delete removes the record behind an identity. Called when a removed
// instance is discarded.
func (s *EntityStore) Delete(ctx context.Context, componentType string, identityKey string) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: "ENTITY#" + componentType},
				"SK": &types.AttributeValueMemberS{Value: "ID#" + identityKey},
			},
		})
	})
	if err != nil {
		return s.translate("delete", err)
	}
	return nil
}

func (s *EntityStore) translate(operation string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewUnavailableError("entity store")
	}
	return pkgerrors.NewStoreError(operation, err)
}

func (s *EntityStore) version(inst *entities.ComponentInstance) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[inst.InstanceID().String()]
}

func (s *EntityStore) setVersion(inst *entities.ComponentInstance, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[inst.InstanceID().String()] = v
}

func (s *EntityStore) forget(inst *entities.ComponentInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, inst.InstanceID().String())
}
