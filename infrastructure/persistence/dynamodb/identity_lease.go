package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// ErrLeaseHeld is returned when another host currently owns the identity.
var ErrLeaseHeld = errors.New("identity lease held by another host")

// LeaseManager extends at-most-one-instance-per-identity across hosts,
// using DynamoDB conditional writes. Each activated identity takes a
// short-lived lease record; a second host activating the same identity
// fails until the lease is released or expires.
type LeaseManager struct {
	client    *dynamodb.Client
	tableName string
	hostID    string
	logger    *zap.Logger
}

// leaseRecord is how a lease is stored in DynamoDB
type leaseRecord struct {
	PK         string `dynamodbav:"PK"` // LEASE#<component_type>
	SK         string `dynamodbav:"SK"` // ID#<identity_key>
	LeaseID    string `dynamodbav:"LeaseID"`
	HostID     string `dynamodbav:"HostID"`
	AcquiredAt string `dynamodbav:"AcquiredAt"`
	ExpiresAt  string `dynamodbav:"ExpiresAt"`
	TTL        int64  `dynamodbav:"TTL"`
}

// NewLeaseManager creates a lease manager identified as hostID
func NewLeaseManager(client *dynamodb.Client, tableName, hostID string, logger *zap.Logger) *LeaseManager {
	return &LeaseManager{
		client:    client,
		tableName: tableName,
		hostID:    hostID,
		logger:    logger,
	}
}

// AcquireLease claims an identity for this host. Returns ErrLeaseHeld when
// another host has an unexpired claim.
func (lm *LeaseManager) AcquireLease(ctx context.Context, componentType, identityKey string, duration time.Duration) (*Lease, error) {
	leaseID := fmt.Sprintf("%s_%d", lm.hostID, time.Now().UnixNano())
	now := time.Now()
	expiresAt := now.Add(duration)

	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: "LEASE#" + componentType},
		"SK":         &types.AttributeValueMemberS{Value: "ID#" + identityKey},
		"LeaseID":    &types.AttributeValueMemberS{Value: leaseID},
		"HostID":     &types.AttributeValueMemberS{Value: lm.hostID},
		"AcquiredAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		"ExpiresAt":  &types.AttributeValueMemberS{Value: expiresAt.Format(time.RFC3339)},
		"TTL":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
	}

	_, err := lm.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(lm.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now OR HostID = :host"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":host": &types.AttributeValueMemberS{Value: lm.hostID},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			lm.logger.Debug("Identity lease held elsewhere",
				zap.String("componentType", componentType),
				zap.String("identityKey", identityKey),
			)
			return nil, ErrLeaseHeld
		}
		return nil, fmt.Errorf("failed to acquire identity lease: %w", err)
	}

	lm.logger.Debug("Identity lease acquired",
		zap.String("componentType", componentType),
		zap.String("identityKey", identityKey),
		zap.String("leaseID", leaseID),
		zap.Duration("duration", duration),
	)

	return &Lease{
		manager:       lm,
		componentType: componentType,
		identityKey:   identityKey,
		leaseID:       leaseID,
		expiresAt:     expiresAt,
	}, nil
}

// WaitForLease retries acquisition with backoff until timeout
func (lm *LeaseManager) WaitForLease(ctx context.Context, componentType, identityKey string, duration, timeout time.Duration) (*Lease, error) {
	deadline := time.Now().Add(timeout)
	retryInterval := 100 * time.Millisecond

	for time.Now().Before(deadline) {
		lease, err := lm.AcquireLease(ctx, componentType, identityKey, duration)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrLeaseHeld) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
			if retryInterval < time.Second {
				retryInterval = time.Duration(float64(retryInterval) * 1.5)
			}
		}
	}

	return nil, fmt.Errorf("timeout waiting for identity lease %s/%s", componentType, identityKey)
}

func (lm *LeaseManager) release(ctx context.Context, componentType, identityKey, leaseID string) error {
	_, err := lm.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(lm.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "LEASE#" + componentType},
			"SK": &types.AttributeValueMemberS{Value: "ID#" + identityKey},
		},
		ConditionExpression: aws.String("LeaseID = :leaseId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":leaseId": &types.AttributeValueMemberS{Value: leaseID},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// already expired or reclaimed, nothing left to release
			lm.logger.Warn("Identity lease already gone",
				zap.String("componentType", componentType),
				zap.String("identityKey", identityKey),
				zap.String("leaseID", leaseID),
			)
			return nil
		}
		return fmt.Errorf("failed to release identity lease: %w", err)
	}

	lm.logger.Debug("Identity lease released",
		zap.String("componentType", componentType),
		zap.String("identityKey", identityKey),
		zap.String("leaseID", leaseID),
	)
	return nil
}

// Lease is a held claim on one identity
type Lease struct {
	manager       *LeaseManager
	componentType string
	identityKey   string
	leaseID       string
	expiresAt     time.Time
}

// Release gives the identity up
func (l *Lease) Release(ctx context.Context) error {
	return l.manager.release(ctx, l.componentType, l.identityKey, l.leaseID)
}

// Renew pushes the expiry out by duration from now
func (l *Lease) Renew(ctx context.Context, duration time.Duration) error {
	expiresAt := time.Now().Add(duration)
	_, err := l.manager.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(l.manager.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "LEASE#" + l.componentType},
			"SK": &types.AttributeValueMemberS{Value: "ID#" + l.identityKey},
		},
		UpdateExpression:    aws.String("SET ExpiresAt = :expiresAt, #ttl = :ttl"),
		ConditionExpression: aws.String("LeaseID = :leaseId"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "TTL",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expiresAt": &types.AttributeValueMemberS{Value: expiresAt.Format(time.RFC3339)},
			":ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
			":leaseId":   &types.AttributeValueMemberS{Value: l.leaseID},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrLeaseHeld
		}
		return fmt.Errorf("failed to renew identity lease: %w", err)
	}
	l.expiresAt = expiresAt
	return nil
}

// IsExpired reports whether the claim has lapsed
func (l *Lease) IsExpired() bool {
	return time.Now().After(l.expiresAt)
}

// TimeUntilExpiry returns how long the claim has left
func (l *Lease) TimeUntilExpiry() time.Duration {
	if l.IsExpired() {
		return 0
	}
	return time.Until(l.expiresAt)
}
