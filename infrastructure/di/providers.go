// Package di wires the runtime together with google/wire. Providers are
// plain constructors; run `wire ./infrastructure/di` after changing the
// provider set to regenerate wire_gen.go.
package di

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chassis/application/assembly"
	"chassis/application/ports"
	"chassis/application/services"
	domainconfig "chassis/domain/config"
	"chassis/infrastructure/config"
	"chassis/infrastructure/dispatch"
	"chassis/infrastructure/messaging/eventbridge"
	dynamostore "chassis/infrastructure/persistence/dynamodb"
	"chassis/infrastructure/persistence/memory"
	"chassis/infrastructure/registry"
	"chassis/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	DomainConfig *domainconfig.Store
	Logger       *zap.Logger
	Registry     *registry.Registry
	Dispatcher   *dispatch.FuncDispatcher
	Builder      *assembly.Builder
	EntityStore  *dynamostore.EntityStore
	OutboxStore  *dynamostore.EventStore
	Publisher    ports.EventPublisher
	Outbox       *dynamostore.OutboxProcessor
	Host         *services.RuntimeHost
	Metrics      *observability.Collector
	Tracer       *observability.Tracer
}

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// ProvideDomainConfig selects the runtime constraints for the environment
// and wraps them in the store that dynamic reloads swap atomically
func ProvideDomainConfig(cfg *config.Config) *domainconfig.Store {
	return domainconfig.NewStore(domainconfig.LoadDomainConfig(cfg.Environment))
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideMetrics creates the prometheus collector
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector("chassis")
}

// ProvideTracer initializes distributed tracing, or a no-op tracer when
// tracing is disabled
func ProvideTracer(ctx context.Context, cfg *config.Config) (*observability.Tracer, error) {
	if !cfg.EnableTracing {
		return observability.NewNopTracer(), nil
	}
	return observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: "chassis",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
	})
}

// ProvideRegistry creates the in-code descriptor and hierarchy registry
func ProvideRegistry() *registry.Registry {
	return registry.New()
}

// ProvideDispatcher creates the operation dispatcher
func ProvideDispatcher() *dispatch.FuncDispatcher {
	return dispatch.NewFuncDispatcher()
}

// ProvideBuilder creates the chain builder
func ProvideBuilder(
	reg *registry.Registry,
	dispatcher *dispatch.FuncDispatcher,
	dc *domainconfig.Store,
	tracer *observability.Tracer,
	metrics *observability.Collector,
	logger *zap.Logger,
) *assembly.Builder {
	return assembly.NewBuilder(reg, reg, dispatcher, dc, tracer, metrics, logger)
}

// ProvideEntityStore creates the DynamoDB entity state store. With
// persistence on it also takes cross-host identity leases.
func ProvideEntityStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) *dynamostore.EntityStore {
	store := dynamostore.NewEntityStore(client, cfg.EntityTable, logger)
	if cfg.EnablePersistence {
		hostID, err := os.Hostname()
		if err != nil || hostID == "" {
			hostID = uuid.New().String()
		}
		store = store.WithLeaseManager(dynamostore.NewLeaseManager(client, cfg.EntityTable, hostID, logger))
	}
	return store
}

// ProvidePoolFactory creates the per-type instance pool factory
func ProvidePoolFactory(dc *domainconfig.Store, metrics *observability.Collector, logger *zap.Logger) ports.PoolFactory {
	return memory.NewPoolFactory(dc, metrics, logger)
}

// ProvideCacheFactory creates the per-type identity cache factory
func ProvideCacheFactory(dc *domainconfig.Store, metrics *observability.Collector, logger *zap.Logger) ports.CacheFactory {
	return memory.NewCacheFactory(dc, metrics, logger)
}

// ProvideOutboxStore creates the DynamoDB outbox for lifecycle events
func ProvideOutboxStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) *dynamostore.EventStore {
	return dynamostore.NewEventStore(client, cfg.EntityTable, logger)
}

// ProvideEventPublisher creates the lifecycle event publisher. With
// persistence on, events land in the outbox and the processor relays them;
// otherwise they go straight to EventBridge. Nowhere when events are off.
func ProvideEventPublisher(client *awseventbridge.Client, store *dynamostore.EventStore, cfg *config.Config, logger *zap.Logger) ports.EventPublisher {
	if !cfg.EnableEvents {
		return eventbridge.NewNopPublisher()
	}
	if cfg.EnablePersistence {
		return dynamostore.NewOutboxPublisher(store)
	}
	return eventbridge.NewPublisher(client, cfg.EventBusName, logger)
}

// ProvideOutboxProcessor creates the background outbox relay, or nil when the
// outbox is not in play
func ProvideOutboxProcessor(store *dynamostore.EventStore, client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) *dynamostore.OutboxProcessor {
	if !cfg.EnableEvents || !cfg.EnablePersistence {
		return nil
	}
	relay := eventbridge.NewPublisher(client, cfg.EventBusName, logger)
	return dynamostore.NewOutboxProcessor(store, relay, logger)
}

// ProvideRuntimeHost creates the runtime host facade
func ProvideRuntimeHost(
	builder *assembly.Builder,
	pools ports.PoolFactory,
	caches ports.CacheFactory,
	publisher ports.EventPublisher,
	dc *domainconfig.Store,
	metrics *observability.Collector,
	logger *zap.Logger,
) *services.RuntimeHost {
	return services.NewRuntimeHost(builder, pools, caches, publisher, dc, metrics, logger)
}
