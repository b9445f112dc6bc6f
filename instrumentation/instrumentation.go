// Package instrumentation provides OpenTelemetry meters and tracers for the
// authorization server. When disabled it falls back to no-op providers so the
// rest of the code can record unconditionally.
package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultServiceVersion is used when no version is provided.
const DefaultServiceVersion = "unknown"

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used (zero overhead).
	Enabled bool

	// Resource allows custom resource attributes.
	// If nil, a default resource is created from service name and version.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "oauth2-server"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	// Exporter wiring (OTLP, Prometheus) is left to the embedding
	// application; without it the providers stay no-op either way.
	inst.meterProvider = noop.NewMeterProvider()
	inst.tracerProvider = tracenoop.NewTracerProvider()

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Shutdown gracefully shuts down all instrumentation providers.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope.
// Scopes are layer names like "http", "grants", "storage", "security".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter("github.com/authkit/oauth2-server/" + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer("github.com/authkit/oauth2-server/" + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// StorageSizeCallback returns the current size of a storage component.
type StorageSizeCallback func() int64

// RegisterStorageSizeCallbacks registers gauge callbacks for storage sizes.
// Storage implementations call this after instrumentation is set; nil
// callbacks are skipped.
func (i *Instrumentation) RegisterStorageSizeCallbacks(
	clientsCount, accessTokensCount, refreshTokensCount, authCodesCount StorageSizeCallback,
) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	meter := i.Meter("storage")

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if clientsCount != nil {
				observer.ObserveInt64(i.metrics.StorageClientsCount, clientsCount())
			}
			if accessTokensCount != nil {
				observer.ObserveInt64(i.metrics.StorageAccessTokensCount, accessTokensCount())
			}
			if refreshTokensCount != nil {
				observer.ObserveInt64(i.metrics.StorageRefreshTokensCount, refreshTokensCount())
			}
			if authCodesCount != nil {
				observer.ObserveInt64(i.metrics.StorageAuthCodesCount, authCodesCount())
			}
			return nil
		},
		i.metrics.StorageClientsCount,
		i.metrics.StorageAccessTokensCount,
		i.metrics.StorageRefreshTokensCount,
		i.metrics.StorageAuthCodesCount,
	)

	return err
}
