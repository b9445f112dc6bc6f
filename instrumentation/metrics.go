package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Grant dispatch and token lifecycle
	GrantDispatched    metric.Int64Counter
	TokenIssued        metric.Int64Counter
	TokenRevoked       metric.Int64Counter
	RevocationRequests metric.Int64Counter

	// Security
	AuthFailures      metric.Int64Counter
	RateLimitExceeded metric.Int64Counter

	// Storage gauges, observed via RegisterStorageSizeCallbacks
	StorageClientsCount       metric.Int64ObservableGauge
	StorageAccessTokensCount  metric.Int64ObservableGauge
	StorageRefreshTokensCount metric.Int64ObservableGauge
	StorageAuthCodesCount     metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	httpMeter := inst.Meter("http")
	grantsMeter := inst.Meter("grants")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.GrantDispatched, err = grantsMeter.Int64Counter(
		"oauth.grant.dispatched",
		metric.WithDescription("Number of grant requests dispatched to a grant type handler"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.dispatched counter: %w", err)
	}

	m.TokenIssued, err = grantsMeter.Int64Counter(
		"oauth.token.issued",
		metric.WithDescription("Number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	m.TokenRevoked, err = grantsMeter.Int64Counter(
		"oauth.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.RevocationRequests, err = grantsMeter.Int64Counter(
		"oauth.revocation.requests",
		metric.WithDescription("Number of revocation endpoint requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create revocation.requests counter: %w", err)
	}

	m.AuthFailures, err = securityMeter.Int64Counter(
		"oauth.auth.failures",
		metric.WithDescription("Number of client or resource owner authentication failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.failures counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"storage.clients.count",
		metric.WithDescription("Number of registered clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	m.StorageAccessTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.access_tokens.count",
		metric.WithDescription("Number of live access tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.access_tokens.count gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = storageMeter.Int64ObservableGauge(
		"storage.refresh_tokens.count",
		metric.WithDescription("Number of live refresh tokens"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens.count gauge: %w", err)
	}

	m.StorageAuthCodesCount, err = storageMeter.Int64ObservableGauge(
		"storage.auth_codes.count",
		metric.WithDescription("Number of outstanding authorization codes"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.auth_codes.count gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordGrantDispatched records a grant request reaching its handler
func (m *Metrics) RecordGrantDispatched(ctx context.Context, grantType, clientID string) {
	m.GrantDispatched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("client_id", clientID),
	))
}

// RecordTokenIssued records an access token issuance
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType, clientID string, withRefresh bool) {
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("client_id", clientID),
		attribute.Bool("with_refresh_token", withRefresh),
	))
}

// RecordTokenRevoked records a token revocation
func (m *Metrics) RecordTokenRevoked(ctx context.Context, tokenKind string, cascaded bool) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_kind", tokenKind),
		attribute.Bool("cascaded", cascaded),
	))
}

// RecordRevocationRequest records a revocation endpoint request by outcome
// (revoked, ignored, error).
func (m *Metrics) RecordRevocationRequest(ctx context.Context, outcome string) {
	m.RevocationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordAuthFailure records an authentication failure
func (m *Metrics) RecordAuthFailure(ctx context.Context, subject string) {
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subject", subject),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}
