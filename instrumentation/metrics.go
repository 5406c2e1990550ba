package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the OAuth client engine.
type Metrics struct {
	// Flow metrics
	DiscoveryFetched     metric.Int64Counter
	AuthorizationStarted metric.Int64Counter
	CallbackDelivered    metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	ClientRegistered     metric.Int64Counter
	DevicePollAttempts   metric.Int64Counter

	// Endpoint metrics
	EndpointRequestsTotal   metric.Int64Counter
	EndpointRequestDuration metric.Float64Histogram

	// State persistence metrics
	StateOperationTotal       metric.Int64Counter
	EncryptionOperationsTotal metric.Int64Counter
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	serviceMeter := inst.Meter("service")
	storageMeter := inst.Meter("storage")
	securityMeter := inst.Meter("security")

	var err error
	m.DiscoveryFetched, err = serviceMeter.Int64Counter(
		"oauth.discovery.fetched",
		metric.WithDescription("Number of discovery documents fetched"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.fetched counter: %w", err)
	}

	m.AuthorizationStarted, err = serviceMeter.Int64Counter(
		"oauth.authorization.started",
		metric.WithDescription("Number of authorization flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization.started counter: %w", err)
	}

	m.CallbackDelivered, err = serviceMeter.Int64Counter(
		"oauth.callback.delivered",
		metric.WithDescription("Number of front-channel callbacks delivered"),
		metric.WithUnit("{callback}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback.delivered counter: %w", err)
	}

	m.CodeExchanged, err = serviceMeter.Int64Counter(
		"oauth.code.exchanged",
		metric.WithDescription("Number of authorization codes exchanged for tokens"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create code.exchanged counter: %w", err)
	}

	m.TokenRefreshed, err = serviceMeter.Int64Counter(
		"oauth.token.refreshed",
		metric.WithDescription("Number of tokens refreshed"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.refreshed counter: %w", err)
	}

	m.TokenRevoked, err = serviceMeter.Int64Counter(
		"oauth.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	m.ClientRegistered, err = serviceMeter.Int64Counter(
		"oauth.client.registered",
		metric.WithDescription("Number of dynamic client registrations completed"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registered counter: %w", err)
	}

	m.DevicePollAttempts, err = serviceMeter.Int64Counter(
		"oauth.device.poll_attempts",
		metric.WithDescription("Number of device grant token endpoint polls"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create device.poll_attempts counter: %w", err)
	}

	m.EndpointRequestsTotal, err = serviceMeter.Int64Counter(
		"oauth.endpoint.requests.total",
		metric.WithDescription("Total number of requests to authorization server endpoints"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create endpoint.requests.total counter: %w", err)
	}

	m.EndpointRequestDuration, err = serviceMeter.Float64Histogram(
		"oauth.endpoint.request.duration",
		metric.WithDescription("Authorization server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create endpoint.request.duration histogram: %w", err)
	}

	m.StateOperationTotal, err = storageMeter.Int64Counter(
		"oauth.state.operation.total",
		metric.WithDescription("Total number of persisted state operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create state.operation.total counter: %w", err)
	}

	m.EncryptionOperationsTotal, err = securityMeter.Int64Counter(
		"oauth.encryption.operations.total",
		metric.WithDescription("Total number of encryption/decryption operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryption.operations.total counter: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordDiscoveryFetched records a discovery document fetch.
func (m *Metrics) RecordDiscoveryFetched(ctx context.Context, issuer string, success bool) {
	m.DiscoveryFetched.Add(ctx, 1, metric.WithAttributes(
		attribute.String("issuer", issuer),
		attribute.Bool("success", success),
	))
}

// RecordAuthorizationStarted records an authorization flow start.
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCallbackDelivered records a front-channel callback delivery.
func (m *Metrics) RecordCallbackDelivered(ctx context.Context, matched bool) {
	m.CallbackDelivered.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("matched", matched),
	))
}

// RecordCodeExchange records an authorization code exchange.
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string, success bool) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success),
	))
}

// RecordTokenRefresh records a token refresh.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, success bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("success", success),
	))
}

// RecordTokenRevocation records a token revocation.
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordClientRegistration records a completed dynamic registration.
func (m *Metrics) RecordClientRegistration(ctx context.Context, success bool) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordDevicePoll records a device grant token endpoint poll.
func (m *Metrics) RecordDevicePoll(ctx context.Context, result string) {
	m.DevicePollAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

// RecordEndpointRequest records a request to an authorization server
// endpoint.
func (m *Metrics) RecordEndpointRequest(ctx context.Context, endpoint string, statusCode int, durationMs float64) {
	m.EndpointRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.EndpointRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordStateOperation records a persisted state read, write or clear.
func (m *Metrics) RecordStateOperation(ctx context.Context, operation, result string) {
	m.StateOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}

// RecordEncryptionOperation records an encryption or decryption.
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string) {
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
