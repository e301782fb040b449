package telemetry

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ContextKey namespaces the values this package stores on a request context.
type ContextKey string

const (
	// CorrelationIDKey carries an ID stable across every hop a request
	// takes through the edge fabric (edge service, proxied upstream,
	// supervised workload logs).
	CorrelationIDKey ContextKey = "correlation_id"
	// RequestIDKey carries an ID unique to this single HTTP request.
	RequestIDKey ContextKey = "request_id"
	// PeerIDKey carries the mesh peer identity established by JWT or
	// discovery-token validation, once known.
	PeerIDKey ContextKey = "peer_id"
	// PeerRoleKey carries the peer's authorized role for this request.
	PeerRoleKey ContextKey = "peer_role"
)

const (
	// HeaderCorrelationID is the inbound/outbound correlation ID header.
	HeaderCorrelationID = "X-Correlation-ID"
	// HeaderRequestID is the inbound/outbound request ID header.
	HeaderRequestID = "X-Request-ID"
	// HeaderPeerID echoes the resolved peer identity for downstream logs
	// and dashboards; it is never trusted as an auth credential.
	HeaderPeerID = "X-Peer-ID"
)

// CorrelationMiddleware assigns or propagates correlation and request IDs
// for every edge request, attaching them to the active span and echoing
// them back on the response so a caller and the peer it talks to can be
// joined in logs.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		correlationID := r.Header.Get(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx = context.WithValue(ctx, CorrelationIDKey, correlationID)

		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx = context.WithValue(ctx, RequestIDKey, requestID)

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(
				attribute.String("correlation.id", correlationID),
				attribute.String("request.id", requestID),
			)
		}

		w.Header().Set(HeaderCorrelationID, correlationID)
		w.Header().Set(HeaderRequestID, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithPeerIdentity attaches the peer identity and role a request was
// authorized under, once auth has resolved them, and records them on the
// active span. Call after JWT or discovery-token validation succeeds, not
// before — these values are for logging/tracing only and must never be
// read back as an authorization decision.
func WithPeerIdentity(ctx context.Context, peerID, role string) context.Context {
	ctx = context.WithValue(ctx, PeerIDKey, peerID)
	ctx = context.WithValue(ctx, PeerRoleKey, role)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.String("peer.id", peerID),
			attribute.String("peer.role", role),
		)
	}
	return ctx
}

// GetCorrelationID retrieves the correlation ID from context, or "".
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRequestID retrieves the request ID from context, or "".
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetPeerID retrieves the authorized peer identity from context, or "".
func GetPeerID(ctx context.Context) string {
	if id, ok := ctx.Value(PeerIDKey).(string); ok {
		return id
	}
	return ""
}

// GetPeerRole retrieves the authorized peer role from context, or "".
func GetPeerRole(ctx context.Context) string {
	if role, ok := ctx.Value(PeerRoleKey).(string); ok {
		return role
	}
	return ""
}

// InjectCorrelationHeaders copies the context's correlation/request/peer
// IDs onto outbound headers, for requests the edge service proxies
// upstream.
func InjectCorrelationHeaders(ctx context.Context, headers http.Header) {
	if id := GetCorrelationID(ctx); id != "" {
		headers.Set(HeaderCorrelationID, id)
	}
	if id := GetRequestID(ctx); id != "" {
		headers.Set(HeaderRequestID, id)
	}
	if id := GetPeerID(ctx); id != "" {
		headers.Set(HeaderPeerID, id)
	}
}

// ExtractCorrelationHeaders reads correlation/request/peer IDs off inbound
// headers into context, for use outside CorrelationMiddleware (e.g. a
// non-HTTP transport reusing the same header names).
func ExtractCorrelationHeaders(ctx context.Context, headers http.Header) context.Context {
	if id := headers.Get(HeaderCorrelationID); id != "" {
		ctx = context.WithValue(ctx, CorrelationIDKey, id)
	}
	if id := headers.Get(HeaderRequestID); id != "" {
		ctx = context.WithValue(ctx, RequestIDKey, id)
	}
	if id := headers.Get(HeaderPeerID); id != "" {
		ctx = context.WithValue(ctx, PeerIDKey, id)
	}
	return ctx
}

// EnrichLogFields merges correlation, request, peer, and trace
// identifiers into a log field map for structured logging.
func EnrichLogFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if id := GetCorrelationID(ctx); id != "" {
		fields["correlation_id"] = id
	}
	if id := GetRequestID(ctx); id != "" {
		fields["request_id"] = id
	}
	if id := GetPeerID(ctx); id != "" {
		fields["peer_id"] = id
	}
	if role := GetPeerRole(ctx); role != "" {
		fields["peer_role"] = role
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		spanCtx := span.SpanContext()
		fields["trace_id"] = spanCtx.TraceID().String()
		fields["span_id"] = spanCtx.SpanID().String()
	}

	return fields
}
