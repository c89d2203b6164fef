// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the daemon.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// SIP attributes
	SIPMethodKey   = "sip.method"
	SIPStatusKey   = "sip.status_code"
	SIPDialogIDKey = "sip.dialog_id"
	SIPTenantIDKey = "sip.tenant_id"
	SIPPackageKey  = "sip.event_package"

	// Presence feed attributes
	PresenceCallIDKey   = "presence.call_id"
	PresenceStateKey    = "presence.state"
	PresenceEndpointKey = "presence.endpoint"

	// Worker attributes
	WorkerIndexKey    = "worker.index"
	WorkerQueueKey    = "worker.queue_depth"
	EventCategoryKey  = "event.category"
	EventDurationKey  = "event.duration_ms"
	LifecycleStateKey = "subscription.lifecycle"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SIPAttributes creates SIP-related span attributes.
func SIPAttributes(method, dialogID, tenantID, pkg string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = append(attrs, attribute.String(SIPMethodKey, method))
	if dialogID != "" {
		attrs = append(attrs, attribute.String(SIPDialogIDKey, dialogID))
	}
	if tenantID != "" {
		attrs = append(attrs, attribute.String(SIPTenantIDKey, tenantID))
	}
	if pkg != "" {
		attrs = append(attrs, attribute.String(SIPPackageKey, pkg))
	}
	return attrs
}

// PresenceAttributes creates presence-feed span attributes.
func PresenceAttributes(callID, state, endpoint string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if callID != "" {
		attrs = append(attrs, attribute.String(PresenceCallIDKey, callID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(PresenceStateKey, state))
	}
	if endpoint != "" {
		attrs = append(attrs, attribute.String(PresenceEndpointKey, endpoint))
	}
	return attrs
}

// EventAttributes creates dialog-worker span attributes.
func EventAttributes(category, lifecycle string, worker int, durationMS int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(EventCategoryKey, category),
		attribute.String(LifecycleStateKey, lifecycle),
		attribute.Int(WorkerIndexKey, worker),
		attribute.Int64(EventDurationKey, durationMS),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
