package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldDialogID  = "dialog_id"
	FieldTenantID  = "tenant_id"
	FieldCallID    = "call_id"
	FieldServiceID = "service_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldWorker    = "worker"

	// Subscription fields
	FieldPackage      = "package"
	FieldLifecycle    = "lifecycle"
	FieldMonitoredURI = "monitored_uri"
	FieldVersion      = "notify_version"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Network fields
	FieldEndpoint = "endpoint"
	FieldStrategy = "strategy"
)
