package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the processing job ID
	FieldJobID = "job_id"

	// FieldSubjectID is the image subject being analyzed
	FieldSubjectID = "subject_id"

	// FieldBatchID is the batch run ID
	FieldBatchID = "batch_id"

	// FieldProvider is the vision provider name
	FieldProvider = "provider"

	// FieldComponent is the component/module name
	FieldComponent = "component"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldTokens is the token count of a provider call
	FieldTokens = "tokens"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldCost is the accumulated provider cost
	FieldCost = "cost"
)
