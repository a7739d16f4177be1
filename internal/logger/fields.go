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

	// FieldJobID is the tracked job ID
	FieldJobID = "job_id"

	// FieldOperation is the job operation type (e.g. "repo_refresh")
	FieldOperation = "operation"

	// FieldRepoAlias is the repository alias a job or lock acts on
	FieldRepoAlias = "repo_alias"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldDeployPhase is the deployment executor phase
	FieldDeployPhase = "deploy_phase"

	// FieldUserID is the user that submitted a job
	FieldUserID = "user_id"
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

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"
)
