package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, carried on the context logger through a call chain.
const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldJobID is the annotation job ID
	FieldJobID = "job_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldUsername is the wardrobe owner
	FieldUsername = "username"

	// FieldImageID is the item being processed
	FieldImageID = "image_id"

	// FieldCategory is the apparel category involved
	FieldCategory = "category"

	// FieldFlow is the recommendation entry point (random, apparel, text)
	FieldFlow = "flow"
)

// Metric fields, attached to single entries for aggregation.
const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldScore is a similarity score
	FieldScore = "score"
)
