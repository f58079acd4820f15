package logging

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType names the event a log line describes (e.g. identifier_generated).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldTier records which fallback tier answered or failed.
	FieldTier = "tier"
	// FieldOperation records the engine operation in progress.
	FieldOperation = "operation"
	// FieldSource records the generator source used for a new identifier.
	FieldSource = "source"
	// FieldRunID correlates lines from one daemon run.
	FieldRunID = "run_id"
)
