package domain

// Compilation status constants
const (
	CompileStatusPending   = "PENDING"
	CompileStatusRunning   = "RUNNING"
	CompileStatusCompleted = "COMPLETED"
	CompileStatusFailed    = "FAILED"
	CompileStatusCanceled  = "CANCELED"
)

// DefaultMaxRetries matches the column default of compilations.max_retries
const DefaultMaxRetries = 3
