package port

import "tablenorm/internal/domain"

// PromptRecorder persists one record per successful inference call and
// returns the location it was written to.
type PromptRecorder interface {
	Record(rec domain.PromptLogRecord) (string, error)
}

// PromptLogIndex lists the locations recorded so far, oldest first.
type PromptLogIndex interface {
	Paths() []string
}
