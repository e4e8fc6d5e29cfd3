package errors

import "fmt"

// ConfigurationError reports a job configuration that can never run:
// bad chunk size or overlap, an unknown provider or template, empty input.
// Submissions failing with it never create a job.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError creates a ConfigurationError for field
func NewConfigurationError(field, format string, args ...interface{}) error {
	return WithStack(&ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return As(err, &ce)
}

// DuplicateJobError is returned when a meeting already has a non-terminal job
type DuplicateJobError struct {
	MeetingID   string
	ActiveJobID string
}

func (e *DuplicateJobError) Error() string {
	return fmt.Sprintf("meeting %s already has an active summary job %s", e.MeetingID, e.ActiveJobID)
}

// IsDuplicateJobError reports whether err is or wraps a DuplicateJobError
func IsDuplicateJobError(err error) bool {
	var de *DuplicateJobError
	return As(err, &de)
}

// ChunkFailure names the chunk that failed a job and why
type ChunkFailure struct {
	Index int
	Cause error
}

func (e *ChunkFailure) Error() string {
	return fmt.Sprintf("chunk %d failed: %v", e.Index, e.Cause)
}

func (e *ChunkFailure) Unwrap() error { return e.Cause }

// MergeFailure reports a reduce pass that failed after all chunks succeeded
type MergeFailure struct {
	Cause error
}

func (e *MergeFailure) Error() string {
	return fmt.Sprintf("merge failed: %v", e.Cause)
}

func (e *MergeFailure) Unwrap() error { return e.Cause }
