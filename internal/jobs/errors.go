package jobs

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when no job row matches the id.
var ErrNotFound = errors.New("job not found")

// ErrRejected is returned by stores that accept the request transport-wise
// but refuse to create the row.
var ErrRejected = errors.New("job store rejected create")

// ValidationError reports a request that never left this process. Field is a
// dotted path into the request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid job request: " + e.Reason
	}
	return fmt.Sprintf("invalid job request: %s: %s", e.Field, e.Reason)
}

// SubmissionError means the create call failed, either in transport or
// because the store refused the row. The job may or may not exist; callers
// must not assume either.
type SubmissionError struct {
	Type  Type
	Cause error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submitting %s job: %v", e.Type, e.Cause)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// PollTimeoutError means the attempt budget ran out before the job reached a
// terminal state. This is not a job failure: the executor may still be
// working.
type PollTimeoutError struct {
	JobID    string
	Attempts int
	Waited   time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("job %s still not finished after %d polls over %s; it may still be running", e.JobID, e.Attempts, e.Waited)
}

// JobFailedError means the executor reported the job failed.
type JobFailedError struct {
	JobID   string
	Message string
}

func (e *JobFailedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "job failed without a reported cause"
	}
	return fmt.Sprintf("job %s: %s", e.JobID, msg)
}
