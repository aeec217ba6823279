package jobs

import "fmt"

// InvalidInputError reports a malformed batch job payload: out-of-range
// coordinates, non-finite numbers, an empty node list, or optimize_n
// larger than the node count. It is surfaced to the caller; the job
// fails fast.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// ResourceExceededError reports that the requested coverage area would
// require a master grid larger than the configured cap even after
// scaling up the resolution. The job fails rather than silently
// shrinking further.
type ResourceExceededError struct {
	RequestedDim int
	MaxDim       int
}

func (e *ResourceExceededError) Error() string {
	return fmt.Sprintf("master grid dimension %d exceeds cap %d even after resolution scaling", e.RequestedDim, e.MaxDim)
}

// CanceledError reports that the job's context was canceled before
// completion.
type CanceledError struct{}

func (e *CanceledError) Error() string { return "job canceled" }
