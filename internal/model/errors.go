package model

import (
	"errors"
	"fmt"
)

// Error type names shared with the coordinator's retry policy. Errors carrying
// one of the non-retryable names fail the pipeline immediately.
const (
	ErrTypeExtractionTransient   = "ExtractionTransientError"
	ErrTypeExtractionPermanent   = "ExtractionPermanentError"
	ErrTypeReviewSubmission      = "ReviewSubmissionError"
	ErrTypeUnknownCorrectionPath = "UnknownCorrectionPathError"
)

// ExtractionPermanentError marks a document the extraction service can never
// process (malformed input, unsupported blueprint). Never retried.
type ExtractionPermanentError struct {
	Reason string
}

func (e *ExtractionPermanentError) Error() string {
	return fmt.Sprintf("extraction permanently failed: %s", e.Reason)
}

// ReviewSubmissionError wraps a failure to create a review task. Retryable
// under the coordinator's backoff policy.
type ReviewSubmissionError struct {
	Err error
}

func (e *ReviewSubmissionError) Error() string {
	return fmt.Sprintf("review submission failed: %v", e.Err)
}

func (e *ReviewSubmissionError) Unwrap() error { return e.Err }

// UnknownCorrectionPathError reports review output referencing a path that was
// never offered for review, or does not exist in the original tree. This is a
// protocol violation between review output and the original request; retrying
// would replay the same invalid input, so it is terminal.
type UnknownCorrectionPathError struct {
	Path string
}

func (e *UnknownCorrectionPathError) Error() string {
	return fmt.Sprintf("correction references unknown or unflagged path %q", e.Path)
}

// IsPermanent reports whether err is in a class the pipeline must not retry.
func IsPermanent(err error) bool {
	var pe *ExtractionPermanentError
	var ue *UnknownCorrectionPathError
	return errors.As(err, &pe) || errors.As(err, &ue)
}
