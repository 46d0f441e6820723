package mpt

import (
	"errors"
	"fmt"

	"github.com/sablefin/mintd/service/xrpl"
)

// CallerInputError marks failures the caller caused and can fix: malformed
// identities, invalid capability combinations, clawback on a non-clawback
// issuance. These are rejected synchronously, before any network call, and
// are never retried.
type CallerInputError struct {
	msg string
}

func (e *CallerInputError) Error() string { return e.msg }

func callerInputf(format string, args ...any) error {
	return &CallerInputError{msg: fmt.Sprintf(format, args...)}
}

// IsCallerInput reports whether err is a caller-input error.
func IsCallerInput(err error) bool {
	var cie *CallerInputError
	return errors.As(err, &cie)
}

// SubmissionError wraps a terminal non-success outcome from the submission
// pipeline so callers can inspect the engine result and its policy.
type SubmissionError struct {
	Outcome *xrpl.Outcome
}

func (e *SubmissionError) Error() string {
	if e.Outcome.TimedOut {
		return fmt.Sprintf("submission timed out after %s (hash %s)", e.Outcome.Elapsed, e.Outcome.Hash)
	}
	return fmt.Sprintf("submission failed: %s", e.Outcome.EngineResult)
}

var (
	// ErrNotFound mirrors the store's not-found for API mapping.
	ErrNotFound = errors.New("mpt: not found")

	// ErrAlreadyTerminal is returned when confirming an authorization that
	// already reached a terminal state.
	ErrAlreadyTerminal = errors.New("mpt: authorization already terminal")
)
