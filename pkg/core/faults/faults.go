// Package faults defines the stable error taxonomy shared by every pipeline
// stage. Each kind has a fixed identifier that appears verbatim in job
// records, retrieval logs, and note metadata, so renaming a kind is a
// breaking change for the web backend.
package faults

import (
	"errors"
	"fmt"
)

type Kind string

const (
	BotChallengeDetected Kind = "BotChallengeDetected"
	NavigationTimeout    Kind = "NavigationTimeout"
	DownloadTimeout      Kind = "DownloadTimeout"
	EmptyBill            Kind = "EmptyBill"
	ChronologyInvalid    Kind = "ChronologyInvalid"
	DocumentFetchFailed  Kind = "DocumentFetchFailed"
	LLMSchemaFailure     Kind = "LLMSchemaFailure"
	LLMTransportError    Kind = "LLMTransportError"
	Timeout              Kind = "Timeout"
	CancelRequested      Kind = "CancelRequested"
)

// Error carries a taxonomy kind through wrap chains. Op names the operation
// that failed ("browser.get", "notes.generate", ...).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a formatted message.
func New(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf walks the wrap chain and returns the outermost classified kind,
// or "" when the error carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Recoverable reports whether a kind lets the pipeline continue with
// degraded data instead of failing the job.
func Recoverable(kind Kind) bool {
	return kind == DocumentFetchFailed || kind == ChronologyInvalid
}
