package consultation

import (
	"errors"
	"strings"
)

var (
	ErrInsufficientTranscript   = errors.New("not enough messages to synthesize a diagnosis")
	ErrMalformedSynthesisResult = errors.New("malformed synthesis result")
	ErrTransportFailure         = errors.New("reasoning service unavailable")
	ErrTurnPending              = errors.New("a request is already pending on this consultation")
	ErrInvalidChannel           = errors.New("invalid channel")
)

type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Fields, "; ")
}

// SynthesisError lists every field of a synthesis response that failed to
// validate. It matches ErrMalformedSynthesisResult.
type SynthesisError struct {
	Fields []string
}

func (e *SynthesisError) Error() string {
	return ErrMalformedSynthesisResult.Error() + ": " + strings.Join(e.Fields, "; ")
}

func (e *SynthesisError) Is(target error) bool {
	return target == ErrMalformedSynthesisResult
}
