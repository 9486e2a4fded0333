package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers used to classify pipeline failures. Wrap tags an error with
// one of these so callers can decide between retry, escalation, and manual
// intervention without string matching.
var (
	// ErrTransient covers external timeouts and rate limiting; retry with backoff.
	ErrTransient = errors.New("transient failure")
	// ErrMalformed covers unparseable replies from the speech service; retry
	// once with a stricter request, then escalate.
	ErrMalformed = errors.New("malformed reply")
	// ErrFatal covers unrecoverable conditions such as corrupt audio; the item
	// stays in processing with a terminal failure marker.
	ErrFatal = errors.New("fatal failure")
	// ErrValidation covers bad inputs caught before any external call.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration covers missing or unusable configuration.
	ErrConfiguration = errors.New("configuration error")
)

// Kind is the coarse failure classification persisted with an item.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindMalformed     Kind = "malformed"
	KindFatal         Kind = "fatal"
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindUnknown       Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its failure kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindUnknown
	}
}

// Retryable reports whether a later re-claim of the item may succeed without
// human intervention. A malformed reply is not retryable here: the stage has
// already retried it once with a stricter request, so reaching this point
// means the item needs an operator.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindUnknown:
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
