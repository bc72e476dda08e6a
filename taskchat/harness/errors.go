package harness

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind classifies a turn failure.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindAuthorization         Kind = "authorization"
	KindRateLimited           Kind = "rate_limited"
	KindToolExecution         Kind = "tool_execution"
	KindDecisionUnavailable   Kind = "decision_unavailable"
	KindDecisionMisconfigured Kind = "decision_misconfigured"
	KindDecisionMalformed     Kind = "decision_malformed"
	KindPersistence           Kind = "persistence"
)

// User-visible replies. Nothing else reaches the user on failure.
const (
	ExhaustedReply     = "I'm having trouble completing this — please rephrase or try a simpler request"
	UnavailableReply   = "I'm temporarily unable to process your request. Please try again in a moment."
	MisconfiguredReply = "I'm temporarily unavailable due to a configuration issue. Please contact support."
)

var publicMessages = map[Kind]string{
	KindValidation:            "The request is invalid.",
	KindAuthorization:         "You do not have access to this conversation.",
	KindRateLimited:           "Too many requests. Please wait before sending another message.",
	KindToolExecution:         "An operation failed.",
	KindDecisionUnavailable:   UnavailableReply,
	KindDecisionMisconfigured: MisconfiguredReply,
	KindDecisionMalformed:     UnavailableReply,
	KindPersistence:           "Your message could not be saved. Please try again.",
}

// Error is the typed failure returned by harness operations. Message is safe to
// show to users; Err carries the internal cause for logs.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	RetryAfter time.Duration // rate limited only
	Limit      int           // rate limited only
	Window     string        // rate limited only
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (e *Error) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: publicMessages[kind], Err: err}
}

func validationError(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var herr *Error
	if errors.As(err, &herr) {
		return herr.Kind
	}
	return ""
}

// PublicMessage returns the user-safe text for err.
func PublicMessage(err error) string {
	var herr *Error
	if errors.As(err, &herr) && herr.Message != "" {
		return herr.Message
	}
	return UnavailableReply
}

// fallbackReply picks the Error-state reply for a failed turn.
func fallbackReply(kind Kind) string {
	if kind == KindDecisionMisconfigured {
		return MisconfiguredReply
	}
	return UnavailableReply
}
