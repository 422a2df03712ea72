// Package apierr classifies failures of the external APIs the bot talks to
// (Twitch Helix and Discord REST) into a small set of kinds. Callers branch on
// the kind, never on message text.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the category of an external API failure.
type Kind int

const (
	// KindUnknown is returned by KindOf for nil or foreign errors.
	KindUnknown Kind = iota
	// KindTransport covers network, DNS, timeouts and upstream 5xx responses.
	KindTransport
	// KindAuth means the bearer token was rejected (expired or invalid).
	KindAuth
	// KindNotFound means the message, channel or user does not exist.
	KindNotFound
	// KindMalformed means the response body did not have the expected shape.
	KindMalformed
)

// String returns the label used in logs and metrics.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is a classified API failure.
type Error struct {
	Kind   Kind
	Op     string // e.g. "helix streams", "discord edit"
	Status int    // HTTP status when one was received, else 0
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Transport wraps a network level failure.
func Transport(op string, err error) *Error { return &Error{Kind: KindTransport, Op: op, Err: err} }

// Auth reports a rejected or missing credential.
func Auth(op string, err error) *Error { return &Error{Kind: KindAuth, Op: op, Err: err} }

// NotFound reports an absent resource.
func NotFound(op string, err error) *Error { return &Error{Kind: KindNotFound, Op: op, Err: err} }

// Malformed reports an undecodable or unexpected response body.
func Malformed(op string, err error) *Error { return &Error{Kind: KindMalformed, Op: op, Err: err} }

// FromStatus maps a non-2xx HTTP status to an error kind.
// 429 and 5xx are transport problems: the request itself was fine.
func FromStatus(op string, status int, body string) *Error {
	var cause error
	if body != "" {
		cause = errors.New(body)
	}
	e := &Error{Op: op, Status: status, Err: cause}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	default:
		e.Kind = KindTransport
	}
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is classified as KindNotFound.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsAuth reports whether err is classified as KindAuth.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsTransport reports whether err is classified as KindTransport.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsMalformed reports whether err is classified as KindMalformed.
func IsMalformed(err error) bool { return KindOf(err) == KindMalformed }
