package handler

import (
	"errors"
	"fmt"
)

// Kind classifies a failed request.
type Kind int

const (
	// KindNone is reported for a nil error.
	KindNone Kind = iota
	// KindClientError covers requests that cannot be served as sent; mapped to 400.
	KindClientError
	// KindParseError covers payloads that could not be decoded; mapped to 500.
	KindParseError
	// KindUpstreamFailure covers synthesis, staging and storage failures; mapped to 500.
	KindUpstreamFailure
)

// String returns a short name for the kind, used in log lines.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindClientError:
		return "client_error"
	case KindParseError:
		return "parse_error"
	case KindUpstreamFailure:
		return "upstream_failure"
	default:
		return "unknown"
	}
}

// ErrNoText is returned when neither the event nor its body carries text.
var ErrNoText = errors.New("No text provided") //nolint:staticcheck // message is part of the response contract

// TextTooLongError is returned when the text exceeds the configured limit.
type TextTooLongError struct {
	Limit int
}

func (e *TextTooLongError) Error() string {
	return fmt.Sprintf("Text exceeds maximum length of %d characters", e.Limit)
}

// RequestError carries the kind of a failure together with its cause.
type RequestError struct {
	Kind Kind
	Err  error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func clientError(err error) *RequestError {
	return &RequestError{Kind: KindClientError, Err: err}
}

func parseError(format string, err error) *RequestError {
	return &RequestError{Kind: KindParseError, Err: fmt.Errorf(format, err)}
}

func upstreamFailure(format string, args ...any) *RequestError {
	return &RequestError{Kind: KindUpstreamFailure, Err: fmt.Errorf(format, args...)}
}

func textTooLong(limit int) *RequestError {
	return clientError(&TextTooLongError{Limit: limit})
}

// KindOf returns the kind of err, treating unclassified errors as upstream failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind
	}

	return KindUpstreamFailure
}
