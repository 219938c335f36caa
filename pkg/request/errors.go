package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a call failed.
type Kind int

const (
	// KindUpstream means the upstream answered with a non-2xx status other than a retried 401.
	KindUpstream Kind = iota
	// KindTransport means the outbound call itself failed.
	KindTransport
	// KindAuth means credentials could not be acquired or were rejected twice.
	KindAuth
	// KindRange means the requested range does not fit the payload.
	KindRange
	// KindConfig means the server cannot start with the given configuration.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindRange:
		return "range"
	case KindConfig:
		return "config"
	default:
		return "upstream"
	}
}

// ErrorWithCode is an error carrying the HTTP status it should be answered with.
type ErrorWithCode interface {
	error
	HTTPStatusCode() int
}

// Error is the error returned by every credential and dispatch operation.
// Message holds the decoded JSON document when the original message was a
// JSON object or array, and the plain string otherwise.
type Error struct {
	StatusCode int
	Kind       Kind
	Message    interface{}

	cause error
}

// NewError creates an Error, decoding message when it is JSON.
func NewError(kind Kind, statusCode int, message string) *Error {
	return &Error{
		StatusCode: statusCode,
		Kind:       kind,
		Message:    decodeMessage(message),
	}
}

// WrapError creates an Error whose message is the text of err.
func WrapError(kind Kind, statusCode int, err error) *Error {
	e := NewError(kind, statusCode, err.Error())
	e.cause = err
	return e
}

// ConfigError reports an invalid configuration detected at startup.
func ConfigError(format string, args ...interface{}) *Error {
	return &Error{
		StatusCode: http.StatusInternalServerError,
		Kind:       KindConfig,
		Message:    fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error (%d): %s", e.Kind, e.StatusCode, e.MessageString())
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatusCode implements ErrorWithCode.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.StatusCode
}

// MessageString renders Message as text, re-encoding structured messages.
func (e *Error) MessageString() string {
	switch m := e.Message.(type) {
	case nil:
		return ""
	case string:
		return m
	default:
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Sprint(m)
		}
		return string(b)
	}
}

// StatusCode returns the status carried by err, or 500.
func StatusCode(err error) int {
	var ewc ErrorWithCode
	if errors.As(err, &ewc) {
		return ewc.HTTPStatusCode()
	}
	return http.StatusInternalServerError
}

// AsError returns err as an *Error. Errors of other types become a 500
// whose message is the error text.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(KindUpstream, StatusCode(err), err)
}

func decodeMessage(message string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(message), &v); err != nil {
		return message
	}
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return v
	default:
		return message
	}
}
