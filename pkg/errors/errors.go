package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindPersistence
	KindNotify
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	case KindNotify:
		return "notify"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	}
	return "unknown"
}

// HTTPStatus is the status code a handler answers with for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Error represents a custom error with stack trace
type Error struct {
	Kind    Kind       `json:"-"`
	Code    int        `json:"code"`
	Message string     `json:"message"`
	MsgID   string     `json:"-"` // i18n message id for user-facing text
	Err     error      `json:"-"`
	Stack   string     `json:"stack,omitempty"`
	Context []KeyValue `json:"context,omitempty"`
}

// KeyValue represents a key-value pair for context
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message != "" && e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

// Unwrap implements the errors.Wrapper interface
func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports missing or malformed input. msgID names the localized
// message shown to the caller.
func Validation(msgID, message string) *Error {
	return &Error{Kind: KindValidation, Code: http.StatusBadRequest, MsgID: msgID, Message: message, Stack: captureStack()}
}

// NotFound reports an unknown id.
func NotFound(msgID, message string) *Error {
	return &Error{Kind: KindNotFound, Code: http.StatusNotFound, MsgID: msgID, Message: message, Stack: captureStack()}
}

// Persistence wraps a store failure. The wrapped error is logged, never shown.
func Persistence(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPersistence, Code: http.StatusInternalServerError, Message: message, Err: err, Stack: captureStack()}
}

// Notify wraps an external notification failure.
func Notify(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindNotify, Message: message, Err: err, Stack: captureStack()}
}

func Unauthorized(msgID, message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: http.StatusUnauthorized, MsgID: msgID, Message: message, Stack: captureStack()}
}

func Forbidden(msgID, message string) *Error {
	return &Error{Kind: KindForbidden, Code: http.StatusForbidden, MsgID: msgID, Message: message, Stack: captureStack()}
}

// WithContext adds context to an error
func (e *Error) WithContext(key, value string) *Error {
	if e == nil {
		return nil
	}

	newErr := *e
	newErr.Context = make([]KeyValue, len(e.Context), len(e.Context)+1)
	copy(newErr.Context, e.Context)
	newErr.Context = append(newErr.Context, KeyValue{Key: key, Value: value})

	return &newErr
}

// captureStack captures the current stack trace
func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// drop the goroutine header and the captureStack/constructor frames
	lines := strings.Split(stack, "\n")
	if len(lines) > 5 {
		stack = strings.Join(lines[5:], "\n")
	}

	return strings.TrimSpace(stack)
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		if e.Kind != KindUnknown {
			return e.Kind
		}
		if e.Err != nil {
			return KindOf(e.Err)
		}
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// GetMessage returns the error message
func GetMessage(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// GetMsgID returns the localized message id carried by err, if any.
func GetMsgID(err error) string {
	return msgIDOf(err)
}

func msgIDOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		if e.MsgID != "" {
			return e.MsgID
		}
		if e.Err != nil {
			return msgIDOf(e.Err)
		}
	}
	return ""
}

// Format implements fmt.Formatter
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			for _, kv := range e.Context {
				fmt.Fprintf(s, " %s=%s", kv.Key, kv.Value)
			}
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
