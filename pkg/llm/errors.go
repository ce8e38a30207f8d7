package llm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorType classifies provider failures for retry decisions and logging.
type ErrorType string

const (
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeSchema   ErrorType = "schema"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error is a classified provider error. Retryable feeds the pipeline's
// step outcome; StatusCode and Model are attached when known.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Model      string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " HTTP %d", e.StatusCode)
	}
	if e.Model != "" {
		fmt.Fprintf(&b, " model=%s", e.Model)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap exposes the cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable satisfies retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError builds a classified error around cause.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// classifyRule maps message fragments onto a classification. Rules are
// checked in order; the first rule with any matching fragment wins.
type classifyRule struct {
	fragments []string
	errType   ErrorType
	message   string
	retryable bool
}

var classifyRules = []classifyRule{
	{[]string{"401", "unauthorized", "invalid api key"}, ErrorTypeAuth, "authentication failed", false},
	// model rule handled separately: needs both "model" and a not-found fragment
	{[]string{"404"}, ErrorTypeEndpoint, "endpoint not found", false},
	{[]string{"connection refused", "no such host"}, ErrorTypeEndpoint, "connection failed", true},
	{[]string{"timeout", "deadline exceeded"}, ErrorTypeEndpoint, "request timeout", true},
	{[]string{"429", "rate limit"}, ErrorTypeUnknown, "rate limited", true},
	{[]string{"500", "502", "503", "504"}, ErrorTypeEndpoint, "server error", true},
}

// ClassifyError turns an arbitrary provider error into a structured
// *Error. An *Error already in the chain is returned as-is so explicit
// classifications (schema failures in particular) survive wrapping.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	status := statusCodeIn(msg)

	if strings.Contains(lower, "model") &&
		(strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")) {
		e := NewError(ErrorTypeModel, "model not found", false, err)
		e.StatusCode = status
		return e
	}

	for _, rule := range classifyRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(lower, fragment) {
				e := NewError(rule.errType, rule.message, rule.retryable, err)
				e.StatusCode = status
				return e
			}
		}
	}

	e := NewError(ErrorTypeUnknown, "llm error", false, err)
	e.StatusCode = status
	return e
}

func statusCodeIn(msg string) int {
	for _, code := range []int{400, 401, 403, 404, 429, 500, 502, 503, 504} {
		if strings.Contains(msg, strconv.Itoa(code)) {
			return code
		}
	}
	return 0
}

// IsRetryable reports the declared retryability of a classified error.
// Plain errors are not retryable here; callers wanting pattern matching
// use retry.IsRetryable instead.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorType extracts the classification, ErrorTypeUnknown for plain errors.
func GetErrorType(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}
