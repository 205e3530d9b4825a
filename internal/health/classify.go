package health

import (
	"errors"
	"fmt"
	"strings"
)

type Class int

const (
	ClassAuth         Class = iota // Credential rejected, terminal for the key
	ClassRateLimited               // Throttled, transient
	ClassServer                    // Upstream 5xx, transient
	ClassUnclassified              // Anything else, treated as mildly transient
)

func (c Class) String() string {
	switch c {
	case ClassAuth:
		return "AUTH"
	case ClassRateLimited:
		return "RATE_LIMITED"
	case ClassServer:
		return "SERVER"
	case ClassUnclassified:
		return "UNCLASSIFIED"
	default:
		return "UNKNOWN"
	}
}

// StatusError is the structured way for callers to report an outcome with
// an HTTP-style status code. Classification prefers it over text matching.
type StatusError struct {
	Code    int
	Message string
}

func NewStatusError(code int, message string) *StatusError {
	return &StatusError{Code: code, Message: message}
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}

	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

func (e *StatusError) StatusCode() int {
	return e.Code
}

// statusCoder matches errors from API client libraries that expose their
// HTTP status without using StatusError.
type statusCoder interface {
	StatusCode() int
}

// Classify maps err to a class and the status code the decision was based
// on. A structured code anywhere in the error chain wins; otherwise the
// message text is matched, defaulting to a server-style 500.
func Classify(err error) (Class, int) {
	if err == nil {
		return ClassUnclassified, 0
	}

	return classifyCode(extractCode(err))
}

func classifyCode(code int) (Class, int) {
	switch {
	case code == 400 || code == 401 || code == 403:
		return ClassAuth, code
	case code == 429:
		return ClassRateLimited, code
	case code >= 500 && code < 600:
		return ClassServer, code
	default:
		return ClassUnclassified, code
	}
}

func extractCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}

	var coder statusCoder
	if errors.As(err, &coder) {
		return coder.StatusCode()
	}

	return codeFromText(err.Error())
}

// codeFromText guesses a status code from the error message, for callers
// whose client library flattens failures into plain strings.
func codeFromText(message string) int {
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return 429
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid"):
		return 401
	case strings.Contains(msg, "forbidden"):
		return 403
	case strings.Contains(msg, "not found"):
		return 404
	case strings.Contains(msg, "server error"),
		strings.Contains(msg, "internal"):
		return 500
	default:
		return 500
	}
}
