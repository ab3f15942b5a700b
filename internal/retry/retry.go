package retry

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrorKind classifies an error for retry decisions.
type ErrorKind int

const (
	Retriable    ErrorKind = iota // transient, worth retrying
	NonRetriable                  // permanent, fail immediately
	Unknown                       // unclassified, treated as retriable
)

func (k ErrorKind) String() string {
	switch k {
	case Retriable:
		return "RETRIABLE"
	case NonRetriable:
		return "NON_RETRIABLE"
	default:
		return "UNKNOWN"
	}
}

// nonRetriableKeywords in command output indicate permanent failures.
var nonRetriableKeywords = []string{
	"permission denied",
	"authentication failed",
	"could not read username",
	"not found",
	"unauthorized",
	"stale info", // --force-with-lease rejected: someone else pushed
	"non-fast-forward",
}

// retriableKeywords in command output indicate transient failures.
var retriableKeywords = []string{
	"timeout",
	"timed out",
	"rate limit",
	"connection",
	"temporary",
	"unavailable",
	"could not resolve host",
}

// Classify determines whether a failed command is worth retrying based on the
// error, process exit code, and stderr content.
func Classify(err error, exitCode int, stderr string) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return Retriable
	}
	if errors.Is(err, context.Canceled) {
		return NonRetriable
	}

	lower := strings.ToLower(stderr)
	for _, kw := range nonRetriableKeywords {
		if strings.Contains(lower, kw) {
			return NonRetriable
		}
	}
	for _, kw := range retriableKeywords {
		if strings.Contains(lower, kw) {
			return Retriable
		}
	}
	// git uses 128 for fatal usage/state errors.
	if exitCode >= 128 {
		return NonRetriable
	}
	return Unknown
}

// ClassifyStatus maps an HTTP status code to an ErrorKind.
func ClassifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return Retriable
	case code >= 500:
		return Retriable
	case code >= 400:
		return NonRetriable
	default:
		return Unknown
	}
}
