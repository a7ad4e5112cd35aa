package model

import (
	"context"
	"errors"
	"strings"

	"deepresearch/graph"
)

// ClassifyAPIError maps a provider error onto the driver error
// taxonomy: rate limits, 5xx and network failures are transient;
// auth, quota and malformed-request failures are permanent. Context
// errors pass through untouched so cancellation stays recognizable.
func ClassifyAPIError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "overloaded"):
		return graph.Transient(op, err)
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "internal server error"),
		strings.Contains(msg, "bad gateway"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "gateway timeout"):
		return graph.Transient(op, err)
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "eof"):
		return graph.Transient(op, err)
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "api_key"),
		strings.Contains(msg, "authentication"):
		return graph.Permanent(op, err)
	case strings.Contains(msg, "quota"),
		strings.Contains(msg, "billing"):
		return graph.Permanent(op, err)
	default:
		return graph.Permanent(op, err)
	}
}
