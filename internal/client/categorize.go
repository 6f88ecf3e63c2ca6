package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/aurora-service/internal/astronomy"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout      ErrorCategory = "timeout"
	ErrorCategoryNetwork      ErrorCategory = "network"
	ErrorCategoryCircuitOpen  ErrorCategory = "circuit_open"
	ErrorCategoryUnconfigured ErrorCategory = "unconfigured"
	ErrorCategoryNoData       ErrorCategory = "no_data"
	ErrorCategoryRateLimited  ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx  ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing      ErrorCategory = "parsing"
	ErrorCategoryClientError  ErrorCategory = "upstream_4xx"
	ErrorCategoryPanic        ErrorCategory = "panic"
	ErrorCategoryUnknown      ErrorCategory = "unknown"
)

// ErrPanic marks a view that panicked; the service wraps recovered values with it.
var ErrPanic = errors.New("view panicked")

// CategorizeError maps an error to a stable ErrorCategory.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrPanic):
		return ErrorCategoryPanic
	case errors.Is(err, ErrCircuitOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrProviderUnconfigured):
		return ErrorCategoryUnconfigured
	case errors.Is(err, astronomy.ErrNoData):
		return ErrorCategoryNoData
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream5xx
	case errors.Is(err, ErrBadPayload):
		return ErrorCategoryParsing
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "http request failed") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "unexpected status") {
		return ErrorCategoryClientError
	}
	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}

	return ErrorCategoryUnknown
}
