package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Error codes
const (
	CodeSiteError     = "SITE_ERROR"
	CodeConfiguration = "CONFIGURATION_ERROR"
	CodeQuotaExceeded = "QUOTA_EXCEEDED"
	CodeUpstream      = "UPSTREAM_ERROR"
	CodeCache         = "CACHE_ERROR"
)

type SiteError struct {
	Message    string
	Code       string
	StatusCode int
	Context    map[string]any
	Cause      error
}

func (e *SiteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SiteError) Unwrap() error {
	return e.Cause
}

func NewSiteError(message, code string, statusCode int, context map[string]any) *SiteError {
	return &SiteError{
		Message:    message,
		Code:       code,
		StatusCode: statusCode,
		Context:    context,
	}
}

func (e *SiteError) WithCause(cause error) *SiteError {
	e.Cause = cause
	return e
}

// ConfigurationError is fatal: the aggregator cannot run without a credential
// and a channel id. Missing credential maps to 500, missing channel id to 400.
type ConfigurationError struct {
	*SiteError
	Key string
}

func NewConfigurationError(message, key string, statusCode int) *ConfigurationError {
	return &ConfigurationError{
		SiteError: &SiteError{
			Message:    message,
			Code:       CodeConfiguration,
			StatusCode: statusCode,
			Context: map[string]any{
				"key": key,
			},
		},
		Key: key,
	}
}

type QuotaExceededError struct {
	*SiteError
	Operation string
	Used      int
	Limit     int
	ResetTime time.Time
}

func NewQuotaExceededError(operation string, used, limit int, resetTime time.Time, cause error) *QuotaExceededError {
	return &QuotaExceededError{
		SiteError: &SiteError{
			Message:    fmt.Sprintf("YouTube API quota exceeded during %s (used %d/%d, resets at %s)", operation, used, limit, resetTime.Format(time.RFC3339)),
			Code:       CodeQuotaExceeded,
			StatusCode: 403,
			Context: map[string]any{
				"operation": operation,
				"used":      used,
				"limit":     limit,
			},
			Cause: cause,
		},
		Operation: operation,
		Used:      used,
		Limit:     limit,
		ResetTime: resetTime,
	}
}

type UpstreamKind string

const (
	UpstreamUnavailable UpstreamKind = "upstream_unavailable"
	UpstreamBadResponse UpstreamKind = "upstream_bad_response"
)

// UpstreamError is a non-quota failure of a remote call.
type UpstreamError struct {
	*SiteError
	Kind      UpstreamKind
	Operation string
}

func NewUpstreamError(message string, kind UpstreamKind, operation string, statusCode int, cause error) *UpstreamError {
	return &UpstreamError{
		SiteError: &SiteError{
			Message:    message,
			Code:       CodeUpstream,
			StatusCode: statusCode,
			Context: map[string]any{
				"kind":      string(kind),
				"operation": operation,
			},
			Cause: cause,
		},
		Kind:      kind,
		Operation: operation,
	}
}

type CacheError struct {
	*SiteError
	Operation string
	Key       string
}

func NewCacheError(message, operation, key string, cause error) *CacheError {
	return &CacheError{
		SiteError: &SiteError{
			Message:    message,
			Code:       CodeCache,
			StatusCode: 500,
			Context: map[string]any{
				"operation": operation,
				"key":       key,
			},
			Cause: cause,
		},
		Operation: operation,
		Key:       key,
	}
}

func IsQuotaExceeded(err error) bool {
	var target *QuotaExceededError
	return stderrors.As(err, &target)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return stderrors.As(err, &target)
}

// StatusCode returns the HTTP status a handler should answer with for err.
// Only configuration errors carry their own status; everything else is a 500.
func StatusCode(err error) int {
	var cfgErr *ConfigurationError
	if stderrors.As(err, &cfgErr) && cfgErr.StatusCode != 0 {
		return cfgErr.StatusCode
	}
	return 500
}
