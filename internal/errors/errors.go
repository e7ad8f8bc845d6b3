package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/emoki/snipr/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryNetwork represents page retrieval failures (connection, timeout, non-2xx)
	CategoryNetwork ErrorCategory = "network"
	// CategoryParse represents mandatory field extraction failures
	CategoryParse ErrorCategory = "parse"
	// CategoryConflict represents uniqueness collisions (resolved, never surfaced to polling)
	CategoryConflict ErrorCategory = "conflict"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Fetch errors

// NewNetworkFailure creates a retrieval error. upstreamStatus is the HTTP status
// the site answered with, or 0 when no response was received.
func NewNetworkFailure(url string, upstreamStatus int, cause error) *CategorizedError {
	code := "NETWORK_FAILURE"
	switch upstreamStatus {
	case http.StatusTooManyRequests:
		code = "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		code = "SERVICE_UNAVAILABLE"
	}

	msg := fmt.Sprintf("failed to retrieve %s", url)
	if upstreamStatus != 0 {
		msg = fmt.Sprintf("failed to retrieve %s: HTTP %d", url, upstreamStatus)
	}

	return &CategorizedError{
		Category:   CategoryNetwork,
		StatusCode: http.StatusBadGateway,
		Code:       code,
		Message:    msg,
		Cause:      cause,
		Details: map[string]interface{}{
			"url":            url,
			"upstreamStatus": upstreamStatus,
		},
	}
}

// NewParseFailure creates an error for a page whose mandatory fields could not be extracted
func NewParseFailure(url string, missing []string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryParse,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "PARSE_FAILURE",
		Message:    fmt.Sprintf("page structure changed, missing fields: %s", strings.Join(missing, ", ")),
		Details: map[string]interface{}{
			"url":     url,
			"missing": missing,
		},
	}
}

// NewPersistenceConflict creates a uniqueness collision error
func NewPersistenceConflict(site types.SiteCode, url string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "PERSISTENCE_CONFLICT",
		Message:    fmt.Sprintf("snapshot already stored for %s %s", site, url),
		Cause:      cause,
	}
}

// User Input Errors (4xx)

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnknownSiteError creates an error for a site code with no registered fetcher
func NewUnknownSiteError(site string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "UNKNOWN_SITE",
		Message:    fmt.Sprintf("no fetcher registered for site: %s", site),
		Details: map[string]interface{}{
			"site": site,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// UpstreamStatus returns the HTTP status a NetworkFailure carries, or 0
func UpstreamStatus(err error) int {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) || catErr.Category != CategoryNetwork {
		return 0
	}
	status, _ := catErr.Details["upstreamStatus"].(int)
	return status
}

// IsNetworkFailure reports whether err is a page retrieval failure
func IsNetworkFailure(err error) bool {
	return hasCategory(err, CategoryNetwork)
}

// IsParseFailure reports whether err is a mandatory-field extraction failure
func IsParseFailure(err error) bool {
	return hasCategory(err, CategoryParse)
}

// IsConflict reports whether err is a uniqueness collision
func IsConflict(err error) bool {
	return hasCategory(err, CategoryConflict)
}

// IsRetriable reports whether a network failure should trigger the backoff
// sleep: only rate-limited (429) and service-unavailable (503) responses qualify.
func IsRetriable(err error) bool {
	if !IsNetworkFailure(err) {
		return false
	}
	status := UpstreamStatus(err)
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

func hasCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}
