// Package errors defines the categorized errors surfaced by the gallery service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/tag-gallery/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryNetwork represents transport failures talking to the upstream API
	CategoryNetwork ErrorCategory = "network"
	// CategoryGraphQL represents query errors reported by the upstream API
	CategoryGraphQL ErrorCategory = "graphql"
	// CategoryBudget represents an exhausted upstream request budget
	CategoryBudget ErrorCategory = "budget"
	// CategoryValidation represents invalid caller input
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents unknown resources
	CategoryNotFound ErrorCategory = "not_found"
	// CategorySystem represents unexpected internal failures
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory          `json:"category"`
	StatusCode int                    `json:"-"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
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

// ToServiceError converts to a ServiceError for API responses
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// GraphQLMessage is a single entry of a GraphQL "errors" array
type GraphQLMessage struct {
	Message string                 `json:"message"`
	Path    []interface{}          `json:"path,omitempty"`
	Ext     map[string]interface{} `json:"extensions,omitempty"`
}

// NewNetworkError creates an upstream transport error
func NewNetworkError(endpoint string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNetwork,
		StatusCode: http.StatusBadGateway,
		Code:       "NETWORK_ERROR",
		Message:    fmt.Sprintf("upstream request failed: %s", endpoint),
		Cause:      cause,
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	}
}

// NewUpstreamStatusError creates an error for a non-2xx upstream response.
// Server-side failures and throttling are network errors; any other status
// means the upstream rejected the query itself.
func NewUpstreamStatusError(endpoint string, status int) *CategorizedError {
	category, code := CategoryGraphQL, "UPSTREAM_REJECTED"
	if status >= 500 || status == http.StatusTooManyRequests {
		category, code = CategoryNetwork, "NETWORK_ERROR"
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: http.StatusBadGateway,
		Code:       code,
		Message:    fmt.Sprintf("upstream returned status %d", status),
		Details: map[string]interface{}{
			"endpoint": endpoint,
			"status":   status,
		},
	}
}

// NewGraphQLError creates an error from an upstream GraphQL errors array
func NewGraphQLError(messages []GraphQLMessage) *CategorizedError {
	msg := "upstream query failed"
	if len(messages) > 0 {
		msg = messages[0].Message
	}
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		texts = append(texts, m.Message)
	}
	return &CategorizedError{
		Category:   CategoryGraphQL,
		StatusCode: http.StatusBadGateway,
		Code:       "GRAPHQL_ERROR",
		Message:    msg,
		Details: map[string]interface{}{
			"errors": texts,
		},
	}
}

// NewBudgetExceededError creates an error for an exhausted upstream budget
func NewBudgetExceededError(budget int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBudget,
		StatusCode: http.StatusTooManyRequests,
		Code:       "UPSTREAM_BUDGET_EXCEEDED",
		Message:    "upstream request budget exhausted, try again shortly",
		Details: map[string]interface{}{
			"budget": budget,
		},
	}
}

// NewTooManySessionsError creates an error for a full session table
func NewTooManySessionsError(limit int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryBudget,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "TOO_MANY_SESSIONS",
		Message:    "too many open gallery sessions, try again later",
		Details: map[string]interface{}{
			"limit": limit,
		},
	}
}

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

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
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

// IsUpstream reports whether err came from talking to the upstream API
func IsUpstream(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	switch catErr.Category {
	case CategoryNetwork, CategoryGraphQL, CategoryBudget:
		return true
	}
	return false
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
