package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tag-gallery/internal/types"
)

func TestCategorize(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Categorize(nil))
	})

	t.Run("wrapped categorized error is found", func(t *testing.T) {
		base := NewNetworkError("http://upstream", stderrors.New("connection refused"))
		wrapped := fmt.Errorf("fetch tokens: %w", base)

		got := Categorize(wrapped)
		assert.Same(t, base, got)
		assert.Equal(t, CategoryNetwork, got.Category)
	})

	t.Run("service error is converted", func(t *testing.T) {
		got := Categorize(&types.ServiceError{Code: "X", Message: "boom"})
		assert.Equal(t, "X", got.Code)
		assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		got := Categorize(stderrors.New("boom"))
		assert.Equal(t, CategorySystem, got.Category)
	})
}

func TestNewGraphQLError(t *testing.T) {
	err := NewGraphQLError([]GraphQLMessage{
		{Message: "field 'tokens' not found"},
		{Message: "second"},
	})

	assert.Equal(t, CategoryGraphQL, err.Category)
	assert.Equal(t, "field 'tokens' not found", err.Message)
	assert.Equal(t, []string{"field 'tokens' not found", "second"}, err.Details["errors"])

	empty := NewGraphQLError(nil)
	assert.Equal(t, "upstream query failed", empty.Message)
}

func TestNewUpstreamStatusError(t *testing.T) {
	tests := []struct {
		status   int
		category ErrorCategory
		code     string
	}{
		{http.StatusBadGateway, CategoryNetwork, "NETWORK_ERROR"},
		{http.StatusServiceUnavailable, CategoryNetwork, "NETWORK_ERROR"},
		{http.StatusTooManyRequests, CategoryNetwork, "NETWORK_ERROR"},
		{http.StatusBadRequest, CategoryGraphQL, "UPSTREAM_REJECTED"},
		{http.StatusNotFound, CategoryGraphQL, "UPSTREAM_REJECTED"},
	}
	for _, tt := range tests {
		err := NewUpstreamStatusError("http://upstream", tt.status)
		assert.Equal(t, tt.category, err.Category, tt.status)
		assert.Equal(t, tt.code, err.Code, tt.status)
		assert.Equal(t, http.StatusBadGateway, err.StatusCode)
		assert.Equal(t, tt.status, err.Details["status"])
	}
}

func TestIsUpstream(t *testing.T) {
	assert.True(t, IsUpstream(NewNetworkError("x", nil)))
	assert.True(t, IsUpstream(NewGraphQLError(nil)))
	assert.True(t, IsUpstream(NewBudgetExceededError(10)))
	assert.False(t, IsUpstream(NewInvalidParameterError("sort", "unknown")))
	assert.False(t, IsUpstream(nil))
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(NewInvalidParameterError("limit", "negative")))
	assert.True(t, IsUserError(NewNotFoundError("session", "abc")))
	assert.False(t, IsUserError(NewNetworkError("x", nil)))
	assert.Equal(t, http.StatusBadGateway, GetHTTPStatusCode(NewGraphQLError(nil)))
}
