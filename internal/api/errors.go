package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/tag-gallery/internal/errors"
	"github.com/tag-gallery/internal/logging"
	"github.com/tag-gallery/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error *types.ServiceError `json:"error"`
}

// Common error codes
const (
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondCode sends an error response built from a code and message.
func respondCode(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: &types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondError maps err to its category status code and sends it. Client
// mistakes are logged at debug, upstream failures at warn, the rest at error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.GetHTTPStatusCode(err)
	log := logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"status": status,
	})
	switch {
	case apperrors.IsUserError(err):
		log.Debug("request rejected")
	case apperrors.IsUpstream(err):
		log.Warn("upstream failure")
	default:
		log.Error("request failed")
	}
	respondJSON(w, status, ErrorResponse{Error: apperrors.Categorize(err).ToServiceError()})
}

// parseJSONBody parses JSON request body. An empty body leaves v untouched
// when allowEmpty is set.
func parseJSONBody(r *http.Request, v interface{}, allowEmpty bool) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(v)
	if allowEmpty && errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return apperrors.NewInvalidParameterError("body", err.Error())
	}
	return nil
}
