package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"wabroadcast/internal/provider"
	"wabroadcast/internal/service"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	_ = WriteJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// WriteCreated writes a 201 Created response with the given data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteOK writes a 200 OK response with the given data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteValidationError writes a 400 Bad Request response with VALIDATION_ERROR code
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", message)
}

// WriteNotFoundError writes a 404 Not Found response with RESOURCE_NOT_FOUND code
func WriteNotFoundError(w http.ResponseWriter, resource string, id int) {
	message := fmt.Sprintf("%s with ID %d not found", resource, id)
	WriteError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", message)
}

// WriteInternalError writes a 500 response without exposing internal details
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

// WriteBusinessLogicError writes a 400 Bad Request response with BUSINESS_LOGIC_ERROR code
func WriteBusinessLogicError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "BUSINESS_LOGIC_ERROR", message)
}

// WriteConflictError writes a 409 Conflict response with CONFLICT code
func WriteConflictError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, "CONFLICT", message)
}

// HandleServiceError maps service and provider errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound   *service.NotFoundError
		validation *service.ValidationError
		business   *service.BusinessLogicError
		conflict   *service.ConflictError
	)

	switch {
	case errors.As(err, &notFound):
		WriteNotFoundError(w, notFound.Resource, notFound.ID)
	case errors.As(err, &validation):
		WriteValidationError(w, validation.Message)
	case errors.As(err, &business):
		WriteBusinessLogicError(w, business.Message)
	case errors.As(err, &conflict):
		WriteConflictError(w, conflict.Message)
	case errors.Is(err, provider.ErrRejected):
		WriteError(w, http.StatusUnprocessableEntity, "PROVIDER_REJECTED", err.Error())
	case errors.Is(err, provider.ErrUnavailable):
		WriteError(w, http.StatusServiceUnavailable, "PROVIDER_UNAVAILABLE", err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled service error")
		WriteInternalError(w)
	}
}

// decodeJSON reads the request body into v, writing the error response itself
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
			return false
		}
		WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
		return false
	}
	return true
}

// pathID parses a positive integer route variable
func pathID(w http.ResponseWriter, r *http.Request, resource string) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, fmt.Sprintf("invalid %s ID format", resource))
		return 0, false
	}
	if id <= 0 {
		WriteValidationError(w, fmt.Sprintf("%s ID must be greater than 0", resource))
		return 0, false
	}
	return id, true
}

// queryInt reads a positive integer query parameter, falling back to def
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
