package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rendis/scenecraft/pkg/schema"
)

// errorBody is the envelope of every non-2xx JSON response.
type errorBody struct {
	Error *schema.Error `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: schema.AsError(err)})
}

// writeErr picks the status from the error code.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch schema.CodeOf(err) {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeCircuitOpen:
		return http.StatusServiceUnavailable
	case schema.ErrCodeUpstream:
		return http.StatusBadGateway
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("invalid request body: %v", err)).WithCause(err)
	}
	return nil
}

const maxBodyBytes = 8 << 20
