package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/pathmark/pathmark/internal/apperr"
)

// maxRequestBodySize is the maximum allowed request body size (2 MiB, per
// orig spec §4.4 batch-upload limit).
const maxRequestBodySize = 2 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Header already sent — can only log, not change status code.
		_ = err
	}
}

// errorEnvelope is the wire shape of every error response (orig spec §7):
// {"error":{"code","message","details"}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrJSON writes err as the standard error envelope, mapping its Kind to
// an HTTP status via apperr.HTTPStatus/Code. Errors that did not
// originate from apperr are reported as internal-error with no details
// leaked to the caller.
func ErrJSON(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		JSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
			Code:    "internal-error",
			Message: "internal server error",
		}})
		return
	}
	status := apperr.HTTPStatus(e.Kind)
	if e.Kind == apperr.RateLimitExceeded {
		if ra, ok := e.Details["retry_after_seconds"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(ra))
		}
	}
	JSON(w, status, errorEnvelope{Error: errorBody{
		Code:    apperr.Code(e.Kind),
		Message: e.Message,
		Details: e.Details,
	}})
}

// ReadBody reads the request body with a size limit to prevent OOM
// attacks. Returns at most maxRequestBodySize+1 bytes, so a body over the
// limit shows up as a result longer than maxRequestBodySize.
func ReadBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
}

// DecodeJSON reads the request body as JSON into v with a size limit.
func DecodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize+1)).Decode(v)
}
