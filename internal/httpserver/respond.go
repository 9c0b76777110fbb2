package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wisbric/cartographer/internal/apperr"
)

// ErrorResponse is the JSON envelope for error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Respond writes data as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("encoding JSON response", "error", err)
	}
}

// RespondError writes a structured {error, message} JSON body.
func RespondError(w http.ResponseWriter, status int, errStr, message string) {
	Respond(w, status, ErrorResponse{Error: errStr, Message: message})
}

// RespondErr maps an apperr.Error (or any error) to its HTTP status and
// writes the corresponding error envelope, attaching Retry-After when present.
func RespondErr(w http.ResponseWriter, err error) {
	status := apperr.Status(err)
	kind := apperr.KindOf(err)

	var retryAfter int
	var ae *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		ae = e
		retryAfter = e.RetryAfter
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}

	message := err.Error()
	if ae != nil {
		message = ae.Message
	}

	RespondError(w, status, string(kind), message)
}
