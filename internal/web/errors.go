package web

// errors.go renders every API failure in one JSON envelope.
//
// The flow:
//  1. A handler hits an error and calls respondError with a status code
//  2. The error is mapped through core.MapError to a message and code
//  3. The technical error is logged with the request ID for correlation
//  4. The client gets the operator message, never the raw error text

import (
	"encoding/json"
	"net/http"

	"github.com/JonMunkholm/stageload/internal/core"
	"github.com/JonMunkholm/stageload/internal/logging"
)

// ErrorResponse is the JSON body of every non-2xx API response except
// authentication failures. The technical error is only logged.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// errorResponder is the signature of respondError, for middleware that
// reports failures the same way handlers do.
type errorResponder func(w http.ResponseWriter, r *http.Request, err error, status int)

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	s.respondErrorDetails(w, r, err, status, nil)
}

// respondErrorDetails is respondError with a structured payload, such as a
// permission report or a list of missing columns.
func (s *Server) respondErrorDetails(w http.ResponseWriter, r *http.Request, err error, status int, details any) {
	msg := core.MapError(err)

	logging.FromContext(r.Context()).Warn("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	writeJSON(w, r, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
		Details: details,
	})
}

// writeJSON encodes v with the given status. Encoding errors are logged
// since the header is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
