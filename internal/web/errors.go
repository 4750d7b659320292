package web

// errors.go turns errors into JSON responses.
//
// Technical details are logged with the request ID; clients receive the
// mapped core.UserMessage with a support code. Session reports travel with
// the error so callers can show findings and duplicate lists.

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// ErrorResponse is the body of every error that has no session report.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor maps an error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	switch core.KindOf(err) {
	case core.KindConfigurationNotFound:
		return http.StatusNotFound
	case core.KindEngineNotInstalled:
		return http.StatusServiceUnavailable
	case core.KindMalformedHeader, core.KindMissingUniqueIDField, core.KindMissingGeometryFields,
		core.KindMissingRequiredFields, core.KindColumnCountMismatch,
		core.KindNonUniqueIdentifiers, core.KindNonConformantData,
		core.KindDuplicateRecordsFound, core.KindMissingIdentifiersFound:
		return http.StatusUnprocessableEntity
	case core.KindPrincipalUnresolved:
		return http.StatusUnauthorized
	case core.KindNotAuthorized:
		return http.StatusForbidden
	case core.KindUploadRejected, core.KindInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the mapped user message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.MapError(err)
	logError(r, err, status, msg.Code)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSONBody(w, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Detail:  msg.Detail,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeError writes a plain request error that did not come from core.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	slog.Warn("request rejected",
		"path", r.URL.Path,
		"status", status,
		"reason", message,
		"request_id", middleware.GetReqID(r.Context()),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSONBody(w, ErrorResponse{Error: message, Message: message, Code: codeForStatus(status)})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "RATE001"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "AUTH002"
	case http.StatusRequestEntityTooLarge:
		return "UPL001"
	}
	return "REQ001"
}

func logError(r *http.Request, err error, status int, code string) {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", code,
		"request_id", middleware.GetReqID(r.Context()),
	)
}

// writeJSON encodes v as JSON with a 200 status.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	writeJSONBody(w, v)
}

func writeJSONBody(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
