package apperrors

import (
	"encoding/json"
	"net/http"

	"github.com/ai-agency/agency/internal/logger"
)

// Body builds the JSON envelope for err. Messages of internal errors are
// replaced with a generic text when redact is set.
func Body(err error, redact bool) (int, map[string]any) {
	appErr, ok := As(err)
	if !ok {
		appErr = Internal(err)
	}

	body := map[string]any{
		"success": false,
		"message": appErr.Message,
		"code":    appErr.Code,
	}
	for k, v := range appErr.Fields {
		body[k] = v
	}
	if appErr.Code == CodeInternal && !redact && appErr.Err != nil {
		body["error"] = appErr.Err.Error()
	}
	return appErr.HTTPStatus(), body
}

// WriteError renders err as JSON and logs server side failures.
func WriteError(w http.ResponseWriter, r *http.Request, err error, redact bool) {
	status, body := Body(err, redact)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
