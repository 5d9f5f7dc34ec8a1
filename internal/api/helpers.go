package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/auth"
	"github.com/ai-agency/agency/internal/models"
	"github.com/ai-agency/agency/internal/processor"
)

const maxJSONBody = 1 << 20

// envelope is the JSON object every response is wrapped in.
type envelope map[string]any

// respond writes a successful response. success and message are always set.
func respond(w http.ResponseWriter, status int, message string, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	body["message"] = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (api *Api) fail(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.WriteError(w, r, err, api.Config.IsProduction())
}

// decode reads a JSON body into dst and validates it. An empty body is
// treated as an empty object so missing fields are reported by name.
func (api *Api) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.BadRequest("request body is too large")
		}
		return apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid JSON body")
	}
	return api.validate.Struct(dst)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return def
	}
	return v
}

// identity returns the caller set by the auth gate. Handlers behind the
// gate can rely on it being present.
func identity(r *http.Request) *auth.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

func actor(r *http.Request) processor.Actor {
	id := identity(r)
	return processor.Actor{UserID: id.UserID, Role: id.Role}
}

// metadata captures where a request came from.
func metadata(r *http.Request) models.Metadata {
	source := "web"
	switch s := strings.ToLower(r.Header.Get("X-Request-Source")); s {
	case "web", "mobile", "api", "bot":
		source = s
	}
	return models.Metadata{
		UserAgent:     r.UserAgent(),
		IPAddress:     clientIP(r),
		RequestSource: source,
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
