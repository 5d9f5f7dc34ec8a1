package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/config"
	"github.com/ai-agency/agency/internal/validator"
)

func TestDecode(t *testing.T) {
	api := &Api{Config: &config.Config{}, validate: validator.New()}

	tests := []struct {
		name  string
		body  string
		code  apperrors.Code
		field string
	}{
		{name: "valid", body: `{"message":"hi"}`},
		{name: "empty body reports missing fields", body: ``, code: apperrors.CodeValidation, field: "message"},
		{name: "malformed", body: `{"message":`, code: apperrors.CodeBadRequest},
		{name: "too large", body: `{"message":"` + strings.Repeat("a", maxJSONBody) + `"}`, code: apperrors.CodeBadRequest},
		{name: "type mismatch", body: `{"message":42}`, code: apperrors.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst chatRequest
			err := api.decode(httptest.NewRecorder(), r, &dst)
			if tt.code == "" {
				require.NoError(t, err)
				assert.Equal(t, "hi", dst.Message)
				return
			}
			appErr, ok := apperrors.As(err)
			require.True(t, ok, "%v", err)
			assert.Equal(t, tt.code, appErr.Code)
			if tt.field != "" {
				fields := appErr.Fields["errors"].([]apperrors.FieldError)
				assert.Equal(t, tt.field, fields[0].Field)
			}
		})
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?page=3&limit=abc&period=%207", nil)
	assert.Equal(t, 3, queryInt(r, "page", 1))
	assert.Equal(t, 10, queryInt(r, "limit", 10))
	assert.Equal(t, 7, queryInt(r, "period", 30))
	assert.Equal(t, 5, queryInt(r, "missing", 5))
}

func TestMetadata(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	r.Header.Set("User-Agent", "agency-test")
	r.Header.Set("X-Request-Source", "Mobile")

	m := metadata(r)
	assert.Equal(t, "mobile", m.RequestSource)
	assert.Equal(t, "203.0.113.9", m.IPAddress)
	assert.Equal(t, "agency-test", m.UserAgent)

	r.Header.Set("X-Request-Source", "fax")
	assert.Equal(t, "web", metadata(r).RequestSource)

	r.RemoteAddr = "unix"
	assert.Equal(t, "unix", clientIP(r))
}

func TestRespond(t *testing.T) {
	w := httptest.NewRecorder()
	respond(w, http.StatusCreated, "made", envelope{"data": 1})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true,"message":"made","data":1}`, w.Body.String())
}
