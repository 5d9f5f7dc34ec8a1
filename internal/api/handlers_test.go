package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-agency/agency/internal/models"
)

func TestProfile(t *testing.T) {
	env := newTestEnv(t, testConfig())
	token, _ := env.register(t, "Salma")
	env.chat(t, token, "hello there")

	resp, body := env.do(t, http.MethodGet, "/api/users/profile", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]any)
	assert.Len(t, data["recentRequests"], 1)
	assert.NotEmpty(t, data["stats"])

	resp, body = env.do(t, http.MethodPut, "/api/users/profile", token, map[string]any{
		"bio": "  Product designer  ", "theme": "dark", "notifications": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	profile := body["data"].(map[string]any)["profile"].(map[string]any)
	assert.Equal(t, "Product designer", profile["bio"])
	prefs := profile["preferences"].(map[string]any)
	assert.Equal(t, "dark", prefs["theme"])
	assert.Equal(t, false, prefs["notifications"])
	assert.Equal(t, "ar", prefs["language"])

	resp, body = env.do(t, http.MethodPut, "/api/users/profile", token, map[string]any{"language": "fr"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "language", body["errors"].([]any)[0].(map[string]any)["field"])

	// The change survives a fresh read.
	_, body = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, "Product designer", body["user"].(map[string]any)["profile"].(map[string]any)["bio"])
}

func TestProjects(t *testing.T) {
	env := newTestEnv(t, testConfig())
	token, _ := env.register(t, "Kareem")
	otherToken, _ := env.register(t, "Laila")

	resp, body := env.do(t, http.MethodPost, "/api/users/projects", token, map[string]string{
		"name": "Store front", "description": "online shop",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "%v", body)
	project := body["data"].(map[string]any)
	id := project["id"].(string)
	assert.Equal(t, "web", project["type"])
	assert.Equal(t, "planning", project["status"])
	assert.EqualValues(t, 0, project["progress"])

	resp, body = env.do(t, http.MethodPut, "/api/users/projects/"+id, token, map[string]any{
		"status": "in-progress", "progress": 40,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	assert.Equal(t, "in-progress", body["data"].(map[string]any)["status"])
	assert.Equal(t, "Store front", body["data"].(map[string]any)["name"])

	resp, _ = env.do(t, http.MethodPut, "/api/users/projects/"+id, token, map[string]any{"progress": 101})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPut, "/api/users/projects/"+id, otherToken, map[string]any{"progress": 10})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "project not found", body["message"])

	resp, body = env.do(t, http.MethodGet, "/api/users/projects", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)

	resp, _ = env.do(t, http.MethodDelete, "/api/users/projects/"+id, token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/users/projects/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUserStats(t *testing.T) {
	env := newTestEnv(t, testConfig())
	token, _ := env.register(t, "Nada")
	env.chat(t, token, "one")
	env.chat(t, token, "two")

	resp, body := env.do(t, http.MethodGet, "/api/users/stats?period=7", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 7, data["periodDays"])
	assert.Equal(t, map[string]any{"total": 50.0, "used": 2.0, "remaining": 48.0}, data["limits"])
	assert.EqualValues(t, 4, data["usagePercentage"])
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t, testConfig())
	token, userID := env.register(t, "Basil")
	env.chat(t, token, "bye")

	resp, body := env.do(t, http.MethodDelete, "/api/users/account", token, map[string]string{
		"password": "secret123", "confirmation": "delete",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "confirmation", body["errors"].([]any)[0].(map[string]any)["field"])

	resp, body = env.do(t, http.MethodDelete, "/api/users/account", token, map[string]string{
		"password": "wrong-one", "confirmation": "DELETE",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "password", body["errors"].([]any)[0].(map[string]any)["field"])

	resp, _ = env.do(t, http.MethodDelete, "/api/users/account", token, map[string]string{
		"password": "secret123", "confirmation": "DELETE",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := env.db.GetUserByID(context.Background(), userID)
	assert.Error(t, err)

	resp, body = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_TOKEN", body["code"])
}

func TestShareValidation(t *testing.T) {
	env := newTestEnv(t, testConfig())
	token, ownerID := env.register(t, "Ruba")
	id := env.chat(t, token, "share this")

	tests := []struct {
		name   string
		body   map[string]string
		status int
		field  string
	}{
		{"not a uuid", map[string]string{"userId": "abc"}, http.StatusBadRequest, "userId"},
		{"unknown user", map[string]string{"userId": uuid.NewString()}, http.StatusNotFound, ""},
		{"owner", map[string]string{"userId": ownerID}, http.StatusBadRequest, "userId"},
		{"bad permission", map[string]string{"userId": ownerID, "permission": "root"}, http.StatusBadRequest, "permission"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/ai/requests/"+id+"/share", token, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.field != "" {
				assert.Equal(t, tt.field, body["errors"].([]any)[0].(map[string]any)["field"])
			}
		})
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t, testConfig())
	userToken, userID := env.register(t, "Plain")
	adminToken, adminID := env.register(t, "Boss")
	require.NoError(t, env.db.SetRole(context.Background(), adminID, models.RoleAdmin))
	env.chat(t, userToken, "count me")

	paths := []string{
		"/api/analytics/system",
		"/api/analytics/performance",
		"/api/analytics/users/active?limit=5",
	}
	for _, p := range paths {
		resp, body := env.do(t, http.MethodGet, p, userToken, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, p)
		assert.Equal(t, "FORBIDDEN", body["code"], p)

		resp, body = env.do(t, http.MethodGet, p, adminToken, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "%s: %v", p, body)
	}

	modToken, modID := env.register(t, "Mod")
	require.NoError(t, env.db.SetRole(context.Background(), modID, models.RoleModerator))
	resp, _ := env.do(t, http.MethodGet, "/api/analytics/system", modToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/api/admin/reset-usage", modToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Admins may read any request.
	id := env.chat(t, userToken, "admin can see")
	resp, _ = env.do(t, http.MethodGet, "/api/ai/requests/"+id, adminToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/admin/reset-usage", userToken, map[string]string{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/admin/reset-usage", adminToken, map[string]string{"userId": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/admin/reset-usage", adminToken, map[string]string{"userId": userID})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["accounts"])

	u, err := env.db.GetUserByID(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, u.Subscription.Features.UsedRequests)
	assert.Equal(t, 2, u.Activity.TotalRequests)

	resp, body = env.do(t, http.MethodPost, "/api/admin/reset-usage", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	assert.EqualValues(t, 3, body["data"].(map[string]any)["accounts"])
}

func TestSubmitFailureCarriesRequestID(t *testing.T) {
	env := newTestEnv(t, testConfig())
	token, userID := env.register(t, "Jana")
	env.setPlan(t, userID, models.PlanBasic)

	// Submitting directly skips the language check so the generator fails.
	req, err := env.api.proc.Submit(context.Background(), userID, models.TypeCodeGeneration,
		map[string]string{"description": "a thing that does stuff", "language": "cobol"}, models.Metadata{RequestSource: "api"})
	require.Error(t, err)
	require.NotNil(t, req)
	assert.Equal(t, models.StatusFailed, req.Status)

	resp, body := env.do(t, http.MethodPost, "/api/ai/requests/"+req.ID+"/retry", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, req.ID, body["requestId"])

	_, body = env.do(t, http.MethodGet, "/api/ai/requests/"+req.ID, token, nil)
	data := body["data"].(map[string]any)
	assert.Equal(t, "failed", data["status"])
	assert.EqualValues(t, 1, data["processing"].(map[string]any)["retryCount"])
}

func TestAdminUpdateUser(t *testing.T) {
	env := newTestEnv(t, testConfig())
	userToken, userID := env.register(t, "Omar")
	adminToken, adminID := env.register(t, "Chief")
	require.NoError(t, env.db.SetRole(context.Background(), adminID, models.RoleAdmin))
	path := "/api/admin/users/" + userID
	code := map[string]string{"description": "a login form with validation", "language": "ruby"}

	resp, body := env.do(t, http.MethodPost, "/api/ai/generate-code", userToken, code)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "UPGRADE_REQUIRED", body["code"])

	resp, _ = env.do(t, http.MethodPut, path, userToken, map[string]string{"plan": "basic"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = env.do(t, http.MethodPut, path, adminToken, map[string]string{"plan": "basic"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	sub := body["data"].(map[string]any)["subscription"].(map[string]any)
	assert.Equal(t, "basic", sub["plan"])
	assert.EqualValues(t, 500, sub["features"].(map[string]any)["aiRequests"])

	// The upgraded account now reaches input validation.
	resp, body = env.do(t, http.MethodPost, "/api/ai/generate-code", userToken, code)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, "%v", body)
	assert.Equal(t, "language", body["errors"].([]any)[0].(map[string]any)["field"])

	tests := []struct {
		name   string
		target string
		body   map[string]any
		status int
		field  string
	}{
		{"empty", userID, map[string]any{}, http.StatusBadRequest, "plan"},
		{"unknown plan", userID, map[string]any{"plan": "gold"}, http.StatusBadRequest, "plan"},
		{"unknown role", userID, map[string]any{"role": "owner"}, http.StatusBadRequest, "role"},
		{"self demotion", adminID, map[string]any{"role": "user"}, http.StatusBadRequest, "role"},
		{"self deactivation", adminID, map[string]any{"isActive": false}, http.StatusBadRequest, "isActive"},
		{"missing user", uuid.NewString(), map[string]any{"plan": "basic"}, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPut, "/api/admin/users/"+tt.target, adminToken, tt.body)
			require.Equal(t, tt.status, resp.StatusCode, "%v", body)
			if tt.field != "" {
				assert.Equal(t, tt.field, body["errors"].([]any)[0].(map[string]any)["field"])
			}
		})
	}

	resp, body = env.do(t, http.MethodPut, path, adminToken, map[string]any{"role": "moderator", "isActive": false})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "moderator", data["role"])
	assert.Equal(t, false, data["isActive"])
	assert.Equal(t, "basic", data["subscription"].(map[string]any)["plan"])

	resp, body = env.do(t, http.MethodGet, "/api/auth/me", userToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "ACCOUNT_INACTIVE", body["code"])

	resp, _ = env.do(t, http.MethodPut, path, adminToken, map[string]any{"isActive": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/auth/me", userToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReport(t *testing.T) {
	env := newTestEnv(t, testConfig())
	userToken, _ := env.register(t, "Sami")
	adminToken, adminID := env.register(t, "Rana")
	require.NoError(t, env.db.SetRole(context.Background(), adminID, models.RoleAdmin))
	modToken, modID := env.register(t, "Hala")
	require.NoError(t, env.db.SetRole(context.Background(), modID, models.RoleModerator))
	require.NoError(t, env.db.RecordLogin(context.Background(), adminID, time.Now().UTC()))
	env.chat(t, userToken, "first")
	env.chat(t, userToken, "second")

	today := time.Now().UTC().Format(time.DateOnly)
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(time.DateOnly)
	report := func(token string, body map[string]any) (*http.Response, map[string]any) {
		return env.do(t, http.MethodPost, "/api/analytics/report", token, body)
	}

	resp, _ := report(userToken, map[string]any{"startDate": yesterday, "endDate": today, "reportType": "users"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = report(modToken, map[string]any{"startDate": yesterday, "endDate": today, "reportType": "users"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := report(adminToken, map[string]any{"startDate": yesterday, "endDate": today, "reportType": "requests"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "requests", data["reportType"])
	assert.EqualValues(t, 2, data["totalRequests"])
	assert.EqualValues(t, 2, data["successfulRequests"])
	assert.EqualValues(t, 100, data["successRate"])
	require.Len(t, data["requestsByTypeAndDate"], 1)
	group := data["requestsByTypeAndDate"].([]any)[0].(map[string]any)
	assert.Equal(t, "chat", group["type"])
	assert.Equal(t, today, group["date"])

	resp, body = report(adminToken, map[string]any{
		"startDate": yesterday, "endDate": today, "reportType": "users", "filters": map[string]string{"plan": "free"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	data = body["data"].(map[string]any)
	assert.EqualValues(t, 3, data["totalUsers"])
	assert.EqualValues(t, 1, data["activeUsers"])

	resp, body = report(adminToken, map[string]any{
		"startDate": yesterday + "T00:00:00Z", "endDate": time.Now().UTC().Add(time.Minute).Format(time.RFC3339), "reportType": "performance",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	overall := body["data"].(map[string]any)["overallMetrics"].(map[string]any)
	assert.EqualValues(t, 2, overall["totalProcessedRequests"])

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"revenue", map[string]any{"startDate": yesterday, "endDate": today, "reportType": "revenue"}, "reportType"},
		{"missing dates", map[string]any{"reportType": "users"}, "startDate"},
		{"bad start", map[string]any{"startDate": "yesterday", "endDate": today, "reportType": "users"}, "startDate"},
		{"bad end", map[string]any{"startDate": yesterday, "endDate": "31/12/2024", "reportType": "users"}, "endDate"},
		{"reversed", map[string]any{"startDate": today, "endDate": yesterday, "reportType": "users"}, "endDate"},
		{"bad filter", map[string]any{"startDate": yesterday, "endDate": today, "reportType": "requests", "filters": map[string]string{"status": "done"}}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := report(adminToken, tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, "%v", body)
			assert.Equal(t, tt.field, body["errors"].([]any)[0].(map[string]any)["field"])
		})
	}
}

func TestUpdatePreferences(t *testing.T) {
	env := newTestEnv(t, testConfig())
	token, _ := env.register(t, "Dina")

	resp, body := env.do(t, http.MethodPut, "/api/users/preferences", token, map[string]any{
		"theme":      "dark",
		"privacy":    map[string]any{"profileVisibility": "public", "showActivity": true},
		"aiSettings": map[string]any{"model": "gpt-4", "temperature": 1.2},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	prefs := body["data"].(map[string]any)
	assert.Equal(t, "dark", prefs["theme"])
	assert.Equal(t, "ar", prefs["language"])
	assert.Equal(t, true, prefs["notifications"])
	assert.Equal(t, map[string]any{"profileVisibility": "public", "showActivity": true, "allowSharing": true}, prefs["privacy"])
	assert.Equal(t, map[string]any{"model": "gpt-4", "temperature": 1.2, "maxTokens": 1000.0}, prefs["aiSettings"])

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"language", map[string]any{"language": "de"}, "language"},
		{"visibility", map[string]any{"privacy": map[string]any{"profileVisibility": "friends"}}, "profileVisibility"},
		{"model", map[string]any{"aiSettings": map[string]any{"model": "llama"}}, "model"},
		{"temperature", map[string]any{"aiSettings": map[string]any{"temperature": 2.5}}, "temperature"},
		{"max tokens", map[string]any{"aiSettings": map[string]any{"maxTokens": 5000}}, "maxTokens"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPut, "/api/users/preferences", token, tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, "%v", body)
			assert.Equal(t, tt.field, body["errors"].([]any)[0].(map[string]any)["field"])
		})
	}

	// The legacy /api/user mount serves the same handlers.
	resp, body = env.do(t, http.MethodPut, "/api/user/preferences", token, map[string]any{"aiSettings": map[string]any{"maxTokens": 2048}})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)

	_, body = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	stored := body["user"].(map[string]any)["profile"].(map[string]any)["preferences"].(map[string]any)
	assert.Equal(t, map[string]any{"model": "gpt-4", "temperature": 1.2, "maxTokens": 2048.0}, stored["aiSettings"])
	assert.Equal(t, "public", stored["privacy"].(map[string]any)["profileVisibility"])
}

func (e *testEnv) uploadAvatar(t *testing.T, token, name string, content []byte) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("avatar", name)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/api/users/avatar", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return e.send(t, req)
}

func (e *testEnv) fetch(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestUploadAvatar(t *testing.T) {
	env := newTestEnv(t, testConfig())
	token, userID := env.register(t, "Farah")
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	gif := append([]byte("GIF89a"), make([]byte, 32)...)

	resp, body := env.uploadAvatar(t, token, "me.png", png)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	first := body["data"].(map[string]any)["avatar"].(string)
	assert.True(t, strings.HasPrefix(first, "/files/users/"+userID+"/avatar/"), first)
	assert.True(t, strings.HasSuffix(first, ".png"), first)

	status, raw := env.fetch(t, first)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, png, raw)

	_, body = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, first, body["user"].(map[string]any)["profile"].(map[string]any)["avatar"])

	// A new upload replaces the old file.
	resp, body = env.uploadAvatar(t, token, "me.gif", gif)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	second := body["data"].(map[string]any)["avatar"].(string)
	assert.NotEqual(t, first, second)
	status, _ = env.fetch(t, first)
	assert.Equal(t, http.StatusNotFound, status)
	status, raw = env.fetch(t, second)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, gif, raw)

	tests := []struct {
		name    string
		file    string
		content []byte
	}{
		{"not an image", "me.bmp", png},
		{"renamed text", "me.png", []byte("just some text")},
		{"renamed gif", "me.jpg", gif},
		{"too large", "me.png", append(png, make([]byte, maxAvatarSize)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.uploadAvatar(t, token, tt.file, tt.content)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, "%v", body)
			assert.Equal(t, "avatar", body["errors"].([]any)[0].(map[string]any)["field"])
		})
	}

	// Pointing the profile at an external image drops the stored one.
	resp, body = env.do(t, http.MethodPut, "/api/users/profile", token, map[string]string{"avatar": "https://example.com/me.png"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	status, _ = env.fetch(t, second)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.fetch(t, "/files/users/"+userID+"/avatar/..")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUserRoutesAlias(t *testing.T) {
	env := newTestEnv(t, testConfig())
	token, userID := env.register(t, "Lina")

	resp, body := env.do(t, http.MethodGet, "/api/user/profile", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, "%v", body)
	assert.Equal(t, userID, body["data"].(map[string]any)["user"].(map[string]any)["id"])

	resp, _ = env.do(t, http.MethodGet, "/api/user/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
