package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/auth"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
	"github.com/ai-agency/agency/internal/storage"
)

const (
	recentRequestCount = 5
	maxAvatarSize      = 5 << 20
)

var avatarExtensions = []string{"jpg", "jpeg", "png", "gif"}

type profileRequest struct {
	Name          *string `json:"name" validate:"omitempty,notblank,max=50"`
	Bio           *string `json:"bio" validate:"omitempty,max=500"`
	Avatar        *string `json:"avatar" validate:"omitempty,url,max=500"`
	Language      *string `json:"language" validate:"omitempty,oneof=ar en"`
	Theme         *string `json:"theme" validate:"omitempty,oneof=light dark"`
	Notifications *bool   `json:"notifications"`
}

type preferencesRequest struct {
	Language      *string            `json:"language" validate:"omitempty,oneof=ar en"`
	Theme         *string            `json:"theme" validate:"omitempty,oneof=light dark"`
	Notifications *bool              `json:"notifications"`
	Privacy       *privacyRequest    `json:"privacy"`
	AISettings    *aiSettingsRequest `json:"aiSettings"`
}

type privacyRequest struct {
	ProfileVisibility *string `json:"profileVisibility" validate:"omitempty,oneof=public private"`
	ShowActivity      *bool   `json:"showActivity"`
	AllowSharing      *bool   `json:"allowSharing"`
}

type aiSettingsRequest struct {
	Model       *string  `json:"model" validate:"omitempty,oneof=claude-3 gpt-3.5-turbo gpt-4"`
	Temperature *float64 `json:"temperature" validate:"omitempty,min=0,max=2"`
	MaxTokens   *int     `json:"maxTokens" validate:"omitempty,min=1,max=4096"`
}

type projectRequest struct {
	Name        string `json:"name" validate:"notblank,min=2,max=100"`
	Description string `json:"description" validate:"max=500"`
	Type        string `json:"type" validate:"omitempty,oneof=web mobile ai automation analysis"`
}

type projectUpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,notblank,min=2,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Type        *string `json:"type" validate:"omitempty,oneof=web mobile ai automation analysis"`
	Status      *string `json:"status" validate:"omitempty,oneof=planning in-progress completed paused"`
	Progress    *int    `json:"progress" validate:"omitempty,min=0,max=100"`
}

type deleteAccountRequest struct {
	Password     string `json:"password" validate:"required"`
	Confirmation string `json:"confirmation" validate:"required,eq=DELETE"`
}

// GetProfile returns the account with all time request stats and the
// newest requests.
func (api *Api) GetProfile(w http.ResponseWriter, r *http.Request) {
	user := identity(r).User

	stats, err := api.db.RequestStatsByType(r.Context(), user.ID, time.Time{})
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	recent, err := api.db.RecentRequests(r.Context(), user.ID, recentRequestCount)
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	respond(w, http.StatusOK, "profile", envelope{"data": envelope{
		"user":           user,
		"stats":          stats,
		"recentRequests": recent,
	}})
}

// UpdateProfile applies the fields present in the body. Concurrent updates
// are last write wins. Setting the avatar URL directly drops any uploaded
// avatar.
func (api *Api) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	user := identity(r).User
	var staleAvatar string
	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Bio != nil {
		user.Profile.Bio = strings.TrimSpace(*req.Bio)
	}
	if req.Avatar != nil {
		staleAvatar = user.Profile.AvatarKey
		user.Profile.Avatar = *req.Avatar
		user.Profile.AvatarKey = ""
	}
	if req.Language != nil {
		user.Profile.Preferences.Language = *req.Language
	}
	if req.Theme != nil {
		user.Profile.Preferences.Theme = *req.Theme
	}
	if req.Notifications != nil {
		user.Profile.Preferences.Notifications = *req.Notifications
	}

	if err := api.db.UpdateProfile(r.Context(), user); err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	if staleAvatar != "" {
		api.deleteFile(r, staleAvatar)
	}
	respond(w, http.StatusOK, "profile updated", envelope{"data": user})
}

// UpdatePreferences applies the preference fields present in the body,
// including nested privacy and AI settings.
func (api *Api) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	user := identity(r).User
	prefs := &user.Profile.Preferences
	if req.Language != nil {
		prefs.Language = *req.Language
	}
	if req.Theme != nil {
		prefs.Theme = *req.Theme
	}
	if req.Notifications != nil {
		prefs.Notifications = *req.Notifications
	}
	if p := req.Privacy; p != nil {
		if p.ProfileVisibility != nil {
			prefs.Privacy.ProfileVisibility = *p.ProfileVisibility
		}
		if p.ShowActivity != nil {
			prefs.Privacy.ShowActivity = *p.ShowActivity
		}
		if p.AllowSharing != nil {
			prefs.Privacy.AllowSharing = *p.AllowSharing
		}
	}
	if s := req.AISettings; s != nil {
		if s.Model != nil {
			prefs.AISettings.Model = *s.Model
		}
		if s.Temperature != nil {
			prefs.AISettings.Temperature = *s.Temperature
		}
		if s.MaxTokens != nil {
			prefs.AISettings.MaxTokens = *s.MaxTokens
		}
	}

	if err := api.db.UpdateProfile(r.Context(), user); err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	respond(w, http.StatusOK, "preferences updated", envelope{"data": prefs})
}

// UploadAvatar stores a new profile picture and removes the previous one.
func (api *Api) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	tooLarge := apperrors.Validation(apperrors.FieldError{Field: "avatar", Message: "avatar must be at most 5 MB"})

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "too large") {
			api.fail(w, r, tooLarge)
			return
		}
		api.fail(w, r, apperrors.Wrap(err, apperrors.CodeBadRequest, "invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("avatar")
	if err != nil {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "avatar", Message: "avatar is required"}))
		return
	}
	defer file.Close()

	if header.Size > maxAvatarSize {
		api.fail(w, r, tooLarge)
		return
	}
	if err := storage.CheckExtension(header.Filename, avatarExtensions); err != nil {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "avatar", Message: "avatar must be a jpg, png or gif image"}))
		return
	}
	mt, body, err := storage.Sniff(file)
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	if err := storage.CheckContent(header.Filename, mt); err != nil {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "avatar", Message: err.Error()}))
		return
	}

	user := identity(r).User
	obj, err := api.files.Save(r.Context(), storage.AvatarKey(user.ID, header.Filename), body, mt.String())
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	previous := user.Profile.AvatarKey
	user.Profile.Avatar = obj.URL
	user.Profile.AvatarKey = obj.Key
	if err := api.db.UpdateProfile(r.Context(), user); err != nil {
		api.deleteFile(r, obj.Key)
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	if previous != "" {
		api.deleteFile(r, previous)
	}
	respond(w, http.StatusOK, "avatar updated", envelope{"data": envelope{"avatar": obj.URL}})
}

// ServeAvatar streams an avatar kept by a store without public URLs.
func (api *Api) ServeAvatar(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	opener, ok := api.files.(storage.Opener)
	if !ok || strings.ContainsAny(name, `/\`) {
		api.fail(w, r, apperrors.NotFound("file"))
		return
	}

	f, err := opener.Open(r.Context(), storage.AvatarPrefix(chi.URLParam(r, "userID"))+name)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
		api.fail(w, r, apperrors.NotFound("file"))
		return
	}
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	defer f.Close()

	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, name, time.Time{}, f)
}

// deleteFile removes a stored file, logging instead of failing the request.
func (api *Api) deleteFile(r *http.Request, key string) {
	ctx := context.WithoutCancel(r.Context())
	if err := api.files.Delete(ctx, key); err != nil {
		logger.FromContext(ctx).Warn("failed to delete stored file", "key", key, "error", err)
	}
}

func (api *Api) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := api.db.ListProjects(r.Context(), identity(r).UserID)
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	respond(w, http.StatusOK, "projects", envelope{"data": projects})
}

func (api *Api) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	p := models.NewProject(identity(r).UserID, strings.TrimSpace(req.Name), strings.TrimSpace(req.Description),
		models.ProjectType(orDefault(req.Type, string(models.ProjectWeb))), api.now())
	if err := api.db.CreateProject(r.Context(), p); err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	respond(w, http.StatusCreated, "project added", envelope{"data": p})
}

func (api *Api) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var req projectUpdateRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	p, err := api.db.GetProject(r.Context(), identity(r).UserID, chi.URLParam(r, "projectId"))
	if err != nil {
		api.fail(w, r, projectError(err))
		return
	}
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = strings.TrimSpace(*req.Description)
	}
	if req.Type != nil {
		p.Type = models.ProjectType(*req.Type)
	}
	if req.Status != nil {
		p.Status = models.ProjectStatus(*req.Status)
	}
	if req.Progress != nil {
		p.Progress = *req.Progress
	}

	if err := api.db.UpdateProject(r.Context(), p); err != nil {
		api.fail(w, r, projectError(err))
		return
	}
	respond(w, http.StatusOK, "project updated", envelope{"data": p})
}

func (api *Api) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := api.db.DeleteProject(r.Context(), identity(r).UserID, chi.URLParam(r, "projectId")); err != nil {
		api.fail(w, r, projectError(err))
		return
	}
	respond(w, http.StatusOK, "project deleted", nil)
}

func projectError(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperrors.NotFound("project")
	}
	return apperrors.Internal(err)
}

func (api *Api) UserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := api.analytics.ForUser(r.Context(), identity(r).User, queryInt(r, "period", 0))
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	respond(w, http.StatusOK, "user stats", envelope{"data": stats})
}

// DeleteAccount removes the caller's account, requests, projects and
// uploaded files.
func (api *Api) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	user := identity(r).User
	if !auth.CheckPassword(user.Password, req.Password) {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "password", Message: "password is incorrect"}))
		return
	}

	if err := api.db.DeleteUser(r.Context(), user.ID); err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if err := api.files.DeletePrefix(ctx, storage.UserRoot(user.ID)); err != nil {
		logger.FromContext(ctx).Error("failed to delete user files", "error", err)
	}
	logger.FromContext(ctx).Info("account deleted")
	respond(w, http.StatusOK, "account deleted", nil)
}
