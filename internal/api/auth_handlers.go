package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/auth"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/mailer"
	"github.com/ai-agency/agency/internal/models"
)

type registerRequest struct {
	Name     string `json:"name" validate:"notblank,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,max=72"`
}

// Register creates a free account. Any role in the body is ignored.
func (api *Api) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	hash, err := api.hashPassword("password", req.Password)
	if err != nil {
		api.fail(w, r, err)
		return
	}

	user := models.NewUser(req.Name, req.Email, hash, api.catalog.Quota(models.PlanFree), api.now())
	if err := api.db.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			api.fail(w, r, apperrors.New(apperrors.CodeConflict, "email is already registered").
				With("errors", []apperrors.FieldError{{Field: "email", Message: "email is already registered"}}))
			return
		}
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	token, expires, err := api.tokens.GenerateToken(user)
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	mailer.SendWelcome(context.WithoutCancel(r.Context()), api.mail, user)

	respond(w, http.StatusCreated, "account created", envelope{
		"token":     token,
		"expiresAt": expires,
		"user":      user,
	})
}

func (api *Api) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	invalid := apperrors.BadRequest("invalid email or password")
	user, err := api.db.GetUserByEmail(r.Context(), req.Email)
	if errors.Is(err, database.ErrNotFound) {
		api.fail(w, r, invalid)
		return
	}
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	if !auth.CheckPassword(user.Password, req.Password) {
		api.fail(w, r, invalid)
		return
	}
	if !user.IsActive {
		api.fail(w, r, apperrors.New(apperrors.CodeAccountInactive, "account is deactivated"))
		return
	}

	now := api.now()
	if err := api.db.RecordLogin(r.Context(), user.ID, now); err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	user.RecordLogin(now)

	token, expires, err := api.tokens.GenerateToken(user)
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	respond(w, http.StatusOK, "logged in", envelope{
		"token":     token,
		"expiresAt": expires,
		"user":      user,
	})
}

func (api *Api) Me(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "current user", envelope{"user": identity(r).User})
}

// Logout only acknowledges; tokens are stateless and expire on their own.
func (api *Api) Logout(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, "logged out", nil)
}

func (api *Api) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	user := identity(r).User
	if !auth.CheckPassword(user.Password, req.CurrentPassword) {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{
			Field:   "currentPassword",
			Message: "current password is incorrect",
		}))
		return
	}

	hash, err := api.hashPassword("newPassword", req.NewPassword)
	if err != nil {
		api.fail(w, r, err)
		return
	}
	if err := api.db.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	respond(w, http.StatusOK, "password changed", nil)
}

func (api *Api) hashPassword(field, password string) (string, error) {
	hash, err := auth.HashPassword(password, api.Config.Security.BcryptCost)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return "", apperrors.Validation(apperrors.FieldError{Field: field, Message: err.Error()})
	}
	if err != nil {
		return "", apperrors.Internal(err)
	}
	return hash, nil
}
