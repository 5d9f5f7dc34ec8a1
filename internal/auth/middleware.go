package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
)

type contextKey string

const identityKey contextKey = "identity"

// ErrUserNotFound is what a UserLookup returns for unknown ids.
var ErrUserNotFound = errors.New("user not found")

// UserLookup loads the current state of an account.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// UserLookupFunc adapts a function to UserLookup.
type UserLookupFunc func(ctx context.Context, id string) (*models.User, error)

func (f UserLookupFunc) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return f(ctx, id)
}

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID string
	Email  string
	Role   models.Role
	User   *models.User
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok && id != nil
}

// TokenFromRequest reads the bearer token from the Authorization header or,
// failing that, from the x-auth-token header.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("x-auth-token"))
}

// Middleware is the authentication gate. It verifies the token, reloads the
// account and rejects missing or inactive users before attaching the
// caller's Identity to the context.
func Middleware(tm *TokenManager, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authenticate(r, tm, users)
			if err != nil {
				apperrors.WriteError(w, r, err, true)
				return
			}

			ctx := WithIdentity(r.Context(), id)
			ctx = logger.WithUserID(ctx, id.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func authenticate(r *http.Request, tm *TokenManager, users UserLookup) (*Identity, error) {
	raw := TokenFromRequest(r)
	if raw == "" {
		return nil, apperrors.New(apperrors.CodeUnauthenticated, "no token, access denied")
	}

	claims, err := tm.ValidateToken(raw)
	switch {
	case errors.Is(err, ErrExpiredToken):
		return nil, apperrors.New(apperrors.CodeTokenExpired, "token has expired")
	case err != nil:
		return nil, apperrors.New(apperrors.CodeInvalidToken, "invalid token")
	}

	user, err := users.GetUserByID(r.Context(), claims.UserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, apperrors.New(apperrors.CodeInvalidToken, "invalid token, user not found")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !user.IsActive {
		return nil, apperrors.New(apperrors.CodeAccountInactive, "account is deactivated")
	}

	return &Identity{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		User:   user,
	}, nil
}

// RequireRole rejects callers whose role is not listed. It must run after
// Middleware.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				apperrors.WriteError(w, r, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"), true)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			apperrors.WriteError(w, r, apperrors.Forbidden("insufficient permissions"), true)
		})
	}
}
