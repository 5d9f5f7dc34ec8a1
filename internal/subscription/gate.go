package subscription

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/auth"
	"github.com/ai-agency/agency/internal/models"
)

type contextKey struct{}

// FromContext returns the subscription snapshot taken by Gate.
func FromContext(ctx context.Context) (models.Subscription, bool) {
	s, ok := ctx.Value(contextKey{}).(models.Subscription)
	return s, ok
}

// Check reports why a user may not make another AI request, or nil.
func Check(user *models.User, now time.Time) error {
	sub := user.Subscription
	if sub.IsExpired(now) {
		return apperrors.New(apperrors.CodeSubscriptionExpired, "subscription has expired, please renew").
			With("plan", sub.Plan).
			With("endDate", sub.EndDate)
	}
	if !sub.CanMakeRequest() {
		return LimitExceeded(sub)
	}
	return nil
}

// LimitExceeded builds the 429 returned when the monthly quota is used up.
func LimitExceeded(sub models.Subscription) *apperrors.AppError {
	return apperrors.New(apperrors.CodeLimitExceeded, "monthly AI request limit reached, upgrade your plan for more").
		With("limits", sub.Limits()).
		With("plan", sub.Plan)
}

// Gate rejects callers with an expired subscription or an exhausted quota.
// It reads fresh account state but never consumes quota; reservation
// happens when the request is processed.
func Gate(users auth.UserLookup, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFrom(r.Context())
			if !ok {
				apperrors.WriteError(w, r, apperrors.ErrUnauthorized, true)
				return
			}

			user, err := users.GetUserByID(r.Context(), id.UserID)
			if errors.Is(err, auth.ErrUserNotFound) {
				apperrors.WriteError(w, r, apperrors.NotFound("user"), true)
				return
			}
			if err != nil {
				apperrors.WriteError(w, r, apperrors.Internal(err), true)
				return
			}

			if err := Check(user, now().UTC()); err != nil {
				apperrors.WriteError(w, r, err, true)
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, user.Subscription)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePlan rejects callers whose plan ranks below min.
func RequirePlan(min models.Plan) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFrom(r.Context())
			if !ok {
				apperrors.WriteError(w, r, apperrors.ErrUnauthorized, true)
				return
			}

			var plan models.Plan
			if sub, ok := FromContext(r.Context()); ok {
				plan = sub.Plan
			} else if id.User != nil {
				plan = id.User.Subscription.Plan
			}
			if !plan.AtLeast(min) {
				apperrors.WriteError(w, r, apperrors.New(apperrors.CodeUpgradeRequired, "this feature requires a higher plan").
					With("currentPlan", plan).
					With("requiredPlan", min), true)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
