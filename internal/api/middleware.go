package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/auth"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
)

// requestLogger attaches the chi request id to the context logger and logs
// one line per request once it has been served.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		// The auth gate stores the user id on a derived context, so it is
		// read back through this holder once the handler returns.
		holder := &userHolder{}
		ctx = context.WithValue(ctx, userHolderKey{}, holder)

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		}
		if holder.userID != "" {
			attrs = append(attrs, "user_id", holder.userID)
		}
		logger.FromContext(ctx).Info("http request", attrs...)
	})
}

type userHolderKey struct{}

type userHolder struct {
	userID string
}

// rememberUser records the authenticated user for the request log line.
func rememberUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := auth.IdentityFrom(r.Context()); ok {
			if h, ok := r.Context().Value(userHolderKey{}).(*userHolder); ok {
				h.userID = id.UserID
			}
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects callers that exceed the store's budget. Requests are
// keyed by the authenticated user when there is one, otherwise by IP.
func rateLimit(store *LimiterStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if id, ok := auth.IdentityFrom(r.Context()); ok {
				key = "user:" + id.UserID
			}

			ok, wait := store.Allow(key)
			if !ok {
				seconds := int(math.Ceil(wait.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				apperrors.WriteError(w, r, apperrors.New(apperrors.CodeRateLimited,
					fmt.Sprintf("too many requests, try again in %d seconds", seconds)).
					With("retryAfter", seconds), true)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the caller's address without the port. RealIP has
// already replaced RemoteAddr when a proxy header was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// userLookup adapts the database to the lookup the auth and quota gates
// use, translating its not-found error.
func userLookup(db *database.DB) auth.UserLookup {
	return auth.UserLookupFunc(func(ctx context.Context, id string) (*models.User, error) {
		u, err := db.GetUserByID(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			return nil, auth.ErrUserNotFound
		}
		return u, err
	})
}
