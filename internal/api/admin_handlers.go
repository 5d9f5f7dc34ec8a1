package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ai-agency/agency/internal/analytics"
	"github.com/ai-agency/agency/internal/apperrors"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
)

type resetUsageRequest struct {
	UserID string `json:"userId" validate:"omitempty,uuid"`
}

type accountRequest struct {
	Plan     *string `json:"plan" validate:"omitempty,oneof=free basic premium enterprise pro"`
	Role     *string `json:"role" validate:"omitempty,oneof=user moderator admin"`
	IsActive *bool   `json:"isActive"`
}

type reportRequest struct {
	StartDate  string        `json:"startDate" validate:"required"`
	EndDate    string        `json:"endDate" validate:"required"`
	ReportType string        `json:"reportType" validate:"required,oneof=users requests performance"`
	Filters    reportFilters `json:"filters"`
}

type reportFilters struct {
	Plan   string `json:"plan" validate:"omitempty,oneof=free basic premium enterprise pro"`
	Type   string `json:"type" validate:"omitempty,oneof=chat file_analysis code_generation job_search automation data_analysis translation content_creation image_generation voice_processing"`
	Status string `json:"status" validate:"omitempty,oneof=pending processing completed failed cancelled"`
}

func (api *Api) SystemAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := api.analytics.System(r.Context(), queryInt(r, "period", 0))
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	respond(w, http.StatusOK, "system analytics", envelope{"data": report})
}

func (api *Api) PerformanceAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := api.analytics.Performance(r.Context(), queryInt(r, "period", 0))
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	respond(w, http.StatusOK, "performance analytics", envelope{"data": report})
}

func (api *Api) ActiveUsers(w http.ResponseWriter, r *http.Request) {
	report, err := api.analytics.ActiveUsers(r.Context(), queryInt(r, "period", 0), queryInt(r, "limit", 0))
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	respond(w, http.StatusOK, "active users", envelope{"data": report})
}

// ResetUsage starts a new usage month for one user, or for everyone when
// no userId is given. Running it twice has the same effect as once.
func (api *Api) ResetUsage(w http.ResponseWriter, r *http.Request) {
	var req resetUsageRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	n, err := api.db.ResetUsage(r.Context(), req.UserID)
	if errors.Is(err, database.ErrNotFound) {
		api.fail(w, r, apperrors.NotFound("user"))
		return
	}
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	logger.FromContext(r.Context()).Info("usage reset", "target", req.UserID, "accounts", n)
	respond(w, http.StatusOK, "usage reset", envelope{"data": envelope{"accounts": n}})
}

// UpdateUser changes the plan, role or active flag of an account. A plan
// change starts a fresh subscription period with that plan's features and
// keeps the usage counters. Admins cannot demote or deactivate themselves.
func (api *Api) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}
	if req.Plan == nil && req.Role == nil && req.IsActive == nil {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "plan", Message: "one of plan, role or isActive is required"}))
		return
	}

	targetID := chi.URLParam(r, "id")
	if targetID == identity(r).UserID {
		if req.Role != nil && models.Role(*req.Role) != models.RoleAdmin {
			api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "role", Message: "you cannot change your own role"}))
			return
		}
		if req.IsActive != nil && !*req.IsActive {
			api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "isActive", Message: "you cannot deactivate your own account"}))
			return
		}
	}

	var update database.AccountUpdate
	if req.Plan != nil {
		plan, _ := models.ParsePlan(*req.Plan)
		sub := api.catalog.Subscribe(plan, api.now())
		update.Subscription = &sub
	}
	if req.Role != nil {
		role := models.Role(*req.Role)
		update.Role = &role
	}
	update.Active = req.IsActive

	if err := api.db.UpdateAccount(r.Context(), targetID, update); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			api.fail(w, r, apperrors.NotFound("user"))
			return
		}
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	user, err := api.db.GetUserByID(r.Context(), targetID)
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}

	logger.FromContext(r.Context()).Info("account updated", "target", targetID,
		"plan", user.Subscription.Plan, "role", user.Role, "active", user.IsActive)
	respond(w, http.StatusOK, "account updated", envelope{"data": user})
}

// Report builds a users, requests or performance report over a date range.
// Dates are RFC 3339 timestamps or plain days; a plain end day runs to its
// last instant.
func (api *Api) Report(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := api.decode(w, r, &req); err != nil {
		api.fail(w, r, err)
		return
	}

	start, ok := parseReportDate(req.StartDate, false)
	if !ok {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "startDate", Message: "startDate must be a valid date"}))
		return
	}
	end, ok := parseReportDate(req.EndDate, true)
	if !ok {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "endDate", Message: "endDate must be a valid date"}))
		return
	}

	q := analytics.ReportQuery{
		Type:        analytics.ReportType(req.ReportType),
		Start:       start,
		End:         end,
		RequestType: models.RequestType(req.Filters.Type),
		Status:      models.RequestStatus(req.Filters.Status),
	}
	if req.Filters.Plan != "" {
		q.Plan, _ = models.ParsePlan(req.Filters.Plan)
	}

	report, err := api.analytics.Report(r.Context(), q)
	if errors.Is(err, analytics.ErrInvalidRange) {
		api.fail(w, r, apperrors.Validation(apperrors.FieldError{Field: "endDate", Message: err.Error()}))
		return
	}
	if err != nil {
		api.fail(w, r, apperrors.Internal(err))
		return
	}
	respond(w, http.StatusOK, "report generated", envelope{"data": report})
}

func parseReportDate(s string, endOfDay bool) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, true
}
