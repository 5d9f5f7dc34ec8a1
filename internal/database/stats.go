package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ai-agency/agency/internal/models"
)

// TypeStats aggregates the requests of one type.
type TypeStats struct {
	Type              models.RequestType `json:"type"`
	Count             int                `json:"count"`
	Completed         int                `json:"completed"`
	Failed            int                `json:"failed"`
	AvgProcessingTime float64            `json:"avgProcessingTime"`
	MinProcessingTime int64              `json:"minProcessingTime"`
	MaxProcessingTime int64              `json:"maxProcessingTime"`
	TotalTokens       int64              `json:"totalTokens"`
	TotalCost         float64            `json:"totalCost"`
}

type UserCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	New    int `json:"new"`
}

type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type ActiveUser struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Plan     models.Plan `json:"plan"`
	Requests int         `json:"requests"`
}

// RequestPoint is the minimal projection used to build daily trends.
type RequestPoint struct {
	CreatedAt time.Time
	Status    models.RequestStatus
}

// RequestStatsByType aggregates non-archived requests created since the
// given time, optionally restricted to one user.
func (db *DB) RequestStatsByType(ctx context.Context, userID string, since time.Time) ([]TypeStats, error) {
	query := `SELECT type, COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN status = 'completed' THEN processing_time END),
			MIN(CASE WHEN status = 'completed' THEN processing_time END),
			MAX(CASE WHEN status = 'completed' THEN processing_time END),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(cost_estimate), 0)
		FROM ai_requests WHERE archived = ? AND created_at >= ?`
	args := []any{false, since}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` GROUP BY type ORDER BY COUNT(*) DESC, type`

	rows, err := db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate requests: %w", err)
	}
	defer rows.Close()

	stats := []TypeStats{}
	for rows.Next() {
		var (
			s            TypeStats
			avg          sql.NullFloat64
			minMs, maxMs sql.NullInt64
		)
		if err := rows.Scan(&s.Type, &s.Count, &s.Completed, &s.Failed, &avg, &minMs, &maxMs,
			&s.TotalTokens, &s.TotalCost); err != nil {
			return nil, fmt.Errorf("failed to scan request stats: %w", err)
		}
		s.AvgProcessingTime = avg.Float64
		s.MinProcessingTime = minMs.Int64
		s.MaxProcessingTime = maxMs.Int64
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// CountUsers counts all accounts, those that logged in since the given
// time, and those created since then.
func (db *DB) CountUsers(ctx context.Context, since time.Time) (UserCounts, error) {
	var c UserCounts
	err := db.queryRow(ctx, `SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN last_login >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM users`, since, since).Scan(&c.Total, &c.Active, &c.New)
	if err != nil {
		return c, fmt.Errorf("failed to count users: %w", err)
	}
	return c, nil
}

// CountUsersByPlan counts active accounts per subscription plan.
func (db *DB) CountUsersByPlan(ctx context.Context) (map[models.Plan]int, error) {
	rows, err := db.query(ctx, `SELECT plan, COUNT(*) FROM users WHERE is_active = ? GROUP BY plan`, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count plans: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Plan]int)
	for rows.Next() {
		var (
			plan  models.Plan
			count int
		)
		if err := rows.Scan(&plan, &count); err != nil {
			return nil, fmt.Errorf("failed to scan plan count: %w", err)
		}
		out[plan] = count
	}
	return out, rows.Err()
}

func (db *DB) RequestPoints(ctx context.Context, since time.Time) ([]RequestPoint, error) {
	rows, err := db.query(ctx, `SELECT created_at, status FROM ai_requests
		WHERE archived = ? AND created_at >= ? ORDER BY created_at`, false, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load request timeline: %w", err)
	}
	defer rows.Close()

	points := []RequestPoint{}
	for rows.Next() {
		var p RequestPoint
		if err := rows.Scan(&p.CreatedAt, &p.Status); err != nil {
			return nil, fmt.Errorf("failed to scan request point: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

func (db *DB) CommonErrors(ctx context.Context, since time.Time, limit int) ([]ErrorCount, error) {
	rows, err := db.query(ctx, `SELECT error_message, COUNT(*) FROM ai_requests
		WHERE status = ? AND created_at >= ? AND error_message <> ''
		GROUP BY error_message ORDER BY COUNT(*) DESC, error_message LIMIT ?`,
		models.StatusFailed, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate errors: %w", err)
	}
	defer rows.Close()

	out := []ErrorCount{}
	for rows.Next() {
		var e ErrorCount
		if err := rows.Scan(&e.Message, &e.Count); err != nil {
			return nil, fmt.Errorf("failed to scan error count: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MostActiveUsers ranks users by the number of requests made since the
// given time.
func (db *DB) MostActiveUsers(ctx context.Context, since time.Time, limit int) ([]ActiveUser, error) {
	rows, err := db.query(ctx, `SELECT u.id, u.name, u.email, u.plan, COUNT(r.id)
		FROM users u JOIN ai_requests r ON r.user_id = u.id
		WHERE r.created_at >= ?
		GROUP BY u.id, u.name, u.email, u.plan
		ORDER BY COUNT(r.id) DESC, u.id LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to rank users: %w", err)
	}
	defer rows.Close()

	out := []ActiveUser{}
	for rows.Next() {
		var u ActiveUser
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Plan, &u.Requests); err != nil {
			return nil, fmt.Errorf("failed to scan active user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UserRecord is the projection the date ranged user report is built from.
type UserRecord struct {
	Plan      models.Plan
	CreatedAt time.Time
	LastLogin *time.Time
}

// UsersCreatedBetween lists accounts created in [start, end], optionally
// restricted to one plan.
func (db *DB) UsersCreatedBetween(ctx context.Context, start, end time.Time, plan models.Plan) ([]UserRecord, error) {
	query := `SELECT plan, created_at, last_login FROM users WHERE created_at >= ? AND created_at <= ?`
	args := []any{start, end}
	if plan != "" {
		query += ` AND plan = ?`
		args = append(args, plan)
	}
	rows, err := db.query(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	defer rows.Close()

	out := []UserRecord{}
	for rows.Next() {
		var (
			u         UserRecord
			lastLogin sql.NullTime
		)
		if err := rows.Scan(&u.Plan, &u.CreatedAt, &lastLogin); err != nil {
			return nil, fmt.Errorf("failed to scan user record: %w", err)
		}
		u.CreatedAt = u.CreatedAt.UTC()
		u.LastLogin = timePtr(lastLogin)
		out = append(out, u)
	}
	return out, rows.Err()
}

// RequestRecord is the projection the date ranged request reports are
// built from.
type RequestRecord struct {
	Type           models.RequestType
	Status         models.RequestStatus
	CreatedAt      time.Time
	ProcessingTime int64
	TokensUsed     int
}

// RequestsBetween lists requests created in [start, end], archived ones
// included, optionally filtered by type and status.
func (db *DB) RequestsBetween(ctx context.Context, start, end time.Time, typ models.RequestType, status models.RequestStatus) ([]RequestRecord, error) {
	query := `SELECT type, status, created_at, processing_time, tokens_used FROM ai_requests
		WHERE created_at >= ? AND created_at <= ?`
	args := []any{start, end}
	if typ != "" {
		query += ` AND type = ?`
		args = append(args, typ)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	rows, err := db.query(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load requests: %w", err)
	}
	defer rows.Close()

	out := []RequestRecord{}
	for rows.Next() {
		var r RequestRecord
		if err := rows.Scan(&r.Type, &r.Status, &r.CreatedAt, &r.ProcessingTime, &r.TokensUsed); err != nil {
			return nil, fmt.Errorf("failed to scan request record: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
