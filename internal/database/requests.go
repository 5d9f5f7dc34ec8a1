package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ai-agency/agency/internal/models"
)

const requestColumns = `id, user_id, type, input, output, status, error_message, priority,
	started_at, completed_at, processing_time, retry_count, last_retry_at,
	tokens_used, cost_estimate, model_used, api_calls,
	feedback_rating, feedback_comment, feedback_helpful, feedback_at,
	user_agent, ip_address, request_source, tags, is_public, public_url,
	archived, archived_at, created_at, updated_at`

// RequestFilter narrows ListRequests. Zero values mean "any".
type RequestFilter struct {
	UserID          string
	Type            models.RequestType
	Status          models.RequestStatus
	Query           string
	Since           time.Time
	IncludeArchived bool
	Page            int
	Limit           int
}

func scanRequest(row rowScanner) (*models.AIRequest, error) {
	var (
		r                                   models.AIRequest
		input, tags                         string
		output, fbComment                   sql.NullString
		startedAt, completedAt, lastRetryAt sql.NullTime
		fbAt, archivedAt                    sql.NullTime
		fbRating                            sql.NullInt64
		fbHelpful                           sql.NullBool
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.Type, &input, &output, &r.Status, &r.ErrorMessage, &r.Priority,
		&startedAt, &completedAt, &r.Processing.ProcessingTime, &r.Processing.RetryCount, &lastRetryAt,
		&r.Usage.TokensUsed, &r.Usage.CostEstimate, &r.Usage.ModelUsed, &r.Usage.APICalls,
		&fbRating, &fbComment, &fbHelpful, &fbAt,
		&r.Metadata.UserAgent, &r.Metadata.IPAddress, &r.Metadata.RequestSource, &tags,
		&r.Shared.IsPublic, &r.Shared.PublicURL, &r.Archived, &archivedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Input = json.RawMessage(input)
	if output.Valid && output.String != "" {
		r.Output = json.RawMessage(output.String)
	}
	r.Processing.StartedAt = timePtr(startedAt)
	r.Processing.CompletedAt = timePtr(completedAt)
	r.Processing.LastRetryAt = timePtr(lastRetryAt)
	r.ArchivedAt = timePtr(archivedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()

	if fbRating.Valid {
		fb := &models.Feedback{Rating: int(fbRating.Int64), Comment: fbComment.String}
		if fbHelpful.Valid {
			h := fbHelpful.Bool
			fb.Helpful = &h
		}
		if fbAt.Valid {
			fb.SubmittedAt = fbAt.Time.UTC()
		}
		r.Feedback = fb
	}

	r.Tags = []string{}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	r.Shared.SharedWith = []models.Share{}
	return &r, nil
}

func requestArgs(r *models.AIRequest) ([]any, error) {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}

	var output sql.NullString
	if len(r.Output) > 0 {
		output = sql.NullString{String: string(r.Output), Valid: true}
	}

	var (
		fbRating  sql.NullInt64
		fbComment sql.NullString
		fbHelpful sql.NullBool
		fbAt      sql.NullTime
	)
	if fb := r.Feedback; fb != nil {
		fbRating = sql.NullInt64{Int64: int64(fb.Rating), Valid: true}
		fbComment = sql.NullString{String: fb.Comment, Valid: true}
		if fb.Helpful != nil {
			fbHelpful = sql.NullBool{Bool: *fb.Helpful, Valid: true}
		}
		fbAt = sql.NullTime{Time: fb.SubmittedAt, Valid: true}
	}

	return []any{
		r.ID, r.UserID, r.Type, string(r.Input), output, r.Status, r.ErrorMessage, r.Priority,
		nullTime(r.Processing.StartedAt), nullTime(r.Processing.CompletedAt), r.Processing.ProcessingTime,
		r.Processing.RetryCount, nullTime(r.Processing.LastRetryAt),
		r.Usage.TokensUsed, r.Usage.CostEstimate, r.Usage.ModelUsed, r.Usage.APICalls,
		fbRating, fbComment, fbHelpful, fbAt,
		r.Metadata.UserAgent, r.Metadata.IPAddress, r.Metadata.RequestSource, string(tagJSON),
		r.Shared.IsPublic, r.Shared.PublicURL, r.Archived, nullTime(r.ArchivedAt), r.CreatedAt, r.UpdatedAt,
	}, nil
}

// CreateRequest inserts a new AI request after checking its invariants.
func (db *DB) CreateRequest(ctx context.Context, r *models.AIRequest) error {
	if err := r.Validate(); err != nil {
		return err
	}
	args, err := requestArgs(r)
	if err != nil {
		return err
	}

	args = append(args, r.SearchText())
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	if _, err := db.exec(ctx, `INSERT INTO ai_requests (`+requestColumns+`, search_text) VALUES (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

// UpdateRequest writes every mutable column of r and replaces its share
// list. The owner is never changed.
func (db *DB) UpdateRequest(ctx context.Context, r *models.AIRequest) error {
	if err := r.Validate(); err != nil {
		return err
	}
	args, err := requestArgs(r)
	if err != nil {
		return err
	}

	// args[0] is the id and args[1] the owner; both are fixed.
	update := append(args[2:], r.SearchText(), r.ID, r.UserID)
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, db.rebind(`UPDATE ai_requests SET
			type = ?, input = ?, output = ?, status = ?, error_message = ?, priority = ?,
			started_at = ?, completed_at = ?, processing_time = ?, retry_count = ?, last_retry_at = ?,
			tokens_used = ?, cost_estimate = ?, model_used = ?, api_calls = ?,
			feedback_rating = ?, feedback_comment = ?, feedback_helpful = ?, feedback_at = ?,
			user_agent = ?, ip_address = ?, request_source = ?, tags = ?, is_public = ?, public_url = ?,
			archived = ?, archived_at = ?, created_at = ?, updated_at = ?, search_text = ?
			WHERE id = ? AND user_id = ?`), update...)
		if err != nil {
			return fmt.Errorf("failed to update request: %w", err)
		}
		if err := expectOne(res); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM request_shares WHERE request_id = ?`), r.ID); err != nil {
			return fmt.Errorf("failed to clear shares: %w", err)
		}
		for _, s := range r.Shared.SharedWith {
			if _, err := tx.ExecContext(ctx, db.rebind(`INSERT INTO request_shares (request_id, user_id, permission, shared_at)
				VALUES (?, ?, ?, ?)`), r.ID, s.UserID, s.Permission, s.SharedAt); err != nil {
				return fmt.Errorf("failed to save share: %w", err)
			}
		}
		return nil
	})
}

// GetRequest loads one request with its shares. Archived requests are
// reported as missing unless includeArchived is set.
func (db *DB) GetRequest(ctx context.Context, id string, includeArchived bool) (*models.AIRequest, error) {
	r, err := scanRequest(db.queryRow(ctx, `SELECT `+requestColumns+` FROM ai_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	if r.Archived && !includeArchived {
		return nil, ErrNotFound
	}

	shares, err := db.listShares(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Shared.SharedWith = shares
	return r, nil
}

func (db *DB) listShares(ctx context.Context, requestID string) ([]models.Share, error) {
	rows, err := db.query(ctx, `SELECT user_id, permission, shared_at FROM request_shares
		WHERE request_id = ? ORDER BY shared_at, user_id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	shares := []models.Share{}
	for rows.Next() {
		var s models.Share
		if err := rows.Scan(&s.UserID, &s.Permission, &s.SharedAt); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		s.SharedAt = s.SharedAt.UTC()
		shares = append(shares, s)
	}
	return shares, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (f RequestFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		clauses = append(clauses, `search_text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+likeEscaper.Replace(strings.ToLower(q))+"%")
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived = ?")
		args = append(args, false)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListRequests returns one page of requests, newest first, and the total
// number of matches.
func (db *DB) ListRequests(ctx context.Context, f RequestFilter) ([]*models.AIRequest, int, error) {
	if f.Limit <= 0 {
		f.Limit = 10
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	where, args := f.where()

	var total int
	if err := db.queryRow(ctx, `SELECT COUNT(*) FROM ai_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	pageArgs := append(append([]any{}, args...), f.Limit, (f.Page-1)*f.Limit)
	rows, err := db.query(ctx, `SELECT `+requestColumns+` FROM ai_requests`+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	requests := []*models.AIRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, total, rows.Err()
}

// RecentRequests returns the user's newest non-archived requests.
func (db *DB) RecentRequests(ctx context.Context, userID string, limit int) ([]*models.AIRequest, error) {
	requests, _, err := db.ListRequests(ctx, RequestFilter{UserID: userID, Limit: limit})
	return requests, err
}

// SweepStuck fails requests that have been processing since before cutoff,
// which happens when the process dies mid generation.
func (db *DB) SweepStuck(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	now := db.now()
	res, err := db.exec(ctx, `UPDATE ai_requests SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND started_at < ?`,
		models.StatusFailed, message, now, now, models.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stuck requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}
