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

const userColumns = `id, name, email, password, role, avatar, bio, language, theme, notifications,
	plan, start_date, end_date, ai_requests, used_requests, file_uploads, used_uploads,
	last_login, login_count, total_requests, is_active, is_verified, created_at, updated_at,
	privacy, ai_settings, avatar_key`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                   models.User
		lastLogin           sql.NullTime
		privacy, aiSettings string
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Password, &u.Role,
		&u.Profile.Avatar, &u.Profile.Bio, &u.Profile.Preferences.Language,
		&u.Profile.Preferences.Theme, &u.Profile.Preferences.Notifications,
		&u.Subscription.Plan, &u.Subscription.StartDate, &u.Subscription.EndDate,
		&u.Subscription.Features.AIRequests, &u.Subscription.Features.UsedRequests,
		&u.Subscription.Features.FileUploads, &u.Subscription.Features.UsedUploads,
		&lastLogin, &u.Activity.LoginCount, &u.Activity.TotalRequests,
		&u.IsActive, &u.IsVerified, &u.CreatedAt, &u.UpdatedAt,
		&privacy, &aiSettings, &u.Profile.AvatarKey,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeSetting(privacy, &u.Profile.Preferences.Privacy); err != nil {
		return nil, err
	}
	if err := decodeSetting(aiSettings, &u.Profile.Preferences.AISettings); err != nil {
		return nil, err
	}
	u.Activity.LastLogin = timePtr(lastLogin)
	u.Subscription.StartDate = u.Subscription.StartDate.UTC()
	u.Subscription.EndDate = u.Subscription.EndDate.UTC()
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	u.Projects = []models.Project{}
	return &u, nil
}

func decodeSetting(raw string, v any) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode user settings: %w", err)
	}
	return nil
}

func encodeSettings(p models.Preferences) (string, string, error) {
	privacy, err := json.Marshal(p.Privacy)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode privacy settings: %w", err)
	}
	ai, err := json.Marshal(p.AISettings)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode ai settings: %w", err)
	}
	return string(privacy), string(ai), nil
}

// CreateUser inserts a new account. A taken email yields ErrDuplicateEmail.
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	privacy, aiSettings, err := encodeSettings(u.Profile.Preferences)
	if err != nil {
		return err
	}
	_, err = db.exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, u.Password, u.Role,
		u.Profile.Avatar, u.Profile.Bio, u.Profile.Preferences.Language,
		u.Profile.Preferences.Theme, u.Profile.Preferences.Notifications,
		u.Subscription.Plan, u.Subscription.StartDate, u.Subscription.EndDate,
		u.Subscription.Features.AIRequests, u.Subscription.Features.UsedRequests,
		u.Subscription.Features.FileUploads, u.Subscription.Features.UsedUploads,
		nullTime(u.Activity.LastLogin), u.Activity.LoginCount, u.Activity.TotalRequests,
		u.IsActive, u.IsVerified, u.CreatedAt, u.UpdatedAt,
		privacy, aiSettings, u.Profile.AvatarKey,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID loads a user together with its projects.
func (db *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	u, err := scanUser(db.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	projects, err := db.ListProjects(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Projects = projects
	return u, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(db.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, models.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// UpdateProfile writes the user-editable fields, preferences and avatar
// included. Last write wins.
func (db *DB) UpdateProfile(ctx context.Context, u *models.User) error {
	privacy, aiSettings, err := encodeSettings(u.Profile.Preferences)
	if err != nil {
		return err
	}
	u.UpdatedAt = db.now()
	res, err := db.exec(ctx, `UPDATE users SET name = ?, bio = ?, avatar = ?, avatar_key = ?, language = ?, theme = ?,
		notifications = ?, privacy = ?, ai_settings = ?, updated_at = ? WHERE id = ?`,
		u.Name, u.Profile.Bio, u.Profile.Avatar, u.Profile.AvatarKey, u.Profile.Preferences.Language,
		u.Profile.Preferences.Theme, u.Profile.Preferences.Notifications, privacy, aiSettings, u.UpdatedAt, u.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return expectOne(res)
}

func (db *DB) UpdatePassword(ctx context.Context, userID, hash string) error {
	res, err := db.exec(ctx, `UPDATE users SET password = ?, updated_at = ? WHERE id = ?`, hash, db.now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectOne(res)
}

func (db *DB) RecordLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := db.exec(ctx, `UPDATE users SET last_login = ?, login_count = login_count + 1, updated_at = ?
		WHERE id = ?`, at, at, userID)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return expectOne(res)
}

// UpdateSubscription replaces the plan, period and quotas while keeping the
// usage counters.
func (db *DB) UpdateSubscription(ctx context.Context, userID string, sub models.Subscription) error {
	return db.UpdateAccount(ctx, userID, AccountUpdate{Subscription: &sub})
}

func (db *DB) SetRole(ctx context.Context, userID string, role models.Role) error {
	return db.UpdateAccount(ctx, userID, AccountUpdate{Role: &role})
}

func (db *DB) SetActive(ctx context.Context, userID string, active bool) error {
	return db.UpdateAccount(ctx, userID, AccountUpdate{Active: &active})
}

// AccountUpdate is an administrative change to an account. Nil fields are
// left alone.
type AccountUpdate struct {
	Subscription *models.Subscription
	Role         *models.Role
	Active       *bool
}

// UpdateAccount applies u in a single statement. Usage counters survive a
// plan change.
func (db *DB) UpdateAccount(ctx context.Context, userID string, u AccountUpdate) error {
	var (
		sets []string
		args []any
	)
	if sub := u.Subscription; sub != nil {
		sets = append(sets, "plan = ?", "start_date = ?", "end_date = ?", "ai_requests = ?", "file_uploads = ?")
		args = append(args, sub.Plan, sub.StartDate, sub.EndDate, sub.Features.AIRequests, sub.Features.FileUploads)
	}
	if u.Role != nil {
		if !u.Role.Valid() {
			return fmt.Errorf("invalid role %q", *u.Role)
		}
		sets = append(sets, "role = ?")
		args = append(args, *u.Role)
	}
	if u.Active != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *u.Active)
	}
	if len(sets) == 0 {
		return errors.New("account update is empty")
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, db.now(), userID)
	res, err := db.exec(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return expectOne(res)
}

// ConsumeRequest atomically reserves one request from the user's monthly
// quota. It returns ErrQuotaExceeded when the quota is already used up, so
// concurrent callers can never push usage past the limit.
func (db *DB) ConsumeRequest(ctx context.Context, userID string) error {
	res, err := db.exec(ctx, `UPDATE users
		SET used_requests = used_requests + 1, total_requests = total_requests + 1, updated_at = ?
		WHERE id = ? AND (plan = 'enterprise' OR ai_requests < 0 OR used_requests < ai_requests)`,
		db.now(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to consume request quota: %w", err)
	}
	return db.quotaResult(ctx, res, userID)
}

// ConsumeUpload is ConsumeRequest for the file upload quota.
func (db *DB) ConsumeUpload(ctx context.Context, userID string) error {
	res, err := db.exec(ctx, `UPDATE users SET used_uploads = used_uploads + 1, updated_at = ?
		WHERE id = ? AND (plan = 'enterprise' OR file_uploads < 0 OR used_uploads < file_uploads)`,
		db.now(), userID,
	)
	if err != nil {
		return fmt.Errorf("failed to consume upload quota: %w", err)
	}
	return db.quotaResult(ctx, res, userID)
}

func (db *DB) quotaResult(ctx context.Context, res sql.Result, userID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = db.queryRow(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	return ErrQuotaExceeded
}

// ResetUsage zeroes the monthly counters of one user, or of every user
// when userID is empty, and returns how many accounts were reset.
func (db *DB) ResetUsage(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE users SET used_requests = 0, used_uploads = 0, updated_at = ?`
	args := []any{db.now()}
	if userID != "" {
		query += ` WHERE id = ?`
		args = append(args, userID)
	}

	res, err := db.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if userID != "" && n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

// DeleteUser removes the account. Projects, requests and shares go with it
// through the foreign keys; the explicit deletes cover databases where
// cascades are disabled.
func (db *DB) DeleteUser(ctx context.Context, userID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			`DELETE FROM request_shares WHERE user_id = ? OR request_id IN (SELECT id FROM ai_requests WHERE user_id = ?)`,
			`DELETE FROM ai_requests WHERE user_id = ?`,
			`DELETE FROM projects WHERE user_id = ?`,
		}
		for i, stmt := range stmts {
			args := []any{userID}
			if i == 0 {
				args = append(args, userID)
			}
			if _, err := tx.ExecContext(ctx, db.rebind(stmt), args...); err != nil {
				return fmt.Errorf("failed to delete user data: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM users WHERE id = ?`), userID)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return expectOne(res)
	})
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
