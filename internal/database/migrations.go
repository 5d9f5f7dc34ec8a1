package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
	// Backfill runs after SQL inside the same transaction.
	Backfill func(ctx context.Context, tx *sql.Tx, rebind func(string) string) error
}

var columnTypes = map[string]*strings.Replacer{
	TypeSQLite: strings.NewReplacer(
		"{{TIMESTAMP}}", "TIMESTAMP",
		"{{FLOAT}}", "REAL",
		"{{BOOL_FALSE}}", "0",
		"{{BOOL_TRUE}}", "1",
	),
	TypePostgres: strings.NewReplacer(
		"{{TIMESTAMP}}", "TIMESTAMP WITH TIME ZONE",
		"{{FLOAT}}", "DOUBLE PRECISION",
		"{{BOOL_FALSE}}", "FALSE",
		"{{BOOL_TRUE}}", "TRUE",
	),
}

// GetMigrations returns the schema migrations rendered for dbType.
func GetMigrations(dbType string) []Migration {
	r, ok := columnTypes[dbType]
	if !ok {
		r = columnTypes[TypeSQLite]
	}

	out := make([]Migration, len(migrations))
	for i, m := range migrations {
		out[i] = Migration{Version: m.Version, Description: m.Description, SQL: r.Replace(m.SQL), Backfill: m.Backfill}
	}
	return out
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Create users table",
		SQL: `CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(50) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			password VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL DEFAULT 'user',
			avatar TEXT NOT NULL DEFAULT '',
			bio VARCHAR(500) NOT NULL DEFAULT '',
			language VARCHAR(5) NOT NULL DEFAULT 'ar',
			theme VARCHAR(10) NOT NULL DEFAULT 'light',
			notifications BOOLEAN NOT NULL DEFAULT {{BOOL_TRUE}},
			plan VARCHAR(20) NOT NULL DEFAULT 'free',
			start_date {{TIMESTAMP}} NOT NULL,
			end_date {{TIMESTAMP}} NOT NULL,
			ai_requests INTEGER NOT NULL,
			used_requests INTEGER NOT NULL DEFAULT 0,
			file_uploads INTEGER NOT NULL,
			used_uploads INTEGER NOT NULL DEFAULT 0,
			last_login {{TIMESTAMP}},
			login_count INTEGER NOT NULL DEFAULT 0,
			total_requests INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT {{BOOL_TRUE}},
			is_verified BOOLEAN NOT NULL DEFAULT {{BOOL_FALSE}},
			created_at {{TIMESTAMP}} NOT NULL,
			updated_at {{TIMESTAMP}} NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_users_plan ON users(plan);
		CREATE INDEX IF NOT EXISTS idx_users_active ON users(is_active)`,
	},
	{
		Version:     2,
		Description: "Create projects table",
		SQL: `CREATE TABLE IF NOT EXISTS projects (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(100) NOT NULL,
			description VARCHAR(500) NOT NULL DEFAULT '',
			type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'planning',
			progress INTEGER NOT NULL DEFAULT 0,
			created_at {{TIMESTAMP}} NOT NULL,
			updated_at {{TIMESTAMP}} NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id, created_at)`,
	},
	{
		Version:     3,
		Description: "Create ai_requests table",
		SQL: `CREATE TABLE IF NOT EXISTS ai_requests (
			id VARCHAR(36) PRIMARY KEY,
			user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			type VARCHAR(30) NOT NULL,
			input TEXT NOT NULL,
			output TEXT,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			error_message TEXT NOT NULL DEFAULT '',
			priority VARCHAR(10) NOT NULL DEFAULT 'normal',
			started_at {{TIMESTAMP}},
			completed_at {{TIMESTAMP}},
			processing_time BIGINT NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_retry_at {{TIMESTAMP}},
			tokens_used INTEGER NOT NULL DEFAULT 0,
			cost_estimate {{FLOAT}} NOT NULL DEFAULT 0,
			model_used VARCHAR(100) NOT NULL DEFAULT '',
			api_calls INTEGER NOT NULL DEFAULT 0,
			feedback_rating INTEGER,
			feedback_comment TEXT,
			feedback_helpful BOOLEAN,
			feedback_at {{TIMESTAMP}},
			user_agent TEXT NOT NULL DEFAULT '',
			ip_address VARCHAR(64) NOT NULL DEFAULT '',
			request_source VARCHAR(10) NOT NULL DEFAULT 'web',
			tags TEXT NOT NULL DEFAULT '[]',
			is_public BOOLEAN NOT NULL DEFAULT {{BOOL_FALSE}},
			public_url TEXT NOT NULL DEFAULT '',
			archived BOOLEAN NOT NULL DEFAULT {{BOOL_FALSE}},
			archived_at {{TIMESTAMP}},
			created_at {{TIMESTAMP}} NOT NULL,
			updated_at {{TIMESTAMP}} NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_ai_requests_user_created ON ai_requests(user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_ai_requests_type_status ON ai_requests(type, status);
		CREATE INDEX IF NOT EXISTS idx_ai_requests_status_priority ON ai_requests(status, priority, created_at);
		CREATE INDEX IF NOT EXISTS idx_ai_requests_archived ON ai_requests(archived, created_at)`,
	},
	{
		Version:     4,
		Description: "Create request_shares table",
		SQL: `CREATE TABLE IF NOT EXISTS request_shares (
			request_id VARCHAR(36) NOT NULL REFERENCES ai_requests(id) ON DELETE CASCADE,
			user_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			permission VARCHAR(10) NOT NULL DEFAULT 'view',
			shared_at {{TIMESTAMP}} NOT NULL,
			PRIMARY KEY (request_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_request_shares_user ON request_shares(user_id)`,
	},
	{
		Version:     5,
		Description: "Add user settings, avatar key and request search text",
		SQL: `ALTER TABLE users ADD COLUMN privacy TEXT NOT NULL DEFAULT '{}';
		ALTER TABLE users ADD COLUMN ai_settings TEXT NOT NULL DEFAULT '{}';
		ALTER TABLE users ADD COLUMN avatar_key TEXT NOT NULL DEFAULT '';
		ALTER TABLE ai_requests ADD COLUMN search_text TEXT NOT NULL DEFAULT ''`,
		Backfill: backfillSearchText,
	},
}

func backfillSearchText(ctx context.Context, tx *sql.Tx, rebind func(string) string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, input, output FROM ai_requests`)
	if err != nil {
		return fmt.Errorf("failed to read requests: %w", err)
	}
	type row struct{ id, text string }
	var pending []row
	for rows.Next() {
		var (
			r      models.AIRequest
			input  string
			output sql.NullString
		)
		if err := rows.Scan(&r.ID, &input, &output); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan request: %w", err)
		}
		r.Input = json.RawMessage(input)
		if output.Valid {
			r.Output = json.RawMessage(output.String)
		}
		pending = append(pending, row{r.ID, r.SearchText()})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range pending {
		if _, err := tx.ExecContext(ctx, rebind(`UPDATE ai_requests SET search_text = ? WHERE id = ?`), p.text, p.id); err != nil {
			return fmt.Errorf("failed to index request %s: %w", p.id, err)
		}
	}
	return nil
}

// Migrate applies every migration not yet recorded in schema_migrations.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at `+columnTypes[db.dbType].Replace("{{TIMESTAMP}}")+` NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range GetMigrations(db.dbType) {
		if applied[m.Version] {
			continue
		}

		logger.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := db.withTx(ctx, func(tx *sql.Tx) error { return db.applyMigration(ctx, tx, m) }); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, tx *sql.Tx, m Migration) error {
	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.Version, err)
		}
	}
	if m.Backfill != nil {
		if err := m.Backfill(ctx, tx, db.rebind); err != nil {
			return fmt.Errorf("failed to backfill migration %d: %w", m.Version, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		db.rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
		m.Version, m.Description, db.now(),
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	return nil
}

func (db *DB) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := db.query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
