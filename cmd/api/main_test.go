package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-agency/agency/internal/config"
	"github.com/ai-agency/agency/internal/database"
	"github.com/ai-agency/agency/internal/logger"
	"github.com/ai-agency/agency/internal/models"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agency.db")
	path := filepath.Join(dir, "app.yml")
	data := fmt.Sprintf(`
env: test
database:
  type: sqlite
  path: %s
jwt:
  secret: command-test-secret-that-is-long-enough
upload:
  localPath: %s
sweep:
  stuckAfter: 1m
`, dbPath, filepath.Join(dir, "uploads"))
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	return path, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	logger.Discard()
	return out.String(), err
}

func TestNewGenerator(t *testing.T) {
	reg, err := newGenerator(config.AIConfig{Provider: "template"})
	require.NoError(t, err)
	for _, typ := range []models.RequestType{models.TypeChat, models.TypeFileAnalysis, models.TypeCodeGeneration, models.TypeJobSearch} {
		assert.True(t, reg.Supports(typ), typ)
	}

	reg, err = newGenerator(config.AIConfig{Provider: "anthropic", AnthropicAPIKey: "sk-test", Model: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	assert.True(t, reg.Supports(models.TypeChat))

	_, err = newGenerator(config.AIConfig{Provider: "anthropic"})
	assert.Error(t, err)

	_, err = newGenerator(config.AIConfig{Provider: "oracle"})
	assert.ErrorContains(t, err, "unsupported ai provider")
}

func TestMigrateCommand(t *testing.T) {
	path, dbPath := writeConfig(t)

	out, err := execute(t, "migrate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite database is up to date")
	assert.FileExists(t, dbPath)

	// A second run finds nothing to apply.
	_, err = execute(t, "migrate", "--config", path)
	assert.NoError(t, err)
}

func TestResetUsageCommand(t *testing.T) {
	path, dbPath := writeConfig(t)
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{Type: database.TypeSQLite, Path: dbPath})
	require.NoError(t, err)
	u := models.NewUser("Mona", "mona@example.com", "hash", models.Features{AIRequests: 50, FileUploads: 10}, time.Now().UTC())
	require.NoError(t, db.CreateUser(ctx, u))
	require.NoError(t, db.ConsumeRequest(ctx, u.ID))
	require.NoError(t, db.Close())

	_, err = execute(t, "reset-usage", "--config", path, "--user", "00000000-0000-0000-0000-000000000000")
	assert.ErrorContains(t, err, "not found")

	out, err := execute(t, "reset-usage", "--config", path, "--user", u.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "reset usage for 1 account(s)")

	db, err = database.Open(ctx, config.DatabaseConfig{Type: database.TypeSQLite, Path: dbPath})
	require.NoError(t, err)
	defer db.Close()
	got, err := db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Subscription.Features.UsedRequests)
}

func TestSweepCommand(t *testing.T) {
	path, _ := writeConfig(t)

	out, err := execute(t, "sweep-stuck", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No stuck requests older than 1m0s")

	_, err = execute(t, "sweep-stuck", "--config", path, "--older-than=-5m")
	assert.ErrorContains(t, err, "must be positive")
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yml")
	require.NoError(t, os.WriteFile(path, []byte("env: staging\n"), 0644))

	_, err := execute(t, "migrate", "--config", path)
	assert.ErrorContains(t, err, "unknown environment")
}

func TestAccountCommands(t *testing.T) {
	path, dbPath := writeConfig(t)
	ctx := context.Background()
	openDB := func() *database.DB {
		db, err := database.Open(ctx, config.DatabaseConfig{Type: database.TypeSQLite, Path: dbPath})
		require.NoError(t, err)
		return db
	}

	db := openDB()
	u := models.NewUser("Huda", "huda@example.com", "hash", models.Features{AIRequests: 50, FileUploads: 10}, time.Now().UTC())
	require.NoError(t, db.CreateUser(ctx, u))
	require.NoError(t, db.ConsumeRequest(ctx, u.ID))
	require.NoError(t, db.Close())

	out, err := execute(t, "set-plan", "--config", path, "--user", u.ID, "--plan", "pro")
	require.NoError(t, err)
	assert.Contains(t, out, "to the premium plan")

	out, err = execute(t, "set-role", "--config", path, "--user", u.ID, "--role", "moderator")
	require.NoError(t, err)
	assert.Contains(t, out, "is now moderator")

	out, err = execute(t, "set-active", "--config", path, "--user", u.ID, "--active=false")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled "+u.ID)

	db = openDB()
	got, err := db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.Equal(t, models.PlanPremium, got.Subscription.Plan)
	assert.Equal(t, 2000, got.Subscription.Features.AIRequests)
	assert.Equal(t, 500, got.Subscription.Features.FileUploads)
	assert.Equal(t, 1, got.Subscription.Features.UsedRequests)
	assert.Equal(t, models.RoleModerator, got.Role)
	assert.False(t, got.IsActive)

	_, err = execute(t, "set-active", "--config", path, "--user", u.ID)
	require.NoError(t, err)
	db = openDB()
	got, err = db.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.True(t, got.IsActive)
}

func TestAccountCommandErrors(t *testing.T) {
	path, _ := writeConfig(t)
	missing := "00000000-0000-0000-0000-000000000000"

	_, err := execute(t, "set-plan", "--config", path, "--user", missing, "--plan", "gold")
	assert.ErrorContains(t, err, `unknown plan "gold"`)

	_, err = execute(t, "set-role", "--config", path, "--user", missing, "--role", "owner")
	assert.ErrorContains(t, err, `unknown role "owner"`)

	_, err = execute(t, "set-plan", "--config", path, "--user", missing, "--plan", "basic")
	assert.ErrorContains(t, err, "user "+missing+" not found")

	_, err = execute(t, "set-active", "--config", path, "--user", missing, "--active=false")
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, "set-plan", "--config", path, "--plan", "basic")
	assert.ErrorContains(t, err, `required flag(s) "user" not set`)
}
