package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoadConfigExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte(config.GenerateDefault()), 0o644))

	cfg, err := LoadConfig(dir, path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", cfg.Calendar.Timezone)

	_, err = LoadConfig(dir, filepath.Join(dir, "missing.yml"))
	require.Error(t, err)
}

func TestOpenDeliversQueuedNotificationsOnClose(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := context.Background()

	ws, err := Open(ctx, Options{Workspace: t.TempDir(), Logger: logger, LogNotifications: true})
	require.NoError(t, err)

	c, err := ws.Engine.CreateCase(ctx, engine.CaseCreateOptions{
		Reference:      "24/00001/HAPP",
		Category:       "householder",
		Description:    "Single storey rear extension",
		ApplicantEmail: "applicant@example.com",
		PaymentAmount:  25800,
		ActorID:        "officer-1",
	})
	require.NoError(t, err)
	_, _, err = ws.Engine.Invalidate(ctx, engine.InvalidateOptions{
		CaseID:   c.ID,
		Reason:   "missing plan",
		Requests: []engine.RequestSpec{{Kind: domain.KindAdditionalDocument, Reason: "Missing floor plan"}},
		ActorID:  "officer-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ws.Queue.Len())

	require.NoError(t, ws.Close(ctx))
	assert.Contains(t, buf.String(), "event=case_invalidated")
	assert.Contains(t, buf.String(), "case_id="+c.ID)
}
