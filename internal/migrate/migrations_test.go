package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/db"
)

func TestApplyIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	all, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	n, err := Apply(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, len(all), n)

	n, err = Apply(ctx, conn)
	require.NoError(t, err)
	assert.Zero(t, n)

	var version int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&version))
	assert.Equal(t, all[len(all)-1].Version, version)

	for _, table := range []string{"cases", "validation_requests", "audit_entries", "checklist_items"} {
		var name string
		err := conn.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}
