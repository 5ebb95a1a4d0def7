package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDefaultDSNPersistsAcrossConnections(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	ctx := context.Background()

	db, err := Open(ctx, Config{Driver: DriverSQLite})
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	createAccount(t, NewStore(db), newAccount("first@example.com"))
	require.NoError(t, db.Close())

	assert.FileExists(t, filepath.Join(dir, "karpithal.db"))

	// a second process sees what the first one wrote
	db, err = Open(ctx, Config{Driver: DriverSQLite})
	require.NoError(t, err)
	defer db.Close()

	count, err := db.NewSelect().Table("accounts").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"})
	assert.Error(t, err)
}
