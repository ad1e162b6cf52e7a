package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	applied, err := s.Applied(ctx, "linkedin", "101")
	require.NoError(t, err)
	assert.False(t, applied)

	require.NoError(t, s.Record(ctx, Entry{Board: "linkedin", JobID: "101", Title: "Go Developer", Company: "Acme", Status: "submitted", AppliedAt: base}))
	require.NoError(t, s.Record(ctx, Entry{Board: "indeed", JobID: "abc", Domain: "example.com", Status: "submitted", AppliedAt: base.Add(time.Hour)}))

	applied, err = s.Applied(ctx, "linkedin", "101")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.Applied(ctx, "indeed", "101")
	require.NoError(t, err)
	assert.False(t, applied)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "abc", all[0].JobID)
	assert.Equal(t, "example.com", all[0].Domain)
	assert.Equal(t, "Acme", all[1].Company)
	assert.True(t, all[1].AppliedAt.Equal(base))

	linkedin, err := s.List(ctx, "linkedin")
	require.NoError(t, err)
	require.Len(t, linkedin, 1)
	assert.Equal(t, "Go Developer", linkedin[0].Title)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, Config{Backend: BackendSQLite, Path: path})
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	applied, err := reopened.Applied(ctx, "linkedin", "101")
	require.NoError(t, err)
	assert.True(t, applied, "history survives reopening")
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("AUTOAPPLY_TEST_REDIS")
	if addr == "" {
		t.Skip("AUTOAPPLY_TEST_REDIS is not set")
	}
	ctx := context.Background()
	prefix := "autoapply-test-" + time.Now().Format("150405.000")

	s, err := Open(ctx, Config{Backend: BackendRedis, RedisAddr: addr, Prefix: prefix})
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "mongo"})
	require.Error(t, err)

	_, err = OpenRedis(context.Background(), "", 0, "")
	require.Error(t, err)
}
