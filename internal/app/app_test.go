package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlelog/internal/config"
	"battlelog/internal/db"
	"battlelog/internal/domain"
	"battlelog/internal/engine"
	"battlelog/internal/migrate"
)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "json").Debug("hello", "session_id", "g1")
	assert.Contains(t, buf.String(), `"session_id":"g1"`)

	buf.Reset()
	newLogger(&buf, "warn", "text").Info("dropped")
	assert.Empty(t, buf.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestResolveSession(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))
	ctx := context.Background()
	eng := engine.New(conn, config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = ResolveSession(ctx, "", eng.Repo)
	require.ErrorIs(t, err, ErrNoActiveSession)

	_, err = eng.StartSession(ctx, engine.StartSessionOptions{ID: "g1", ActorID: "t"})
	require.NoError(t, err)
	s, err := ResolveSession(ctx, "", eng.Repo)
	require.NoError(t, err)
	assert.Equal(t, "g1", s.ID)

	_, err = eng.StartSession(ctx, engine.StartSessionOptions{ID: "g2", ActorID: "t"})
	require.NoError(t, err)
	_, err = ResolveSession(ctx, "", eng.Repo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--session")

	s, err = ResolveSession(ctx, "g2", eng.Repo)
	require.NoError(t, err)
	assert.Equal(t, "g2", s.ID)

	_, err = ResolveSession(ctx, "missing", eng.Repo)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = eng.EndSession(ctx, "g1", "t")
	require.NoError(t, err)
	s, err = ResolveSession(ctx, "", eng.Repo)
	require.NoError(t, err)
	assert.Equal(t, "g2", s.ID)
}
