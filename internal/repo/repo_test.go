package repo_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlelog/internal/db"
	"battlelog/internal/domain"
	"battlelog/internal/migrate"
	"battlelog/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func seedSession(t *testing.T, r repo.Repo, id string) {
	t.Helper()
	state := domain.GameState{Phase: "command", Round: 1, TurnHolder: domain.RolePlayer}
	s := domain.Session{ID: id, Status: domain.SessionActive, State: state, Initial: state, CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, r.InsertSessionTx(context.Background(), nil, s))
}

func appendEvent(t *testing.T, r repo.Repo, sessionID string, kind domain.EventKind, desc string) domain.Event {
	t.Helper()
	return appendEventAt(t, r, sessionID, kind, desc, ts)
}

func appendEventAt(t *testing.T, r repo.Repo, sessionID string, kind domain.EventKind, desc, createdAt string) domain.Event {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	seq, err := r.NextSeqTx(ctx, tx, sessionID)
	require.NoError(t, err)
	e := domain.Event{
		SessionID:   sessionID,
		Seq:         seq,
		Kind:        kind,
		Payload:     json.RawMessage(`{}`),
		Prior:       json.RawMessage(`{}`),
		Description: desc,
		ActorID:     "tester",
		CreatedAt:   createdAt,
	}
	require.NoError(t, r.InsertEventTx(ctx, tx, &e))
	require.NoError(t, tx.Commit())
	return e
}

func TestSequenceIsPerSession(t *testing.T) {
	r := newRepo(t)
	seedSession(t, r, "a")
	seedSession(t, r, "b")
	a1 := appendEvent(t, r, "a", domain.KindCustomNote, "one")
	a2 := appendEvent(t, r, "a", domain.KindCustomNote, "two")
	b1 := appendEvent(t, r, "b", domain.KindCustomNote, "other")
	assert.Equal(t, int64(1), a1.Seq)
	assert.Equal(t, int64(2), a2.Seq)
	assert.Equal(t, int64(1), b1.Seq)
	assert.Greater(t, b1.ID, a2.ID)
}

func TestListEventsFilters(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedSession(t, r, "s")
	appendEvent(t, r, "s", domain.KindResourceDelta, "player +1 CP")
	second := appendEvent(t, r, "s", domain.KindCustomNote, "Note: charge failed")
	appendEvent(t, r, "s", domain.KindResourceDelta, "opponent -1 CP")

	all, err := r.ListEvents(ctx, "s", repo.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	byKind, err := r.ListEvents(ctx, "s", repo.EventFilter{Kind: domain.KindResourceDelta})
	require.NoError(t, err)
	assert.Len(t, byKind, 2)

	byText, err := r.ListEvents(ctx, "s", repo.EventFilter{Query: "charge"})
	require.NoError(t, err)
	require.Len(t, byText, 1)
	assert.Equal(t, second.ID, byText[0].ID)

	window, err := r.ListEvents(ctx, "s", repo.EventFilter{SinceSeq: 2, UntilSeq: 2})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, int64(2), window[0].Seq)
}

func TestListEventsDateRange(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedSession(t, r, "s")
	appendEventAt(t, r, "s", domain.KindCustomNote, "deploy", "2024-01-01T10:00:00Z")
	mid := appendEventAt(t, r, "s", domain.KindCustomNote, "turn one", "2024-01-01T11:30:00Z")
	appendEventAt(t, r, "s", domain.KindCustomNote, "turn two", "2024-01-01T13:00:00Z")

	since := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	until := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	got, err := r.ListEvents(ctx, "s", repo.EventFilter{Since: since, Until: until})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mid.ID, got[0].ID)

	// bounds are inclusive and compared in UTC
	exact, err := r.ListEvents(ctx, "s", repo.EventFilter{Since: time.Date(2024, 1, 1, 14, 0, 0, 0, time.FixedZone("CET", 3600))})
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, "turn two", exact[0].Description)

	later, err := r.ListEvents(ctx, "s", repo.EventFilter{Since: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestListEventsTextIsLiteral(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedSession(t, r, "s")
	appendEvent(t, r, "s", domain.KindCustomNote, "50% of the unit fled")
	appendEvent(t, r, "s", domain.KindCustomNote, "500 points list")
	appendEvent(t, r, "s", domain.KindCustomNote, "objective_3 held")
	appendEvent(t, r, "s", domain.KindCustomNote, "objective 3 lost")

	pct, err := r.ListEvents(ctx, "s", repo.EventFilter{Query: "50%"})
	require.NoError(t, err)
	require.Len(t, pct, 1)
	assert.Equal(t, "50% of the unit fled", pct[0].Description)

	under, err := r.ListEvents(ctx, "s", repo.EventFilter{Query: "objective_3"})
	require.NoError(t, err)
	require.Len(t, under, 1)
	assert.Equal(t, "objective_3 held", under[0].Description)
}

func TestMarkRevertedOnce(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedSession(t, r, "s")
	e := appendEvent(t, r, "s", domain.KindCustomNote, "x")

	require.NoError(t, r.MarkRevertedTx(ctx, nil, e.ID, ts, "tester", "ra-1"))
	err := r.MarkRevertedTx(ctx, nil, e.ID, ts, "tester", "ra-2")
	require.ErrorIs(t, err, domain.ErrAlreadyReverted)

	got, err := r.GetEvent(ctx, "s", e.ID)
	require.NoError(t, err)
	assert.True(t, got.Reverted)
	require.NotNil(t, got.RevertActionID)
	assert.Equal(t, "ra-1", *got.RevertActionID)

	active, err := r.ListEvents(ctx, "s", repo.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, active)
	withReverted, err := r.ListEvents(ctx, "s", repo.EventFilter{IncludeReverted: true})
	require.NoError(t, err)
	assert.Len(t, withReverted, 1)
}

func TestRevertActionsRoundTrip(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedSession(t, r, "s")
	e := appendEvent(t, r, "s", domain.KindCustomNote, "x")
	a := domain.RevertAction{
		ID:            "ra-1",
		SessionID:     "s",
		Seq:           2,
		TargetEventID: e.ID,
		Cascade:       true,
		EventIDs:      []int64{e.ID},
		ActorID:       "tester",
		CreatedAt:     ts,
		Summary:       domain.StateSummary{Phase: "command", Round: 1},
	}
	require.NoError(t, r.InsertRevertActionTx(ctx, nil, &a))
	assert.NotZero(t, a.Cursor)

	list, err := r.ListRevertActions(ctx, "s", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.EventIDs, list[0].EventIDs)
	assert.True(t, list[0].Cascade)
	assert.Equal(t, "command", list[0].Summary.Phase)

	after, err := r.RevertActionsAfter(ctx, 10, a.Cursor)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestDeleteSessionCascades(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	seedSession(t, r, "s")
	appendEvent(t, r, "s", domain.KindCustomNote, "x")

	require.NoError(t, r.DeleteSession(ctx, "s"))
	_, err := r.GetSession(ctx, "s")
	require.ErrorIs(t, err, domain.ErrNotFound)

	var n int
	require.NoError(t, r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n))
	assert.Zero(t, n)
	assert.ErrorIs(t, r.DeleteSession(ctx, "s"), repo.ErrNotFound)
}

func TestAPIKeys(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	key := domain.APIKey{ID: "k1", ActorID: "alice", Name: "cli", KeyHash: repo.HashAPIKey("secret")}
	require.NoError(t, r.InsertAPIKey(ctx, nil, key))

	got, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(" secret "))
	require.NoError(t, err)
	assert.Equal(t, "alice", got.ActorID)

	_, err = r.GetAPIKeyByHash(ctx, repo.HashAPIKey("nope"))
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAPIKeyWithoutName(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.InsertAPIKey(ctx, nil, domain.APIKey{ID: "k2", ActorID: "pipeline", KeyHash: repo.HashAPIKey("bl_abc")}))

	keys, err := r.ListAPIKeys(ctx, "pipeline")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "", keys[0].Name)
}
