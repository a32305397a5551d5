package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"battlelog/internal/config"
	"battlelog/internal/db"
	"battlelog/internal/domain"
	"battlelog/internal/engine"
	"battlelog/internal/migrate"
	"battlelog/internal/repo"
	"battlelog/internal/timeline"
)

const actor = "tester"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	cfg := config.Default()
	cfg.Rules.StartingCommandPoints = 2
	eng := engine.New(conn, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func roster() []domain.UnitSpec {
	return []domain.UnitSpec{{
		ID:        "squad",
		Role:      domain.RolePlayer,
		Datasheet: "Intercessors",
		Models: []domain.ModelHealth{
			{Role: domain.ModelLeader, MaxHealth: 3},
			{MaxHealth: 3},
			{MaxHealth: 3},
		},
	}}
}

func (env testEnv) start(t *testing.T) domain.Session {
	t.Helper()
	s, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{ID: "game-1", Units: roster(), ActorID: actor})
	require.NoError(t, err)
	return s
}

func (env testEnv) apply(t *testing.T, kind domain.EventKind, payload string) domain.Event {
	t.Helper()
	res, err := env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		SessionID: "game-1",
		Kind:      kind,
		Payload:   json.RawMessage(payload),
		ActorID:   actor,
	})
	require.NoError(t, err)
	return res.Event
}

func (env testEnv) cp(t *testing.T, role domain.Role) int {
	t.Helper()
	s, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	return s.State.CommandPoints[role]
}

func stateJSON(t *testing.T, s domain.GameState) string {
	t.Helper()
	raw, err := json.Marshal(s)
	require.NoError(t, err)
	return string(raw)
}

func TestStartSessionInitialState(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t)
	assert.Equal(t, "command", s.State.Phase)
	assert.Equal(t, 1, s.State.Round)
	assert.Equal(t, domain.RolePlayer, s.State.TurnHolder)
	assert.Equal(t, 2, s.State.CommandPoints[domain.RoleOpponent])
	require.Len(t, s.State.Units, 1)
	assert.Equal(t, 9, s.State.Units[0].TotalHealth)
	assert.Len(t, s.State.Objectives, len(config.Default().Rules.Objectives))

	_, err := env.Engine.StartSession(env.Ctx, engine.StartSessionOptions{ID: "game-1", ActorID: actor})
	require.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestApplyMutationAssignsSeqAndDescription(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	e1 := env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":1}`)
	e2 := env.apply(t, domain.KindCustomNote, `{"text":"hello"}`)
	assert.Equal(t, int64(1), e1.Seq)
	assert.Equal(t, int64(2), e2.Seq)
	assert.Equal(t, "Note: hello", e2.Description)
	assert.Equal(t, 3, env.cp(t, domain.RolePlayer))

	_, err := env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		SessionID: "game-1", Kind: domain.KindResourceDelta, Payload: json.RawMessage(`{"role":"player"}`), ActorID: actor,
	})
	require.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		SessionID: "missing", Kind: domain.KindCustomNote, Payload: json.RawMessage(`{"text":"x"}`), ActorID: actor,
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRevertSingleAndDoubleRevert(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ev := env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":3}`)

	res, err := env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: ev.ID, ActorID: actor})
	require.NoError(t, err)
	assert.Equal(t, []int64{ev.ID}, res.Action.EventIDs)
	assert.False(t, res.Action.Cascade)
	assert.Equal(t, 2, res.Summary.CommandPoints[domain.RolePlayer])
	assert.Equal(t, 2, env.cp(t, domain.RolePlayer))

	_, err = env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: ev.ID, ActorID: actor})
	require.ErrorIs(t, err, domain.ErrAlreadyReverted)
	assert.Equal(t, 2, env.cp(t, domain.RolePlayer))
}

func TestRevertRequiresCascadeAcknowledgement(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, env.apply(t, domain.KindResourceDelta, fmt.Sprintf(`{"role":"player","delta":1,"reason":"e%d"}`, i+1)).ID)
	}

	_, err := env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: ids[1], ActorID: actor})
	var cascade *domain.CascadeRequiredError
	require.ErrorAs(t, err, &cascade)
	require.Equal(t, 2, cascade.Count())
	assert.Equal(t, ids[2], cascade.Events[0].EventID)
	assert.Equal(t, ids[3], cascade.Events[1].EventID)
	assert.Contains(t, cascade.Descriptions()[0], "e3")
	assert.Equal(t, 6, env.cp(t, domain.RolePlayer))

	res, err := env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: ids[1], Cascade: true, ActorID: actor})
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[3], ids[2], ids[1]}, res.Action.EventIDs)
	assert.True(t, res.Action.Cascade)
	assert.Equal(t, 3, env.cp(t, domain.RolePlayer))

	actions, err := env.Engine.ListRevertActions(env.Ctx, "game-1", 0)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, int64(5), actions[0].Seq)

	active, err := env.Engine.ListEvents(env.Ctx, "game-1", repo.EventFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ids[0], active[0].ID)
	for _, id := range ids[1:] {
		got, err := env.Engine.GetEvent(env.Ctx, "game-1", id)
		require.NoError(t, err)
		assert.True(t, got.Reverted)
		assert.Equal(t, res.Action.ID, *got.RevertActionID)
	}
}

func TestFullCascadeRestoresInitialState(t *testing.T) {
	env := newTestEnv(t)
	initial := env.start(t)
	first := env.apply(t, domain.KindPhaseChange, `{"phase":"shooting","round":1,"turn_holder":"player"}`)
	env.apply(t, domain.KindResourceDelta, `{"role":"opponent","delta":-5}`)
	env.apply(t, domain.KindObjectiveControl, `{"objective":"center","controller":"player"}`)
	env.apply(t, domain.KindUnitDamage, `{"unit_id":"squad","mode":"damage","amount":5}`)
	env.apply(t, domain.KindUnitStatus, `{"unit_id":"squad","add":["battle-shocked"]}`)
	env.apply(t, domain.KindSubObjective, `{"role":"player","round":1,"objective":"behind-lines","vp":4}`)
	env.apply(t, domain.KindStratagem, `{"role":"player","name":"Grenade","cost":1}`)
	env.apply(t, domain.KindCustomNote, `{"text":"done"}`)

	res, err := env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: first.ID, Cascade: true, ActorID: actor})
	require.NoError(t, err)
	assert.Len(t, res.Reverted, 8)

	s, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.JSONEq(t, stateJSON(t, initial.State), stateJSON(t, s.State))
}

func TestResourcePoolScenario(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	up := env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":3}`)
	assert.Equal(t, 5, env.cp(t, domain.RolePlayer))
	env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":-4}`)
	assert.Equal(t, 1, env.cp(t, domain.RolePlayer))

	_, err := env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: up.ID, Cascade: true, ActorID: actor})
	require.NoError(t, err)
	assert.Equal(t, 2, env.cp(t, domain.RolePlayer))
}

func TestResourceClampRevertsExactly(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ev := env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":-10}`)
	assert.Equal(t, 0, env.cp(t, domain.RolePlayer))
	_, err := env.Engine.RevertLast(env.Ctx, "game-1", actor)
	require.NoError(t, err)
	assert.Equal(t, 2, env.cp(t, domain.RolePlayer))

	got, err := env.Engine.GetEvent(env.Ctx, "game-1", ev.ID)
	require.NoError(t, err)
	assert.True(t, got.Reverted)
}

func TestUnitSetScenario(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ev := env.apply(t, domain.KindUnitDamage, `{"unit_id":"squad","mode":"set","health":[0,2,2]}`)
	s, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.State.Units[0].ModelCount)
	assert.Equal(t, 4, s.State.Units[0].TotalHealth)

	_, err = env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: ev.ID, ActorID: actor})
	require.NoError(t, err)
	s, err = env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	u := s.State.Units[0]
	assert.Equal(t, 3, u.ModelCount)
	assert.Equal(t, 9, u.TotalHealth)
	for _, m := range u.Models {
		assert.Equal(t, 3, m.Health)
	}
}

func TestSubObjectiveVictoryPoints(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	env.apply(t, domain.KindSubObjective, `{"role":"opponent","round":1,"objective":"assassinate","vp":3}`)
	second := env.apply(t, domain.KindSubObjective, `{"role":"opponent","round":1,"objective":"assassinate","vp":2}`)

	_, err := env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: second.ID, ActorID: actor})
	require.NoError(t, err)
	s, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.Equal(t, 3, s.State.VictoryPoints[domain.RoleOpponent])
	require.Len(t, s.State.SubObjectives, 1)
	assert.Equal(t, 3, s.State.SubObjectives[0].VP)
}

func TestSubObjectiveRevertLeavesOtherRoleAlone(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	env.apply(t, domain.KindSubObjective, `{"role":"player","round":1,"objective":"behind_enemy_lines","vp":4}`)
	env.apply(t, domain.KindSubObjective, `{"role":"player","round":1,"objective":"assassinate","vp":2}`)
	before, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	opp := env.apply(t, domain.KindSubObjective, `{"role":"opponent","round":1,"objective":"assassinate","vp":3}`)

	_, err = env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: opp.ID, ActorID: actor})
	require.NoError(t, err)

	after, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.Equal(t, 0, after.State.VictoryPoints[domain.RoleOpponent])
	assert.Equal(t, 6, after.State.VictoryPoints[domain.RolePlayer])
	assert.Equal(t, before.State.VictoryPoints, after.State.VictoryPoints)
	assert.Equal(t, before.State.SubObjectives, after.State.SubObjectives)
}

func TestRestorationFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	first := env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":1}`)
	broken := env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":1}`)
	env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":1}`)
	before, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)

	_, err = env.Engine.DB.ExecContext(env.Ctx, `UPDATE events SET prior_json='{' WHERE id=?`, broken.ID)
	require.NoError(t, err)

	_, err = env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: first.ID, Cascade: true, ActorID: actor})
	require.ErrorIs(t, err, domain.ErrPartialRestoration)
	var rerr *domain.RestorationError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, broken.ID, rerr.EventID)

	after, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.JSONEq(t, stateJSON(t, before.State), stateJSON(t, after.State))
	active, err := env.Engine.ListEvents(env.Ctx, "game-1", repo.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 3)
	actions, err := env.Engine.ListRevertActions(env.Ctx, "game-1", 0)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestConcurrentRevertsOfSameEvent(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ev := env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":2}`)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: ev.ID, ActorID: actor})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, domain.ErrAlreadyReverted), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, env.cp(t, domain.RolePlayer))
}

func TestRevertLastWithNothingActive(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	_, err := env.Engine.RevertLast(env.Ctx, "game-1", actor)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdvancePhaseRollsOverAndReverts(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	for i := 0; i < 5; i++ {
		_, err := env.Engine.AdvancePhase(env.Ctx, "game-1", actor)
		require.NoError(t, err)
	}
	s, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.Equal(t, "command", s.State.Phase)
	assert.Equal(t, domain.RoleOpponent, s.State.TurnHolder)
	assert.Equal(t, 1, s.State.Round)

	for i := 0; i < 5; i++ {
		_, err := env.Engine.AdvancePhase(env.Ctx, "game-1", actor)
		require.NoError(t, err)
	}
	s, err = env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.State.Round)
	assert.Equal(t, domain.RolePlayer, s.State.TurnHolder)

	_, err = env.Engine.RevertLast(env.Ctx, "game-1", actor)
	require.NoError(t, err)
	s, err = env.Engine.GetSession(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.Equal(t, "fight", s.State.Phase)
	assert.Equal(t, 1, s.State.Round)
	assert.Equal(t, domain.RoleOpponent, s.State.TurnHolder)
}

func TestEndedSessionRefusesMutationsButAllowsRevert(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	ev := env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":1}`)
	s, err := env.Engine.EndSession(env.Ctx, "game-1", actor)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEnded, s.Status)
	require.NotNil(t, s.EndedAt)

	_, err = env.Engine.ApplyMutation(env.Ctx, engine.MutationOptions{
		SessionID: "game-1", Kind: domain.KindCustomNote, Payload: json.RawMessage(`{"text":"late"}`), ActorID: actor,
	})
	require.ErrorIs(t, err, domain.ErrSessionEnded)

	_, err = env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: ev.ID, ActorID: actor})
	require.NoError(t, err)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	env.apply(t, domain.KindCustomNote, `{"text":"x"}`)
	require.NoError(t, env.Engine.DeleteSession(env.Ctx, "game-1", actor))
	_, err := env.Engine.GetSession(env.Ctx, "game-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerifyMatchesReplay(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	env.apply(t, domain.KindObjectiveControl, `{"objective":"center","controller":"opponent"}`)
	dmg := env.apply(t, domain.KindUnitDamage, `{"unit_id":"squad","mode":"damage","amount":2}`)
	env.apply(t, domain.KindStratagem, `{"role":"opponent","name":"Smoke","cost":1}`)
	_, err := env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: dmg.ID, Cascade: true, ActorID: actor})
	require.NoError(t, err)
	env.apply(t, domain.KindResourceDelta, `{"role":"player","delta":1}`)

	report, err := env.Engine.Verify(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.True(t, report.Consistent, "mismatches: %v", report.Mismatches)
	assert.Equal(t, 2, report.ActiveEvents)

	_, err = env.Engine.DB.ExecContext(env.Ctx, `UPDATE sessions SET state_json=json_set(state_json,'$.round',4) WHERE id='game-1'`)
	require.NoError(t, err)
	report, err = env.Engine.Verify(env.Ctx, "game-1")
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, []string{"round"}, report.Mismatches)
}

func TestEventCascadeHintsAndTimeline(t *testing.T) {
	env := newTestEnv(t)
	env.start(t)
	e1 := env.apply(t, domain.KindCustomNote, `{"text":"one"}`)
	e2 := env.apply(t, domain.KindCustomNote, `{"text":"two"}`)
	e3 := env.apply(t, domain.KindCustomNote, `{"text":"three"}`)

	views, err := env.Engine.ListEvents(env.Ctx, "game-1", repo.EventFilter{})
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, []int{2, 1, 0}, []int{views[0].CascadeCount, views[1].CascadeCount, views[2].CascadeCount})

	_, err = env.Engine.RevertLast(env.Ctx, "game-1", actor)
	require.NoError(t, err)
	_, err = env.Engine.Revert(env.Ctx, engine.RevertOptions{SessionID: "game-1", EventID: e2.ID, ActorID: actor})
	require.NoError(t, err)
	env.apply(t, domain.KindCustomNote, `{"text":"four"}`)

	entries, err := env.Engine.Timeline(env.Ctx, "game-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, e1.ID, entries[0].Event.ID)
	assert.Equal(t, timeline.EntryRevertGroup, entries[1].Type)
	require.Len(t, entries[1].Reverts, 2)
	assert.Equal(t, e3.ID, entries[1].Reverts[0].Events[0].ID)
	assert.Equal(t, e2.ID, entries[1].Reverts[1].Events[0].ID)
	assert.Equal(t, timeline.EntryEvent, entries[2].Type)
}

func openWorkspace(t *testing.T, dir string, busyMS int) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: dir, BusyTimeoutMS: busyMS})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return engine.New(conn, config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestWorkspaceLockedElsewhereReportsBusy(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	eng := openWorkspace(t, dir, 50)
	_, err := eng.StartSession(ctx, engine.StartSessionOptions{ID: "g", ActorID: actor})
	require.NoError(t, err)
	note := engine.MutationOptions{SessionID: "g", Kind: domain.KindCustomNote, Payload: json.RawMessage(`{"text":"x"}`), ActorID: actor}
	_, err = eng.ApplyMutation(ctx, note)
	require.NoError(t, err)

	other, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	defer other.Close()
	held, err := other.BeginTx(ctx, nil)
	require.NoError(t, err)

	_, err = eng.ApplyMutation(ctx, note)
	require.ErrorIs(t, err, domain.ErrBusy)
	_, err = eng.RevertLast(ctx, "g", actor)
	require.ErrorIs(t, err, domain.ErrBusy)

	require.NoError(t, held.Rollback())
	_, err = eng.ApplyMutation(ctx, note)
	require.NoError(t, err)
	events, err := eng.ListEvents(ctx, "g", repo.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestTwoEnginesShareWorkspace(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	a := openWorkspace(t, dir, 0)
	b := openWorkspace(t, dir, 0)
	_, err := a.StartSession(ctx, engine.StartSessionOptions{ID: "g", ActorID: actor})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		errs []error
	)
	for i := 0; i < 20; i++ {
		for _, eng := range []engine.Engine{a, b} {
			wg.Add(1)
			go func(eng engine.Engine, i int) {
				defer wg.Done()
				_, err := eng.ApplyMutation(ctx, engine.MutationOptions{
					SessionID: "g",
					Kind:      domain.KindResourceDelta,
					Payload:   json.RawMessage(`{"role":"player","delta":1}`),
					ActorID:   fmt.Sprintf("caller-%d", i),
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				ok++
			}(eng, i)
		}
	}
	wg.Wait()
	for _, err := range errs {
		assert.ErrorIs(t, err, domain.ErrBusy)
	}

	events, err := a.ListEvents(ctx, "g", repo.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, ok)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	s, err := b.GetSession(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, config.Default().Rules.StartingCommandPoints+ok, s.State.CommandPoints[domain.RolePlayer])
	report, err := a.Verify(ctx, "g")
	require.NoError(t, err)
	assert.True(t, report.Consistent, report.Mismatches)
}

func TestConcurrentStartWithSameID(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	engines := []engine.Engine{openWorkspace(t, dir, 0), openWorkspace(t, dir, 0)}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(eng engine.Engine) {
			defer wg.Done()
			_, err := eng.StartSession(ctx, engine.StartSessionOptions{ID: "dup", ActorID: actor})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started++
				return
			}
			assert.ErrorIs(t, err, domain.ErrSessionExists)
		}(engines[i%2])
	}
	wg.Wait()
	assert.Equal(t, 1, started)
}
