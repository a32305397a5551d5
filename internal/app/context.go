package app

import (
	"context"
	"errors"
	"fmt"

	"battlelog/internal/domain"
	"battlelog/internal/repo"
)

// ErrNoActiveSession is returned when no session was given and none is running.
var ErrNoActiveSession = errors.New("no active session; start one with bl session start")

// ResolveSession picks the session a CLI command acts on. An explicit id
// wins; otherwise the single active session is used.
func ResolveSession(ctx context.Context, override string, r repo.Repo) (domain.Session, error) {
	if override != "" {
		return r.GetSession(ctx, override)
	}
	active, err := r.ListSessions(ctx, repo.SessionFilter{Status: domain.SessionActive, Limit: 2})
	if err != nil {
		return domain.Session{}, err
	}
	switch len(active) {
	case 0:
		return domain.Session{}, ErrNoActiveSession
	case 1:
		return active[0], nil
	default:
		return domain.Session{}, fmt.Errorf("%d active sessions; use --session", len(active))
	}
}
