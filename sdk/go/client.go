package battlelogsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Battlelog HTTP API client.
type Client struct {
	BaseURL     string
	SessionID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, sessionID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SessionID: sessionID,
		Timeout:   10 * time.Second,
	}
}

// Summary is the compact state returned after every change.
type Summary struct {
	Phase          string            `json:"phase"`
	Round          int               `json:"round"`
	TurnHolder     string            `json:"turn_holder"`
	CommandPoints  map[string]int    `json:"command_points"`
	VictoryPoints  map[string]int    `json:"victory_points"`
	Objectives     map[string]string `json:"objectives"`
	UnitsAlive     int               `json:"units_alive"`
	UnitsDestroyed int               `json:"units_destroyed"`
}

// Session represents the API session model (partial).
type Session struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Summary   Summary `json:"summary"`
	CreatedAt string  `json:"created_at"`
}

// Event represents one log entry.
type Event struct {
	ID           int64          `json:"id"`
	SessionID    string         `json:"session_id"`
	Seq          int64          `json:"seq"`
	Kind         string         `json:"kind"`
	Description  string         `json:"description"`
	Payload      map[string]any `json:"payload"`
	ActorID      string         `json:"actor_id"`
	CreatedAt    string         `json:"created_at"`
	Reverted     bool           `json:"reverted"`
	CascadeCount int            `json:"cascade_count"`
}

// MutationResult is the appended event and the resulting summary.
type MutationResult struct {
	Event   Event   `json:"event"`
	Summary Summary `json:"summary"`
}

// RevertAction is the audit record of one revert.
type RevertAction struct {
	ID            string  `json:"id"`
	Seq           int64   `json:"seq"`
	TargetEventID int64   `json:"target_event_id"`
	Cascade       bool    `json:"cascade"`
	EventIDs      []int64 `json:"event_ids"`
	ActorID       string  `json:"actor_id"`
	CreatedAt     string  `json:"created_at"`
}

// RevertResult lists the reverted events, newest first.
type RevertResult struct {
	Action   RevertAction `json:"action"`
	Reverted []Event      `json:"reverted"`
	Summary  Summary      `json:"summary"`
}

// TimelineRevert is one revert action with the events it undid.
type TimelineRevert struct {
	Action RevertAction `json:"action"`
	Events []Event      `json:"events"`
}

// TimelineEntry is an event or a group of reverts.
type TimelineEntry struct {
	Type          string           `json:"type"`
	Seq           int64            `json:"seq"`
	Event         *Event           `json:"event,omitempty"`
	Reverts       []TimelineRevert `json:"reverts,omitempty"`
	RevertedCount int              `json:"reverted_count"`
}

// VerifyReport compares the stored state with a replay.
type VerifyReport struct {
	SessionID    string   `json:"session_id"`
	Consistent   bool     `json:"consistent"`
	ActiveEvents int      `json:"active_events"`
	Mismatches   []string `json:"mismatches"`
}

// EventQuery filters Events. Zero values do not filter.
type EventQuery struct {
	Kind            string
	Since           time.Time
	Until           time.Time
	SinceSeq        int64
	UntilSeq        int64
	Q               string
	Limit           int
	IncludeReverted bool
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CascadeRequired reports whether a revert was refused because later events exist.
func (e *APIError) CascadeRequired() bool { return e.Code == "cascade_required" }

// StartSession starts a session with the server's configured rules and roster.
func (c *Client) StartSession(ctx context.Context, id, name string) (Session, error) {
	body := map[string]any{}
	if id != "" {
		body["id"] = id
	}
	if name != "" {
		body["name"] = name
	}
	var resp Session
	if err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp); err != nil {
		return Session{}, err
	}
	if c.SessionID == "" {
		c.SessionID = resp.ID
	}
	return resp, nil
}

// GetSession fetches the client's session.
func (c *Client) GetSession(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, c.sessionPath(""), nil, &resp)
	return resp, err
}

// ApplyMutation appends one mutation. An empty description is generated server side.
func (c *Client) ApplyMutation(ctx context.Context, kind string, payload any, description string) (MutationResult, error) {
	body := map[string]any{
		"kind":    kind,
		"payload": payload,
	}
	if description != "" {
		body["description"] = description
	}
	var resp MutationResult
	err := c.do(ctx, http.MethodPost, c.sessionPath("mutations"), body, &resp)
	return resp, err
}

// AdvancePhase moves to the next phase.
func (c *Client) AdvancePhase(ctx context.Context) (MutationResult, error) {
	var resp MutationResult
	err := c.do(ctx, http.MethodPost, c.sessionPath("phase/advance"), nil, &resp)
	return resp, err
}

// Revert undoes an event. Without cascade the call fails with a
// cascade_required APIError when later events exist.
func (c *Client) Revert(ctx context.Context, eventID int64, cascade bool) (RevertResult, error) {
	endpoint := c.sessionPath(fmt.Sprintf("events/%d/revert", eventID))
	if cascade {
		endpoint += "?cascade=true"
	}
	var resp RevertResult
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RevertLast undoes the most recent active event.
func (c *Client) RevertLast(ctx context.Context) (RevertResult, error) {
	var resp RevertResult
	err := c.do(ctx, http.MethodPost, c.sessionPath("revert-last"), nil, &resp)
	return resp, err
}

// Events lists events of the session.
func (c *Client) Events(ctx context.Context, q EventQuery) ([]Event, error) {
	values := url.Values{}
	if q.Kind != "" {
		values.Set("kind", q.Kind)
	}
	if !q.Since.IsZero() {
		values.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if !q.Until.IsZero() {
		values.Set("until", q.Until.UTC().Format(time.RFC3339))
	}
	if q.SinceSeq > 0 {
		values.Set("since_seq", fmt.Sprintf("%d", q.SinceSeq))
	}
	if q.UntilSeq > 0 {
		values.Set("until_seq", fmt.Sprintf("%d", q.UntilSeq))
	}
	if q.Q != "" {
		values.Set("q", q.Q)
	}
	if q.Limit > 0 {
		values.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if q.IncludeReverted {
		values.Set("include_reverted", "true")
	}
	endpoint := c.sessionPath("events")
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Timeline returns active events with grouped reverts.
func (c *Client) Timeline(ctx context.Context) ([]TimelineEntry, error) {
	var resp []TimelineEntry
	err := c.do(ctx, http.MethodGet, c.sessionPath("timeline"), nil, &resp)
	return resp, err
}

// Verify replays the session server side.
func (c *Client) Verify(ctx context.Context) (VerifyReport, error) {
	var resp VerifyReport
	err := c.do(ctx, http.MethodGet, c.sessionPath("verify"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) sessionPath(p string) string {
	session := url.PathEscape(c.SessionID)
	if p == "" {
		return "v0/sessions/" + session
	}
	return fmt.Sprintf("v0/sessions/%s/%s", session, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
