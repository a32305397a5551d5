package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"battlelog/internal/domain"
	"battlelog/internal/engine"
	"battlelog/internal/migrate"
	"battlelog/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"cascade_required"`
	Message string         `json:"message" example:"reverting event 3 also reverts 2 later event(s); confirm with cascade"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"count\":2}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status  int
	headers http.Header
	Body    apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int           { return e.status }
func (e *apiError) Error() string            { return e.Body.Message }
func (e *apiError) GetHeaders() http.Header { return e.headers }

const busyRetryAfter = "1"

// New returns an HTTP handler exposing the battlelog API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Battlelog API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", promhttp.Handler())
	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerMutations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerReverts(group, cfg.Engine)
	registerHistory(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var cascade *domain.CascadeRequiredError
	if errors.As(err, &cascade) {
		return newAPIError(http.StatusConflict, "cascade_required", err.Error(), map[string]any{
			"target_event_id": cascade.TargetID,
			"count":           cascade.Count(),
			"events":          cascade.Events,
			"descriptions":    cascade.Descriptions(),
		})
	}
	var invalid *domain.InvalidPayloadError
	if errors.As(err, &invalid) {
		details := map[string]any{"kind": invalid.Kind}
		if invalid.Field != "" {
			details["field"] = invalid.Field
		}
		return newAPIError(http.StatusBadRequest, "invalid_payload", err.Error(), details)
	}
	var restore *domain.RestorationError
	if errors.As(err, &restore) {
		return newAPIError(http.StatusInternalServerError, "restoration_failed", err.Error(), map[string]any{
			"event_id": restore.EventID,
			"kind":     restore.Kind,
		})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidPayload):
		return newAPIError(http.StatusBadRequest, "invalid_payload", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyReverted):
		return newAPIError(http.StatusConflict, "already_reverted", err.Error(), nil)
	case errors.Is(err, domain.ErrSessionEnded):
		return newAPIError(http.StatusConflict, "session_ended", err.Error(), nil)
	case errors.Is(err, domain.ErrSessionExists):
		return newAPIError(http.StatusConflict, "session_exists", err.Error(), nil)
	case errors.Is(err, domain.ErrPartialRestoration):
		return newAPIError(http.StatusInternalServerError, "restoration_failed", err.Error(), nil)
	case errors.Is(err, domain.ErrBusy):
		return &apiError{
			status:  http.StatusServiceUnavailable,
			headers: http.Header{"Retry-After": []string{busyRetryAfter}},
			Body:    apiErrorBody{Code: "busy", Message: err.Error()},
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "canceled", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "busy"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Battlelog API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		current, err := migrate.Current(ctx, e.DB)
		if err != nil {
			return nil, handleError(err)
		}
		latest, err := migrate.Latest()
		if err != nil {
			return nil, handleError(err)
		}
		status := "ok"
		if current != latest {
			status = "migration_pending"
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: status, SchemaVersion: current, LatestVersion: latest}}, nil
	})
}

type sessionPath struct {
	SessionID string `path:"session_id"`
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Start session",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body StartSessionRequest `json:"body" required:"false"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.StartSessionOptions{
			Name:      input.Body.Name,
			Rules:     input.Body.Rules,
			Units:     input.Body.Units,
			FirstTurn: domain.Role(input.Body.FirstTurn),
			ActorID:   actorID,
		}
		if input.Body.ID != nil {
			opts.ID = strings.TrimSpace(*input.Body.ID)
		}
		s, err := e.StartSession(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,ended"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []SessionResponse `json:"body"`
	}, error) {
		items, err := e.ListSessions(ctx, repo.SessionFilter{Status: input.Status, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SessionResponse `json:"body"`
		}{Body: mapSessions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, err := e.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "end-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/end",
		Summary:     "End session",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.EndSession(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}",
		Summary:       "Delete session and its history",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSession(ctx, input.SessionID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMutations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "apply-mutation",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/mutations",
		Summary:       "Apply a mutation and append its event",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string               `path:"session_id"`
		Body      ApplyMutationRequest `json:"body"`
	}) (*struct {
		Body MutationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payload, err := json.Marshal(input.Body.Payload)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid payload", nil)
		}
		res, err := e.ApplyMutation(ctx, engine.MutationOptions{
			SessionID:   input.SessionID,
			Kind:        domain.EventKind(input.Body.Kind),
			Payload:     payload,
			Description: strings.TrimSpace(input.Body.Description),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MutationResponse `json:"body"`
		}{Body: mutationResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "advance-phase",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/phase/advance",
		Summary:       "Advance to the next phase",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body MutationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.AdvancePhase(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MutationResponse `json:"body"`
		}{Body: mutationResponse(res)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/events",
		Summary:     "List events",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID       string `path:"session_id"`
		Kind            string `query:"kind" enum:"phase_change,resource_delta,objective_control,unit_damage,unit_status,sub_objective_score,stratagem,custom_note"`
		Since           string `query:"since" format:"date-time" doc:"earliest created_at to include (RFC3339)"`
		Until           string `query:"until" format:"date-time" doc:"latest created_at to include (RFC3339)"`
		SinceSeq        int64  `query:"since_seq" doc:"first seq to include"`
		UntilSeq        int64  `query:"until_seq" doc:"last seq to include"`
		Q               string `query:"q" doc:"substring of the description"`
		Limit           int    `query:"limit" default:"50"`
		IncludeReverted bool   `query:"include_reverted"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		since, err := parseTimeParam("since", input.Since)
		if err != nil {
			return nil, err
		}
		until, err := parseTimeParam("until", input.Until)
		if err != nil {
			return nil, err
		}
		if !since.IsZero() && !until.IsZero() && since.After(until) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "since must not exceed until", nil)
		}
		if input.SinceSeq > 0 && input.UntilSeq > 0 && input.SinceSeq > input.UntilSeq {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "since_seq must not exceed until_seq", nil)
		}
		items, err := e.ListEvents(ctx, input.SessionID, repo.EventFilter{
			Kind:            domain.EventKind(input.Kind),
			Since:           since,
			Until:           until,
			SinceSeq:        input.SinceSeq,
			UntilSeq:        input.UntilSeq,
			Query:           strings.TrimSpace(input.Q),
			Limit:           normalizeLimit(input.Limit),
			IncludeReverted: input.IncludeReverted,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEventViews(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/events/{event_id}",
		Summary:     "Get event",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		EventID   string `path:"event_id"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		id, err := parseEventID(input.EventID)
		if err != nil {
			return nil, err
		}
		v, err := e.GetEvent(ctx, input.SessionID, id)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(v.Event, v.CascadeCount)}, nil
	})
}

func registerReverts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "revert-event",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/events/{event_id}/revert",
		Summary:     "Revert an event",
		Description: "Later active events must be acknowledged with cascade=true; without it the call fails with cascade_required and lists them.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		EventID   string `path:"event_id"`
		Cascade   bool   `query:"cascade"`
	}) (*struct {
		Body RevertResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		id, err := parseEventID(input.EventID)
		if err != nil {
			return nil, err
		}
		res, err := e.Revert(ctx, engine.RevertOptions{
			SessionID: input.SessionID,
			EventID:   id,
			Cascade:   input.Cascade,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RevertResponse `json:"body"`
		}{Body: revertResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revert-last",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/revert-last",
		Summary:     "Revert the most recent active event",
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body RevertResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RevertLast(ctx, input.SessionID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RevertResponse `json:"body"`
		}{Body: revertResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reverts",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/reverts",
		Summary:     "List revert actions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []RevertActionResponse `json:"body"`
	}, error) {
		items, err := e.ListRevertActions(ctx, input.SessionID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RevertActionResponse `json:"body"`
		}{Body: mapRevertActions(items)}, nil
	})
}

func registerHistory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "timeline",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/timeline",
		Summary:     "Active events and grouped reverts in order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body []TimelineEntryResponse `json:"body"`
	}, error) {
		entries, err := e.Timeline(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TimelineEntryResponse `json:"body"`
		}{Body: mapTimeline(entries)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/verify",
		Summary:     "Compare stored state with a replay of active events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body engine.VerifyReport `json:"body"`
	}, error) {
		report, err := e.Verify(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.VerifyReport `json:"body"`
		}{Body: report}, nil
	})
}

func parseEventID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", "invalid event id", map[string]any{"event_id": raw})
	}
	return id, nil
}

func parseTimeParam(name, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, newAPIError(http.StatusBadRequest, "bad_request", "invalid "+name+" timestamp", map[string]any{name: raw})
	}
	return t, nil
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
