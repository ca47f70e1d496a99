package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"momentum/internal/domain"
	"momentum/internal/engine"
	"momentum/internal/logger"
	"momentum/internal/state"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *logger.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_payload"`
	Message string         `json:"message" example:"ADD_TASK: missing field \"title\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"action\":\"ADD_TASK\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Momentum API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	if cfg.Auth.Log == nil {
		cfg.Auth.Log = cfg.Log
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Momentum API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerActions(group, cfg)
	registerState(group, cfg)
	registerSuggestion(group, cfg)
	registerAnalytics(group, cfg)
	registerPatterns(group, cfg)
	registerReset(group, cfg)
	if err := registerOpenAPI(router, api, basePath); err != nil {
		return nil, err
	}

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
	switch {
	case errors.Is(err, engine.ErrClosed):
		return newAPIError(http.StatusServiceUnavailable, "engine_closed", err.Error(), nil)
	case errors.Is(err, engine.ErrResetNotConfirmed):
		return newAPIError(http.StatusBadRequest, "confirmation_required", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusUnprocessableEntity:
		return "validation_failed"
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

// registerOpenAPI serves the finished document. It runs after every
// operation is registered and renders the spec once.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) error {
	oas := api.OpenAPI()
	ensureDefaultErrorResponses(oas)
	applyAuthSecurity(oas, basePath)
	spec, err := json.Marshal(oas)
	if err != nil {
		return fmt.Errorf("render openapi: %w", err)
	}
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
	return nil
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):  true,
		path.Join("/", basePath, "actions"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if public[route] {
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
    <title>Momentum API Docs</title>
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
      POST a LOGIN_USER action to /actions to obtain a token, then send Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// anonymous actions may be sent without a token.
var anonymous = map[engine.Name]bool{
	engine.ActRegisterUser: true,
	engine.ActLoginUser:    true,
	engine.ActLogoutUser:   true,
}

func registerActions(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "dispatch-action",
		Method:      http.MethodPost,
		Path:        "/actions",
		Summary:     "Dispatch one action",
		Description: "Unknown action names are ignored. Payloads missing required fields are rejected without side effects.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body ActionRequest `json:"body"`
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		name := strings.TrimSpace(input.Body.Action)
		if name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action is required", nil)
		}
		if !anonymous[engine.Name(name)] {
			if err := requireUser(ctx, cfg.Auth); err != nil {
				return nil, err
			}
		}
		payload := []byte("{}")
		if input.Body.Payload != nil {
			raw, err := json.Marshal(input.Body.Payload)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "payload must be a JSON object", nil)
			}
			payload = raw
		}
		res, err := e.DispatchRaw(ctx, name, payload)
		if err != nil {
			return nil, handleError(err)
		}
		switch res.Status {
		case engine.StatusAborted:
			return nil, newAPIError(http.StatusBadRequest, "invalid_payload", res.Reason, map[string]any{"action": name})
		case engine.StatusDenied:
			return nil, newAPIError(http.StatusUnauthorized, "invalid_credentials", res.Reason, map[string]any{"action": name})
		}
		out := ActionResponse{Result: res}
		if res.PersistErr != nil {
			out.Warning = "change kept in memory but not saved: " + res.PersistErr.Error()
		}
		if res.Status == engine.StatusApplied && cfg.Auth.enabled() &&
			(res.Action == engine.ActLoginUser || res.Action == engine.ActRegisterUser) {
			username, _ := input.Body.Payload["username"].(string)
			token, exp, err := signToken(cfg.Auth, username)
			if err != nil {
				return nil, handleError(err)
			}
			out.Token = token
			out.ExpiresAt = exp.UTC().Format(time.RFC3339)
		}
		cfg.Log.Debug("action handled", "action", name, "status", res.Status)
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerState(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-state",
		Method:      http.MethodGet,
		Path:        "/state",
		Summary:     "Current session state",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Filter string `query:"filter" enum:"all,active,completed,deep" doc:"Restrict tasks to this view; defaults to the session filter"`
	}) (*struct {
		Body state.State `json:"body"`
	}, error) {
		if err := requireUser(ctx, cfg.Auth); err != nil {
			return nil, err
		}
		snap := cfg.Engine.Snapshot()
		f := snap.TasksFilter
		if input.Filter != "" {
			f = state.Filter(input.Filter)
		}
		snap.Tasks = snap.FilterTasks(f)
		return &struct {
			Body state.State `json:"body"`
		}{Body: snap}, nil
	})
}

func registerSuggestion(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-suggestion",
		Method:      http.MethodGet,
		Path:        "/suggestion",
		Summary:     "Contextual suggestion for the current hour",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		if err := requireUser(ctx, cfg.Auth); err != nil {
			return nil, err
		}
		out := SuggestionResponse{Suggestion: cfg.Engine.Suggest()}
		if h, ok := cfg.Engine.PeakHour(); ok {
			out.PeakHour = &h
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerAnalytics(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-analytics",
		Method:      http.MethodGet,
		Path:        "/analytics",
		Summary:     "Completion rate and seven day activity",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body state.Analytics `json:"body"`
	}, error) {
		if err := requireUser(ctx, cfg.Auth); err != nil {
			return nil, err
		}
		return &struct {
			Body state.Analytics `json:"body"`
		}{Body: cfg.Engine.Analytics()}, nil
	})
}

func registerPatterns(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-patterns",
		Method:      http.MethodGet,
		Path:        "/patterns",
		Summary:     "Most recent behavioral pattern entries",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" maximum:"1000" doc:"Return at most this many entries; 0 returns the default page"`
	}) (*struct {
		Body PatternsResponse `json:"body"`
	}, error) {
		if err := requireUser(ctx, cfg.Auth); err != nil {
			return nil, err
		}
		items := cfg.Engine.History(normalizeLimit(input.Limit))
		if items == nil {
			items = []domain.PatternEntry{}
		}
		return &struct {
			Body PatternsResponse `json:"body"`
		}{Body: PatternsResponse{Items: items}}, nil
	})
}

func registerReset(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "factory-reset",
		Method:      http.MethodPost,
		Path:        "/reset",
		Summary:     "Delete all stored data and start an empty session",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ResetRequest `json:"body"`
	}) (*struct {
		Body ResetResponse `json:"body"`
	}, error) {
		if err := requireUser(ctx, cfg.Auth); err != nil {
			return nil, err
		}
		if err := cfg.Engine.Reset(ctx, input.Body.Confirm); err != nil {
			return nil, handleError(err)
		}
		cfg.Log.Warn("factory reset over http")
		return &struct {
			Body ResetResponse `json:"body"`
		}{Body: ResetResponse{Status: "reset"}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 1000 {
		return 1000
	}
	return in
}
