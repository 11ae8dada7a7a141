package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"assetline/internal/domain"
	"assetline/internal/engine"
	"assetline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"request req-404 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Assetline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	hcfg := huma.DefaultConfig("Assetline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerRequests(group, cfg.Engine)
	registerArtists(group, cfg.Engine)
	registerPresets(group, cfg.Engine)
	registerRules(group, cfg.Engine)
	registerPipeline(group, cfg.Engine)
	registerDecisions(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "malformed") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Assetline API Docs</title>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Pipeline status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		requests, err := e.Repo.ListRequests(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		artists, err := e.Repo.ListArtists(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := e.Repo.CountDecisionsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			Requests:       len(requests),
			Artists:        len(artists),
			DecisionCounts: counts,
		}}, nil
	})
}

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List requests",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RequestResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRequests(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []RequestResponse{}
		for _, r := range items {
			res = append(res, requestResponse(r))
		}
		return &struct {
			Body []RequestResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RequestResponse `json:"body"`
	}, error) {
		r, err := e.Repo.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestResponse `json:"body"`
		}{Body: requestResponse(r)}, nil
	})
}

func registerArtists(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-artists",
		Method:      http.MethodGet,
		Path:        "/artists",
		Summary:     "List artists",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ArtistResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListArtists(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []ArtistResponse{}
		for _, a := range items {
			res = append(res, artistResponse(a))
		}
		return &struct {
			Body []ArtistResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerPresets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-presets",
		Method:      http.MethodGet,
		Path:        "/presets",
		Summary:     "List presets",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PresetResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPresets(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []PresetResponse{}
		for _, account := range sortedKeys(items) {
			res = append(res, PresetResponse{Account: account, Preset: items[account]})
		}
		return &struct {
			Body []PresetResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-preset",
		Method:      http.MethodGet,
		Path:        "/presets/{account}",
		Summary:     "Get preset",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Account string `path:"account"`
	}) (*struct {
		Body PresetResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPreset(ctx, input.Account)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PresetResponse `json:"body"`
		}{Body: PresetResponse{Account: input.Account, Preset: p}}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []RuleResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListRules(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := []RuleResponse{}
		for _, r := range items {
			res = append(res, ruleResponse(r))
		}
		return &struct {
			Body []RuleResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerPipeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-request-preset",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/validate",
		Summary:     "Validate the request's account preset",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body validateResponse `json:"body"`
	}, error) {
		account := ""
		if req, err := e.Repo.GetRequest(ctx, input.ID); err == nil {
			account = req.Account
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		result, err := e.ValidatePreset(ctx, input.ID, account)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body validateResponse `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "plan-request-steps",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/plan",
		Summary:     "Plan workflow steps for a request",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body planResponse `json:"body"`
	}, error) {
		plan, err := e.PlanSteps(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body planResponse `json:"body"`
		}{Body: plan}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-request-artist",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/assign",
		Summary:     "Pick an artist for a request",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body assignResponse `json:"body"`
	}, error) {
		assignment, err := e.AssignArtist(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body assignResponse `json:"body"`
		}{Body: assignment}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "process-request",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/process",
		Summary:       "Run the full pipeline for a request",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body decisionBody `json:"body"`
	}, error) {
		d, err := apiEngine(e).ProcessRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body decisionBody `json:"body"`
		}{Body: decisionBody(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "process-all-requests",
		Method:        http.MethodPost,
		Path:          "/process",
		Summary:       "Run the full pipeline for every request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BatchResponse `json:"body"`
	}, error) {
		decisions, failures := apiEngine(e).ProcessAll(ctx)
		res := BatchResponse{Decisions: decisions, Failed: []BatchFailure{}}
		if res.Decisions == nil {
			res.Decisions = []domain.Decision{}
		}
		for _, f := range failures {
			res.Failed = append(res.Failed, BatchFailure{RequestID: f.RequestID, Error: f.Err.Error()})
		}
		return &struct {
			Body BatchResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-decision",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/decisions",
		Summary:       "Record a decision",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body RecordDecisionRequest `json:"body"`
	}) (*struct {
		Body decisionBody `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		d, err := apiEngine(e).RecordDecision(ctx, domain.Decision{
			RequestID:          input.ID,
			Status:             input.Body.Status,
			Rationale:          input.Body.Rationale,
			CustomerMessage:    input.Body.CustomerMessage,
			ClarifyingQuestion: input.Body.ClarifyingQuestion,
			ValidationResult:   input.Body.ValidationResult,
			Plan:               input.Body.Plan,
			Assignment:         input.Body.Assignment,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body decisionBody `json:"body"`
		}{Body: decisionBody(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/decisions",
		Summary:     "List decisions",
	}, func(ctx context.Context, input *struct {
		RequestID string `query:"request_id"`
		Status    string `query:"status" enum:",success,validation_failed,assignment_failed"`
	}) (*struct {
		Body []decisionBody `json:"body"`
	}, error) {
		items, err := e.Repo.ListDecisions(ctx, input.RequestID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		res := []decisionBody{}
		for _, d := range items {
			res = append(res, decisionBody(d))
		}
		return &struct {
			Body []decisionBody `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision",
		Method:      http.MethodGet,
		Path:        "/decisions/{id}",
		Summary:     "Get decision",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body decisionBody `json:"body"`
	}, error) {
		d, err := e.Repo.GetDecision(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body decisionBody `json:"body"`
		}{Body: decisionBody(d)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []EventResponse{}
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}

// apiEngine tags decisions recorded over HTTP.
func apiEngine(e engine.Engine) engine.Engine {
	e.AgentType = "api"
	return e
}
