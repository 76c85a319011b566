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
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"atelier/internal/config"
	"atelier/internal/domain"
	"atelier/internal/queue"
	"atelier/internal/repo"
	"atelier/internal/validate"
)

// Config for the HTTP API handler.
type Config struct {
	Queue    queue.Queue
	Config   *config.Config
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid transition: approved -> in_progress"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Atelier API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Queue.Repo))
	hcfg := huma.DefaultConfig("Atelier API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg)
	registerItems(group, cfg)
	registerArtifacts(group, cfg)
	registerValidations(group, cfg)
	registerClaim(group, cfg)
	registerEvents(group, cfg)
	registerAPIKeys(group, cfg)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg)

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
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, queue.ErrInvalidSpec):
		return newAPIError(http.StatusBadRequest, "invalid_spec", err.Error(), nil)
	case errors.Is(err, queue.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, queue.ErrArtifactSealed):
		return newAPIError(http.StatusConflict, "artifact_sealed", err.Error(), nil)
	case errors.Is(err, queue.ErrArtifactMissing):
		return newAPIError(http.StatusUnprocessableEntity, "artifact_missing", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
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
    <title>Atelier API Docs</title>
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

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Queue status per domain",
	}, func(ctx context.Context, input *struct {
		Domain string `query:"domain"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		domains := []string{input.Domain}
		if input.Domain == "" {
			var err error
			domains, err = cfg.Queue.Repo.Domains(ctx)
			if err != nil {
				return nil, handleError(err)
			}
		}
		perDomain := map[string]map[string]int{}
		for _, dom := range domains {
			counts, err := cfg.Queue.Repo.CountByStatus(ctx, dom)
			if err != nil {
				return nil, handleError(err)
			}
			perDomain[dom] = counts
		}
		pending, err := cfg.Queue.Repo.PendingCount(ctx, domains)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"studio_id": cfg.Config.Studio.ID,
			"pending":   pending,
			"domains":   perDomain,
		}}, nil
	})
}

func registerItems(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-item",
		Method:        http.MethodPost,
		Path:          "/items",
		Summary:       "Submit work item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := cfg.Queue.EmitNew(ctx, queue.NewItemOptions{
			Domain:      input.Body.Domain,
			Kind:        input.Body.Kind,
			Spec:        input.Body.Spec,
			Priority:    input.Body.Priority,
			CostOfDelay: input.Body.CostOfDelay,
			JobSize:     input.Body.JobSize,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(item)}, nil
	})

	type paginatedItems struct {
		Items      []ItemResponse `json:"items"`
		NextCursor string         `json:"next_cursor,omitempty"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List work items",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Domain string `query:"domain"`
		Status string `query:"status"`
		Kind   string `query:"kind"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedItems `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		f := repo.WorkItemFilters{
			Domain: input.Domain,
			Status: input.Status,
			Kind:   input.Kind,
			Limit:  limit + 1,
		}
		if input.Cursor != "" {
			createdAt, id, ok := strings.Cut(input.Cursor, "|")
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			f.CursorCreatedAt = createdAt
			f.CursorID = id
		}
		items, err := cfg.Queue.Repo.ListWorkItems(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedItems{Items: []ItemResponse{}}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = last.CreatedAt + "|" + last.ID
			items = items[:limit]
		}
		resp.Items = mapItems(items)
		return &struct {
			Body paginatedItems `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		item, err := cfg.Queue.Repo.GetWorkItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item-lineage",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/lineage",
		Summary:     "Get item lineage from first attempt to latest",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body []ItemResponse `json:"body"`
	}, error) {
		chain, err := cfg.Queue.Repo.Lineage(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ItemResponse `json:"body"`
		}{Body: mapItems(chain)}, nil
	})
}

func registerClaim(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-item",
		Method:      http.MethodPost,
		Path:        "/domains/{domain}/claim",
		Summary:     "Claim the highest-priority pending item",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Domain string `path:"domain"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := cfg.Queue.Claim(ctx, input.Domain, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(item)}, nil
	})
}

func registerArtifacts(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "deposit-artifact",
		Method:      http.MethodPut,
		Path:        "/items/{item_id}/artifact",
		Summary:     "Deposit or replace the item's artifact",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string                 `path:"item_id"`
		Body   DepositArtifactRequest `json:"body"`
	}) (*struct {
		Body ArtifactResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a := artifactFromRequest(input.ItemID, input.Body)
		if err := cfg.Queue.DepositArtifact(ctx, a, actorID); err != nil {
			return nil, handleError(err)
		}
		stored, err := cfg.Queue.LoadArtifact(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArtifactResponse `json:"body"`
		}{Body: artifactResponse(stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-artifact",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/artifact",
		Summary:     "Get the item's artifact",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct {
		Body ArtifactResponse `json:"body"`
	}, error) {
		a, err := cfg.Queue.LoadArtifact(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArtifactResponse `json:"body"`
		}{Body: artifactResponse(a)}, nil
	})
}

func registerValidations(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-validations",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/validations",
		Summary:     "List validation records for an item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID  string `path:"item_id"`
		Lineage bool   `query:"lineage"`
	}) (*struct {
		Body []ValidationResponse `json:"body"`
	}, error) {
		if _, err := cfg.Queue.Repo.GetWorkItem(ctx, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		var (
			records []domain.ValidationResult
			err     error
		)
		if input.Lineage {
			records, err = cfg.Queue.Repo.ListValidationsByLineage(ctx, input.ItemID)
		} else {
			records, err = cfg.Queue.Repo.ListValidationsByItem(ctx, input.ItemID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ValidationResponse `json:"body"`
		}{Body: mapValidations(records)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "record-validation",
		Method:        http.MethodPost,
		Path:          "/items/{item_id}/validations",
		Summary:       "Record a validation and advance the item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string                  `path:"item_id"`
		Body   RecordValidationRequest `json:"body"`
	}) (*struct {
		Body AdvanceResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := cfg.Queue.Repo.GetWorkItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		vr := validationFromRequest(item, input.Body)
		controller := validate.Controller{
			Queue:         cfg.Queue,
			MaxIterations: maxIterationsFor(cfg.Config, item.Domain, item.Kind),
		}
		outcome, successor, err := controller.Advance(ctx, item, vr, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		updated, err := cfg.Queue.Repo.GetWorkItem(ctx, item.ID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := AdvanceResponse{Outcome: string(outcome), Item: itemResponse(updated)}
		if successor != nil {
			s := itemResponse(*successor)
			resp.Successor = &s
		}
		return &struct {
			Body AdvanceResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	type paginatedEvents struct {
		Items      []EventResponse `json:"items"`
		NextCursor string          `json:"next_cursor,omitempty"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the audit log, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Domain     string `query:"domain"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			cursorID = parsed
		}
		events, err := cfg.Queue.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.Domain, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(events) > limit {
			resp.NextCursor = fmt.Sprintf("%d", events[limit].ID)
			events = events[:limit]
		}
		resp.Items = mapEvents(events)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-apikey",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		key, record, err := MintAPIKey(ctx, cfg.Queue, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(record)
		resp.Key = key
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-apikeys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		keys, err := cfg.Queue.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-apikey",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := cfg.Queue.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// MintAPIKey generates a fresh key, stores its hash, and returns the plaintext
// exactly once.
func MintAPIKey(ctx context.Context, q queue.Queue, actorID, name string) (string, domain.APIKey, error) {
	plaintext := "atk_" + uuid.NewString()
	record := domain.APIKey{
		ID:      uuid.NewString(),
		ActorID: actorID,
		Name:    name,
		KeyHash: repo.HashAPIKey(plaintext),
	}
	if err := q.Repo.InsertAPIKey(ctx, nil, record); err != nil {
		return "", domain.APIKey{}, err
	}
	stored, err := q.Repo.GetAPIKeyByHash(ctx, record.KeyHash)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	return plaintext, stored, nil
}

func maxIterationsFor(cfg *config.Config, dom, kind string) int {
	policy := cfg.Policy(dom)
	if kind == "visual_refinement" && policy.Vision != nil {
		return policy.Vision.MaxIterations
	}
	if policy.MaxIterations < 1 {
		return 1
	}
	return policy.MaxIterations
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
