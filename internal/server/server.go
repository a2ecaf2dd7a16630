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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"catena/internal/engine"
	"catena/internal/engine/auth"
	"catena/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"draft validation failed with 2 errors"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Catena API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Catena API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCollections(group, cfg.Engine)
	registerDrafts(group, cfg.Engine)
	registerResources(group, cfg.Engine)
	registerInternalRelations(group, cfg.Engine)
	registerExternalRelations(group, cfg.Engine)
	registerVersions(group, cfg.Engine)
	registerAccess(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fe.Role})
	}
	var ve engine.ValidationFailedError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{
			"errors": validationResponse(ve.Result).Errors,
		})
	}
	var me engine.MultipleDraftsError
	if errors.As(err, &me) {
		return newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "does not exist"),
		strings.Contains(lowered, "no draft"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "deleted"),
		strings.Contains(lowered, "superseded"),
		strings.Contains(lowered, "does not belong"),
		strings.Contains(lowered, "another collection"),
		strings.Contains(lowered, "cannot"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requireRole(ctx context.Context, e engine.Engine, collectionID, role string) (string, huma.StatusError) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	svc := auth.New(e.DB, e.Config)
	if err := svc.MinRole(ctx, collectionID, userID, role); err != nil {
		return "", handleError(err)
	}
	return userID, nil
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
    <title>Catena API Docs</title>
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

func registerCollections(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-collection",
		Method:        http.MethodPost,
		Path:          "/collections",
		Summary:       "Create collection",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateCollectionRequest `json:"body"`
	}) (*struct {
		Body CollectionResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		c, err := e.CreateCollection(ctx, engine.CollectionCreateOptions{
			WorkspaceID: stringOrEmpty(input.Body.WorkspaceID),
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			UserID:      userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollectionResponse `json:"body"`
		}{Body: collectionResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-collections",
		Method:      http.MethodGet,
		Path:        "/collections",
		Summary:     "List collections",
	}, func(ctx context.Context, input *struct {
		WorkspaceID string `query:"workspace_id"`
	}) (*struct {
		Body []CollectionResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCollections(ctx, input.WorkspaceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CollectionResponse `json:"body"`
		}{Body: mapCollections(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-collection",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}",
		Summary:     "Get collection",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
	}) (*struct {
		Body CollectionResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "viewer"); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCollection(ctx, input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollectionResponse `json:"body"`
		}{Body: collectionResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-collection",
		Method:      http.MethodPatch,
		Path:        "/collections/{collection_id}",
		Summary:     "Update collection",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string                  `path:"collection_id"`
		Body         UpdateCollectionRequest `json:"body"`
	}) (*struct {
		Body CollectionResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateCollection(ctx, engine.CollectionUpdateOptions{
			CollectionID: input.CollectionID,
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			UserID:       userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CollectionResponse `json:"body"`
		}{Body: collectionResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-collection",
		Method:      http.MethodDelete,
		Path:        "/collections/{collection_id}",
		Summary:     "Delete collection",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "owner"); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteCollection(ctx, input.CollectionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDrafts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-or-create-draft",
		Method:      http.MethodPost,
		Path:        "/collections/{collection_id}/draft",
		Summary:     "Get or create the draft version",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "editor"); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCollection(ctx, input.CollectionID); err != nil {
			return nil, handleError(err)
		}
		v, err := e.EnsureDraft(ctx, input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-draft",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/draft",
		Summary:     "Get the draft with its resources and relations",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
	}) (*struct {
		Body DraftResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "viewer"); authErr != nil {
			return nil, authErr
		}
		draft, err := e.Repo.DraftVersion(ctx, input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		resources, err := e.Repo.ListResourcesByVersion(ctx, draft.ID)
		if err != nil {
			return nil, handleError(err)
		}
		internals, err := e.Repo.ListInternalRelationsByVersion(ctx, draft.ID)
		if err != nil {
			return nil, handleError(err)
		}
		externals, err := e.Repo.ListExternalRelationsByVersion(ctx, draft.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DraftResponse `json:"body"`
		}{Body: DraftResponse{
			Version:           versionResponse(draft),
			Resources:         mapResources(resources),
			InternalRelations: mapInternalRelations(internals),
			ExternalRelations: mapExternalRelations(externals),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-draft",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/draft/validation",
		Summary:     "Validate the draft",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
	}) (*struct {
		Body ValidationResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "viewer"); authErr != nil {
			return nil, authErr
		}
		result, err := e.ValidateDraft(ctx, input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ValidationResponse `json:"body"`
		}{Body: validationResponse(result)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-draft",
		Method:      http.MethodPost,
		Path:        "/collections/{collection_id}/publish",
		Summary:     "Publish the draft",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string          `path:"collection_id"`
		Body         *PublishRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body VersionResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "admin")
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.PublishOptions{CollectionID: input.CollectionID, UserID: userID}
		if input.Body != nil {
			opts.Changelog = input.Body.Changelog
			opts.Creators = input.Body.Creators
		}
		v, err := e.Publish(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VersionResponse `json:"body"`
		}{Body: versionResponse(v)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-source-resources",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/draft/source-resources",
		Summary:     "List resources eligible as relation sources",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
	}) (*struct {
		Body []ResourceResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "viewer"); authErr != nil {
			return nil, authErr
		}
		items, err := e.SourceResources(ctx, input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ResourceResponse `json:"body"`
		}{Body: mapResources(items)}, nil
	})
}

func registerResources(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-resource",
		Method:        http.MethodPost,
		Path:          "/collections/{collection_id}/resources",
		Summary:       "Create resource in the draft",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string                `path:"collection_id"`
		Body         CreateResourceRequest `json:"body"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Title == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		res, err := e.CreateResource(ctx, engine.ResourceCreateOptions{
			CollectionID:   input.CollectionID,
			Title:          input.Body.Title,
			Description:    stringOrEmpty(input.Body.Description),
			Identifier:     stringOrEmpty(input.Body.Identifier),
			IdentifierType: stringOrEmpty(input.Body.IdentifierType),
			ResourceType:   stringOrEmpty(input.Body.ResourceType),
			VersionLabel:   stringOrEmpty(input.Body.VersionLabel),
			UserID:         userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-resource",
		Method:      http.MethodPatch,
		Path:        "/collections/{collection_id}/resources/{id}",
		Summary:     "Update resource in the draft",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string                `path:"collection_id"`
		ID           string                `path:"id"`
		Body         UpdateResourceRequest `json:"body"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.UpdateResource(ctx, engine.ResourceUpdateOptions{
			CollectionID:   input.CollectionID,
			ResourceID:     input.ID,
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			Identifier:     input.Body.Identifier,
			IdentifierType: input.Body.IdentifierType,
			ResourceType:   input.Body.ResourceType,
			VersionLabel:   input.Body.VersionLabel,
			UserID:         userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-resource",
		Method:      http.MethodDelete,
		Path:        "/collections/{collection_id}/resources/{id}",
		Summary:     "Delete resource from the draft",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		ID           string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteResource(ctx, input.CollectionID, input.ID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-resource",
		Method:      http.MethodPost,
		Path:        "/collections/{collection_id}/resources/{id}/restore",
		Summary:     "Restore a deleted draft resource",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		ID           string `path:"id"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RestoreResource(ctx, input.CollectionID, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "new-resource-version",
		Method:        http.MethodPost,
		Path:          "/collections/{collection_id}/resources/{id}/versions",
		Summary:       "Supersede a resource with a new edition",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string                    `path:"collection_id"`
		ID           string                    `path:"id"`
		Body         NewResourceVersionRequest `json:"body"`
	}) (*struct {
		Body ResourceResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.NewResourceVersion(ctx, engine.ResourceVersionOptions{
			CollectionID:   input.CollectionID,
			ResourceID:     input.ID,
			Identifier:     input.Body.Identifier,
			IdentifierType: input.Body.IdentifierType,
			VersionLabel:   input.Body.VersionLabel,
			CloneRelations: input.Body.CloneRelations,
			UserID:         userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResourceResponse `json:"body"`
		}{Body: resourceResponse(res)}, nil
	})
}

func registerInternalRelations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-internal-relation",
		Method:        http.MethodPost,
		Path:          "/collections/{collection_id}/relations/internal",
		Summary:       "Create internal relation in the draft",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string                        `path:"collection_id"`
		Body         CreateInternalRelationRequest `json:"body"`
	}) (*struct {
		Body InternalRelationResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.SourceID == "" || input.Body.TargetID == "" || input.Body.Type == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "source_id, target_id, and type are required", nil)
		}
		rel, err := e.CreateInternalRelation(ctx, engine.InternalRelationCreateOptions{
			CollectionID: input.CollectionID,
			SourceID:     input.Body.SourceID,
			TargetID:     input.Body.TargetID,
			Type:         input.Body.Type,
			ResourceType: stringOrEmpty(input.Body.ResourceType),
			UserID:       userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InternalRelationResponse `json:"body"`
		}{Body: internalRelationResponse(rel)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-internal-relation",
		Method:      http.MethodPatch,
		Path:        "/collections/{collection_id}/relations/internal/{id}",
		Summary:     "Update internal relation in the draft",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string                        `path:"collection_id"`
		ID           string                        `path:"id"`
		Body         UpdateInternalRelationRequest `json:"body"`
	}) (*struct {
		Body InternalRelationResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		rel, err := e.UpdateInternalRelation(ctx, engine.InternalRelationUpdateOptions{
			CollectionID: input.CollectionID,
			RelationID:   input.ID,
			TargetID:     input.Body.TargetID,
			Type:         input.Body.Type,
			ResourceType: input.Body.ResourceType,
			UserID:       userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InternalRelationResponse `json:"body"`
		}{Body: internalRelationResponse(rel)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-internal-relation",
		Method:      http.MethodDelete,
		Path:        "/collections/{collection_id}/relations/internal/{id}",
		Summary:     "Delete internal relation from the draft",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		ID           string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteInternalRelation(ctx, input.CollectionID, input.ID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-internal-relation",
		Method:      http.MethodPost,
		Path:        "/collections/{collection_id}/relations/internal/{id}/restore",
		Summary:     "Restore a deleted internal relation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		ID           string `path:"id"`
	}) (*struct {
		Body InternalRelationResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		rel, err := e.RestoreInternalRelation(ctx, input.CollectionID, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InternalRelationResponse `json:"body"`
		}{Body: internalRelationResponse(rel)}, nil
	})
}

func registerExternalRelations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-external-relation",
		Method:        http.MethodPost,
		Path:          "/collections/{collection_id}/relations/external",
		Summary:       "Create external relation in the draft",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string                        `path:"collection_id"`
		Body         CreateExternalRelationRequest `json:"body"`
	}) (*struct {
		Body ExternalRelationResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.SourceID == "" || input.Body.Target == "" || input.Body.Type == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "source_id, target, and type are required", nil)
		}
		rel, err := e.CreateExternalRelation(ctx, engine.ExternalRelationCreateOptions{
			CollectionID: input.CollectionID,
			SourceID:     input.Body.SourceID,
			Target:       input.Body.Target,
			TargetType:   stringOrEmpty(input.Body.TargetType),
			Type:         input.Body.Type,
			ResourceType: stringOrEmpty(input.Body.ResourceType),
			UserID:       userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExternalRelationResponse `json:"body"`
		}{Body: externalRelationResponse(rel)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-external-relation",
		Method:      http.MethodPatch,
		Path:        "/collections/{collection_id}/relations/external/{id}",
		Summary:     "Update external relation in the draft",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CollectionID string                        `path:"collection_id"`
		ID           string                        `path:"id"`
		Body         UpdateExternalRelationRequest `json:"body"`
	}) (*struct {
		Body ExternalRelationResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		rel, err := e.UpdateExternalRelation(ctx, engine.ExternalRelationUpdateOptions{
			CollectionID: input.CollectionID,
			RelationID:   input.ID,
			Target:       input.Body.Target,
			TargetType:   input.Body.TargetType,
			Type:         input.Body.Type,
			ResourceType: input.Body.ResourceType,
			UserID:       userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExternalRelationResponse `json:"body"`
		}{Body: externalRelationResponse(rel)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-external-relation",
		Method:      http.MethodDelete,
		Path:        "/collections/{collection_id}/relations/external/{id}",
		Summary:     "Delete external relation from the draft",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		ID           string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteExternalRelation(ctx, input.CollectionID, input.ID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-external-relation",
		Method:      http.MethodPost,
		Path:        "/collections/{collection_id}/relations/external/{id}/restore",
		Summary:     "Restore a deleted external relation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		ID           string `path:"id"`
	}) (*struct {
		Body ExternalRelationResponse `json:"body"`
	}, error) {
		userID, authErr := requireRole(ctx, e, input.CollectionID, "editor")
		if authErr != nil {
			return nil, authErr
		}
		rel, err := e.RestoreExternalRelation(ctx, input.CollectionID, input.ID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExternalRelationResponse `json:"body"`
		}{Body: externalRelationResponse(rel)}, nil
	})
}

func registerVersions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-versions",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/versions",
		Summary:     "List versions",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
	}) (*struct {
		Body []VersionResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "viewer"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListVersions(ctx, input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []VersionResponse `json:"body"`
		}{Body: mapVersions(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/versions/{id}",
		Summary:     "Get a version with its resources and relations",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		ID           string `path:"id"`
	}) (*struct {
		Body DraftResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "viewer"); authErr != nil {
			return nil, authErr
		}
		v, err := e.Repo.GetVersion(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if v.CollectionID != input.CollectionID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "version not found in collection", nil)
		}
		resources, err := e.Repo.ListResourcesByVersion(ctx, v.ID)
		if err != nil {
			return nil, handleError(err)
		}
		internals, err := e.Repo.ListInternalRelationsByVersion(ctx, v.ID)
		if err != nil {
			return nil, handleError(err)
		}
		externals, err := e.Repo.ListExternalRelationsByVersion(ctx, v.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DraftResponse `json:"body"`
		}{Body: DraftResponse{
			Version:           versionResponse(v),
			Resources:         mapResources(resources),
			InternalRelations: mapInternalRelations(internals),
			ExternalRelations: mapExternalRelations(externals),
		}}, nil
	})
}

func registerAccess(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-collection-access",
		Method:      http.MethodGet,
		Path:        "/collections/{collection_id}/access",
		Summary:     "List collection access grants",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
	}) (*struct {
		Body []AccessResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "admin"); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCollectionAccess(ctx, input.CollectionID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AccessResponse, 0, len(items))
		for _, a := range items {
			res = append(res, accessResponse(a))
		}
		return &struct {
			Body []AccessResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-collection-access",
		Method:      http.MethodPut,
		Path:        "/collections/{collection_id}/access/{user_id}",
		Summary:     "Grant or change a user's role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string        `path:"collection_id"`
		UserID       string        `path:"user_id"`
		Body         AccessRequest `json:"body"`
	}) (*struct {
		Body AccessResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "admin"); authErr != nil {
			return nil, authErr
		}
		if e.Config != nil && e.Config.RoleRank(input.Body.Role) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown role %q", input.Body.Role), nil)
		}
		grant, err := e.GrantAccess(ctx, input.CollectionID, input.UserID, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AccessResponse `json:"body"`
		}{Body: accessResponse(grant)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-collection-access",
		Method:      http.MethodDelete,
		Path:        "/collections/{collection_id}/access/{user_id}",
		Summary:     "Revoke a user's access",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CollectionID string `path:"collection_id"`
		UserID       string `path:"user_id"`
	}) (*struct{}, error) {
		if _, authErr := requireRole(ctx, e, input.CollectionID, "admin"); authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAccess(ctx, input.CollectionID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit        int    `query:"limit" default:"50"`
		CollectionID string `query:"collection_id"`
		Type         string `query:"type"`
		EntityKind   string `query:"entity_kind"`
		EntityID     string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := userIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.CollectionID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}
