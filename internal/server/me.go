package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"voltline/internal/config"
	"voltline/internal/domain"
	"voltline/internal/engine"
	"voltline/internal/engine/authz"
)

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal and its permissions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     actor.ID,
			Role:        string(actor.Role),
			Permissions: nonNilSlice(e.Authz.Permissions(actor.Role)),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Stored company config",
		Errors:      taskErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ConfigResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Authz.Authorize(actor, authz.ConfigManage); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetConfig(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		data, err := cfg.ToYAML()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigResponse `json:"body"`
		}{Body: ConfigResponse{Company: cfg.Company.Name, Timezone: cfg.Company.Timezone, YAML: string(data)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-config",
		Method:      http.MethodPut,
		Path:        "/config",
		Summary:     "Replace the company config; applied on next start",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		Body struct {
			YAML string `json:"yaml" minLength:"1"`
		} `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, domain.KindValidation, err.Error(), nil)
		}
		if err := e.ImportConfig(ctx, actor, cfg); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	if !authCfg.AllowActorHeaders {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		id := strings.TrimSpace(input.Body.ActorID)
		role, ok := domain.ParseRole(input.Body.Role)
		if id == "" || !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and role are required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, domain.Actor{ID: id, Role: role}, 0)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
