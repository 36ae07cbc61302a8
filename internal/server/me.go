package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"sidequest/internal/domain"
	"sidequest/internal/engine"
)

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/me/profile",
		Summary:     "Current user's travel profile",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.UserProfile `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		profile, err := e.Repo.GetProfile(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		profile.TravelInterests = nonNilSlice(profile.TravelInterests)
		return &struct {
			Body domain.UserProfile `json:"body"`
		}{Body: profile}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-profile",
		Method:      http.MethodPut,
		Path:        "/me/profile",
		Summary:     "Create or update the current user's profile",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body SaveProfileRequest `json:"body"`
	}) (*struct {
		Body domain.UserProfile `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		profile, err := e.SaveProfile(ctx, p.UserID, engine.ProfileInput{
			Username:         input.Body.Username,
			TravelInterests:  input.Body.TravelInterests,
			BudgetPreference: input.Body.BudgetPreference,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.UserProfile `json:"body"`
		}{Body: profile}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-decisions",
		Method:      http.MethodGet,
		Path:        "/me/decisions",
		Summary:     "Current user's decisions, newest first",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Action string `query:"action" enum:"liked,disliked"`
	}) (*struct {
		Body DecisionListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListDecisions(ctx, p.UserID, input.Action)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionListResponse `json:"body"`
		}{Body: DecisionListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-likes",
		Method:      http.MethodGet,
		Path:        "/me/likes",
		Summary:     "Quests the current user liked",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body QuestListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.LikedQuests(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		items = nonNilSlice(items)
		return &struct {
			Body QuestListResponse `json:"body"`
		}{Body: QuestListResponse{Items: items, Count: len(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-dashboard",
		Method:      http.MethodGet,
		Path:        "/me/dashboard",
		Summary:     "Liked quests with decision counts",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.Dashboard(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		d.Liked = nonNilSlice(d.Liked)
		return &struct {
			Body engine.Dashboard `json:"body"`
		}{Body: d}, nil
	})
}
