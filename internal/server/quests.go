package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"sidequest/internal/deck"
	"sidequest/internal/domain"
	"sidequest/internal/engine"
	"sidequest/internal/generator"
	"sidequest/internal/repo"
)

func registerQuests(api huma.API, e engine.Engine, limiter *userLimiter) {
	huma.Register(api, huma.Operation{
		OperationID: "list-quests",
		Method:      http.MethodGet,
		Path:        "/quests",
		Summary:     "List quests, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Theme      string `query:"theme" enum:"adventure,relaxation,culture,nightlife,nature"`
		PriceRange string `query:"price_range" enum:"budget,mid-range,luxury"`
		City       string `query:"city"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body QuestListResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListQuests(ctx, repo.QuestFilters{
			Theme:      input.Theme,
			PriceRange: input.PriceRange,
			City:       input.City,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		items = nonNilSlice(items)
		return &struct {
			Body QuestListResponse `json:"body"`
		}{Body: QuestListResponse{Items: items, Count: len(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quest",
		Method:      http.MethodGet,
		Path:        "/quests/{quest_id}",
		Summary:     "Get quest",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		QuestID string `path:"quest_id"`
	}) (*struct {
		Body domain.Quest `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		q, err := e.Repo.GetQuest(ctx, input.QuestID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quest `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-quest",
		Method:        http.MethodPost,
		Path:          "/quests",
		Summary:       "Create quest",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateQuestRequest `json:"body"`
	}) (*struct {
		Body domain.Quest `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		q, err := e.CreateQuest(ctx, input.Body.quest(), p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Quest `json:"body"`
		}{Body: q}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "generate-quest",
		Method:      http.MethodPost,
		Path:        "/quests/generate",
		Summary:     "Generate a quest with the language model",
		Description: "Malformed model output falls back to a templated quest. Set persist to store the result.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusTooManyRequests,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Persist bool                 `query:"persist"`
		Body    GenerateQuestRequest `json:"body"`
	}) (*struct {
		Body GenerateQuestResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !limiter.Allow(p.UserID) {
			return nil, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many generation requests", nil)
		}
		res, err := e.GenerateQuest(ctx, generator.Request{
			City:         input.Body.DestinationCity,
			Country:      input.Body.DestinationCountry,
			Theme:        input.Body.Theme,
			Budget:       input.Body.Budget,
			DurationDays: input.Body.DurationDays,
			Interests:    input.Body.UserInterests,
		}, input.Persist, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GenerateQuestResponse `json:"body"`
		}{Body: GenerateQuestResponse{Quest: res.Quest, Fallback: res.Fallback, Persisted: input.Persist}}, nil
	})
}

func registerDeck(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-deck",
		Method:      http.MethodGet,
		Path:        "/deck",
		Summary:     "Quests the caller has not decided yet",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"0" doc:"0 returns the whole deck"`
	}) (*struct {
		Body QuestListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := deck.Supplier{Store: e.Repo, Limit: input.Limit}.Next(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestListResponse `json:"body"`
		}{Body: QuestListResponse{Items: items, Count: len(items)}}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-decision",
		Method:        http.MethodPost,
		Path:          "/decisions",
		Summary:       "Record an accept or reject decision",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body RecordDecisionRequest `json:"body"`
	}) (*struct {
		Body domain.Decision `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.RecordDecision(ctx, domain.Decision{
			UserID:  p.UserID,
			QuestID: input.Body.QuestID,
			Action:  input.Body.Action,
		}, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Decision `json:"body"`
		}{Body: d}, nil
	})
}
