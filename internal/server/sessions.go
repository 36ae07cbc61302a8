package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"sidequest/internal/gesture"
	"sidequest/internal/session"
)

type sessionPath struct {
	SessionID string `path:"session_id"`
}

type sessionPointerInput struct {
	SessionID string         `path:"session_id"`
	Body      PointerRequest `json:"body"`
}

type sessionActionOutput struct {
	Body SessionActionResponse `json:"body"`
}

var sessionErrors = []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound}

func registerSessions(api huma.API, reg *session.Registry) {
	// lookup resolves the caller's session or returns the API error to send.
	lookup := func(ctx context.Context, id string) (*session.Live, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		live, err := reg.Get(id, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return live, nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "start-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Start a swipe session over the caller's deck",
		Description:   "Any previous session of the caller is closed.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body session.View `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		live, err := reg.Start(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body session.View `json:"body"`
		}{Body: live.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Session state, feedback and notices",
		Errors:      sessionErrors,
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body session.View `json:"body"`
	}, error) {
		live, err := lookup(ctx, input.SessionID)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body session.View `json:"body"`
		}{Body: live.View()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-press",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/press",
		Summary:     "Pointer down",
		Errors:      sessionErrors,
	}, func(ctx context.Context, input *sessionPointerInput) (*sessionActionOutput, error) {
		live, err := lookup(ctx, input.SessionID)
		if err != nil {
			return nil, err
		}
		ok := live.Session.Press(input.Body.X)
		return &sessionActionOutput{Body: SessionActionResponse{Accepted: ok, Session: live.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-move",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/move",
		Summary:     "Pointer move; returns the live feedback",
		Errors:      sessionErrors,
	}, func(ctx context.Context, input *sessionPointerInput) (*sessionActionOutput, error) {
		live, err := lookup(ctx, input.SessionID)
		if err != nil {
			return nil, err
		}
		resp := SessionActionResponse{}
		if fb, ok := live.Session.Move(input.Body.X); ok {
			resp.Accepted = true
			resp.Feedback = &fb
		}
		resp.Session = live.View()
		return &sessionActionOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-release",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/release",
		Summary:     "Pointer up; commits past the threshold, otherwise snaps back",
		Errors:      sessionErrors,
	}, func(ctx context.Context, input *sessionPointerInput) (*sessionActionOutput, error) {
		live, err := lookup(ctx, input.SessionID)
		if err != nil {
			return nil, err
		}
		outcome := live.Session.Release(input.Body.X)
		return &sessionActionOutput{Body: SessionActionResponse{
			Accepted: outcome != gesture.Ignored,
			Outcome:  outcome.String(),
			Session:  live.View(),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-decide",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/decide",
		Summary:     "Decide the current quest without a drag",
		Errors:      append([]int{http.StatusBadRequest}, sessionErrors...),
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		Body      DecideRequest `json:"body"`
	}) (*sessionActionOutput, error) {
		dir, err := gesture.ParseDirection(input.Body.Direction)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"direction": input.Body.Direction})
		}
		live, err := lookup(ctx, input.SessionID)
		if err != nil {
			return nil, err
		}
		ok := live.Session.Decide(dir)
		return &sessionActionOutput{Body: SessionActionResponse{Accepted: ok, Session: live.View()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}",
		Summary:       "Close a session",
		DefaultStatus: http.StatusNoContent,
		Errors:        sessionErrors,
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := reg.Close(input.SessionID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
