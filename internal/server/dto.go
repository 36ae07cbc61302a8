package server

import (
	"encoding/json"
	"time"

	"sidequest/internal/domain"
	"sidequest/internal/gesture"
	"sidequest/internal/session"
)

// Request payloads

type CreateQuestRequest struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Theme              string   `json:"theme" enum:"adventure,relaxation,culture,nightlife,nature"`
	Activities         []string `json:"activities,omitempty"`
	DestinationCity    string   `json:"destination_city"`
	DestinationCountry string   `json:"destination_country"`
	PriceRange         string   `json:"price_range" enum:"budget,mid-range,luxury"`
	DurationDays       int      `json:"duration_days" minimum:"1" maximum:"30"`
	ImageURL           *string  `json:"image_url,omitempty"`
}

func (r CreateQuestRequest) quest() domain.Quest {
	return domain.Quest{
		Name:               r.Name,
		Description:        r.Description,
		Theme:              r.Theme,
		Activities:         r.Activities,
		DestinationCity:    r.DestinationCity,
		DestinationCountry: r.DestinationCountry,
		PriceRange:         r.PriceRange,
		DurationDays:       r.DurationDays,
		ImageURL:           r.ImageURL,
	}
}

// GenerateQuestRequest leaves field checks to the generator so that the
// response lists every offending field at once.
type GenerateQuestRequest struct {
	DestinationCity    string   `json:"destination_city,omitempty"`
	DestinationCountry string   `json:"destination_country,omitempty"`
	Theme              string   `json:"theme,omitempty"`
	Budget             string   `json:"budget,omitempty"`
	DurationDays       int      `json:"duration_days,omitempty"`
	UserInterests      []string `json:"user_interests,omitempty"`
}

type RecordDecisionRequest struct {
	QuestID string `json:"quest_id"`
	Action  string `json:"action" enum:"liked,disliked"`
}

type SaveProfileRequest struct {
	Username         string   `json:"username"`
	TravelInterests  []string `json:"travel_interests"`
	BudgetPreference string   `json:"budget_preference,omitempty" enum:"budget,mid-range,luxury"`
}

type PointerRequest struct {
	X float64 `json:"x"`
}

type DecideRequest struct {
	Direction string `json:"direction" example:"accept" doc:"accept or reject; liked and disliked are accepted too"`
}

type DevLoginRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type QuestListResponse struct {
	Items []domain.Quest `json:"items"`
	Count int            `json:"count"`
}

type GenerateQuestResponse struct {
	Quest     domain.Quest `json:"quest"`
	Fallback  bool         `json:"fallback"`
	Persisted bool         `json:"persisted"`
}

type DecisionListResponse struct {
	Items []domain.Decision `json:"items"`
}

type SessionActionResponse struct {
	Accepted bool              `json:"accepted"`
	Outcome  string            `json:"outcome,omitempty" enum:"ignored,snapped_back,committed"`
	Feedback *gesture.Feedback `json:"feedback,omitempty"`
	Session  session.View      `json:"session"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		UserID:     evt.UserID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
