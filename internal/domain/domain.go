package domain

import "time"

// Themes are the quest categories a quest can be generated for.
const (
	ThemeAdventure  = "adventure"
	ThemeRelaxation = "relaxation"
	ThemeCulture    = "culture"
	ThemeNightlife  = "nightlife"
	ThemeNature     = "nature"
)

// Price tiers shared by quests and user budget preferences.
const (
	PriceBudget   = "budget"
	PriceMidRange = "mid-range"
	PriceLuxury   = "luxury"
)

// Decision actions. Liked is an accepted swipe, disliked a rejected one.
const (
	ActionLiked    = "liked"
	ActionDisliked = "disliked"
)

var (
	Themes     = []string{ThemeAdventure, ThemeRelaxation, ThemeCulture, ThemeNightlife, ThemeNature}
	PriceTiers = []string{PriceBudget, PriceMidRange, PriceLuxury}
	// Interests extends the quest themes with preference-only tags.
	Interests = []string{
		ThemeAdventure, ThemeRelaxation, ThemeCulture, ThemeNightlife, ThemeNature,
		"food", "beach", "city", "sports", "history",
	}
)

func IsTheme(v string) bool     { return contains(Themes, v) }
func IsPriceTier(v string) bool { return contains(PriceTiers, v) }
func IsInterest(v string) bool  { return contains(Interests, v) }

func IsAction(v string) bool {
	return v == ActionLiked || v == ActionDisliked
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

type Quest struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	Theme              string    `json:"theme" enum:"adventure,relaxation,culture,nightlife,nature"`
	Activities         []string  `json:"activities"`
	DestinationCity    string    `json:"destination_city"`
	DestinationCountry string    `json:"destination_country"`
	PriceRange         string    `json:"price_range" enum:"budget,mid-range,luxury"`
	DurationDays       int       `json:"duration_days" minimum:"1"`
	ImageURL           *string   `json:"image_url,omitempty"`
	CreatedAt          time.Time `json:"created_at" format:"date-time"`
}

type Decision struct {
	UserID    string    `json:"user_id"`
	QuestID   string    `json:"quest_id"`
	Action    string    `json:"action" enum:"liked,disliked"`
	CreatedAt time.Time `json:"created_at" format:"date-time"`
}

type UserProfile struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	TravelInterests  []string  `json:"travel_interests"`
	BudgetPreference string    `json:"budget_preference" enum:"budget,mid-range,luxury"`
	CreatedAt        time.Time `json:"created_at" format:"date-time"`
	UpdatedAt        time.Time `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// DecisionCounts summarises a user's swipe history.
type DecisionCounts struct {
	Liked    int `json:"liked"`
	Disliked int `json:"disliked"`
}
