package sidequestsdk

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Sidequest HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// UserID is sent as X-User-Id when no token is set. Servers only honor
	// it with dev auth enabled.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Quest represents the API quest model.
type Quest struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Description        string    `json:"description"`
	Theme              string    `json:"theme"`
	Activities         []string  `json:"activities"`
	DestinationCity    string    `json:"destination_city"`
	DestinationCountry string    `json:"destination_country"`
	PriceRange         string    `json:"price_range"`
	DurationDays       int       `json:"duration_days"`
	ImageURL           *string   `json:"image_url,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewQuest is the body of CreateQuest.
type NewQuest struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	Theme              string   `json:"theme"`
	Activities         []string `json:"activities,omitempty"`
	DestinationCity    string   `json:"destination_city"`
	DestinationCountry string   `json:"destination_country"`
	PriceRange         string   `json:"price_range"`
	DurationDays       int      `json:"duration_days"`
	ImageURL           *string  `json:"image_url,omitempty"`
}

// GenerateRequest asks the server's language model for a quest.
type GenerateRequest struct {
	DestinationCity    string   `json:"destination_city,omitempty"`
	DestinationCountry string   `json:"destination_country,omitempty"`
	Theme              string   `json:"theme,omitempty"`
	Budget             string   `json:"budget,omitempty"`
	DurationDays       int      `json:"duration_days,omitempty"`
	UserInterests      []string `json:"user_interests,omitempty"`
}

type GenerateResult struct {
	Quest     Quest `json:"quest"`
	Fallback  bool  `json:"fallback"`
	Persisted bool  `json:"persisted"`
}

type Decision struct {
	UserID    string    `json:"user_id"`
	QuestID   string    `json:"quest_id"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

type Profile struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	TravelInterests  []string  `json:"travel_interests"`
	BudgetPreference string    `json:"budget_preference"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type ThemeCount struct {
	Theme string `json:"theme"`
	Count int    `json:"count"`
}

// Dashboard summarizes the caller's likes and progress through the deck.
type Dashboard struct {
	UserID string  `json:"user_id"`
	Liked  []Quest `json:"liked"`
	Counts struct {
		Liked     int `json:"liked"`
		Passed    int `json:"passed"`
		Remaining int `json:"remaining"`
	} `json:"counts"`
	ByTheme []ThemeCount `json:"liked_by_theme"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// PaginatedEvents is a page of events with an optional cursor.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

type Feedback struct {
	Offset        float64 `json:"offset"`
	Rotation      float64 `json:"rotation"`
	AcceptOpacity float64 `json:"accept_opacity"`
	RejectOpacity float64 `json:"reject_opacity"`
	CardOpacity   float64 `json:"card_opacity"`
}

type Notice struct {
	QuestID string    `json:"quest_id"`
	Action  string    `json:"action"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Session is the server view of a swipe session.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	State     string    `json:"state"`
	Exhausted bool      `json:"exhausted"`
	Index     int       `json:"index"`
	Total     int       `json:"total"`
	Feedback  Feedback  `json:"feedback"`
	Current   *Quest    `json:"current,omitempty"`
	Next      *Quest    `json:"next,omitempty"`
	Notices   []Notice  `json:"notices"`
	Log       []string  `json:"log"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionAction is returned by every pointer and decide call.
type SessionAction struct {
	Accepted bool      `json:"accepted"`
	Outcome  string    `json:"outcome,omitempty"`
	Feedback *Feedback `json:"feedback,omitempty"`
	Session  Session   `json:"session"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// Code extracts the error code from a JSON error body, if any.
func (e *APIError) Code() string {
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &body); err != nil {
		return ""
	}
	return body.Error.Code
}

// DevLogin mints a token on a server running with dev auth and stores it on
// the client.
func (c *Client) DevLogin(ctx context.Context, userID, username string) (string, time.Time, error) {
	body := map[string]any{"user_id": userID}
	if username != "" {
		body["username"] = username
	}
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", body, &resp); err != nil {
		return "", time.Time{}, err
	}
	c.BearerToken = resp.Token
	return resp.Token, resp.ExpiresAt, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

func (c *Client) GetProfile(ctx context.Context) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "v0/me/profile", nil, &resp)
	return resp, err
}

func (c *Client) SaveProfile(ctx context.Context, username string, interests []string, budget string) (Profile, error) {
	body := map[string]any{
		"username":         username,
		"travel_interests": interests,
	}
	if budget != "" {
		body["budget_preference"] = budget
	}
	var resp Profile
	err := c.do(ctx, http.MethodPut, "v0/me/profile", body, &resp)
	return resp, err
}

// ListQuests lists quests; empty filters are ignored.
func (c *Client) ListQuests(ctx context.Context, theme, priceRange, city string, limit int) ([]Quest, error) {
	q := url.Values{}
	setQuery(q, "theme", theme)
	setQuery(q, "price_range", priceRange)
	setQuery(q, "city", city)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []Quest `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/quests", q), nil, &resp)
	return resp.Items, err
}

func (c *Client) GetQuest(ctx context.Context, id string) (Quest, error) {
	var resp Quest
	err := c.do(ctx, http.MethodGet, "v0/quests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateQuest(ctx context.Context, q NewQuest) (Quest, error) {
	var resp Quest
	err := c.do(ctx, http.MethodPost, "v0/quests", q, &resp)
	return resp, err
}

// GenerateQuest asks the server to generate a quest, storing it when persist
// is set.
func (c *Client) GenerateQuest(ctx context.Context, req GenerateRequest, persist bool) (GenerateResult, error) {
	endpoint := "v0/quests/generate"
	if persist {
		endpoint += "?persist=true"
	}
	var resp GenerateResult
	err := c.do(ctx, http.MethodPost, endpoint, req, &resp)
	return resp, err
}

// Deck returns quests the caller has not decided yet. A zero limit returns
// the whole deck.
func (c *Client) Deck(ctx context.Context, limit int) ([]Quest, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Items []Quest `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/deck", q), nil, &resp)
	return resp.Items, err
}

// Decide records a liked or disliked decision for a quest.
func (c *Client) Decide(ctx context.Context, questID, action string) (Decision, error) {
	body := map[string]any{"quest_id": questID, "action": action}
	var resp Decision
	err := c.do(ctx, http.MethodPost, "v0/decisions", body, &resp)
	return resp, err
}

func (c *Client) Decisions(ctx context.Context, action string) ([]Decision, error) {
	q := url.Values{}
	setQuery(q, "action", action)
	var resp struct {
		Items []Decision `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v0/me/decisions", q), nil, &resp)
	return resp.Items, err
}

func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, "v0/me/dashboard", nil, &resp)
	return resp, err
}

// Events returns the caller's recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	setQuery(q, "cursor", cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("v0/events", q), nil, &resp)
	return resp, err
}

// StartSession opens a swipe session over the caller's deck.
func (c *Client) StartSession(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/sessions", nil, &resp)
	return resp, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, c.sessionPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) Press(ctx context.Context, id string, x float64) (SessionAction, error) {
	return c.pointer(ctx, id, "press", x)
}

func (c *Client) Move(ctx context.Context, id string, x float64) (SessionAction, error) {
	return c.pointer(ctx, id, "move", x)
}

func (c *Client) Release(ctx context.Context, id string, x float64) (SessionAction, error) {
	return c.pointer(ctx, id, "release", x)
}

// DecideSession decides the current card without a drag. Direction is
// accept or reject.
func (c *Client) DecideSession(ctx context.Context, id, direction string) (SessionAction, error) {
	var resp SessionAction
	body := map[string]any{"direction": direction}
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, "decide"), body, &resp)
	return resp, err
}

func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(id, ""), nil, nil)
}

func (c *Client) pointer(ctx context.Context, id, action string, x float64) (SessionAction, error) {
	var resp SessionAction
	body := map[string]any{"x": x}
	err := c.do(ctx, http.MethodPost, c.sessionPath(id, action), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sessionPath(id, action string) string {
	p := "v0/sessions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func setQuery(q url.Values, key, value string) {
	if strings.TrimSpace(value) != "" {
		q.Set(key, value)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

// VerifyWebhook checks the X-Sidequest-Signature header of a webhook
// delivery against the raw request body.
func VerifyWebhook(secret string, body []byte, signature string) bool {
	want, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(want)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
