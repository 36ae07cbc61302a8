package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"sidequest/internal/config"
	"sidequest/internal/domain"
	"sidequest/internal/events"
	"sidequest/internal/generator"
	"sidequest/internal/logger"
	"sidequest/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Generator generator.Generator
	Now       func() time.Time
	Log       *logger.Logger
}

// New wires an engine for the given connection. The LLM client is only
// configured when an API key is present in the environment.
func New(db *sql.DB, driver string, cfg *config.Config, log *logger.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	log = logger.OrNop(log)
	gen := generator.Generator{
		Model:       cfg.Generator.Model,
		Temperature: cfg.Generator.Temperature,
		MaxTokens:   cfg.Generator.MaxTokens,
		ImageURL:    cfg.Generator.ImageURL,
		ImageQuery:  cfg.Generator.ImageQuery,
		Log:         log,
	}
	if key := cfg.Generator.APIKey(); key != "" {
		gen.LLM = generator.NewOpenAIClient(cfg.Generator.BaseURL, key, cfg.Generator.Timeout)
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db, Driver: driver},
		Events:    events.Writer{Driver: driver},
		Config:    cfg,
		Generator: gen,
		Now:       time.Now,
		Log:       log,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *logger.Logger {
	return logger.OrNop(e.Log)
}

// ValidationError reports a rejected field value.
type ValidationError struct {
	Field   string
	Message string
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", v.Field, v.Message)
}

func invalid(field, msg string) error {
	return ValidationError{Field: field, Message: msg}
}

// RecordDecision stores one accept/reject decision. Repeating a decision for
// the same quest returns repo.ErrAlreadyDecided.
func (e Engine) RecordDecision(ctx context.Context, d domain.Decision, actorID string) (domain.Decision, error) {
	if strings.TrimSpace(d.UserID) == "" {
		return domain.Decision{}, invalid("user_id", "is required")
	}
	if strings.TrimSpace(d.QuestID) == "" {
		return domain.Decision{}, invalid("quest_id", "is required")
	}
	if !domain.IsAction(d.Action) {
		return domain.Decision{}, invalid("action", "must be liked or disliked")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.now()
	}
	d.CreatedAt = d.CreatedAt.UTC()
	if actorID == "" {
		actorID = d.UserID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetQuestTx(ctx, tx, d.QuestID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Decision{}, fmt.Errorf("quest %s: %w", d.QuestID, repo.ErrNotFound)
		}
		return domain.Decision{}, err
	}
	if err := e.Repo.RecordDecisionTx(ctx, tx, d); err != nil {
		if errors.Is(err, repo.ErrAlreadyDecided) {
			return domain.Decision{}, err
		}
		return domain.Decision{}, fmt.Errorf("record decision: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type:       events.DecisionRecorded,
		UserID:     d.UserID,
		EntityKind: "quest",
		EntityID:   d.QuestID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"action": d.Action},
	}); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	e.log().Debug("decision recorded", "user_id", d.UserID, "quest_id", d.QuestID, "action", d.Action)
	return d, nil
}

// ProfileInput is the editable part of a profile.
type ProfileInput struct {
	Username         string
	TravelInterests  []string
	BudgetPreference string
}

func (e Engine) SaveProfile(ctx context.Context, userID string, in ProfileInput) (domain.UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserProfile{}, invalid("user_id", "is required")
	}
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return domain.UserProfile{}, invalid("username", "is required")
	}
	if len(in.TravelInterests) == 0 {
		return domain.UserProfile{}, invalid("travel_interests", "needs at least one interest")
	}
	seen := map[string]bool{}
	var interests []string
	for _, i := range in.TravelInterests {
		i = strings.ToLower(strings.TrimSpace(i))
		if !domain.IsInterest(i) {
			return domain.UserProfile{}, invalid("travel_interests", fmt.Sprintf("unknown interest %q", i))
		}
		if !seen[i] {
			seen[i] = true
			interests = append(interests, i)
		}
	}
	budget := in.BudgetPreference
	if budget == "" {
		budget = domain.PriceMidRange
	}
	if !domain.IsPriceTier(budget) {
		return domain.UserProfile{}, invalid("budget_preference", "must be budget, mid-range or luxury")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.UserProfile{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC()
	p := domain.UserProfile{
		ID:               userID,
		Username:         username,
		TravelInterests:  interests,
		BudgetPreference: budget,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	existing, err := e.Repo.GetProfileTx(ctx, tx, userID)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
	case !errors.Is(err, repo.ErrNotFound):
		return domain.UserProfile{}, err
	}
	if err := e.Repo.UpsertProfileTx(ctx, tx, p); err != nil {
		return domain.UserProfile{}, fmt.Errorf("save profile: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type:       events.ProfileSaved,
		UserID:     userID,
		EntityKind: "profile",
		EntityID:   userID,
		ActorID:    userID,
		Payload:    events.EventPayload{"interests": interests, "budget": budget},
	}); err != nil {
		return domain.UserProfile{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.UserProfile{}, err
	}
	return p, nil
}

func validateQuest(q domain.Quest) error {
	switch {
	case strings.TrimSpace(q.Name) == "":
		return invalid("name", "is required")
	case strings.TrimSpace(q.Description) == "":
		return invalid("description", "is required")
	case !domain.IsTheme(q.Theme):
		return invalid("theme", fmt.Sprintf("unknown theme %q", q.Theme))
	case !domain.IsPriceTier(q.PriceRange):
		return invalid("price_range", fmt.Sprintf("unknown price range %q", q.PriceRange))
	case strings.TrimSpace(q.DestinationCity) == "":
		return invalid("destination_city", "is required")
	case strings.TrimSpace(q.DestinationCountry) == "":
		return invalid("destination_country", "is required")
	case q.DurationDays < 1:
		return invalid("duration_days", "must be positive")
	}
	return nil
}

func (e Engine) prepareQuest(q domain.Quest) (domain.Quest, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = e.now()
	}
	q.CreatedAt = q.CreatedAt.UTC()
	if q.Activities == nil {
		q.Activities = []string{}
	}
	return q, validateQuest(q)
}

func (e Engine) CreateQuest(ctx context.Context, q domain.Quest, actorID string) (domain.Quest, error) {
	q, err := e.prepareQuest(q)
	if err != nil {
		return domain.Quest{}, err
	}
	if err := e.insertQuests(ctx, []domain.Quest{q}, events.QuestCreated, actorID, nil); err != nil {
		return domain.Quest{}, err
	}
	return q, nil
}

// InsertQuests stores a batch in one transaction and appends one event for it.
func (e Engine) InsertQuests(ctx context.Context, qs []domain.Quest, actorID string) ([]domain.Quest, error) {
	prepared := make([]domain.Quest, 0, len(qs))
	for i, q := range qs {
		p, err := e.prepareQuest(q)
		if err != nil {
			return nil, fmt.Errorf("quest %d: %w", i, err)
		}
		prepared = append(prepared, p)
	}
	if len(prepared) == 0 {
		return prepared, nil
	}
	summary := map[string]int{}
	for _, q := range prepared {
		summary[q.Theme]++
	}
	if err := e.insertQuests(ctx, prepared, events.QuestsSeeded, actorID, events.EventPayload{"count": len(prepared), "themes": summary}); err != nil {
		return nil, err
	}
	return prepared, nil
}

func (e Engine) insertQuests(ctx context.Context, qs []domain.Quest, evtType, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range qs {
		if err := e.Repo.InsertQuestTx(ctx, tx, q); err != nil {
			return fmt.Errorf("insert quest %s: %w", q.ID, err)
		}
	}
	entry := events.Entry{Type: evtType, EntityKind: "quest", ActorID: actorID, Payload: payload}
	if len(qs) == 1 {
		entry.EntityID = qs[0].ID
		if entry.Payload == nil {
			entry.Payload = events.EventPayload{"name": qs[0].Name, "theme": qs[0].Theme}
		}
	}
	if err := e.Events.Append(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// GenerateQuest asks the generator for a quest and stores it when persist is set.
func (e Engine) GenerateQuest(ctx context.Context, req generator.Request, persist bool, actorID string) (generator.Result, error) {
	gen := e.Generator
	if gen.Now == nil {
		gen.Now = e.now
	}
	res, err := gen.Generate(ctx, req)
	if err != nil {
		return generator.Result{}, err
	}
	if !persist {
		return res, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return generator.Result{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertQuestTx(ctx, tx, res.Quest); err != nil {
		return generator.Result{}, fmt.Errorf("insert generated quest: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type:       events.QuestGenerated,
		EntityKind: "quest",
		EntityID:   res.Quest.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"theme": res.Quest.Theme, "city": res.Quest.DestinationCity, "fallback": res.Fallback},
	}); err != nil {
		return generator.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return generator.Result{}, err
	}
	return res, nil
}

type ThemeCount struct {
	Theme string `json:"theme"`
	Count int    `json:"count"`
}

type DashboardCounts struct {
	Liked     int `json:"liked"`
	Passed    int `json:"passed"`
	Remaining int `json:"remaining"`
}

type Dashboard struct {
	UserID  string          `json:"user_id"`
	Liked   []domain.Quest  `json:"liked"`
	Counts  DashboardCounts `json:"counts"`
	ByTheme []ThemeCount    `json:"liked_by_theme"`
}

func (e Engine) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	if strings.TrimSpace(userID) == "" {
		return Dashboard{}, invalid("user_id", "is required")
	}
	var d Dashboard
	d.UserID = userID
	liked, err := e.Repo.LikedQuests(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	d.Liked = liked
	counts, err := e.Repo.DecisionCounts(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	total, err := e.Repo.CountQuests(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	d.Counts.Liked = counts.Liked
	d.Counts.Passed = counts.Disliked
	d.Counts.Remaining = total - counts.Liked - counts.Disliked
	if d.Counts.Remaining < 0 {
		d.Counts.Remaining = 0
	}
	byTheme := map[string]int{}
	for _, q := range liked {
		byTheme[q.Theme]++
	}
	d.ByTheme = []ThemeCount{}
	for theme, n := range byTheme {
		d.ByTheme = append(d.ByTheme, ThemeCount{Theme: theme, Count: n})
	}
	sort.Slice(d.ByTheme, func(i, j int) bool {
		if d.ByTheme[i].Count != d.ByTheme[j].Count {
			return d.ByTheme[i].Count > d.ByTheme[j].Count
		}
		return d.ByTheme[i].Theme < d.ByTheme[j].Theme
	})
	return d, nil
}

// RecordEvent appends a standalone audit event.
func (e Engine) RecordEvent(ctx context.Context, entry events.Entry) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}
