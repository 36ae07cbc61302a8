package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sidequest/internal/config"
	"sidequest/internal/db"
	"sidequest/internal/domain"
	"sidequest/internal/engine"
	"sidequest/internal/generator"
	"sidequest/internal/migrate"
	"sidequest/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

type cannedLLM struct{ out string }

func (c cannedLLM) Complete(context.Context, generator.CompletionRequest) (string, error) {
	return c.out, nil
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, db.DriverSQLite, config.Default(), nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	eng.Generator.LLM = cannedLLM{out: `{"name":"Neon Nights","description":"Dance till dawn.","activities":["club crawl","rooftop bar"]}`}
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) quest(t *testing.T, name, theme string) domain.Quest {
	t.Helper()
	q, err := env.Engine.CreateQuest(env.Ctx, domain.Quest{
		Name:               name,
		Description:        "desc",
		Theme:              theme,
		Activities:         []string{"walk"},
		DestinationCity:    "Berlin",
		DestinationCountry: "Germany",
		PriceRange:         domain.PriceBudget,
		DurationDays:       4,
	}, "tester")
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	return q
}

func TestRecordDecision(t *testing.T) {
	env := newTestEnv(t)
	q := env.quest(t, "Techno Pilgrimage", domain.ThemeNightlife)

	d, err := env.Engine.RecordDecision(env.Ctx, domain.Decision{UserID: "u1", QuestID: q.ID, Action: domain.ActionLiked}, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !d.CreatedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp %s", d.CreatedAt)
	}
	_, err = env.Engine.RecordDecision(env.Ctx, domain.Decision{UserID: "u1", QuestID: q.ID, Action: domain.ActionDisliked}, "")
	if !errors.Is(err, repo.ErrAlreadyDecided) {
		t.Fatalf("expected already decided, got %v", err)
	}
	_, err = env.Engine.RecordDecision(env.Ctx, domain.Decision{UserID: "u1", QuestID: "missing", Action: domain.ActionLiked}, "")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = env.Engine.RecordDecision(env.Ctx, domain.Decision{UserID: "u1", QuestID: q.ID, Action: "maybe"}, "")
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "action" {
		t.Fatalf("expected action validation error, got %v", err)
	}

	evs, err := env.Engine.Repo.EventsAfter(env.Ctx, 10, 0, "u1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 1 || evs[0].Type != "decision.recorded" || evs[0].EntityID != q.ID || evs[0].ActorID != "u1" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestSaveProfile(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.SaveProfile(env.Ctx, "u1", engine.ProfileInput{Username: "  wanderer ", TravelInterests: []string{"Food", "food", "nature"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if p.Username != "wanderer" || len(p.TravelInterests) != 2 || p.BudgetPreference != domain.PriceMidRange {
		t.Fatalf("unexpected profile %+v", p)
	}

	created := p.CreatedAt
	env.Engine.Now = func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) }
	p, err = env.Engine.SaveProfile(env.Ctx, "u1", engine.ProfileInput{Username: "wanderer", TravelInterests: []string{"beach"}, BudgetPreference: domain.PriceLuxury})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !p.CreatedAt.Equal(created) || p.UpdatedAt.Equal(created) {
		t.Fatalf("timestamps not preserved: %+v", p)
	}

	bad := []engine.ProfileInput{
		{Username: "", TravelInterests: []string{"food"}},
		{Username: "x"},
		{Username: "x", TravelInterests: []string{"skydiving"}},
		{Username: "x", TravelInterests: []string{"food"}, BudgetPreference: "free"},
	}
	for i, in := range bad {
		var verr engine.ValidationError
		if _, err := env.Engine.SaveProfile(env.Ctx, "u1", in); !errors.As(err, &verr) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestCreateQuestValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateQuest(env.Ctx, domain.Quest{Name: "x", Description: "y", Theme: "space", PriceRange: domain.PriceBudget, DestinationCity: "a", DestinationCountry: "b", DurationDays: 1}, "tester")
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "theme" {
		t.Fatalf("expected theme validation error, got %v", err)
	}
}

func TestGenerateQuestPersist(t *testing.T) {
	env := newTestEnv(t)
	req := generator.Request{City: "Berlin", Country: "Germany", Theme: domain.ThemeNightlife, Budget: domain.PriceBudget, DurationDays: 4}

	res, err := env.Engine.GenerateQuest(env.Ctx, req, false, "tester")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Quest.Name != "Neon Nights" || res.Fallback {
		t.Fatalf("unexpected result %+v", res)
	}
	if n, _ := env.Engine.Repo.CountQuests(env.Ctx); n != 0 {
		t.Fatalf("preview persisted a quest")
	}

	res, err = env.Engine.GenerateQuest(env.Ctx, req, true, "tester")
	if err != nil {
		t.Fatalf("generate persist: %v", err)
	}
	stored, err := env.Engine.Repo.GetQuest(env.Ctx, res.Quest.ID)
	if err != nil || stored.Name != "Neon Nights" || len(stored.Activities) != 2 {
		t.Fatalf("stored quest: %+v %v", stored, err)
	}

	req.DurationDays = 0
	var gerr *generator.ValidationError
	if _, err := env.Engine.GenerateQuest(env.Ctx, req, true, "tester"); !errors.As(err, &gerr) {
		t.Fatalf("expected request validation error, got %v", err)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	a := env.quest(t, "A", domain.ThemeNature)
	b := env.quest(t, "B", domain.ThemeNature)
	c := env.quest(t, "C", domain.ThemeCulture)
	env.quest(t, "D", domain.ThemeCulture)

	for _, d := range []domain.Decision{
		{UserID: "u1", QuestID: a.ID, Action: domain.ActionLiked},
		{UserID: "u1", QuestID: b.ID, Action: domain.ActionLiked},
		{UserID: "u1", QuestID: c.ID, Action: domain.ActionDisliked},
	} {
		if _, err := env.Engine.RecordDecision(env.Ctx, d, ""); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	dash, err := env.Engine.Dashboard(env.Ctx, "u1")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(dash.Liked) != 2 || dash.Counts.Liked != 2 || dash.Counts.Passed != 1 || dash.Counts.Remaining != 1 {
		t.Fatalf("unexpected dashboard %+v", dash)
	}
	if len(dash.ByTheme) != 1 || dash.ByTheme[0].Theme != domain.ThemeNature || dash.ByTheme[0].Count != 2 {
		t.Fatalf("unexpected theme breakdown %+v", dash.ByTheme)
	}

	empty, err := env.Engine.Dashboard(env.Ctx, "u2")
	if err != nil || len(empty.Liked) != 0 || empty.Counts.Remaining != 4 {
		t.Fatalf("unexpected empty dashboard %+v %v", empty, err)
	}
}

func TestInsertQuestsBatch(t *testing.T) {
	env := newTestEnv(t)
	qs := []domain.Quest{
		{Name: "A", Description: "d", Theme: domain.ThemeNature, PriceRange: domain.PriceBudget, DestinationCity: "X", DestinationCountry: "Y", DurationDays: 2},
		{Name: "B", Description: "d", Theme: domain.ThemeCulture, PriceRange: domain.PriceLuxury, DestinationCity: "X", DestinationCountry: "Y", DurationDays: 3},
	}
	stored, err := env.Engine.InsertQuests(env.Ctx, qs, "seed")
	if err != nil || len(stored) != 2 || stored[0].ID == "" {
		t.Fatalf("insert batch: %+v %v", stored, err)
	}
	evs, err := env.Engine.Repo.LatestEvents(env.Ctx, 5, "", "quests.seeded")
	if err != nil || len(evs) != 1 {
		t.Fatalf("expected one seeded event, got %+v %v", evs, err)
	}

	qs[1].Theme = "space"
	if _, err := env.Engine.InsertQuests(env.Ctx, qs, "seed"); err == nil {
		t.Fatalf("expected validation error for bad batch")
	}
	if n, _ := env.Engine.Repo.CountQuests(env.Ctx); n != 2 {
		t.Fatalf("bad batch partially inserted: %d quests", n)
	}
}
