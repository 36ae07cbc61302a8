package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sidequest/internal/db"
	"sidequest/internal/domain"
	"sidequest/internal/migrate"
)

func setupRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn, Driver: db.DriverSQLite}
}

func seedQuests(t *testing.T, r Repo, n int) []domain.Quest {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var out []domain.Quest
	for i := 0; i < n; i++ {
		theme := domain.Themes[i%len(domain.Themes)]
		q := domain.Quest{
			ID:                 fmt.Sprintf("q-%02d", i),
			Name:               fmt.Sprintf("Quest %d", i),
			Description:        "desc",
			Theme:              theme,
			Activities:         []string{"a", "b"},
			DestinationCity:    "Lisbon",
			DestinationCountry: "Portugal",
			PriceRange:         domain.PriceMidRange,
			DurationDays:       3,
			CreatedAt:          base.Add(time.Duration(i) * time.Minute),
		}
		if err := r.InsertQuest(context.Background(), q); err != nil {
			t.Fatalf("insert quest: %v", err)
		}
		out = append(out, q)
	}
	return out
}

func TestQuestRoundTripAndOrdering(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	seedQuests(t, r, 3)
	img := "https://example.com/x.jpg"
	q := domain.Quest{ID: "q-img", Name: "Img", Description: "d", Theme: domain.ThemeNature, DestinationCity: "Oslo", DestinationCountry: "Norway", PriceRange: domain.PriceLuxury, DurationDays: 2, ImageURL: &img, CreatedAt: time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)}
	if err := r.InsertQuest(ctx, q); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetQuest(ctx, "q-img")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ImageURL == nil || *got.ImageURL != img || len(got.Activities) != 0 {
		t.Fatalf("unexpected quest %+v", got)
	}
	if _, err := r.GetQuest(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	all, err := r.ListQuests(ctx, QuestFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// q-01 and q-img share created_at; id descending breaks the tie
	want := []string{"q-02", "q-img", "q-01", "q-00"}
	if len(all) != len(want) {
		t.Fatalf("expected %d quests, got %d", len(want), len(all))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Fatalf("position %d: got %s want %s", i, all[i].ID, id)
		}
	}

	nature, err := r.ListQuests(ctx, QuestFilters{Theme: domain.ThemeNature, City: "oslo"})
	if err != nil || len(nature) != 1 || nature[0].ID != "q-img" {
		t.Fatalf("filtered list: %+v %v", nature, err)
	}
}

func TestUndecidedAndDecisions(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	qs := seedQuests(t, r, 4)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	if err := r.RecordDecisionTx(ctx, nil, domain.Decision{UserID: "u1", QuestID: qs[3].ID, Action: domain.ActionLiked, CreatedAt: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.RecordDecisionTx(ctx, nil, domain.Decision{UserID: "u1", QuestID: qs[1].ID, Action: domain.ActionDisliked, CreatedAt: now.Add(time.Second)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	err := r.RecordDecisionTx(ctx, nil, domain.Decision{UserID: "u1", QuestID: qs[1].ID, Action: domain.ActionLiked, CreatedAt: now})
	if !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}

	deck, err := r.ListUndecidedQuests(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("undecided: %v", err)
	}
	if len(deck) != 2 || deck[0].ID != qs[2].ID || deck[1].ID != qs[0].ID {
		t.Fatalf("unexpected deck %+v", deck)
	}
	other, err := r.ListUndecidedQuests(ctx, "u2", 1)
	if err != nil || len(other) != 1 || other[0].ID != qs[3].ID {
		t.Fatalf("limit/other user deck: %+v %v", other, err)
	}

	liked, err := r.LikedQuests(ctx, "u1")
	if err != nil || len(liked) != 1 || liked[0].ID != qs[3].ID {
		t.Fatalf("liked: %+v %v", liked, err)
	}
	counts, err := r.DecisionCounts(ctx, "u1")
	if err != nil || counts.Liked != 1 || counts.Disliked != 1 {
		t.Fatalf("counts: %+v %v", counts, err)
	}
	ds, err := r.ListDecisions(ctx, "u1", domain.ActionDisliked)
	if err != nil || len(ds) != 1 || ds[0].QuestID != qs[1].ID {
		t.Fatalf("decisions: %+v %v", ds, err)
	}
	d, err := r.GetDecision(ctx, "u1", qs[3].ID)
	if err != nil || !d.CreatedAt.Equal(now) {
		t.Fatalf("get decision: %+v %v", d, err)
	}
}

func TestProfileUpsertKeepsCreatedAt(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := domain.UserProfile{ID: "u1", Username: "ana", TravelInterests: []string{"food"}, BudgetPreference: domain.PriceBudget, CreatedAt: t0, UpdatedAt: t0}
	if err := r.UpsertProfileTx(ctx, nil, p); err != nil {
		t.Fatalf("insert profile: %v", err)
	}
	p.Username = "ana2"
	p.TravelInterests = []string{"nature", "beach"}
	p.CreatedAt = t0.Add(time.Hour)
	p.UpdatedAt = t0.Add(time.Hour)
	if err := r.UpsertProfileTx(ctx, nil, p); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	got, err := r.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.Username != "ana2" || len(got.TravelInterests) != 2 || !got.CreatedAt.Equal(t0) || !got.UpdatedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected profile %+v", got)
	}
	if _, err := r.GetProfile(ctx, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
