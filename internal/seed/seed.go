// Package seed fills the catalogue with generated quests from templates.
package seed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"sidequest/internal/config"
	"sidequest/internal/domain"
	"sidequest/internal/engine"
	"sidequest/internal/generator"
	"sidequest/internal/logger"
)

// Inserter stores a batch of quests atomically.
type Inserter interface {
	InsertQuests(ctx context.Context, qs []domain.Quest, actorID string) ([]domain.Quest, error)
}

type Seeder struct {
	Generator   generator.Generator
	Store       Inserter
	Concurrency int
	// Interval is the minimum spacing between generation calls.
	Interval time.Duration
	ActorID  string
	Log      *logger.Logger
}

// FromEngine builds a seeder that shares the engine's generator but always
// falls back on failure.
func FromEngine(eng engine.Engine, cfg config.Seed) Seeder {
	gen := eng.Generator
	gen.FallbackOnError = true
	if cfg.Temperature > 0 {
		gen.Temperature = cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		gen.MaxTokens = cfg.MaxTokens
	}
	return Seeder{
		Generator:   gen,
		Store:       eng,
		Concurrency: cfg.Concurrency,
		Interval:    cfg.Interval,
		ActorID:     "seed",
		Log:         eng.Log,
	}
}

type ThemeCount struct {
	Theme string `json:"theme"`
	Count int    `json:"count"`
}

type Summary struct {
	Quests    []domain.Quest `json:"quests"`
	Fallbacks int            `json:"fallbacks"`
	ByTheme   []ThemeCount   `json:"by_theme"`
}

// Run generates one quest per template and inserts them in a single batch.
// Nothing is stored when any template fails validation or ctx ends early.
func (s Seeder) Run(ctx context.Context, templates []config.SeedTemplate) (Summary, error) {
	if s.Store == nil {
		return Summary{}, fmt.Errorf("seed: store required")
	}
	if len(templates) == 0 {
		return Summary{Quests: []domain.Quest{}, ByTheme: []ThemeCount{}}, nil
	}
	log := logger.OrNop(s.Log)
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	every := rate.Inf
	if s.Interval > 0 {
		every = rate.Every(s.Interval)
	}
	limiter := rate.NewLimiter(every, 1)

	results := make([]generator.Result, len(templates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, tpl := range templates {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			res, err := s.Generator.Generate(gctx, generator.Request{
				City:         tpl.City,
				Country:      tpl.Country,
				Theme:        tpl.Theme,
				Budget:       tpl.Budget,
				DurationDays: tpl.Duration,
			})
			if err != nil {
				return fmt.Errorf("template %d (%s, %s): %w", i, tpl.City, tpl.Theme, err)
			}
			log.Info("quest generated", "city", res.Quest.DestinationCity, "theme", res.Quest.Theme, "fallback", res.Fallback)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	qs := make([]domain.Quest, len(results))
	sum := Summary{}
	byTheme := map[string]int{}
	for i, res := range results {
		qs[i] = res.Quest
		if res.Fallback {
			sum.Fallbacks++
		}
		byTheme[res.Quest.Theme]++
	}
	stored, err := s.Store.InsertQuests(ctx, qs, s.ActorID)
	if err != nil {
		return Summary{}, fmt.Errorf("seed insert: %w", err)
	}
	sum.Quests = stored
	for theme, n := range byTheme {
		sum.ByTheme = append(sum.ByTheme, ThemeCount{Theme: theme, Count: n})
	}
	sort.Slice(sum.ByTheme, func(i, j int) bool { return sum.ByTheme[i].Theme < sum.ByTheme[j].Theme })
	return sum, nil
}
