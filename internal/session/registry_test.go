package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidequest/internal/domain"
	"sidequest/internal/engine/auth"
	"sidequest/internal/events"
	"sidequest/internal/gesture"
	"sidequest/internal/repo"
)

type stubDeck struct{ quests []domain.Quest }

func (d stubDeck) Next(context.Context, string) ([]domain.Quest, error) {
	out := make([]domain.Quest, len(d.quests))
	copy(out, d.quests)
	return out, nil
}

type stubStore struct {
	mu        sync.Mutex
	decisions []domain.Decision
	events    []string
	errFor    map[string]error
	gate      chan struct{}
}

func (s *stubStore) RecordDecision(_ context.Context, d domain.Decision, _ string) (domain.Decision, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errFor[d.QuestID]; err != nil {
		return domain.Decision{}, err
	}
	s.decisions = append(s.decisions, d)
	return d, nil
}

func (s *stubStore) RecordEvent(_ context.Context, e events.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e.Type)
	return nil
}

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) gesture.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func quests(n int) []domain.Quest {
	out := make([]domain.Quest, n)
	for i := range out {
		out[i] = domain.Quest{ID: fmt.Sprintf("q%d", i+1), Name: fmt.Sprintf("Quest %d", i+1), Theme: domain.ThemeNature}
	}
	return out
}

type fixture struct {
	reg   *Registry
	store *stubStore
	clock *manualClock
	now   time.Time
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	f := &fixture{
		store: &stubStore{errFor: map[string]error{}},
		clock: &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	ids := 0
	f.reg = NewRegistry(Options{
		Deck:  stubDeck{quests: quests(n)},
		Store: f.store,
		TTL:   time.Minute,
		Clock: f.clock,
		Now:   func() time.Time { return f.now },
		NewID: func() string { ids++; return fmt.Sprintf("s%d", ids) },
	})
	t.Cleanup(f.reg.Shutdown)
	return f
}

func TestStartAndSwipe(t *testing.T) {
	f := newFixture(t, 2)
	live, err := f.reg.Start(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "s1", live.ID)

	view := live.View()
	assert.Equal(t, "idle", view.State)
	assert.Equal(t, 2, view.Total)
	require.NotNil(t, view.Current)
	assert.Equal(t, "q1", view.Current.ID)

	s := live.Session
	require.True(t, s.Press(0))
	s.Move(150)
	assert.Equal(t, gesture.Committed, s.Release(150))
	s.Wait()
	f.clock.Advance(300 * time.Millisecond)

	require.True(t, s.Decide(gesture.Reject))
	s.Wait()
	f.clock.Advance(300 * time.Millisecond)

	view = live.View()
	assert.True(t, view.Exhausted)
	assert.Equal(t, []string{"deck exhausted"}, view.Log[len(view.Log)-1:])

	f.reg.Shutdown()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.Len(t, f.store.decisions, 2)
	assert.Equal(t, domain.ActionLiked, f.store.decisions[0].Action)
	assert.Equal(t, domain.ActionDisliked, f.store.decisions[1].Action)
	assert.ElementsMatch(t, []string{events.SessionStarted, events.SessionExhausted}, f.store.events)
}

func TestGetChecksOwner(t *testing.T) {
	f := newFixture(t, 1)
	live, err := f.reg.Start(context.Background(), "u1")
	require.NoError(t, err)

	_, err = f.reg.Get(live.ID, "u2")
	var forbidden auth.ForbiddenError
	assert.True(t, errors.As(err, &forbidden))

	_, err = f.reg.Get("nope", "u1")
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	require.NoError(t, f.reg.Close(live.ID, "u1"))
	_, err = f.reg.Get(live.ID, "u1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStartReplacesPreviousSession(t *testing.T) {
	f := newFixture(t, 1)
	first, err := f.reg.Start(context.Background(), "u1")
	require.NoError(t, err)
	second, err := f.reg.Start(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.reg.Len())
	assert.False(t, first.Session.Press(0), "closed session still accepts input")
	_, err = f.reg.Get(first.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.reg.Get(second.ID, "u1")
	assert.NoError(t, err)
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	f := newFixture(t, 1)
	stale, err := f.reg.Start(context.Background(), "u1")
	require.NoError(t, err)
	f.now = f.now.Add(45 * time.Second)
	fresh, err := f.reg.Start(context.Background(), "u2")
	require.NoError(t, err)

	f.now = f.now.Add(30 * time.Second)
	assert.Equal(t, 1, f.reg.Sweep())
	_, err = f.reg.Get(stale.ID, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.reg.Get(fresh.ID, "u2")
	assert.NoError(t, err)
}

func TestCommitFailureBecomesNotice(t *testing.T) {
	f := newFixture(t, 2)
	f.store.errFor["q1"] = errors.New("disk full")
	f.store.errFor["q2"] = repo.ErrAlreadyDecided
	live, err := f.reg.Start(context.Background(), "u1")
	require.NoError(t, err)

	require.True(t, live.Session.Decide(gesture.Accept))
	live.Session.Wait()
	f.clock.Advance(300 * time.Millisecond)
	require.True(t, live.Session.Decide(gesture.Accept))
	live.Session.Wait()

	notices := live.View().Notices
	require.Len(t, notices, 1)
	assert.Equal(t, "q1", notices[0].QuestID)
	assert.Contains(t, notices[0].Message, "disk full")
}

func TestStartRequiresUser(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.reg.Start(context.Background(), "")
	assert.Error(t, err)
}

func TestShutdownReportsFailuresBeforeClosing(t *testing.T) {
	f := newFixture(t, 1)
	f.store.errFor["q1"] = errors.New("disk full")
	f.store.gate = make(chan struct{})
	live, err := f.reg.Start(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, live.Session.Decide(gesture.Reject))

	done := make(chan struct{})
	go func() {
		f.reg.Shutdown()
		close(done)
	}()
	close(f.store.gate)
	<-done

	assert.Equal(t, 0, f.reg.Len())
	notices := live.Recorder.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, "q1", notices[0].QuestID)
}
