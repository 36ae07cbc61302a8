// Package session keeps the live gesture sessions served over the API.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sidequest/internal/domain"
	"sidequest/internal/engine/auth"
	"sidequest/internal/events"
	"sidequest/internal/gesture"
	"sidequest/internal/logger"
	"sidequest/internal/repo"
)

var ErrNotFound = fmt.Errorf("session %w", repo.ErrNotFound)

// Deck supplies the ordered quests for a user.
type Deck interface {
	Next(ctx context.Context, userID string) ([]domain.Quest, error)
}

// Store persists decisions and audit events.
type Store interface {
	RecordDecision(ctx context.Context, d domain.Decision, actorID string) (domain.Decision, error)
	RecordEvent(ctx context.Context, e events.Entry) error
}

type Options struct {
	Deck          Deck
	Store         Store
	Params        gesture.Params
	CommitTimeout time.Duration
	TTL           time.Duration
	// Observers returns extra observers for a new session, e.g. a publisher.
	Observers func(sessionID, userID string) []gesture.Observer
	Clock     gesture.Clock
	Now       func() time.Time
	NewID     func() string
	Log       *logger.Logger
}

// Live is one running session with its debug recorder.
type Live struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Session   *gesture.Session
	Recorder  *gesture.Recorder

	mu       sync.Mutex
	lastSeen time.Time
}

func (l *Live) touch(now time.Time) {
	l.mu.Lock()
	l.lastSeen = now
	l.mu.Unlock()
}

func (l *Live) LastSeen() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen
}

// View is the serialisable state of a live session.
type View struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	State     string           `json:"state" enum:"idle,dragging,committing,exhausted"`
	Exhausted bool             `json:"exhausted"`
	Index     int              `json:"index"`
	Total     int              `json:"total"`
	Feedback  gesture.Feedback `json:"feedback"`
	Current   *domain.Quest    `json:"current,omitempty"`
	Next      *domain.Quest    `json:"next,omitempty"`
	Notices   []gesture.Notice `json:"notices"`
	Log       []string         `json:"log"`
	CreatedAt time.Time        `json:"created_at"`
}

func (l *Live) View() View {
	snap := l.Session.Snapshot()
	return View{
		ID:        l.ID,
		UserID:    l.UserID,
		State:     snap.State.String(),
		Exhausted: snap.State == gesture.Exhausted,
		Index:     snap.Index,
		Total:     snap.Total,
		Feedback:  snap.Feedback,
		Current:   snap.Current,
		Next:      snap.Next,
		Notices:   l.Recorder.Notices(),
		Log:       l.Recorder.Lines(),
		CreatedAt: l.CreatedAt,
	}
}

type Registry struct {
	opts Options
	log  *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Live
	byUser   map[string]string
	audits   sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	if opts.Params == (gesture.Params{}) {
		opts.Params = gesture.DefaultParams()
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Registry{
		opts:     opts,
		log:      logger.OrNop(opts.Log),
		sessions: map[string]*Live{},
		byUser:   map[string]string{},
	}
}

// Start builds the user's deck and opens a new session. Any previous session
// of the same user is closed.
func (r *Registry) Start(ctx context.Context, userID string) (*Live, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	deck, err := r.opts.Deck.Next(ctx, userID)
	if err != nil {
		return nil, err
	}
	id := r.opts.NewID()
	live := &Live{
		ID:        id,
		UserID:    userID,
		CreatedAt: r.opts.Now().UTC(),
		Recorder:  gesture.NewRecorder(5),
	}
	live.touch(live.CreatedAt)

	observers := []gesture.Observer{
		live.Recorder,
		gesture.LogObserver{Log: r.log.With("session_id", id)},
		exhaustAudit{r: r, sessionID: id, userID: userID},
	}
	if r.opts.Observers != nil {
		observers = append(observers, r.opts.Observers(id, userID)...)
	}
	sess, err := gesture.New(userID, deck, gesture.Options{
		Params:        r.opts.Params,
		Committer:     r.committer(),
		Observer:      gesture.Multi(observers...),
		Clock:         r.opts.Clock,
		CommitTimeout: r.opts.CommitTimeout,
		Log:           r.log,
	})
	if err != nil {
		return nil, err
	}
	live.Session = sess

	r.mu.Lock()
	if prev, ok := r.byUser[userID]; ok {
		if old := r.sessions[prev]; old != nil {
			old.Session.Close()
		}
		delete(r.sessions, prev)
	}
	r.sessions[id] = live
	r.byUser[userID] = id
	r.mu.Unlock()

	r.audit(events.Entry{
		Type:       events.SessionStarted,
		UserID:     userID,
		EntityKind: "session",
		EntityID:   id,
		ActorID:    userID,
		Payload:    events.EventPayload{"deck_size": len(deck)},
	})
	return live, nil
}

// committer records decisions through the store. A decision that already
// exists is treated as saved.
func (r *Registry) committer() gesture.Committer {
	return gesture.CommitFunc(func(ctx context.Context, d domain.Decision) error {
		_, err := r.opts.Store.RecordDecision(ctx, d, d.UserID)
		if errors.Is(err, repo.ErrAlreadyDecided) {
			r.log.Debug("decision already stored", "user_id", d.UserID, "quest_id", d.QuestID)
			return nil
		}
		return err
	})
}

// Get returns the session when it belongs to userID.
func (r *Registry) Get(id, userID string) (*Live, error) {
	r.mu.Lock()
	live, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if live.UserID != userID {
		return nil, auth.ForbiddenError{Resource: "session " + id}
	}
	live.touch(r.opts.Now())
	return live, nil
}

func (r *Registry) Close(id, userID string) error {
	live, err := r.Get(id, userID)
	if err != nil {
		return err
	}
	r.remove(live)
	return nil
}

func (r *Registry) remove(live *Live) {
	live.Session.Close()
	r.mu.Lock()
	delete(r.sessions, live.ID)
	if r.byUser[live.UserID] == live.ID {
		delete(r.byUser, live.UserID)
	}
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many.
func (r *Registry) Sweep() int {
	cutoff := r.opts.Now().Add(-r.opts.TTL)
	r.mu.Lock()
	var stale []*Live
	for _, live := range r.sessions {
		if live.LastSeen().Before(cutoff) {
			stale = append(stale, live)
		}
	}
	r.mu.Unlock()
	for _, live := range stale {
		r.remove(live)
		r.log.Info("session expired", "session_id", live.ID, "user_id", live.UserID)
	}
	return len(stale)
}

// Run sweeps on every tick until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Shutdown()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Shutdown closes every session and waits for in-flight store calls.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Live, 0, len(r.sessions))
	for _, live := range r.sessions {
		all = append(all, live)
	}
	r.mu.Unlock()
	for _, live := range all {
		// Settle before closing so failed decisions still reach observers.
		live.Session.Wait()
		r.remove(live)
		live.Session.Wait()
	}
	r.audits.Wait()
}

func (r *Registry) audit(e events.Entry) {
	r.audits.Add(1)
	go func() {
		defer r.audits.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.opts.Store.RecordEvent(ctx, e); err != nil {
			r.log.Warn("session audit failed", "type", e.Type, "error", err)
		}
	}()
}

// exhaustAudit records deck exhaustion off the session lock.
type exhaustAudit struct {
	gesture.NopObserver
	r         *Registry
	sessionID string
	userID    string
}

func (a exhaustAudit) OnExhausted() {
	a.r.audit(events.Entry{
		Type:       events.SessionExhausted,
		UserID:     a.userID,
		EntityKind: "session",
		EntityID:   a.sessionID,
		ActorID:    a.userID,
	})
}
