// Package gesture turns a continuous horizontal drag into accept/reject
// decisions over a deck of quests, one current quest at a time.
package gesture

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"sidequest/internal/domain"
	"sidequest/internal/logger"
)

type State int

const (
	Idle State = iota
	Dragging
	Committing
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Committing:
		return "committing"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome reports what a release did.
type Outcome int

const (
	Ignored Outcome = iota
	SnappedBack
	Committed
)

func (o Outcome) String() string {
	switch o {
	case SnappedBack:
		return "snapped_back"
	case Committed:
		return "committed"
	default:
		return "ignored"
	}
}

// Committer persists a decision. It runs off the gesture path; its error is
// reported to the observer once it resolves.
type Committer interface {
	Commit(ctx context.Context, d domain.Decision) error
}

type CommitFunc func(ctx context.Context, d domain.Decision) error

func (f CommitFunc) Commit(ctx context.Context, d domain.Decision) error { return f(ctx, d) }

// Timer is the handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so the advance timer can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

const defaultCommitTimeout = 10 * time.Second

type Options struct {
	Params        Params
	Committer     Committer
	Observer      Observer
	Clock         Clock
	CommitTimeout time.Duration
	Log           *logger.Logger
}

// Snapshot is a consistent view of a session.
type Snapshot struct {
	State    State         `json:"-"`
	Index    int           `json:"index"`
	Total    int           `json:"total"`
	Offset   float64       `json:"offset"`
	Feedback Feedback      `json:"feedback"`
	Current  *domain.Quest `json:"current,omitempty"`
	Next     *domain.Quest `json:"next,omitempty"`
}

// Session is the state machine for one user's pass through one deck.
// Input methods are safe for concurrent use; events are applied one at a time.
type Session struct {
	mu            sync.Mutex
	params        Params
	userID        string
	deck          []domain.Quest
	index         int
	state         State
	startX        float64
	offset        float64
	committer     Committer
	observer      Observer
	clock         Clock
	commitTimeout time.Duration
	pending       Timer
	closed        bool
	inflight      int
	settled       *sync.Cond
	log           *logger.Logger
}

func New(userID string, deck []domain.Quest, opts Options) (*Session, error) {
	if userID == "" {
		return nil, errors.New("gesture: user id required")
	}
	if opts.Committer == nil {
		return nil, errors.New("gesture: committer required")
	}
	if opts.Params == (Params{}) {
		opts.Params = DefaultParams()
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, err
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = defaultCommitTimeout
	}
	s := &Session{
		params:        opts.Params,
		userID:        userID,
		deck:          append([]domain.Quest(nil), deck...),
		committer:     opts.Committer,
		observer:      opts.Observer,
		clock:         opts.Clock,
		commitTimeout: opts.CommitTimeout,
		log:           logger.OrNop(opts.Log).With("user_id", userID),
	}
	s.settled = sync.NewCond(&s.mu)
	if len(s.deck) == 0 {
		s.mu.Lock()
		s.transition(Exhausted)
		s.observer.OnExhausted()
		s.mu.Unlock()
	}
	return s, nil
}

func (s *Session) Params() Params { return s.params }

func (s *Session) UserID() string { return s.userID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:    s.state,
		Index:    s.index,
		Total:    len(s.deck),
		Offset:   s.offset,
		Feedback: s.params.Feedback(s.offset),
	}
	if s.state == Committing {
		snap.Feedback.CardOpacity = 0
	}
	if s.index < len(s.deck) {
		cur := s.deck[s.index]
		snap.Current = &cur
	}
	if s.index+1 < len(s.deck) {
		next := s.deck[s.index+1]
		snap.Next = &next
	}
	return snap
}

// Press starts a drag at x. Only accepted while Idle.
func (s *Session) Press(x float64) bool {
	if !finite(x) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != Idle {
		return false
	}
	s.startX = x
	s.offset = 0
	s.transition(Dragging)
	return true
}

// Move updates the live offset and returns the feedback for this frame.
func (s *Session) Move(x float64) (Feedback, bool) {
	if !finite(x) {
		return Feedback{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != Dragging {
		return Feedback{}, false
	}
	s.offset = x - s.startX
	f := s.params.Feedback(s.offset)
	s.observer.OnFeedback(f)
	return f, true
}

// Release ends a drag at x and either commits or snaps back.
func (s *Session) Release(x float64) Outcome {
	if !finite(x) {
		return Ignored
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != Dragging {
		return Ignored
	}
	s.offset = x - s.startX
	dir, ok := s.params.Classify(s.offset)
	if !ok {
		s.offset = 0
		s.transition(Idle)
		s.observer.OnFeedback(s.params.Feedback(0))
		return SnappedBack
	}
	s.commitLocked(dir)
	return Committed
}

// Decide is the manual accept/reject path. It behaves like a drag released
// at the exit offset and is subject to the same in-flight guard.
func (s *Session) Decide(dir Direction) bool {
	if dir != Accept && dir != Reject {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.state != Idle && s.state != Dragging) {
		return false
	}
	if s.state == Idle {
		s.transition(Dragging)
	}
	s.offset = float64(dir) * s.params.ExitOffset
	s.commitLocked(dir)
	return true
}

// Close tears the session down. A pending advance is cancelled and later
// store failures are only logged.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	s.observer = NopObserver{}
}

// Wait blocks until every store call dispatched so far has returned and
// its failure, if any, has been reported. It may be called on a live session.
func (s *Session) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.inflight > 0 {
		s.settled.Wait()
	}
}

func (s *Session) commitLocked(dir Direction) {
	item := s.deck[s.index]
	exit := math.Max(math.Abs(s.offset), s.params.ExitOffset)
	s.offset = float64(dir) * exit
	s.transition(Committing)
	c := Commit{Direction: dir, Item: item, Index: s.index, At: s.clock.Now().UTC()}
	s.observer.OnCommit(c)
	s.observer.OnFeedback(s.params.exitFeedback(s.offset))
	s.dispatch(c)
	s.pending = s.clock.AfterFunc(s.params.AdvanceDelay, s.advance)
}

func (s *Session) dispatch(c Commit) {
	d := domain.Decision{
		UserID:    s.userID,
		QuestID:   c.Item.ID,
		Action:    c.Direction.Action(),
		CreatedAt: c.At,
	}
	s.inflight++
	go func() {
		// Not tied to the caller's request context.
		ctx, cancel := context.WithTimeout(context.Background(), s.commitTimeout)
		err := s.committer.Commit(ctx, d)
		cancel()
		s.finishCommit(c, err)
	}()
}

func (s *Session) finishCommit(c Commit, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 {
		s.settled.Broadcast()
	}
	if err == nil {
		return
	}
	s.log.Warn("decision not saved", "quest_id", c.Item.ID, "action", c.Direction.Action(), "error", err, "closed", s.closed)
	if s.closed {
		return
	}
	s.observer.OnDecisionFailed(c, err)
}

func (s *Session) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != Committing {
		return
	}
	s.pending = nil
	s.index++
	s.offset = 0
	if s.index >= len(s.deck) {
		s.transition(Exhausted)
		s.observer.OnExhausted()
		return
	}
	s.transition(Idle)
	s.observer.OnFeedback(s.params.Feedback(0))
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	if from != to {
		s.observer.OnTransition(from, to)
	}
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
