package gesture

import (
	"fmt"
	"sync"
	"time"

	"sidequest/internal/domain"
	"sidequest/internal/logger"
)

// Commit is emitted once per decided item.
type Commit struct {
	Direction Direction    `json:"direction"`
	Item      domain.Quest `json:"item"`
	Index     int          `json:"index"`
	At        time.Time    `json:"at"`
}

// Observer receives session notifications. Calls happen with the session
// lock held, so implementations must not call back into the session.
type Observer interface {
	OnTransition(from, to State)
	OnFeedback(f Feedback)
	OnCommit(c Commit)
	OnExhausted()
	OnDecisionFailed(c Commit, err error)
}

// NopObserver ignores every notification. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnTransition(State, State) {}
func (NopObserver) OnFeedback(Feedback) {}
func (NopObserver) OnCommit(Commit) {}
func (NopObserver) OnExhausted() {}
func (NopObserver) OnDecisionFailed(Commit, error) {}

type multiObserver []Observer

// Multi fans notifications out to every non-nil observer in order.
func Multi(observers ...Observer) Observer {
	var m multiObserver
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multiObserver) OnTransition(from, to State) {
	for _, o := range m {
		o.OnTransition(from, to)
	}
}

func (m multiObserver) OnFeedback(f Feedback) {
	for _, o := range m {
		o.OnFeedback(f)
	}
}

func (m multiObserver) OnCommit(c Commit) {
	for _, o := range m {
		o.OnCommit(c)
	}
}

func (m multiObserver) OnExhausted() {
	for _, o := range m {
		o.OnExhausted()
	}
}

func (m multiObserver) OnDecisionFailed(c Commit, err error) {
	for _, o := range m {
		o.OnDecisionFailed(c, err)
	}
}

// Notice is a non-fatal problem the host should show to the user.
type Notice struct {
	QuestID string    `json:"quest_id"`
	Action  string    `json:"action"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Recorder keeps a rolling log of the most recent session events plus every
// failed decision. Feedback frames are not logged.
type Recorder struct {
	mu        sync.Mutex
	limit     int
	lines     []string
	notices   []Notice
	exhausted bool
	now       func() time.Time
}

func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = 5
	}
	return &Recorder{limit: limit, now: time.Now}
}

func (r *Recorder) add(line string) {
	r.lines = append(r.lines, line)
	if len(r.lines) > r.limit {
		r.lines = append([]string(nil), r.lines[len(r.lines)-r.limit:]...)
	}
}

func (r *Recorder) OnTransition(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(fmt.Sprintf("%s -> %s", from, to))
}

func (r *Recorder) OnFeedback(Feedback) {}

func (r *Recorder) OnCommit(c Commit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(fmt.Sprintf("%s %s", c.Direction, c.Item.Name))
}

func (r *Recorder) OnExhausted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted = true
	r.add("deck exhausted")
}

func (r *Recorder) OnDecisionFailed(c Commit, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{
		QuestID: c.Item.ID,
		Action:  c.Direction.Action(),
		Message: err.Error(),
		At:      r.now().UTC(),
	})
	r.add(fmt.Sprintf("error saving %s: %v", c.Item.Name, err))
}

// Lines returns a copy of the rolling log, oldest first.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.lines...)
}

// Notices returns a copy of the failed-decision notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice{}, r.notices...)
}

func (r *Recorder) Exhausted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exhausted
}

// LogObserver writes transitions, commits and failures to a logger.
type LogObserver struct {
	NopObserver
	Log *logger.Logger
}

func (o LogObserver) OnTransition(from, to State) {
	logger.OrNop(o.Log).Debug("gesture transition", "from", from.String(), "to", to.String())
}

func (o LogObserver) OnCommit(c Commit) {
	logger.OrNop(o.Log).Info("gesture commit", "quest_id", c.Item.ID, "direction", c.Direction.String(), "index", c.Index)
}

func (o LogObserver) OnExhausted() {
	logger.OrNop(o.Log).Info("gesture deck exhausted")
}

func (o LogObserver) OnDecisionFailed(c Commit, err error) {
	logger.OrNop(o.Log).Warn("decision not saved", "quest_id", c.Item.ID, "action", c.Direction.Action(), "error", err)
}
