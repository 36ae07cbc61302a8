package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidequest/internal/domain"
	"sidequest/internal/gesture"
)

type memorySink struct {
	mu       sync.Mutex
	channels []string
	messages []Message
	err      error
}

func (s *memorySink) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return err
	}
	s.channels = append(s.channels, channel)
	s.messages = append(s.messages, m)
	return nil
}

func TestSessionObserverPublishes(t *testing.T) {
	sink := &memorySink{}
	p := New(sink, "sidequest.sessions", 16, nil)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	obs := p.ForSession("s1", "u1")
	quest := domain.Quest{ID: "q1", Name: "Northern Lights"}
	at := time.Date(2024, 3, 1, 0, 0, 1, 0, time.UTC)
	obs.OnTransition(gesture.Idle, gesture.Dragging)
	obs.OnFeedback(gesture.Feedback{Offset: 10})
	obs.OnCommit(gesture.Commit{Direction: gesture.Accept, Item: quest, At: at})
	obs.OnDecisionFailed(gesture.Commit{Direction: gesture.Reject, Item: quest}, errors.New("timeout"))
	obs.OnExhausted()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)
	p.Wait()

	require.Len(t, sink.messages, 4)
	assert.Equal(t, []string{"sidequest.sessions", "sidequest.sessions", "sidequest.sessions", "sidequest.sessions"}, sink.channels)

	tr := sink.messages[0]
	assert.Equal(t, KindTransition, tr.Kind)
	assert.Equal(t, "idle", tr.From)
	assert.Equal(t, "dragging", tr.To)
	assert.Equal(t, "s1", tr.SessionID)
	assert.Equal(t, "u1", tr.UserID)

	commit := sink.messages[1]
	assert.Equal(t, KindCommit, commit.Kind)
	assert.Equal(t, domain.ActionLiked, commit.Action)
	assert.True(t, commit.At.Equal(at))

	failed := sink.messages[2]
	assert.Equal(t, KindDecisionFailed, failed.Kind)
	assert.Equal(t, "timeout", failed.Error)
	assert.Equal(t, domain.ActionDisliked, failed.Action)

	assert.Equal(t, KindExhausted, sink.messages[3].Kind)
}

func TestPublisherDropsWhenFull(t *testing.T) {
	p := New(&memorySink{}, "c", 1, nil)
	obs := p.ForSession("s1", "u1")
	obs.OnExhausted()
	obs.OnExhausted()
	obs.OnExhausted()
	assert.Equal(t, int64(2), p.Dropped())
}

func TestPublishErrorsAreNotFatal(t *testing.T) {
	sink := &memorySink{err: errors.New("connection reset")}
	p := New(sink, "c", 4, nil)
	p.ForSession("s1", "u1").OnExhausted()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)
	assert.Empty(t, sink.messages)
	assert.NoError(t, p.Close())
}

func TestDialRequiresAddress(t *testing.T) {
	_, err := Dial(context.Background(), " ", 0, "c", nil)
	assert.Error(t, err)
	_, err = Dial(context.Background(), "localhost:6379", 0, "", nil)
	assert.Error(t, err)
}
