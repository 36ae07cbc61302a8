// Package notify fans gesture session activity out over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"sidequest/internal/gesture"
	"sidequest/internal/logger"
)

const (
	KindTransition     = "transition"
	KindCommit         = "commit"
	KindExhausted      = "exhausted"
	KindDecisionFailed = "decision_failed"
)

// Message is the JSON payload published for each session notification.
type Message struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	QuestID   string    `json:"quest_id,omitempty"`
	QuestName string    `json:"quest_name,omitempty"`
	Action    string    `json:"action,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Sink delivers a raw payload to a channel.
type Sink interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type redisSink struct {
	rdb *goredis.Client
}

func (s redisSink) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// Publisher queues messages from session observers and publishes them from
// a single worker so observers never block on the network.
type Publisher struct {
	sink    Sink
	channel string
	log     *logger.Logger
	now     func() time.Time
	queue   chan Message
	dropped atomic.Int64

	rdb       *goredis.Client
	closeOnce sync.Once
	done      chan struct{}
}

func New(sink Sink, channel string, buffer int, log *logger.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Publisher{
		sink:    sink,
		channel: channel,
		log:     logger.OrNop(log).With("component", "notify"),
		now:     time.Now,
		queue:   make(chan Message, buffer),
		done:    make(chan struct{}),
	}
}

// Dial connects to Redis and returns a publisher bound to channel.
func Dial(ctx context.Context, addr string, db int, channel string, log *logger.Logger) (*Publisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, fmt.Errorf("redis channel required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	p := New(redisSink{rdb: rdb}, channel, 0, log)
	p.rdb = rdb
	return p, nil
}

// Dropped reports how many messages were discarded because the queue was full.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

func (p *Publisher) enqueue(m Message) {
	if m.At.IsZero() {
		m.At = p.now().UTC()
	}
	select {
	case p.queue <- m:
	default:
		p.dropped.Add(1)
	}
}

// Run publishes queued messages until ctx is done, then drains what is left.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case m := <-p.queue:
			p.publish(ctx, m)
		case <-ctx.Done():
			for {
				select {
				case m := <-p.queue:
					p.publish(context.Background(), m)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, m Message) {
	raw, err := json.Marshal(m)
	if err != nil {
		p.log.Warn("encode session message", "error", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.sink.Publish(pubCtx, p.channel, raw); err != nil {
		p.log.Warn("publish session message", "kind", m.Kind, "session_id", m.SessionID, "error", err)
	}
}

// Wait blocks until Run has returned.
func (p *Publisher) Wait() { <-p.done }

func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.rdb != nil {
			err = p.rdb.Close()
		}
	})
	return err
}

// ForSession returns an observer publishing the notifications of one session.
func (p *Publisher) ForSession(sessionID, userID string) gesture.Observer {
	return sessionObserver{p: p, sessionID: sessionID, userID: userID}
}

type sessionObserver struct {
	gesture.NopObserver
	p         *Publisher
	sessionID string
	userID    string
}

func (o sessionObserver) msg(kind string) Message {
	return Message{SessionID: o.sessionID, UserID: o.userID, Kind: kind}
}

func (o sessionObserver) OnTransition(from, to gesture.State) {
	m := o.msg(KindTransition)
	m.From, m.To = from.String(), to.String()
	o.p.enqueue(m)
}

func (o sessionObserver) OnCommit(c gesture.Commit) {
	m := o.msg(KindCommit)
	m.QuestID, m.QuestName, m.Action, m.At = c.Item.ID, c.Item.Name, c.Direction.Action(), c.At
	o.p.enqueue(m)
}

func (o sessionObserver) OnExhausted() {
	o.p.enqueue(o.msg(KindExhausted))
}

func (o sessionObserver) OnDecisionFailed(c gesture.Commit, err error) {
	m := o.msg(KindDecisionFailed)
	m.QuestID, m.QuestName, m.Action = c.Item.ID, c.Item.Name, c.Direction.Action()
	m.Error = err.Error()
	o.p.enqueue(m)
}

// Subscribe delivers messages from channel to fn until ctx is done.
func Subscribe(ctx context.Context, addr string, db int, channel string, fn func(Message)) error {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DB: db, DialTimeout: 5 * time.Second})
	defer rdb.Close()

	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var m Message
			if err := json.Unmarshal([]byte(raw.Payload), &m); err != nil {
				continue
			}
			fn(m)
		}
	}
}
