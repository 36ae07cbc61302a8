package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"sidequest/internal/db"
)

// Event types appended by the engine.
const (
	QuestCreated     = "quest.created"
	QuestGenerated   = "quest.generated"
	QuestsSeeded     = "quests.seeded"
	DecisionRecorded = "decision.recorded"
	ProfileSaved     = "profile.saved"
	SessionStarted   = "session.started"
	SessionExhausted = "session.exhausted"
)

// Writer appends audit rows inside the caller's transaction.
type Writer struct {
	Driver string
	Now    func() time.Time
}

type EventPayload map[string]any

type Entry struct {
	Type       string
	UserID     string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := e.ActorID
	if actor == "" {
		actor = "system"
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Driver, `INSERT INTO events(ts,type,user_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, e.Type, nullable(e.UserID), e.EntityKind, nullable(e.EntityID), actor, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
