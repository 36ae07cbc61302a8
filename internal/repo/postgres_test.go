package repo

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidequest/internal/db"
	"sidequest/internal/domain"
)

func newMockRepo(t *testing.T) (Repo, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return Repo{DB: conn, Driver: db.DriverPostgres}, mock
}

func questRow(id string, created time.Time) []driver.Value {
	return []driver.Value{id, "Fjord Run", "Chase waterfalls.", "nature", `["hike","kayak"]`, "Bergen", "Norway", "luxury", 4, nil, FormatTime(created)}
}

func TestPostgresListUndecidedQuests(t *testing.T) {
	r, mock := newMockRepo(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "name", "description", "theme", "activities_json", "destination_city", "destination_country", "price_range", "duration_days", "image_url", "created_at"}).
		AddRow(questRow("q-2", created)...).
		AddRow(questRow("q-1", created.Add(-time.Hour))...)

	mock.ExpectQuery(regexp.QuoteMeta("FROM quests q WHERE NOT EXISTS (SELECT 1 FROM user_decisions d WHERE d.user_id=$1 AND d.quest_id=q.id) ORDER BY q.created_at DESC, q.id DESC LIMIT $2")).
		WithArgs("user-1", 10).
		WillReturnRows(rows)

	qs, err := r.ListUndecidedQuests(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "q-2", qs[0].ID)
	assert.Equal(t, []string{"hike", "kayak"}, qs[0].Activities)
	assert.Nil(t, qs[0].ImageURL)
	assert.True(t, qs[0].CreatedAt.Equal(created))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordDecision(t *testing.T) {
	r, mock := newMockRepo(t)
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	d := domain.Decision{UserID: "user-1", QuestID: "q-1", Action: domain.ActionLiked, CreatedAt: at}

	insert := regexp.QuoteMeta("INSERT INTO user_decisions(user_id,quest_id,action,created_at) VALUES ($1,$2,$3,$4) ON CONFLICT (user_id,quest_id) DO NOTHING")
	mock.ExpectExec(insert).
		WithArgs("user-1", "q-1", "liked", FormatTime(at)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insert).
		WithArgs("user-1", "q-1", "liked", FormatTime(at)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, r.RecordDecisionTx(context.Background(), nil, d))
	assert.ErrorIs(t, r.RecordDecisionTx(context.Background(), nil, d), ErrAlreadyDecided)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetQuestNotFound(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM quests WHERE id=$1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := r.GetQuest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDecisionCounts(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT action, COUNT(*) FROM user_decisions WHERE user_id=$1 GROUP BY action")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).AddRow("liked", 3).AddRow("disliked", 5))

	c, err := r.DecisionCounts(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionCounts{Liked: 3, Disliked: 5}, c)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventsAfter(t *testing.T) {
	r, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM events WHERE 1=1 AND user_id=$1 AND id>$2 ORDER BY id ASC LIMIT $3")).
		WithArgs("user-1", int64(7), 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ts", "type", "user_id", "entity_kind", "entity_id", "actor_id", "payload_json"}).
			AddRow(8, "2024-03-01T10:00:00Z", "decision.recorded", "user-1", "quest", "q-1", "user-1", `{"action":"liked"}`))

	evs, err := r.EventsAfter(context.Background(), 50, 7, "user-1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(8), evs[0].ID)
	assert.Equal(t, "decision.recorded", evs[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}
