package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sidequest/internal/db"
	"sidequest/internal/domain"
)

// Repo is the item store. Every query is written with ? placeholders and
// rebound for the configured driver.
type Repo struct {
	DB     *sql.DB
	Driver string
}

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyDecided = errors.New("quest already decided")
)

// TimeLayout is fixed-width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func (r Repo) bind(query string) string {
	return db.Rebind(r.Driver, query)
}

// Begin starts a transaction on the underlying database.
func (r Repo) Begin(ctx context.Context) (*sql.Tx, error) {
	return r.DB.BeginTx(ctx, nil)
}

const questColumns = "id,name,description,theme,activities_json,destination_city,destination_country,price_range,duration_days,image_url,created_at"

func prefixed(prefix, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + "." + p
	}
	return strings.Join(parts, ",")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuest(s scanner) (domain.Quest, error) {
	var (
		q          domain.Quest
		activities string
		image      sql.NullString
		created    string
	)
	if err := s.Scan(&q.ID, &q.Name, &q.Description, &q.Theme, &activities, &q.DestinationCity, &q.DestinationCountry, &q.PriceRange, &q.DurationDays, &image, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return q, ErrNotFound
		}
		return q, err
	}
	if err := json.Unmarshal([]byte(activities), &q.Activities); err != nil {
		return q, fmt.Errorf("decode activities for quest %s: %w", q.ID, err)
	}
	if image.Valid {
		v := image.String
		q.ImageURL = &v
	}
	ts, err := ParseTime(created)
	if err != nil {
		return q, fmt.Errorf("parse created_at for quest %s: %w", q.ID, err)
	}
	q.CreatedAt = ts
	return q, nil
}

func collectQuests(rows *sql.Rows) ([]domain.Quest, error) {
	defer rows.Close()
	res := []domain.Quest{}
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

func (r Repo) InsertQuest(ctx context.Context, q domain.Quest) error {
	return r.InsertQuestTx(ctx, nil, q)
}

func (r Repo) InsertQuestTx(ctx context.Context, tx *sql.Tx, q domain.Quest) error {
	activities := q.Activities
	if activities == nil {
		activities = []string{}
	}
	data, err := json.Marshal(activities)
	if err != nil {
		return fmt.Errorf("encode activities: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, r.bind(`INSERT INTO quests(`+questColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`),
		q.ID, q.Name, q.Description, q.Theme, string(data), q.DestinationCity, q.DestinationCountry, q.PriceRange, q.DurationDays, nullableStringPtr(q.ImageURL), FormatTime(q.CreatedAt))
	return err
}

func (r Repo) GetQuest(ctx context.Context, id string) (domain.Quest, error) {
	return r.GetQuestTx(ctx, nil, id)
}

func (r Repo) GetQuestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Quest, error) {
	return scanQuest(r.q(tx).QueryRowContext(ctx, r.bind(`SELECT `+questColumns+` FROM quests WHERE id=?`), id))
}

type QuestFilters struct {
	Theme      string
	PriceRange string
	City       string
	Limit      int
}

func (r Repo) ListQuests(ctx context.Context, f QuestFilters) ([]domain.Quest, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Theme != "" {
		clauses = append(clauses, "theme=?")
		args = append(args, f.Theme)
	}
	if f.PriceRange != "" {
		clauses = append(clauses, "price_range=?")
		args = append(args, f.PriceRange)
	}
	if f.City != "" {
		clauses = append(clauses, "LOWER(destination_city)=LOWER(?)")
		args = append(args, f.City)
	}
	query := fmt.Sprintf(`SELECT %s FROM quests WHERE %s ORDER BY created_at DESC, id DESC`, questColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.bind(query), args...)
	if err != nil {
		return nil, err
	}
	return collectQuests(rows)
}

// ListUndecidedQuests returns the quests userID has not decided, newest first.
// limit <= 0 means no limit.
func (r Repo) ListUndecidedQuests(ctx context.Context, userID string, limit int) ([]domain.Quest, error) {
	query := `SELECT ` + questColumns + ` FROM quests q WHERE NOT EXISTS (SELECT 1 FROM user_decisions d WHERE d.user_id=? AND d.quest_id=q.id) ORDER BY q.created_at DESC, q.id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, r.bind(query), args...)
	if err != nil {
		return nil, err
	}
	return collectQuests(rows)
}

// RecordDecisionTx stores a decision. A second decision for the same
// (user, quest) pair returns ErrAlreadyDecided.
func (r Repo) RecordDecisionTx(ctx context.Context, tx *sql.Tx, d domain.Decision) error {
	res, err := r.q(tx).ExecContext(ctx, r.bind(`INSERT INTO user_decisions(user_id,quest_id,action,created_at) VALUES (?,?,?,?) ON CONFLICT (user_id,quest_id) DO NOTHING`),
		d.UserID, d.QuestID, d.Action, FormatTime(d.CreatedAt))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

func (r Repo) GetDecision(ctx context.Context, userID, questID string) (domain.Decision, error) {
	row := r.DB.QueryRowContext(ctx, r.bind(`SELECT user_id,quest_id,action,created_at FROM user_decisions WHERE user_id=? AND quest_id=?`), userID, questID)
	return scanDecision(row)
}

func scanDecision(s scanner) (domain.Decision, error) {
	var (
		d       domain.Decision
		created string
	)
	if err := s.Scan(&d.UserID, &d.QuestID, &d.Action, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, ErrNotFound
		}
		return d, err
	}
	ts, err := ParseTime(created)
	if err != nil {
		return d, err
	}
	d.CreatedAt = ts
	return d, nil
}

// ListDecisions returns a user's decisions, newest first. action filters when set.
func (r Repo) ListDecisions(ctx context.Context, userID, action string) ([]domain.Decision, error) {
	query := `SELECT user_id,quest_id,action,created_at FROM user_decisions WHERE user_id=?`
	args := []any{userID}
	if action != "" {
		query += " AND action=?"
		args = append(args, action)
	}
	query += " ORDER BY created_at DESC, quest_id DESC"
	rows, err := r.DB.QueryContext(ctx, r.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Decision{}
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// LikedQuests returns the quests a user accepted, most recently liked first.
func (r Repo) LikedQuests(ctx context.Context, userID string) ([]domain.Quest, error) {
	query := `SELECT ` + prefixed("q", questColumns) + ` FROM quests q JOIN user_decisions d ON d.quest_id=q.id WHERE d.user_id=? AND d.action=? ORDER BY d.created_at DESC, q.id DESC`
	rows, err := r.DB.QueryContext(ctx, r.bind(query), userID, domain.ActionLiked)
	if err != nil {
		return nil, err
	}
	return collectQuests(rows)
}

func (r Repo) DecisionCounts(ctx context.Context, userID string) (domain.DecisionCounts, error) {
	var c domain.DecisionCounts
	rows, err := r.DB.QueryContext(ctx, r.bind(`SELECT action, COUNT(*) FROM user_decisions WHERE user_id=? GROUP BY action`), userID)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return c, err
		}
		switch action {
		case domain.ActionLiked:
			c.Liked = n
		case domain.ActionDisliked:
			c.Disliked = n
		}
	}
	return c, rows.Err()
}

func (r Repo) CountQuests(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM quests`).Scan(&n)
	return n, err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.UserProfile, error) {
	return r.GetProfileTx(ctx, nil, id)
}

func (r Repo) GetProfileTx(ctx context.Context, tx *sql.Tx, id string) (domain.UserProfile, error) {
	var (
		p                domain.UserProfile
		interests        string
		created, updated string
	)
	row := r.q(tx).QueryRowContext(ctx, r.bind(`SELECT id,username,travel_interests_json,budget_preference,created_at,updated_at FROM user_profiles WHERE id=?`), id)
	if err := row.Scan(&p.ID, &p.Username, &interests, &p.BudgetPreference, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, ErrNotFound
		}
		return p, err
	}
	if err := json.Unmarshal([]byte(interests), &p.TravelInterests); err != nil {
		return p, fmt.Errorf("decode interests: %w", err)
	}
	var err error
	if p.CreatedAt, err = ParseTime(created); err != nil {
		return p, err
	}
	if p.UpdatedAt, err = ParseTime(updated); err != nil {
		return p, err
	}
	return p, nil
}

// UpsertProfileTx inserts or replaces a profile. created_at is kept on update.
func (r Repo) UpsertProfileTx(ctx context.Context, tx *sql.Tx, p domain.UserProfile) error {
	data, err := json.Marshal(p.TravelInterests)
	if err != nil {
		return fmt.Errorf("encode interests: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, r.bind(`INSERT INTO user_profiles(id,username,travel_interests_json,budget_preference,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT (id) DO UPDATE SET username=excluded.username, travel_interests_json=excluded.travel_interests_json, budget_preference=excluded.budget_preference, updated_at=excluded.updated_at`),
		p.ID, p.Username, string(data), p.BudgetPreference, FormatTime(p.CreatedAt), FormatTime(p.UpdatedAt))
	return err
}

const eventColumns = "id,ts,type,COALESCE(user_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json"

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.UserID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, userID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id ASC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, r.bind(query), args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// LatestEvents returns the newest events first, optionally filtered by type.
func (r Repo) LatestEvents(ctx context.Context, limit int, userID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, r.bind(query), args...)
	if err != nil {
		return nil, err
	}
	return collectEvents(rows)
}

// LatestEventID returns the most recent event ID, scoped to a user when set.
func (r Repo) LatestEventID(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, r.bind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
