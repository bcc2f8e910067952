package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// ReviewStore implements review persistence backed by SQLite.
type ReviewStore struct {
	db *DB
}

// NewReviewStore creates a new SQLite-backed review store.
func NewReviewStore(db *DB) *ReviewStore {
	return &ReviewStore{db: db}
}

const itemColumns = `learner_id, item_id, plan_id, category,
	repetition_number, ease_factor, interval_days, next_review_date, last_reviewed_at,
	performance_rating, time_spent_seconds, attempts_count, mastery_level,
	version, created_at, updated_at`

// GetItem retrieves one review item.
func (s *ReviewStore) GetItem(ctx context.Context, learnerID, itemID string) (*domain.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+`
		FROM review_items WHERE learner_id = ? AND item_id = ?`, learnerID, itemID)
	return scanItem(row)
}

// ListItems returns every item of a learner ordered by item id.
func (s *ReviewStore) ListItems(ctx context.Context, learnerID string) ([]domain.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+itemColumns+`
		FROM review_items WHERE learner_id = ? ORDER BY item_id, plan_id`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := []domain.ReviewItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// CreateItem inserts a new item with version 1.
func (s *ReviewStore) CreateItem(ctx context.Context, item *domain.ReviewItem) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO review_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.LearnerID, item.ItemID, item.PlanID, item.Category,
		item.Repetition, item.EaseFactor, item.IntervalDays, item.NextReviewDate, nullTime(item.LastReviewedAt),
		nullRating(item.LastRating), item.TimeSpentSeconds(), item.Attempts, item.MasteryLevel,
		1, item.CreatedAt.UTC(), item.UpdatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrItemExists
		}
		return fmt.Errorf("insert item: %w", err)
	}
	item.Version = 1
	return nil
}

// SaveReview updates the item and appends the log in one transaction. A log
// ID that is already stored yields domain.ErrDuplicateReview.
func (s *ReviewStore) SaveReview(ctx context.Context, item *domain.ReviewItem, expectedVersion int64, log domain.ReviewLog) error {
	before, err := json.Marshal(log.Before)
	if err != nil {
		return fmt.Errorf("marshal before_state: %w", err)
	}
	after, err := json.Marshal(log.After)
	if err != nil {
		return fmt.Errorf("marshal after_state: %w", err)
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM review_logs WHERE id = ?)`, log.ID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("check review log: %w", err)
	}
	if exists {
		return domain.ErrDuplicateReview
	}

	if err := updateItem(ctx, tx, item, expectedVersion); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO review_logs
		(id, learner_id, item_id, category, rating, time_spent_seconds, reviewed_at, before_state, after_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID.String(), log.LearnerID, log.ItemID, log.Category, int(log.Rating),
		int64(log.TimeSpent/time.Second), log.ReviewedAt.UTC(), string(before), string(after),
	)
	if err != nil {
		return fmt.Errorf("insert review log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review: %w", err)
	}
	item.Version = expectedVersion + 1
	return nil
}

// UpdateItem stores the item without appending a log.
func (s *ReviewStore) UpdateItem(ctx context.Context, item *domain.ReviewItem, expectedVersion int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := updateItem(ctx, tx, item, expectedVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	item.Version = expectedVersion + 1
	return nil
}

func updateItem(ctx context.Context, tx *sql.Tx, item *domain.ReviewItem, expectedVersion int64) error {
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now()
	}

	result, err := tx.ExecContext(ctx, `UPDATE review_items SET
			plan_id = ?, category = ?,
			repetition_number = ?, ease_factor = ?, interval_days = ?, next_review_date = ?, last_reviewed_at = ?,
			performance_rating = ?, time_spent_seconds = ?, attempts_count = ?, mastery_level = ?,
			version = version + 1, updated_at = ?
		WHERE learner_id = ? AND item_id = ? AND version = ?`,
		item.PlanID, item.Category,
		item.Repetition, item.EaseFactor, item.IntervalDays, item.NextReviewDate, nullTime(item.LastReviewedAt),
		nullRating(item.LastRating), item.TimeSpentSeconds(), item.Attempts, item.MasteryLevel,
		item.UpdatedAt.UTC(),
		item.LearnerID, item.ItemID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 1 {
		return nil
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM review_items WHERE learner_id = ? AND item_id = ?",
		item.LearnerID, item.ItemID).Scan(&count); err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if count == 0 {
		return domain.ErrItemNotFound
	}
	return domain.ErrConflict
}

// ListLogs returns review logs newest first.
func (s *ReviewStore) ListLogs(ctx context.Context, learnerID, itemID string, limit int) ([]domain.ReviewLog, error) {
	query := `SELECT id, learner_id, item_id, category, rating, time_spent_seconds, reviewed_at, before_state, after_state
		FROM review_logs WHERE learner_id = ?`
	args := []any{learnerID}
	if itemID != "" {
		query += " AND item_id = ?"
		args = append(args, itemID)
	}
	query += " ORDER BY reviewed_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.ReviewLog{}
	for rows.Next() {
		var (
			log           domain.ReviewLog
			id            string
			rating        int
			spent         int64
			before, after string
		)
		if err := rows.Scan(&id, &log.LearnerID, &log.ItemID, &log.Category, &rating, &spent,
			&log.ReviewedAt, &before, &after); err != nil {
			return nil, fmt.Errorf("scan review log: %w", err)
		}
		if log.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse review log id: %w", err)
		}
		log.Rating = domain.Rating(rating)
		log.TimeSpent = time.Duration(spent) * time.Second
		if err := json.Unmarshal([]byte(before), &log.Before); err != nil {
			return nil, fmt.Errorf("unmarshal before_state: %w", err)
		}
		if err := json.Unmarshal([]byte(after), &log.After); err != nil {
			return nil, fmt.Errorf("unmarshal after_state: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ListWeakness returns stored scores, weakest first.
func (s *ReviewStore) ListWeakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT learner_id, category, score, attempts, failures, updated_at
		FROM weakness_scores WHERE learner_id = ? ORDER BY score DESC, category`, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list weakness: %w", err)
	}
	defer rows.Close()

	scores := []domain.WeaknessScore{}
	for rows.Next() {
		var ws domain.WeaknessScore
		if err := rows.Scan(&ws.LearnerID, &ws.Category, &ws.Score, &ws.Attempts, &ws.Failures, &ws.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan weakness: %w", err)
		}
		scores = append(scores, ws)
	}
	return scores, rows.Err()
}

// SaveWeakness replaces the learner's scores.
func (s *ReviewStore) SaveWeakness(ctx context.Context, learnerID string, scores []domain.WeaknessScore) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM weakness_scores WHERE learner_id = ?", learnerID); err != nil {
		return fmt.Errorf("clear weakness: %w", err)
	}
	for _, ws := range scores {
		updated := ws.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO weakness_scores
			(learner_id, category, score, attempts, failures, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(learner_id, category) DO UPDATE SET
				score=excluded.score,
				attempts=excluded.attempts,
				failures=excluded.failures,
				updated_at=excluded.updated_at`,
			learnerID, ws.Category, ws.Score, ws.Attempts, ws.Failures, updated.UTC())
		if err != nil {
			return fmt.Errorf("insert weakness %s: %w", ws.Category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit weakness: %w", err)
	}
	return nil
}

// Learners returns every learner with at least one item.
func (s *ReviewStore) Learners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT learner_id FROM review_items ORDER BY learner_id")
	if err != nil {
		return nil, fmt.Errorf("list learners: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan learner id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*domain.ReviewItem, error) {
	var (
		item     domain.ReviewItem
		reviewed sql.NullTime
		rating   sql.NullInt64
		spent    int64
	)

	err := row.Scan(
		&item.LearnerID, &item.ItemID, &item.PlanID, &item.Category,
		&item.Repetition, &item.EaseFactor, &item.IntervalDays, &item.NextReviewDate, &reviewed,
		&rating, &spent, &item.Attempts, &item.MasteryLevel,
		&item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}

	if reviewed.Valid {
		t := reviewed.Time
		item.LastReviewedAt = &t
	}
	if rating.Valid {
		r := domain.Rating(rating.Int64)
		item.LastRating = &r
	}
	item.TimeSpent = time.Duration(spent) * time.Second
	return &item, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullRating(r *domain.Rating) sql.NullInt64 {
	if r == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*r), Valid: true}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
