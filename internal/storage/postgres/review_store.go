package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/drill/internal/domain"
)

const uniqueViolation = "23505"

// ReviewStore implements review persistence backed by PostgreSQL.
type ReviewStore struct {
	db *DB
}

// NewReviewStore creates a new PostgreSQL-backed review store.
func NewReviewStore(db *DB) *ReviewStore {
	return &ReviewStore{db: db}
}

const itemColumns = `learner_id, item_id, plan_id, category,
	repetition_number, ease_factor, interval_days, next_review_date, last_reviewed_at,
	performance_rating, time_spent_seconds, attempts_count, mastery_level,
	version, created_at, updated_at`

func (s *ReviewStore) GetItem(ctx context.Context, learnerID, itemID string) (*domain.ReviewItem, error) {
	row := s.db.QueryRow(ctx, `SELECT `+itemColumns+`
		FROM review_items WHERE learner_id = $1 AND item_id = $2`, learnerID, itemID)
	return scanItem(row)
}

func (s *ReviewStore) ListItems(ctx context.Context, learnerID string) ([]domain.ReviewItem, error) {
	rows, err := s.db.Query(ctx, `SELECT `+itemColumns+`
		FROM review_items WHERE learner_id = $1 ORDER BY item_id, plan_id`, learnerID)
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

func (s *ReviewStore) CreateItem(ctx context.Context, item *domain.ReviewItem) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}

	_, err := s.db.Exec(ctx, `INSERT INTO review_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)`,
		item.LearnerID, item.ItemID, item.PlanID, item.Category,
		item.Repetition, item.EaseFactor, item.IntervalDays, item.NextReviewDate.Time(), item.LastReviewedAt,
		ratingParam(item.LastRating), item.TimeSpentSeconds(), item.Attempts, item.MasteryLevel,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
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
	before, err := jsonParam(log.Before)
	if err != nil {
		return fmt.Errorf("marshal before_state: %w", err)
	}
	after, err := jsonParam(log.After)
	if err != nil {
		return fmt.Errorf("marshal after_state: %w", err)
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM review_logs WHERE id = $1)`, log.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check review log: %w", err)
		}
		if exists {
			return domain.ErrDuplicateReview
		}

		if err := updateItem(ctx, tx, item, expectedVersion); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO review_logs
			(id, learner_id, item_id, category, rating, time_spent_seconds, reviewed_at, before_state, after_state)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			log.ID, log.LearnerID, log.ItemID, log.Category, int16(log.Rating),
			int64(log.TimeSpent/time.Second), log.ReviewedAt, before, after,
		)
		if err != nil {
			return fmt.Errorf("insert review log: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	item.Version = expectedVersion + 1
	return nil
}

// UpdateItem stores the item without appending a log.
func (s *ReviewStore) UpdateItem(ctx context.Context, item *domain.ReviewItem, expectedVersion int64) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return updateItem(ctx, tx, item, expectedVersion)
	})
	if err != nil {
		return err
	}
	item.Version = expectedVersion + 1
	return nil
}

func updateItem(ctx context.Context, tx pgx.Tx, item *domain.ReviewItem, expectedVersion int64) error {
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now()
	}

	tag, err := tx.Exec(ctx, `UPDATE review_items SET
			plan_id = $1, category = $2,
			repetition_number = $3, ease_factor = $4, interval_days = $5, next_review_date = $6, last_reviewed_at = $7,
			performance_rating = $8, time_spent_seconds = $9, attempts_count = $10, mastery_level = $11,
			version = version + 1, updated_at = $12
		WHERE learner_id = $13 AND item_id = $14 AND version = $15`,
		item.PlanID, item.Category,
		item.Repetition, item.EaseFactor, item.IntervalDays, item.NextReviewDate.Time(), item.LastReviewedAt,
		ratingParam(item.LastRating), item.TimeSpentSeconds(), item.Attempts, item.MasteryLevel,
		item.UpdatedAt,
		item.LearnerID, item.ItemID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM review_items WHERE learner_id = $1 AND item_id = $2)",
		item.LearnerID, item.ItemID).Scan(&exists); err != nil {
		return fmt.Errorf("check item: %w", err)
	}
	if !exists {
		return domain.ErrItemNotFound
	}
	return domain.ErrConflict
}

// ListLogs returns review logs newest first.
func (s *ReviewStore) ListLogs(ctx context.Context, learnerID, itemID string, limit int) ([]domain.ReviewLog, error) {
	query := `SELECT id, learner_id, item_id, category, rating, time_spent_seconds, reviewed_at, before_state, after_state
		FROM review_logs WHERE learner_id = $1`
	args := []any{learnerID}
	if itemID != "" {
		args = append(args, itemID)
		query += fmt.Sprintf(" AND item_id = $%d", len(args))
	}
	query += " ORDER BY reviewed_at DESC, seq DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.ReviewLog{}
	for rows.Next() {
		var (
			log           domain.ReviewLog
			rating        int16
			spent         int64
			before, after []byte
		)
		if err := rows.Scan(&log.ID, &log.LearnerID, &log.ItemID, &log.Category, &rating, &spent,
			&log.ReviewedAt, &before, &after); err != nil {
			return nil, fmt.Errorf("scan review log: %w", err)
		}
		log.Rating = domain.Rating(rating)
		log.TimeSpent = time.Duration(spent) * time.Second
		if err := decodeJSON(before, &log.Before); err != nil {
			return nil, fmt.Errorf("decode before_state: %w", err)
		}
		if err := decodeJSON(after, &log.After); err != nil {
			return nil, fmt.Errorf("decode after_state: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ListWeakness returns stored scores, weakest first.
func (s *ReviewStore) ListWeakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error) {
	rows, err := s.db.Query(ctx, `SELECT learner_id, category, score, attempts, failures, updated_at
		FROM weakness_scores WHERE learner_id = $1 ORDER BY score DESC, category`, learnerID)
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
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM weakness_scores WHERE learner_id = $1", learnerID); err != nil {
			return fmt.Errorf("clear weakness: %w", err)
		}

		batch := &pgx.Batch{}
		for _, ws := range scores {
			updated := ws.UpdatedAt
			if updated.IsZero() {
				updated = time.Now()
			}
			batch.Queue(`INSERT INTO weakness_scores (learner_id, category, score, attempts, failures, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (learner_id, category) DO UPDATE SET
					score = EXCLUDED.score,
					attempts = EXCLUDED.attempts,
					failures = EXCLUDED.failures,
					updated_at = EXCLUDED.updated_at`,
				learnerID, ws.Category, ws.Score, ws.Attempts, ws.Failures, updated)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert weakness: %w", err)
		}
		return nil
	})
}

// Learners returns every learner with at least one item.
func (s *ReviewStore) Learners(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, "SELECT DISTINCT learner_id FROM review_items ORDER BY learner_id")
	if err != nil {
		return nil, fmt.Errorf("list learners: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanItem(row pgx.Row) (*domain.ReviewItem, error) {
	var (
		item     domain.ReviewItem
		next     time.Time
		reviewed *time.Time
		rating   *int16
		spent    int64
	)

	err := row.Scan(
		&item.LearnerID, &item.ItemID, &item.PlanID, &item.Category,
		&item.Repetition, &item.EaseFactor, &item.IntervalDays, &next, &reviewed,
		&rating, &spent, &item.Attempts, &item.MasteryLevel,
		&item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}

	item.NextReviewDate = domain.DateOf(next)
	item.LastReviewedAt = reviewed
	if rating != nil {
		r := domain.Rating(*rating)
		item.LastRating = &r
	}
	item.TimeSpent = time.Duration(spent) * time.Second
	return &item, nil
}

func ratingParam(r *domain.Rating) *int16 {
	if r == nil {
		return nil
	}
	v := int16(*r)
	return &v
}

// jsonParam encodes v for a JSONB column.
func jsonParam(v any) (pqtype.NullRawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}, err
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}

func decodeJSON(data []byte, v any) error {
	raw := pqtype.NullRawMessage{RawMessage: data, Valid: data != nil}
	if !raw.Valid {
		return nil
	}
	return json.Unmarshal(raw.RawMessage, v)
}
