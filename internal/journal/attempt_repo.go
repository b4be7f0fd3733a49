package journal

import (
	"context"
	"database/sql"
	"fmt"

	"termlink/internal/events"
)

// AttemptRepo records settled payment attempts.
type AttemptRepo struct {
	db *sql.DB
}

func NewAttemptRepo(db *sql.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

func (r *AttemptRepo) Record(ctx context.Context, outcome events.PaymentOutcome) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempts(attempt_id, amount, currency, success, message, rrn, auth_code, started_at, settled_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(attempt_id) DO UPDATE SET
			success = excluded.success,
			message = excluded.message,
			rrn = excluded.rrn,
			auth_code = excluded.auth_code,
			settled_at = excluded.settled_at
	`, outcome.AttemptID, outcome.Amount, outcome.Currency, boolToInt(outcome.Success),
		outcome.Message, outcome.RRN, outcome.AuthCode,
		toUnixMillis(outcome.StartedAt), toUnixMillis(outcome.SettledAt))
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepo) ListRecent(ctx context.Context, limit int) ([]events.PaymentOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT attempt_id, amount, currency, success, message, rrn, auth_code, started_at, settled_at
		FROM attempts
		ORDER BY settled_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := make([]events.PaymentOutcome, 0)
	for rows.Next() {
		var (
			outcome   events.PaymentOutcome
			success   int
			startedMs int64
			settledMs int64
		)
		if err := rows.Scan(&outcome.AttemptID, &outcome.Amount, &outcome.Currency, &success,
			&outcome.Message, &outcome.RRN, &outcome.AuthCode, &startedMs, &settledMs); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		outcome.Success = success != 0
		outcome.StartedAt = fromUnixMillis(startedMs)
		outcome.SettledAt = fromUnixMillis(settledMs)
		out = append(out, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
