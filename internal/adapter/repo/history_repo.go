package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"censord/internal/domain"
)

// CompletionHistoryPG persists terminal job events for audit and debugging.
// It implements notify.Recorder; deployments without a database simply run
// the notification stage with a nil recorder.
type CompletionHistoryPG struct {
	pool *pgxpool.Pool
}

// NewCompletionHistory creates a history repository backed by PostgreSQL.
func NewCompletionHistory(pool *pgxpool.Pool) *CompletionHistoryPG {
	return &CompletionHistoryPG{pool: pool}
}

// Record inserts one completion event. Result bytes are omitted for failed
// jobs; the error message is empty for successes.
func (r *CompletionHistoryPG) Record(ctx context.Context, ev domain.CompletionEvent) error {
	query := `
INSERT INTO job_completions (job_id, succeeded, result_bytes, error_message, completed_at)
VALUES ($1, $2, $3, $4, $5);
`
	var resultBytes int
	if ev.ResultImage != nil {
		resultBytes = len(ev.ResultImage.InlineData)
	}
	_, err := r.pool.Exec(ctx, query,
		ev.ID,
		!ev.Failed(),
		resultBytes,
		ev.Err,
		ev.CompletedAt,
	)
	return err
}
