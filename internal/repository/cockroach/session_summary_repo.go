package cockroach

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callcoord-backend/internal/domain"
	apperrors "callcoord-backend/pkg/errors"
)

// SessionSummaryRepository persists finished session summaries
type SessionSummaryRepository struct {
	pool *pgxpool.Pool
}

// NewSessionSummaryRepository creates a new session summary repository
func NewSessionSummaryRepository(pool *pgxpool.Pool) *SessionSummaryRepository {
	return &SessionSummaryRepository{pool: pool}
}

// SaveSummary upserts a session summary. The flush path may retry, so the
// write is idempotent on session_id.
func (r *SessionSummaryRepository) SaveSummary(ctx context.Context, summary *domain.SessionSummary) error {
	counts, err := json.Marshal(summary.ModerationCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal moderation counts: %w", err)
	}

	query := `
		INSERT INTO session_summaries (
			session_id, host_id, created_at, ended_at,
			duration_seconds, peak_participants, total_joins, moderation_counts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			duration_seconds = EXCLUDED.duration_seconds,
			peak_participants = EXCLUDED.peak_participants,
			total_joins = EXCLUDED.total_joins,
			moderation_counts = EXCLUDED.moderation_counts
	`

	_, err = r.pool.Exec(ctx, query,
		summary.SessionID,
		summary.HostID,
		summary.CreatedAt,
		summary.EndedAt,
		summary.DurationSeconds,
		summary.PeakParticipants,
		summary.TotalJoins,
		counts,
	)

	if err != nil {
		return fmt.Errorf("failed to save session summary: %w", err)
	}

	return nil
}

// GetSummary retrieves a session summary by session ID
func (r *SessionSummaryRepository) GetSummary(ctx context.Context, sessionID uuid.UUID) (*domain.SessionSummary, error) {
	query := `
		SELECT session_id, host_id, created_at, ended_at,
		       duration_seconds, peak_participants, total_joins, moderation_counts
		FROM session_summaries
		WHERE session_id = $1
	`

	summary := &domain.SessionSummary{}
	var counts []byte
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&summary.SessionID,
		&summary.HostID,
		&summary.CreatedAt,
		&summary.EndedAt,
		&summary.DurationSeconds,
		&summary.PeakParticipants,
		&summary.TotalJoins,
		&counts,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.SessionNotFoundError()
		}
		return nil, fmt.Errorf("failed to get session summary: %w", err)
	}

	summary.ModerationCounts = make(map[domain.ModerationType]int)
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &summary.ModerationCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal moderation counts: %w", err)
		}
	}

	return summary, nil
}

// CountSummaries returns the total number of persisted summaries
func (r *SessionSummaryRepository) CountSummaries(ctx context.Context) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM session_summaries`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count session summaries: %w", err)
	}
	return total, nil
}

// ListRecent retrieves the most recently ended sessions
func (r *SessionSummaryRepository) ListRecent(ctx context.Context, limit, offset int) ([]*domain.SessionSummary, error) {
	query := `
		SELECT session_id, host_id, created_at, ended_at,
		       duration_seconds, peak_participants, total_joins, moderation_counts
		FROM session_summaries
		ORDER BY ended_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list session summaries: %w", err)
	}
	defer rows.Close()

	var summaries []*domain.SessionSummary
	for rows.Next() {
		summary := &domain.SessionSummary{}
		var counts []byte
		err := rows.Scan(
			&summary.SessionID,
			&summary.HostID,
			&summary.CreatedAt,
			&summary.EndedAt,
			&summary.DurationSeconds,
			&summary.PeakParticipants,
			&summary.TotalJoins,
			&counts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session summary: %w", err)
		}
		summary.ModerationCounts = make(map[domain.ModerationType]int)
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &summary.ModerationCounts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal moderation counts: %w", err)
			}
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}
