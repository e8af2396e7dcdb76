package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"callcoord-backend/internal/database"
	"callcoord-backend/internal/domain"
)

// sessionPresenceTTL bounds how long a session lingers in Redis if the
// coordinator dies without cleaning up. Live sessions refresh it on every
// membership change.
const sessionPresenceTTL = 24 * time.Hour

// summaryCacheTTL is how long a flushed summary stays cached
const summaryCacheTTL = 1 * time.Hour

// PresenceRepository mirrors live session membership into Redis so other
// services (and operators) can see who is in which call without touching
// the coordinator. All writes are best-effort.
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

// SetSessionActive marks a session as live
func (r *PresenceRepository) SetSessionActive(ctx context.Context, sessionID uuid.UUID) error {
	key := fmt.Sprintf("session:%s:participants", sessionID)

	err := r.client.SafeSAdd(ctx, "sessions:active", sessionID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to mark session active: %w", err)
	}

	err = r.client.SafeExpire(ctx, key, sessionPresenceTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to set session TTL: %w", err)
	}

	return nil
}

// SetSessionEnded removes a session and its membership set
func (r *PresenceRepository) SetSessionEnded(ctx context.Context, sessionID uuid.UUID) error {
	key := fmt.Sprintf("session:%s:participants", sessionID)

	err := r.client.SafeSRem(ctx, "sessions:active", sessionID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to remove session from active set: %w", err)
	}

	err = r.client.SafeDel(ctx, key).Err()
	if err != nil {
		return fmt.Errorf("failed to delete session participants: %w", err)
	}

	return nil
}

// AddParticipant records a user as present in a session
func (r *PresenceRepository) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID) error {
	key := fmt.Sprintf("session:%s:participants", sessionID)

	err := r.client.SafeSAdd(ctx, key, userID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to add participant presence: %w", err)
	}

	err = r.client.SafeExpire(ctx, key, sessionPresenceTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to refresh session TTL: %w", err)
	}

	return nil
}

// RemoveParticipant removes a user from a session's membership set
func (r *PresenceRepository) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) error {
	key := fmt.Sprintf("session:%s:participants", sessionID)

	err := r.client.SafeSRem(ctx, key, userID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to remove participant presence: %w", err)
	}

	return nil
}

// GetActiveSessionCount returns the number of live sessions
func (r *PresenceRepository) GetActiveSessionCount(ctx context.Context) (int64, error) {
	count, err := r.client.SafeSCard(ctx, "sessions:active").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

// CacheSummary caches a flushed session summary for fast reads
func (r *PresenceRepository) CacheSummary(ctx context.Context, summary *domain.SessionSummary) error {
	key := fmt.Sprintf("session:%s:summary", summary.SessionID)

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	err = r.client.SafeSet(ctx, key, data, summaryCacheTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to cache summary: %w", err)
	}

	return nil
}

// GetCachedSummary retrieves a cached session summary, or nil on a miss
func (r *PresenceRepository) GetCachedSummary(ctx context.Context, sessionID uuid.UUID) (*domain.SessionSummary, error) {
	key := fmt.Sprintf("session:%s:summary", sessionID)

	data, err := r.client.SafeGet(ctx, key).Result()
	if err != nil {
		return nil, nil // Cache miss or degraded mode; caller falls back
	}

	summary := &domain.SessionSummary{}
	if err := json.Unmarshal([]byte(data), summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached summary: %w", err)
	}

	return summary, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
