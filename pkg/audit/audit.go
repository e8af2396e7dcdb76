package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"callcoord-backend/internal/database"
	"callcoord-backend/internal/domain"
	"callcoord-backend/pkg/constants"
)

// EventType represents the type of audit event
type EventType string

const (
	// Session lifecycle events
	EventSessionCreated EventType = "session_created"
	EventSessionEnded   EventType = "session_ended"

	// Membership events
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"

	// Moderation events
	EventModeration EventType = "moderation_action"
	EventRoleChange EventType = "role_change"
	EventHostChange EventType = "host_change"
)

// Event represents an audit log entry
type Event struct {
	EventID   uuid.UUID  `json:"event_id"`
	SessionID uuid.UUID  `json:"session_id"`
	EventType EventType  `json:"event_type"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	TargetID  *uuid.UUID `json:"target_id,omitempty"`
	Action    string     `json:"action,omitempty"`
	Details   string     `json:"details,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Logger writes session audit events to Redis. Writes are best-effort: in
// degraded mode entries are dropped, never surfaced to the call path.
type Logger struct {
	redisClient *database.RedisClient
}

// NewLogger creates a new audit logger
func NewLogger(redisClient *database.RedisClient) *Logger {
	return &Logger{
		redisClient: redisClient,
	}
}

// Log logs an audit event
func (al *Logger) Log(ctx context.Context, event *Event) error {
	event.Timestamp = time.Now().UTC()

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	// One list per day, bounded by retention
	key := fmt.Sprintf("audit:sessions:%s", event.Timestamp.Format("2006-01-02"))

	err = al.redisClient.SafeLPush(ctx, key, eventJSON).Err()
	if err != nil {
		return fmt.Errorf("failed to store audit event: %w", err)
	}

	err = al.redisClient.SafeExpire(ctx, key, constants.AuditLogRetention).Err()
	if err != nil {
		return fmt.Errorf("failed to set audit log expiry: %w", err)
	}

	return nil
}

// LogSessionCreated logs a session creation
func (al *Logger) LogSessionCreated(ctx context.Context, sessionID, hostID uuid.UUID) error {
	return al.Log(ctx, &Event{
		SessionID: sessionID,
		EventType: EventSessionCreated,
		ActorID:   &hostID,
	})
}

// LogSessionEnded logs a session ending with its summary figures
func (al *Logger) LogSessionEnded(ctx context.Context, summary *domain.SessionSummary) {
	hostID := summary.HostID
	_ = al.Log(ctx, &Event{
		SessionID: summary.SessionID,
		EventType: EventSessionEnded,
		ActorID:   &hostID,
		Details: fmt.Sprintf("duration: %d seconds, peak participants: %d, total joins: %d",
			summary.DurationSeconds, summary.PeakParticipants, summary.TotalJoins),
	})
}

// LogModeration logs a moderation action against a participant
func (al *Logger) LogModeration(ctx context.Context, sessionID, actorID, targetID uuid.UUID, action domain.ModerationType) {
	eventType := EventModeration
	if action == domain.ModerationRoleChange {
		eventType = EventRoleChange
	}
	_ = al.Log(ctx, &Event{
		SessionID: sessionID,
		EventType: eventType,
		ActorID:   &actorID,
		TargetID:  &targetID,
		Action:    string(action),
	})
}

// LogParticipantJoined logs a participant joining a session
func (al *Logger) LogParticipantJoined(ctx context.Context, sessionID, userID uuid.UUID) error {
	return al.Log(ctx, &Event{
		SessionID: sessionID,
		EventType: EventParticipantJoined,
		ActorID:   &userID,
	})
}

// LogParticipantLeft logs a participant leaving a session
func (al *Logger) LogParticipantLeft(ctx context.Context, sessionID, userID uuid.UUID) error {
	return al.Log(ctx, &Event{
		SessionID: sessionID,
		EventType: EventParticipantLeft,
		ActorID:   &userID,
	})
}

// LogHostChange logs host succession
func (al *Logger) LogHostChange(ctx context.Context, sessionID, newHostID uuid.UUID) error {
	return al.Log(ctx, &Event{
		SessionID: sessionID,
		EventType: EventHostChange,
		TargetID:  &newHostID,
	})
}

// GetSessionEvents retrieves audit events for a session, newest first
func (al *Logger) GetSessionEvents(ctx context.Context, sessionID uuid.UUID, days, limit int) ([]*Event, error) {
	if days <= 0 {
		days = 1
	}

	now := time.Now().UTC()
	var events []*Event
	for i := 0; i < days && len(events) < limit; i++ {
		date := now.AddDate(0, 0, -i)
		key := fmt.Sprintf("audit:sessions:%s", date.Format("2006-01-02"))

		members, err := al.redisClient.SafeLRange(ctx, key, 0, int64(limit)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get audit events: %w", err)
		}

		for _, member := range members {
			var event Event
			if err := json.Unmarshal([]byte(member), &event); err != nil {
				continue
			}
			if event.SessionID == sessionID {
				events = append(events, &event)
			}
		}
	}

	return events, nil
}
