package session

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callcoord-backend/internal/analytics"
	"callcoord-backend/internal/coordinator"
	"callcoord-backend/internal/domain"
	"callcoord-backend/pkg/audit"
	"callcoord-backend/pkg/pagination"
	"callcoord-backend/pkg/response"
)

// SummaryLister reads persisted summaries for the history listing
type SummaryLister interface {
	ListRecent(ctx context.Context, limit, offset int) ([]*domain.SessionSummary, error)
	CountSummaries(ctx context.Context) (int64, error)
}

// Handler handles session HTTP requests
type Handler struct {
	registry   *coordinator.Registry
	aggregator *analytics.Aggregator
	trail      *audit.Logger
	summaries  SummaryLister
}

// NewHandler creates a new session handler. trail and summaries may be nil
// when audit queries or summary persistence are disabled.
func NewHandler(registry *coordinator.Registry, aggregator *analytics.Aggregator, trail *audit.Logger, summaries SummaryLister) *Handler {
	return &Handler{
		registry:   registry,
		aggregator: aggregator,
		trail:      trail,
		summaries:  summaries,
	}
}

// CreateSession starts a new call session with the caller as host
// POST /v1/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	hostID, ok := currentUserID(c)
	if !ok {
		return
	}

	actor, err := h.registry.CreateSession(hostID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"session_id": actor.ID(),
		"host_id":    hostID,
	})
}

// GetSession retrieves the current session snapshot
// GET /v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	actor, ok := h.lookupSession(c)
	if !ok {
		return
	}

	snapshot, err := actor.Snapshot()
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}

// ModerateRequest represents a moderation request
type ModerateRequest struct {
	TargetID string `json:"target_id" binding:"required,uuid"`
	Action   string `json:"action" binding:"required"`
}

// ModerateParticipant applies a moderation action to a participant
// POST /v1/sessions/:id/moderate
func (h *Handler) ModerateParticipant(c *gin.Context) {
	var req ModerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	action := domain.ModerationType(req.Action)
	if !action.Valid() {
		response.ValidationError(c, "Invalid moderation action")
		return
	}

	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		response.ValidationError(c, "Invalid target ID")
		return
	}

	actor, ok := h.lookupSession(c)
	if !ok {
		return
	}

	if err := actor.Moderate(actorID, targetID, action); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":   "Moderation applied",
		"target_id": targetID,
		"action":    action,
	})
}

// ChangeRoleRequest represents a role change request
type ChangeRoleRequest struct {
	TargetID string `json:"target_id" binding:"required,uuid"`
	Role     string `json:"role" binding:"required,oneof=MODERATOR PARTICIPANT"`
}

// ChangeRole promotes or demotes a participant
// POST /v1/sessions/:id/role
func (h *Handler) ChangeRole(c *gin.Context) {
	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		response.ValidationError(c, "Invalid target ID")
		return
	}

	actor, ok := h.lookupSession(c)
	if !ok {
		return
	}

	if err := actor.ChangeRole(actorID, targetID, domain.Role(req.Role)); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":   "Role changed",
		"target_id": targetID,
		"role":      req.Role,
	})
}

// LeaveSession removes the caller from the session
// POST /v1/sessions/:id/leave
func (h *Handler) LeaveSession(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	actor, ok := h.lookupSession(c)
	if !ok {
		return
	}

	if err := actor.Leave(userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Left session",
		"session_id": actor.ID(),
	})
}

// EndSession terminates the session for everyone
// POST /v1/sessions/:id/end
func (h *Handler) EndSession(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	actor, ok := h.lookupSession(c)
	if !ok {
		return
	}

	if err := actor.End(userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message":    "Session ended",
		"session_id": actor.ID(),
	})
}

// GetSummary retrieves the analytics summary for a session. Works for live
// sessions (running totals) and recently ended ones.
// GET /v1/sessions/:id/summary
func (h *Handler) GetSummary(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return
	}

	summary, err := h.aggregator.Summary(c.Request.Context(), sessionID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// ListSummaries retrieves recently ended sessions, newest first
// GET /v1/summaries?page=1&limit=20
func (h *Handler) ListSummaries(c *gin.Context) {
	if h.summaries == nil {
		response.NotFound(c, "Summary history not available")
		return
	}

	params, err := pagination.ParsePaginationParams(c.Query("page"), c.Query("limit"), "", "desc")
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	summaries, err := h.summaries.ListRecent(c.Request.Context(), params.Limit, params.Offset)
	if err != nil {
		response.InternalError(c, "Failed to list session summaries")
		return
	}
	total, err := h.summaries.CountSummaries(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Failed to count session summaries")
		return
	}

	response.Success(c, http.StatusOK, pagination.BuildPaginationResponse(params, total, summaries))
}

// GetModerationLog retrieves the in-session moderation history
// GET /v1/sessions/:id/moderation-log
func (h *Handler) GetModerationLog(c *gin.Context) {
	actor, ok := h.lookupSession(c)
	if !ok {
		return
	}

	log, err := actor.ModerationLog()
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id": actor.ID(),
		"actions":    log,
	})
}

// GetAuditTrail retrieves persisted audit events for a session
// GET /v1/sessions/:id/audit
func (h *Handler) GetAuditTrail(c *gin.Context) {
	if h.trail == nil {
		response.NotFound(c, "Audit trail not available")
		return
	}

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return
	}

	events, err := h.trail.GetSessionEvents(c.Request.Context(), sessionID, 7, 200)
	if err != nil {
		response.InternalError(c, "Failed to read audit trail")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id": sessionID,
		"events":     events,
	})
}

// lookupSession resolves the :id path parameter to a live session actor,
// writing the error response on failure
func (h *Handler) lookupSession(c *gin.Context) (*coordinator.Actor, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid session ID")
		return nil, false
	}

	actor, err := h.registry.Get(sessionID)
	if err != nil {
		response.FromError(c, err)
		return nil, false
	}

	return actor, true
}

// currentUserID extracts the authenticated user ID from the Gin context,
// writing the error response on failure
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}
