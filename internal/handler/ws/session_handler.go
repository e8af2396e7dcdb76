package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callcoord-backend/internal/coordinator"
	"callcoord-backend/internal/domain"
	"callcoord-backend/pkg/constants"
	"callcoord-backend/pkg/env"
	apperrors "callcoord-backend/pkg/errors"
	"callcoord-backend/pkg/logger"
	"callcoord-backend/pkg/metrics"
)

// Client message types
const (
	MessageTypeReady      = "ready"
	MessageTypeLeave      = "leave"
	MessageTypeEnd        = "end"
	MessageTypeModerate   = "moderate"
	MessageTypeChangeRole = "change_role"
	MessageTypeSignal     = "signal"
)

// ClientMessage is an inbound frame from a session participant
type ClientMessage struct {
	Type     string    `json:"type"`
	TargetID uuid.UUID `json:"target_id,omitempty"`
	Action   string    `json:"action,omitempty"`
	Role     string    `json:"role,omitempty"`
	// Payload is the opaque signaling blob for signal frames
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var sessionUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}
		return GetAllowedOrigins()[origin]
	},
}

// GetAllowedOrigins returns allowed WebSocket origins from environment or defaults
func GetAllowedOrigins() map[string]bool {
	allowed := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}
	if origins := env.GetString("WS_ALLOWED_ORIGINS", ""); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
	}
	return allowed
}

// SessionHandler serves the per-participant session WebSocket: it joins the
// participant, streams committed state deltas and relayed signals out, and
// feeds participant commands into the session actor.
type SessionHandler struct {
	registry *coordinator.Registry
	cfg      coordinator.Config
	metrics  *metrics.Metrics

	// semaphore bounds concurrent connections across all sessions
	semaphore      chan struct{}
	maxConnections int
}

// NewSessionHandler creates a session WebSocket handler
func NewSessionHandler(registry *coordinator.Registry, cfg coordinator.Config, m *metrics.Metrics) *SessionHandler {
	maxConns := env.GetInt("WS_MAX_CONNECTIONS", 1000)
	return &SessionHandler{
		registry:       registry,
		cfg:            cfg,
		metrics:        m,
		semaphore:      make(chan struct{}, maxConns),
		maxConnections: maxConns,
	}
}

// sessionClient is one participant's live connection
type sessionClient struct {
	handler *SessionHandler
	conn    *websocket.Conn
	queue   *coordinator.OutboundQueue
	actor   *coordinator.Actor
	userID  uuid.UUID
}

// ServeWS handles a session WebSocket request
// GET /v1/sessions/:id/ws
func (h *SessionHandler) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	defer func() { <-h.semaphore }()

	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	actor, err := h.registry.Get(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := sessionUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	queue := coordinator.NewOutboundQueue(h.cfg.OutboundQueueSize)
	snapshot, err := actor.Join(userID, queue)
	if err != nil {
		// Admission failed: deliver the rejection on the socket, then close.
		appErr := apperrors.GetAppError(err)
		writeErrorFrame(conn, sessionID, appErr)
		conn.Close()
		return
	}

	h.metrics.IncrementWebSocketConnections()
	defer h.metrics.DecrementWebSocketConnections()

	client := &sessionClient{
		handler: h,
		conn:    conn,
		queue:   queue,
		actor:   actor,
		userID:  userID,
	}

	// The snapshot goes out before the write pump starts, so it is always
	// the first frame; deltas with Seq <= snapshot.Seq are stale.
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(&domain.Event{
		Type:      domain.EventSnapshot,
		SessionID: sessionID,
		Seq:       snapshot.Seq,
		Timestamp: time.Now().UTC(),
		Snapshot:  snapshot,
	}); err != nil {
		if !queue.Closed() {
			_ = actor.Disconnect(userID)
		}
		conn.Close()
		return
	}
	h.metrics.RecordWebSocketMessage(string(domain.EventSnapshot), "outbound")

	go client.writePump()
	client.readPump()
}

// readPump reads participant frames until the connection drops or the
// participant leaves
func (c *sessionClient) readPump() {
	defer c.conn.Close()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("session_id", c.actor.ID().String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			c.teardown()
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("session_id", c.actor.ID().String()),
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			continue
		}
		c.handler.metrics.RecordWebSocketMessage(msg.Type, "inbound")

		if done := c.handleMessage(&msg); done {
			return
		}
	}
}

// teardown handles the transport dropping out from under a live connection.
// A dropped transport is a disconnect, not a leave: the participant keeps its
// slot for the reconnection grace period. A closed queue means the actor has
// already detached this connection (a replacement socket took over, or the
// participant was finalized); disconnecting then would tear down the
// successor's attachment instead.
func (c *sessionClient) teardown() {
	if c.queue.Closed() {
		return
	}
	_ = c.actor.Disconnect(c.userID)
}

// handleMessage dispatches one inbound frame. It returns true when the
// connection should close.
func (c *sessionClient) handleMessage(msg *ClientMessage) bool {
	switch msg.Type {
	case MessageTypeReady:
		if err := c.actor.SignalingReady(c.userID); err != nil {
			c.sendError(err)
		}

	case MessageTypeLeave:
		_ = c.actor.Leave(c.userID)
		return true

	case MessageTypeEnd:
		if err := c.actor.End(c.userID); err != nil {
			c.sendError(err)
		}

	case MessageTypeModerate:
		action := domain.ModerationType(msg.Action)
		if !action.Valid() {
			c.sendError(apperrors.InvalidInputError("unknown moderation action"))
			return false
		}
		if err := c.actor.Moderate(c.userID, msg.TargetID, action); err != nil {
			c.sendError(err)
		}

	case MessageTypeChangeRole:
		if err := c.actor.ChangeRole(c.userID, msg.TargetID, domain.Role(msg.Role)); err != nil {
			c.sendError(err)
		}

	case MessageTypeSignal:
		if err := c.actor.Relay(c.userID, msg.TargetID, msg.Payload); err != nil {
			c.sendError(err)
		}

	default:
		c.sendError(apperrors.InvalidInputError("unknown message type"))
	}
	return false
}

// sendError delivers a rejection to this participant through its own queue so
// it interleaves cleanly with broadcasts
func (c *sessionClient) sendError(err error) {
	appErr := apperrors.GetAppError(err)
	payload, _ := json.Marshal(errorDetail{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
	c.queue.Push(&domain.Event{
		Type:      domain.EventError,
		SessionID: c.actor.ID(),
		UserID:    c.userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}

// writePump drains the participant's delivery queue onto the socket and keeps
// the connection alive with pings. It exits when the queue closes, which is
// how the actor detaches a finalized participant.
func (c *sessionClient) writePump() {
	// Ping slightly inside the read deadline so a healthy peer always gets a
	// pong in before the deadline lapses
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.queue.C():
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
			c.handler.metrics.RecordWebSocketMessage(string(ev.Type), "outbound")

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeErrorFrame sends a single error event on a socket that never joined
func writeErrorFrame(conn *websocket.Conn, sessionID uuid.UUID, appErr *apperrors.AppError) {
	payload, _ := json.Marshal(errorDetail{
		Code:    string(appErr.Code),
		Message: appErr.Message,
	})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(&domain.Event{
		Type:      domain.EventError,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}
