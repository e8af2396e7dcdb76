package coordinator

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcoord-backend/internal/analytics"
	"callcoord-backend/internal/domain"
	apperrors "callcoord-backend/pkg/errors"
	"callcoord-backend/pkg/metrics"
)

// Actor is the sole writer of one CallSession's state. All commands for the
// session funnel through its queue and are processed one at a time by the run
// goroutine; session state is never touched from anywhere else. Actors for
// different sessions run fully in parallel.
type Actor struct {
	id   uuid.UUID
	cfg  Config
	cmds chan command
	done chan struct{}

	// Owned exclusively by the run goroutine
	session *domain.CallSession
	seq     uint64
	epochs  map[uuid.UUID]uint64
	queues  map[uuid.UUID]*OutboundQueue
	audit   []domain.ModerationAction

	// conns is the read-only view the signaling relay uses; the run
	// goroutine is its only writer
	conns *connView

	sink    analytics.Sink
	metrics *metrics.Metrics
	log     *zap.Logger
	retire  func(uuid.UUID)
}

func newActor(id, hostID uuid.UUID, cfg Config, sink analytics.Sink, m *metrics.Metrics, log *zap.Logger, retire func(uuid.UUID)) *Actor {
	a := &Actor{
		id:      id,
		cfg:     cfg,
		cmds:    make(chan command, cfg.CommandQueueSize),
		done:    make(chan struct{}),
		session: domain.NewCallSession(id, hostID, cfg.SessionCapacity),
		epochs:  make(map[uuid.UUID]uint64),
		queues:  make(map[uuid.UUID]*OutboundQueue),
		conns:   newConnView(),
		sink:    sink,
		metrics: m,
		log:     log.With(zap.String("session_id", id.String())),
		retire:  retire,
	}
	a.conns.set(hostID, domain.ConnInvited, nil)
	go a.run()
	return a
}

// ID returns the session id
func (a *Actor) ID() uuid.UUID { return a.id }

// Ended reports whether the session has reached ENDED and stopped processing
func (a *Actor) Ended() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// run processes commands strictly in arrival order until the session ends.
// A command failure is terminal for that command only; the loop continues.
func (a *Actor) run() {
	for cmd := range a.cmds {
		a.dispatch(cmd)
		if a.session.Status == domain.SessionStatusEnded {
			return
		}
	}
}

func (a *Actor) dispatch(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			// An internal fault is fatal for this session only: end it
			// so still-connected clients get session_ended and clean up.
			a.log.Error("session actor panic", zap.Any("panic", r), zap.String("command", cmd.name()))
			a.endSession()
		}
	}()

	switch c := cmd.(type) {
	case joinCmd:
		snap, err := a.handleJoin(c)
		a.metrics.RecordCommand(c.name(), err)
		c.reply <- joinReply{snapshot: snap, err: err}
	case readyCmd:
		err := a.handleReady(c)
		a.metrics.RecordCommand(c.name(), err)
		c.reply <- err
	case leaveCmd:
		err := a.handleLeave(c.userID)
		a.metrics.RecordCommand(c.name(), err)
		c.reply <- err
	case disconnectCmd:
		err := a.handleDisconnect(c)
		a.metrics.RecordCommand(c.name(), err)
		c.reply <- err
	case disconnectTimeoutCmd:
		a.handleDisconnectTimeout(c)
	case moderateCmd:
		err := a.handleModerate(c)
		a.metrics.RecordCommand(c.name(), err)
		c.reply <- err
	case changeRoleCmd:
		err := a.handleChangeRole(c)
		a.metrics.RecordCommand(c.name(), err)
		c.reply <- err
	case endCmd:
		err := a.handleEnd(c)
		a.metrics.RecordCommand(c.name(), err)
		c.reply <- err
	case snapshotCmd:
		c.reply <- a.snapshot()
	case auditCmd:
		out := make([]domain.ModerationAction, len(a.audit))
		copy(out, a.audit)
		c.reply <- out
	}
}

// submit enqueues a command unless the actor already stopped
func (a *Actor) submit(cmd command) bool {
	select {
	case a.cmds <- cmd:
		return true
	case <-a.done:
		return false
	}
}

// awaitErr waits for a reply, falling back to SessionNotFound if the actor
// stops before answering
func (a *Actor) awaitErr(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-a.done:
		select {
		case err := <-reply:
			return err
		default:
			return apperrors.SessionNotFoundError()
		}
	}
}

// Join admits userID to the session, attaching queue as its delivery channel.
// On success the returned snapshot is the full-state view the client renders
// before applying deltas with a higher Seq.
func (a *Actor) Join(userID uuid.UUID, queue *OutboundQueue) (*domain.SessionSnapshot, error) {
	reply := make(chan joinReply, 1)
	if !a.submit(joinCmd{userID: userID, queue: queue, reply: reply}) {
		return nil, apperrors.SessionNotFoundError()
	}
	select {
	case r := <-reply:
		return r.snapshot, r.err
	case <-a.done:
		select {
		case r := <-reply:
			return r.snapshot, r.err
		default:
			return nil, apperrors.SessionNotFoundError()
		}
	}
}

// SignalingReady acknowledges that the participant's signaling channel is
// established, moving CONNECTING to CONNECTED
func (a *Actor) SignalingReady(userID uuid.UUID) error {
	reply := make(chan error, 1)
	if !a.submit(readyCmd{userID: userID, reply: reply}) {
		return apperrors.SessionNotFoundError()
	}
	return a.awaitErr(reply)
}

// Leave removes the participant; the host leaving triggers host succession
func (a *Actor) Leave(userID uuid.UUID) error {
	reply := make(chan error, 1)
	if !a.submit(leaveCmd{userID: userID, reply: reply}) {
		return apperrors.SessionNotFoundError()
	}
	return a.awaitErr(reply)
}

// Disconnect marks the participant DISCONNECTED and starts the reconnection
// grace timer
func (a *Actor) Disconnect(userID uuid.UUID) error {
	reply := make(chan error, 1)
	if !a.submit(disconnectCmd{userID: userID, reply: reply}) {
		return apperrors.SessionNotFoundError()
	}
	return a.awaitErr(reply)
}

// Moderate applies a moderation action from actorID to targetID
func (a *Actor) Moderate(actorID, targetID uuid.UUID, action domain.ModerationType) error {
	reply := make(chan error, 1)
	if !a.submit(moderateCmd{actorID: actorID, targetID: targetID, action: action, reply: reply}) {
		return apperrors.SessionNotFoundError()
	}
	return a.awaitErr(reply)
}

// ChangeRole promotes or demotes targetID; HOST only
func (a *Actor) ChangeRole(actorID, targetID uuid.UUID, role domain.Role) error {
	reply := make(chan error, 1)
	if !a.submit(changeRoleCmd{actorID: actorID, targetID: targetID, role: role, reply: reply}) {
		return apperrors.SessionNotFoundError()
	}
	return a.awaitErr(reply)
}

// End terminates the session; HOST only
func (a *Actor) End(actorID uuid.UUID) error {
	reply := make(chan error, 1)
	if !a.submit(endCmd{actorID: actorID, reply: reply}) {
		return apperrors.SessionNotFoundError()
	}
	return a.awaitErr(reply)
}

// EndBySystem terminates the session without a permission check; used on
// coordinator shutdown
func (a *Actor) EndBySystem() error {
	reply := make(chan error, 1)
	if !a.submit(endCmd{system: true, reply: reply}) {
		return nil
	}
	return a.awaitErr(reply)
}

// Snapshot returns the current full-state view
func (a *Actor) Snapshot() (*domain.SessionSnapshot, error) {
	reply := make(chan *domain.SessionSnapshot, 1)
	if !a.submit(snapshotCmd{reply: reply}) {
		return nil, apperrors.SessionNotFoundError()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-a.done:
		select {
		case snap := <-reply:
			return snap, nil
		default:
			return nil, apperrors.SessionNotFoundError()
		}
	}
}

// ModerationLog returns a copy of the session's moderation audit trail in
// commit order
func (a *Actor) ModerationLog() ([]domain.ModerationAction, error) {
	reply := make(chan []domain.ModerationAction, 1)
	if !a.submit(auditCmd{reply: reply}) {
		return nil, apperrors.SessionNotFoundError()
	}
	select {
	case log := <-reply:
		return log, nil
	case <-a.done:
		select {
		case log := <-reply:
			return log, nil
		default:
			return nil, apperrors.SessionNotFoundError()
		}
	}
}

// --- command handlers, run goroutine only ---

func (a *Actor) handleJoin(c joinCmd) (*domain.SessionSnapshot, error) {
	s := a.session
	now := time.Now().UTC()
	p, exists := s.Participants[c.userID]

	switch {
	case exists && p.State == domain.ConnKicked:
		// Kicked users are permanently excluded for this session's lifetime
		return nil, apperrors.BannedError()

	case exists && p.State == domain.ConnDisconnected:
		// Reconnect within the grace period: no duplicate entry, straight
		// back to CONNECTED, grace timer invalidated by the epoch bump.
		a.epochs[c.userID]++
		p.State = domain.ConnConnected
		a.attachQueue(c.userID, c.queue)
		a.conns.set(c.userID, p.State, a.queues[c.userID])
		a.broadcast(&domain.Event{Type: domain.EventParticipantReconnected, UserID: c.userID, Role: p.Role})
		a.emit(analytics.KindReconnect, c.userID, uuid.Nil, "")

	case exists && p.State == domain.ConnLeft:
		// Rejoin after a clean leave starts a fresh membership
		if s.ActiveCount() >= s.Capacity {
			return nil, apperrors.SessionFullError()
		}
		fresh := &domain.Participant{
			UserID:       c.userID,
			Role:         domain.RoleParticipant,
			State:        domain.ConnConnecting,
			AudioEnabled: true,
			VideoEnabled: true,
			JoinedAt:     now,
		}
		s.AddParticipant(fresh)
		a.attachQueue(c.userID, c.queue)
		a.conns.set(c.userID, fresh.State, a.queues[c.userID])

	case exists:
		// INVITED (pre-registered host), CONNECTING, or CONNECTED: attach
		// or replace the delivery channel and resync.
		if p.State == domain.ConnInvited {
			p.State = domain.ConnConnecting
			p.JoinedAt = now
		}
		a.attachQueue(c.userID, c.queue)
		a.conns.set(c.userID, p.State, a.queues[c.userID])

	default:
		if s.ActiveCount() >= s.Capacity {
			return nil, apperrors.SessionFullError()
		}
		p = &domain.Participant{
			UserID:       c.userID,
			Role:         domain.RoleParticipant,
			State:        domain.ConnConnecting,
			AudioEnabled: true,
			VideoEnabled: true,
			JoinedAt:     now,
		}
		s.AddParticipant(p)
		a.attachQueue(c.userID, c.queue)
		a.conns.set(c.userID, p.State, a.queues[c.userID])
	}

	return a.snapshot(), nil
}

func (a *Actor) handleReady(c readyCmd) error {
	p, ok := a.session.Participants[c.userID]
	if !ok {
		return apperrors.ParticipantNotConnectedError("user is not in the session")
	}
	switch p.State {
	case domain.ConnConnected:
		return nil
	case domain.ConnConnecting:
		p.State = domain.ConnConnected
		a.conns.set(c.userID, p.State, a.queues[c.userID])
		a.broadcast(&domain.Event{Type: domain.EventParticipantJoined, UserID: c.userID, Role: p.Role})
		a.emit(analytics.KindJoin, c.userID, uuid.Nil, "")
		return nil
	default:
		return apperrors.ParticipantNotConnectedError("signaling-ready requires a connecting participant")
	}
}

func (a *Actor) handleLeave(userID uuid.UUID) error {
	p, ok := a.session.Participants[userID]
	if !ok || p.State.Terminal() {
		return apperrors.ParticipantNotConnectedError("user is not in the session")
	}
	a.finalizeParticipant(p, domain.ConnLeft)
	a.broadcast(&domain.Event{Type: domain.EventParticipantLeft, UserID: userID})
	a.emit(analytics.KindLeave, userID, uuid.Nil, "")
	a.afterDeparture(p)
	return nil
}

func (a *Actor) handleDisconnect(c disconnectCmd) error {
	p, ok := a.session.Participants[c.userID]
	if !ok || p.State.Terminal() {
		return apperrors.ParticipantNotConnectedError("user is not in the session")
	}
	if p.State == domain.ConnDisconnected {
		return nil
	}
	p.State = domain.ConnDisconnected
	a.epochs[c.userID]++
	a.detachQueue(c.userID)
	a.conns.set(c.userID, p.State, nil)
	a.broadcast(&domain.Event{Type: domain.EventParticipantDisconnected, UserID: c.userID})
	a.emit(analytics.KindDisconnect, c.userID, uuid.Nil, "")

	// The grace timer re-enters the same queue as any other command, so it
	// can never race a concurrent moderation of the same user.
	epoch := a.epochs[c.userID]
	userID := c.userID
	time.AfterFunc(a.cfg.ReconnectGrace, func() {
		select {
		case a.cmds <- disconnectTimeoutCmd{userID: userID, epoch: epoch}:
		case <-a.done:
		}
	})
	return nil
}

func (a *Actor) handleDisconnectTimeout(c disconnectTimeoutCmd) {
	p, ok := a.session.Participants[c.userID]
	if !ok || p.State != domain.ConnDisconnected || a.epochs[c.userID] != c.epoch {
		// Reconnected (or otherwise finalized) before the timer fired
		return
	}
	a.log.Info("reconnect grace expired", zap.String("user_id", c.userID.String()))
	a.finalizeParticipant(p, domain.ConnLeft)
	a.broadcast(&domain.Event{Type: domain.EventParticipantLeft, UserID: c.userID})
	a.emit(analytics.KindLeave, c.userID, uuid.Nil, "")
	a.afterDeparture(p)
}

func (a *Actor) handleModerate(c moderateCmd) error {
	s := a.session
	actor, ok := s.Participants[c.actorID]
	if !ok || actor.State.Terminal() {
		return apperrors.ForbiddenError("actor is not in the session")
	}
	if !c.action.Valid() || c.action == domain.ModerationRoleChange {
		return apperrors.InvalidInputError("unknown moderation action")
	}
	target, ok := s.Participants[c.targetID]
	if !ok {
		return apperrors.ParticipantNotConnectedError("target is not in the session")
	}
	if target.State.Terminal() {
		// Two racing kicks commit exactly one KICK record; the loser is a
		// clean no-op rather than a double transition.
		if c.action == domain.ModerationKick && target.State == domain.ConnKicked {
			return nil
		}
		return apperrors.ParticipantNotConnectedError("target already left the session")
	}

	self := c.actorID == c.targetID
	if !Allowed(actor.Role, c.action, self, target.Role) {
		return apperrors.ForbiddenError("role does not permit this action")
	}

	switch c.action {
	case domain.ModerationMute:
		target.AudioEnabled = false
		a.broadcast(&domain.Event{Type: domain.EventAudioToggled, UserID: c.targetID, ActorID: c.actorID, Enabled: domain.BoolPtr(false)})
	case domain.ModerationUnmute:
		target.AudioEnabled = true
		a.broadcast(&domain.Event{Type: domain.EventAudioToggled, UserID: c.targetID, ActorID: c.actorID, Enabled: domain.BoolPtr(true)})
	case domain.ModerationVideoOff:
		target.VideoEnabled = false
		a.broadcast(&domain.Event{Type: domain.EventVideoToggled, UserID: c.targetID, ActorID: c.actorID, Enabled: domain.BoolPtr(false)})
	case domain.ModerationVideoOn:
		target.VideoEnabled = true
		a.broadcast(&domain.Event{Type: domain.EventVideoToggled, UserID: c.targetID, ActorID: c.actorID, Enabled: domain.BoolPtr(true)})
	case domain.ModerationKick:
		a.finalizeParticipant(target, domain.ConnKicked)
		a.broadcast(&domain.Event{Type: domain.EventParticipantKicked, UserID: c.targetID, ActorID: c.actorID})
	}

	a.record(c.action, c.actorID, c.targetID)
	a.emit(analytics.KindModeration, c.targetID, c.actorID, c.action)
	if c.action == domain.ModerationKick {
		a.afterDeparture(target)
	}
	return nil
}

func (a *Actor) handleChangeRole(c changeRoleCmd) error {
	s := a.session
	actor, ok := s.Participants[c.actorID]
	if !ok || actor.State.Terminal() {
		return apperrors.ForbiddenError("actor is not in the session")
	}
	if c.role != domain.RoleModerator && c.role != domain.RoleParticipant {
		// The HOST role moves only through succession
		return apperrors.ForbiddenError("cannot assign this role directly")
	}
	target, ok := s.Participants[c.targetID]
	if !ok || target.State.Terminal() {
		return apperrors.ParticipantNotConnectedError("target is not in the session")
	}
	self := c.actorID == c.targetID
	if !Allowed(actor.Role, domain.ModerationRoleChange, self, target.Role) {
		return apperrors.ForbiddenError("role does not permit this action")
	}

	target.Role = c.role
	a.record(domain.ModerationRoleChange, c.actorID, c.targetID)
	a.broadcast(&domain.Event{Type: domain.EventRoleChanged, UserID: c.targetID, ActorID: c.actorID, Role: c.role})
	a.emit(analytics.KindModeration, c.targetID, c.actorID, domain.ModerationRoleChange)
	return nil
}

func (a *Actor) handleEnd(c endCmd) error {
	if !c.system {
		actor, ok := a.session.Participants[c.actorID]
		if !ok || actor.State.Terminal() {
			return apperrors.ForbiddenError("actor is not in the session")
		}
		if !AllowedEndSession(actor.Role) {
			return apperrors.ForbiddenError("only the host may end the session")
		}
	}
	a.endSession()
	return nil
}

// --- internals, run goroutine only ---

// finalizeParticipant moves a participant to a terminal state. leftAt is set
// exactly once and never cleared.
func (a *Actor) finalizeParticipant(p *domain.Participant, state domain.ConnectionState) {
	p.State = state
	if p.LeftAt == nil {
		now := time.Now().UTC()
		p.LeftAt = &now
	}
	a.epochs[p.UserID]++
	a.detachQueue(p.UserID)
	a.conns.remove(p.UserID)
}

// afterDeparture runs host succession and the empty-session check after any
// participant reaches a terminal state
func (a *Actor) afterDeparture(p *domain.Participant) {
	if p.Role == domain.RoleHost {
		a.succeedHost()
	}
	if a.session.ActiveCount() == 0 {
		a.endSession()
	}
}

// succeedHost promotes the MODERATOR with the earliest joinedAt, or if none
// exists the PARTICIPANT with the earliest joinedAt. With no candidates the
// empty-session check in afterDeparture ends the session.
func (a *Actor) succeedHost() {
	var moderator, participant *domain.Participant
	for _, p := range a.session.ParticipantsInOrder() {
		if !p.State.Active() || p.Role == domain.RoleHost {
			continue
		}
		switch p.Role {
		case domain.RoleModerator:
			if moderator == nil || p.JoinedAt.Before(moderator.JoinedAt) {
				moderator = p
			}
		case domain.RoleParticipant:
			if participant == nil || p.JoinedAt.Before(participant.JoinedAt) {
				participant = p
			}
		}
	}
	successor := moderator
	if successor == nil {
		successor = participant
	}
	if successor == nil {
		return
	}
	successor.Role = domain.RoleHost
	a.session.HostID = successor.UserID
	a.log.Info("host succession", zap.String("new_host", successor.UserID.String()))
	a.broadcast(&domain.Event{Type: domain.EventHostChanged, UserID: successor.UserID})
	a.emit(analytics.KindHostChange, successor.UserID, uuid.Nil, "")
}

// endSession finalizes every remaining participant, broadcasts session_ended,
// and stops the actor. Idempotent.
func (a *Actor) endSession() {
	s := a.session
	if s.Status == domain.SessionStatusEnded {
		return
	}
	now := time.Now().UTC()
	s.Status = domain.SessionStatusEnded
	s.EndedAt = &now
	for _, p := range s.Participants {
		if p.State.Active() {
			p.State = domain.ConnLeft
			if p.LeftAt == nil {
				t := now
				p.LeftAt = &t
			}
		}
	}
	a.broadcast(&domain.Event{Type: domain.EventSessionEnded})
	a.emit(analytics.KindSessionEnded, uuid.Nil, uuid.Nil, "")

	for id := range a.queues {
		a.detachQueue(id)
	}
	a.conns.clear()
	close(a.done)
	if a.retire != nil {
		a.retire(a.id)
	}
	a.log.Info("session ended")
}

func (a *Actor) attachQueue(userID uuid.UUID, q *OutboundQueue) {
	if q == nil {
		return
	}
	if old, ok := a.queues[userID]; ok && old != q {
		old.Close()
	}
	a.queues[userID] = q
}

func (a *Actor) detachQueue(userID uuid.UUID) {
	if q, ok := a.queues[userID]; ok {
		q.Close()
		delete(a.queues, userID)
	}
}

// broadcast commits a state delta: assigns the next sequence number and
// pushes it onto every attached delivery queue. Commit order is broadcast
// order, so all participants observe the same sequence.
func (a *Actor) broadcast(ev *domain.Event) {
	a.seq++
	ev.Seq = a.seq
	ev.SessionID = a.id
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	for userID, q := range a.queues {
		if evicted := q.Push(ev); evicted != nil && evicted.Type == domain.EventSignal {
			a.notifyBacklogDrop(evicted.SenderID, userID)
		}
	}
	a.metrics.RecordBroadcast(string(ev.Type))
}

// notifyBacklogDrop tells a signaling sender that its oldest queued message
// to a slow consumer was dropped, so it can renegotiate
func (a *Actor) notifyBacklogDrop(senderID, slowUserID uuid.UUID) {
	q, ok := a.queues[senderID]
	if !ok {
		return
	}
	q.Push(&domain.Event{
		Type:      domain.EventSignalBacklogDropped,
		SessionID: a.id,
		UserID:    slowUserID,
		Timestamp: time.Now().UTC(),
	})
	a.metrics.RecordSignalDropped()
}

func (a *Actor) record(action domain.ModerationType, actorID, targetID uuid.UUID) {
	a.audit = append(a.audit, domain.ModerationAction{
		Type:      action,
		ActorID:   actorID,
		TargetID:  targetID,
		Timestamp: time.Now().UTC(),
	})
}

func (a *Actor) emit(kind analytics.Kind, userID, actorID uuid.UUID, action domain.ModerationType) {
	if a.sink == nil {
		return
	}
	a.sink.Record(analytics.Event{
		Kind:               kind,
		SessionID:          a.id,
		HostID:             a.session.HostID,
		UserID:             userID,
		ActorID:            actorID,
		Action:             action,
		ActiveParticipants: a.session.ActiveCount(),
		Timestamp:          time.Now().UTC(),
	})
}

// snapshot builds a detached copy of the session state safe to hand to other
// goroutines
func (a *Actor) snapshot() *domain.SessionSnapshot {
	s := a.session
	participants := make([]*domain.Participant, 0, len(s.Order))
	for _, p := range s.ParticipantsInOrder() {
		cp := *p
		if p.LeftAt != nil {
			t := *p.LeftAt
			cp.LeftAt = &t
		}
		participants = append(participants, &cp)
	}
	return &domain.SessionSnapshot{
		SessionID:    s.ID,
		HostID:       s.HostID,
		Status:       s.Status,
		Capacity:     s.Capacity,
		CreatedAt:    s.CreatedAt,
		Seq:          a.seq,
		Participants: participants,
	}
}
