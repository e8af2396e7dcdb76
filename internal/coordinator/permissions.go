package coordinator

import (
	"callcoord-backend/internal/domain"
)

// Allowed is the pure decision function for moderation permissions:
// (actor role, action, self-targeted, target role) -> allow/deny.
//
// Capability matrix:
//
//	action              HOST  MODERATOR  PARTICIPANT
//	mute/unmute other   yes   yes        no (self only)
//	toggle video other  yes   yes        no (self only)
//	kick                yes   yes*       no        (* never the HOST)
//	change role         yes   no         no
//
// Self-targeted mute/video toggles are always permitted regardless of role.
// Demoting the current HOST is never a valid direct action; the HOST role
// moves only through host succession.
func Allowed(actor domain.Role, action domain.ModerationType, self bool, target domain.Role) bool {
	switch action {
	case domain.ModerationMute, domain.ModerationUnmute,
		domain.ModerationVideoOff, domain.ModerationVideoOn:
		if self {
			return true
		}
		return actor == domain.RoleHost || actor == domain.RoleModerator

	case domain.ModerationKick:
		if self {
			return false
		}
		switch actor {
		case domain.RoleHost:
			return true
		case domain.RoleModerator:
			return target != domain.RoleHost
		}
		return false

	case domain.ModerationRoleChange:
		// Only the HOST promotes or demotes, never itself and never the
		// sitting HOST.
		return actor == domain.RoleHost && !self && target != domain.RoleHost
	}

	return false
}

// AllowedEndSession reports whether the actor role may end the whole session
func AllowedEndSession(actor domain.Role) bool {
	return actor == domain.RoleHost
}
