package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"callcoord-backend/internal/domain"
)

func TestAllowed_SelfToggles(t *testing.T) {
	// Every role may toggle its own audio and video
	for _, role := range []domain.Role{domain.RoleHost, domain.RoleModerator, domain.RoleParticipant} {
		for _, action := range []domain.ModerationType{
			domain.ModerationMute, domain.ModerationUnmute,
			domain.ModerationVideoOff, domain.ModerationVideoOn,
		} {
			assert.True(t, Allowed(role, action, true, role),
				"%s should be able to %s itself", role, action)
		}
	}
}

func TestAllowed_SelfKickDenied(t *testing.T) {
	for _, role := range []domain.Role{domain.RoleHost, domain.RoleModerator, domain.RoleParticipant} {
		assert.False(t, Allowed(role, domain.ModerationKick, true, role))
	}
}

func TestAllowed_HostModeratesEveryone(t *testing.T) {
	for _, target := range []domain.Role{domain.RoleModerator, domain.RoleParticipant} {
		for _, action := range []domain.ModerationType{
			domain.ModerationMute, domain.ModerationUnmute,
			domain.ModerationVideoOff, domain.ModerationVideoOn,
			domain.ModerationKick,
		} {
			assert.True(t, Allowed(domain.RoleHost, action, false, target),
				"host should be able to %s a %s", action, target)
		}
	}
}

func TestAllowed_ModeratorPowers(t *testing.T) {
	// Moderators may mute and toggle video for anyone
	for _, target := range []domain.Role{domain.RoleHost, domain.RoleModerator, domain.RoleParticipant} {
		assert.True(t, Allowed(domain.RoleModerator, domain.ModerationMute, false, target))
		assert.True(t, Allowed(domain.RoleModerator, domain.ModerationVideoOff, false, target))
	}

	// Moderators may kick participants and moderators, never the host
	assert.True(t, Allowed(domain.RoleModerator, domain.ModerationKick, false, domain.RoleParticipant))
	assert.True(t, Allowed(domain.RoleModerator, domain.ModerationKick, false, domain.RoleModerator))
	assert.False(t, Allowed(domain.RoleModerator, domain.ModerationKick, false, domain.RoleHost))
}

func TestAllowed_ParticipantHasNoPowerOverOthers(t *testing.T) {
	for _, target := range []domain.Role{domain.RoleHost, domain.RoleModerator, domain.RoleParticipant} {
		for _, action := range []domain.ModerationType{
			domain.ModerationMute, domain.ModerationUnmute,
			domain.ModerationVideoOff, domain.ModerationVideoOn,
			domain.ModerationKick, domain.ModerationRoleChange,
		} {
			assert.False(t, Allowed(domain.RoleParticipant, action, false, target),
				"participant should not be able to %s a %s", action, target)
		}
	}
}

func TestAllowed_RoleChange(t *testing.T) {
	// Only the host assigns roles, never to itself
	assert.True(t, Allowed(domain.RoleHost, domain.ModerationRoleChange, false, domain.RoleParticipant))
	assert.True(t, Allowed(domain.RoleHost, domain.ModerationRoleChange, false, domain.RoleModerator))
	assert.False(t, Allowed(domain.RoleHost, domain.ModerationRoleChange, true, domain.RoleHost))
	assert.False(t, Allowed(domain.RoleModerator, domain.ModerationRoleChange, false, domain.RoleParticipant))
}

func TestAllowedEndSession(t *testing.T) {
	assert.True(t, AllowedEndSession(domain.RoleHost))
	assert.False(t, AllowedEndSession(domain.RoleModerator))
	assert.False(t, AllowedEndSession(domain.RoleParticipant))
}
