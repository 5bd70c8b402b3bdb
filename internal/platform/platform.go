// Package platform abstracts the chat-platform gateway the forms engine
// depends on: guild, member and role lookups, bans, invites, role grants
// and message posting. A production deployment wires the bot gateway's
// client behind this interface; the in-memory implementation backs tests
// and standalone runs.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a guild, member, role or channel could not be resolved.
	ErrNotFound = errors.New("platform: not found")
	// ErrPermissionDenied indicates the acting bot lacks permission for a mutation.
	ErrPermissionDenied = errors.New("platform: permission denied")
)

// PermissionManageRoles is the guild-wide capability required for role mutations.
const PermissionManageRoles uint64 = 1 << 28

// Guild describes a resolved guild.
type Guild struct {
	ID   int64
	Name string
}

// Member describes a resolved guild member.
type Member struct {
	UserID           int64
	Username         string
	RoleIDs          []int64
	JoinedAt         *time.Time
	AccountCreatedAt time.Time
	BoostingSince    *time.Time
	EverBoosted      bool
	HasGuildAvatar   bool
	Permissions      uint64
}

// HasRole reports whether the member currently holds the given role.
func (m *Member) HasRole(roleID int64) bool {
	if m == nil {
		return false
	}
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// HasPermissions reports whether the member holds every bit in the mask.
func (m *Member) HasPermissions(mask uint64) bool {
	return m != nil && m.Permissions&mask == mask
}

// Role describes a resolved guild role.
type Role struct {
	ID       int64
	Name     string
	Position int
	Managed  bool
	Everyone bool
}

// Invite describes a created channel invite.
type Invite struct {
	Code      string
	ChannelID int64
	ExpiresAt *time.Time
}

// Client is the gateway surface consumed by the forms engine. Lookups are
// expected to be cache reads; Unban, GrantRole, RevokeRole, CreateInvite
// and SendMessage are network calls that may fail.
type Client interface {
	Guild(ctx context.Context, guildID int64) (*Guild, error)
	Member(ctx context.Context, guildID, userID int64) (*Member, error)
	Role(ctx context.Context, guildID, roleID int64) (*Role, error)

	// BotMember resolves the acting bot's own membership in the guild.
	BotMember(ctx context.Context, guildID int64) (*Member, error)
	// BotTopRolePosition returns the hierarchy position of the bot's highest role.
	BotTopRolePosition(ctx context.Context, guildID int64) (int, error)

	IsBanned(ctx context.Context, guildID, userID int64) (bool, error)
	Unban(ctx context.Context, guildID, userID int64, reason string) error

	GrantRole(ctx context.Context, guildID, userID, roleID int64, reason string) error
	RevokeRole(ctx context.Context, guildID, userID, roleID int64, reason string) error

	CreateInvite(ctx context.Context, guildID, channelID int64, maxAge time.Duration, maxUses int) (*Invite, error)
	SendMessage(ctx context.Context, channelID int64, content string) (int64, error)
}
