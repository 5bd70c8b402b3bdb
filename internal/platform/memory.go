package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemory is a deterministic Client backed by maps. It records mutations
// so callers can inspect them and supports scripted permission failures.
type InMemory struct {
	mu sync.Mutex

	guilds  map[int64]*Guild
	members map[int64]map[int64]*Member
	roles   map[int64]map[int64]*Role
	banned  map[int64]map[int64]bool

	botMembers  map[int64]*Member
	botTopRoles map[int64]int

	denied map[string]bool

	nextInvite  int
	nextMessage int64

	// Invites and Messages record side effects in creation order.
	Invites  []Invite
	Messages map[int64][]string
}

// NewInMemory constructs an empty in-memory platform client.
func NewInMemory() *InMemory {
	return &InMemory{
		guilds:      make(map[int64]*Guild),
		members:     make(map[int64]map[int64]*Member),
		roles:       make(map[int64]map[int64]*Role),
		banned:      make(map[int64]map[int64]bool),
		botMembers:  make(map[int64]*Member),
		botTopRoles: make(map[int64]int),
		denied:      make(map[string]bool),
		Messages:    make(map[int64][]string),
	}
}

// PutGuild registers a guild.
func (c *InMemory) PutGuild(g *Guild) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guilds[g.ID] = g
}

// PutMember registers a member within a guild.
func (c *InMemory) PutMember(guildID int64, m *Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.members[guildID] == nil {
		c.members[guildID] = make(map[int64]*Member)
	}
	c.members[guildID][m.UserID] = m
}

// PutRole registers a role within a guild.
func (c *InMemory) PutRole(guildID int64, r *Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roles[guildID] == nil {
		c.roles[guildID] = make(map[int64]*Role)
	}
	c.roles[guildID][r.ID] = r
}

// SetBot configures the bot's own membership and top role position in a guild.
func (c *InMemory) SetBot(guildID int64, m *Member, topRolePosition int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.botMembers[guildID] = m
	c.botTopRoles[guildID] = topRolePosition
}

// Ban marks a user as banned in a guild.
func (c *InMemory) Ban(guildID, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.banned[guildID] == nil {
		c.banned[guildID] = make(map[int64]bool)
	}
	c.banned[guildID][userID] = true
}

// Deny scripts a permission-denied failure for the named operation
// ("unban", "grant", "revoke", "invite", "message").
func (c *InMemory) Deny(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied[op] = true
}

// Guild resolves a guild by id.
func (c *InMemory) Guild(_ context.Context, guildID int64) (*Guild, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.guilds[guildID]; ok {
		return g, nil
	}
	return nil, ErrNotFound
}

// Member resolves a guild member.
func (c *InMemory) Member(_ context.Context, guildID, userID int64) (*Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.members[guildID][userID]; ok {
		return m, nil
	}
	return nil, ErrNotFound
}

// Role resolves a guild role.
func (c *InMemory) Role(_ context.Context, guildID, roleID int64) (*Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.roles[guildID][roleID]; ok {
		return r, nil
	}
	return nil, ErrNotFound
}

// BotMember resolves the bot's membership.
func (c *InMemory) BotMember(_ context.Context, guildID int64) (*Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.botMembers[guildID]; ok {
		return m, nil
	}
	return nil, ErrNotFound
}

// BotTopRolePosition returns the bot's highest role position.
func (c *InMemory) BotTopRolePosition(_ context.Context, guildID int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos, ok := c.botTopRoles[guildID]; ok {
		return pos, nil
	}
	return 0, ErrNotFound
}

// IsBanned reports whether the user is banned in the guild.
func (c *InMemory) IsBanned(_ context.Context, guildID, userID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banned[guildID][userID], nil
}

// Unban removes a ban.
func (c *InMemory) Unban(_ context.Context, guildID, userID int64, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied["unban"] {
		return ErrPermissionDenied
	}
	if !c.banned[guildID][userID] {
		return ErrNotFound
	}
	delete(c.banned[guildID], userID)
	return nil
}

// GrantRole adds a role to a member.
func (c *InMemory) GrantRole(_ context.Context, guildID, userID, roleID int64, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied["grant"] {
		return ErrPermissionDenied
	}
	m, ok := c.members[guildID][userID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range m.RoleIDs {
		if id == roleID {
			return nil
		}
	}
	m.RoleIDs = append(m.RoleIDs, roleID)
	return nil
}

// RevokeRole removes a role from a member.
func (c *InMemory) RevokeRole(_ context.Context, guildID, userID, roleID int64, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied["revoke"] {
		return ErrPermissionDenied
	}
	m, ok := c.members[guildID][userID]
	if !ok {
		return ErrNotFound
	}
	kept := m.RoleIDs[:0]
	for _, id := range m.RoleIDs {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	m.RoleIDs = kept
	return nil
}

// CreateInvite creates a channel invite with a generated code.
func (c *InMemory) CreateInvite(_ context.Context, guildID, channelID int64, maxAge time.Duration, _ int) (*Invite, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied["invite"] {
		return nil, ErrPermissionDenied
	}
	if _, ok := c.guilds[guildID]; !ok {
		return nil, ErrNotFound
	}

	c.nextInvite++
	invite := Invite{
		Code:      fmt.Sprintf("invite-%d", c.nextInvite),
		ChannelID: channelID,
	}
	if maxAge > 0 {
		expires := time.Now().Add(maxAge)
		invite.ExpiresAt = &expires
	}
	c.Invites = append(c.Invites, invite)
	return &invite, nil
}

// SendMessage records a message and returns a generated message id.
func (c *InMemory) SendMessage(_ context.Context, channelID int64, content string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied["message"] {
		return 0, ErrPermissionDenied
	}
	c.nextMessage++
	c.Messages[channelID] = append(c.Messages[channelID], content)
	return c.nextMessage, nil
}
