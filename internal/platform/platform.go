// Package platform abstracts the chat platform behind a capability
// interface. Pipeline components depend on this interface only; the
// discordgo adapter lives in the discord subpackage and test doubles
// implement the same surface.
package platform

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors adapters translate platform faults into. Callers treat
// both as a definitive per-action failure, never as retryable.
var (
	ErrForbidden = errors.New("platform: forbidden")
	ErrNotFound  = errors.New("platform: not found")
)

// Permissions is the subset of member permissions the gate consults.
type Permissions struct {
	Administrator   bool
	ManageGuild     bool
	ModerateMembers bool
	ManageMessages  bool
	KickMembers     bool
	BanMembers      bool
}

// Elevated reports whether the holder is beyond the reach of automated
// moderation (admins, guild managers, and moderators are never targeted).
func (p Permissions) Elevated() bool {
	return p.Administrator || p.ManageGuild || p.ModerateMembers
}

// MemberInfo is the member metadata surfaced to the decision service.
type MemberInfo struct {
	Username string
	Roles    []string
	JoinedAt *time.Time
}

// Platform is the full capability surface the pipeline needs from the chat
// platform. All calls are blocking I/O and accept a context.
type Platform interface {
	ChannelName(ctx context.Context, channelID string) string
	Member(ctx context.Context, guildID, userID string) (MemberInfo, error)
	FetchMessage(ctx context.Context, channelID, messageID string) (content string, err error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendMessage(ctx context.Context, channelID, content string) error
	SendDirectMessage(ctx context.Context, userID, content string) error
	TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	BanMember(ctx context.Context, guildID, userID, reason string) error
	UnbanMember(ctx context.Context, guildID, userID, reason string) error
	MemberPermissions(ctx context.Context, guildID, userID string) (Permissions, error)
	TopRolePosition(ctx context.Context, guildID, userID string) (int, error)
	GuildOwnerID(ctx context.Context, guildID string) (string, error)
}
