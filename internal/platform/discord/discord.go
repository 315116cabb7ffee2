// Package discord adapts a discordgo session to the platform interface.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/modgate/internal/platform"
)

// Adapter implements platform.Platform on top of a live gateway session.
// The session's state cache answers what it can; everything else goes to
// the REST API.
type Adapter struct {
	session *discordgo.Session
}

func NewAdapter(session *discordgo.Session) *Adapter {
	return &Adapter{session: session}
}

// wrapErr translates discordgo REST failures into platform sentinels.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w", op, platform.ErrForbidden)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", op, platform.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (a *Adapter) ChannelName(ctx context.Context, channelID string) string {
	if ch, err := a.session.State.Channel(channelID); err == nil {
		return ch.Name
	}
	ch, err := a.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return ""
	}
	return ch.Name
}

func (a *Adapter) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if m, err := a.session.State.Member(guildID, userID); err == nil {
		return m, nil
	}
	m, err := a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("fetch member", err)
	}
	return m, nil
}

func (a *Adapter) Member(ctx context.Context, guildID, userID string) (platform.MemberInfo, error) {
	m, err := a.member(ctx, guildID, userID)
	if err != nil {
		return platform.MemberInfo{}, err
	}

	info := platform.MemberInfo{Roles: make([]string, 0, len(m.Roles))}
	if m.User != nil {
		info.Username = m.User.Username
	}
	if !m.JoinedAt.IsZero() {
		joined := m.JoinedAt
		info.JoinedAt = &joined
	}

	// Role names when the guild is cached, raw ids otherwise.
	byID := make(map[string]string)
	if g, err := a.session.State.Guild(guildID); err == nil {
		for _, r := range g.Roles {
			byID[r.ID] = r.Name
		}
	}
	for _, roleID := range m.Roles {
		if name, ok := byID[roleID]; ok {
			info.Roles = append(info.Roles, name)
		} else {
			info.Roles = append(info.Roles, roleID)
		}
	}
	return info, nil
}

func (a *Adapter) FetchMessage(ctx context.Context, channelID, messageID string) (string, error) {
	msg, err := a.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return "", wrapErr("fetch message", err)
	}
	return msg.Content, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return wrapErr("delete message",
		a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (a *Adapter) SendMessage(ctx context.Context, channelID, content string) error {
	_, err := a.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	return wrapErr("send message", err)
}

func (a *Adapter) SendDirectMessage(ctx context.Context, userID, content string) error {
	dm, err := a.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return wrapErr("open dm channel", err)
	}
	_, err = a.session.ChannelMessageSend(dm.ID, content, discordgo.WithContext(ctx))
	return wrapErr("send dm", err)
}

func (a *Adapter) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	return wrapErr("timeout member",
		a.session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx)))
}

func (a *Adapter) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return wrapErr("kick member",
		a.session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx)))
}

func (a *Adapter) BanMember(ctx context.Context, guildID, userID, reason string) error {
	return wrapErr("ban member",
		a.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx)))
}

func (a *Adapter) UnbanMember(ctx context.Context, guildID, userID, reason string) error {
	return wrapErr("unban member",
		a.session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx)))
}

func (a *Adapter) guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if g, err := a.session.State.Guild(guildID); err == nil && len(g.Roles) > 0 {
		return g, nil
	}
	g, err := a.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrapErr("fetch guild", err)
	}
	return g, nil
}

// MemberPermissions folds the member's role permission bits together. The
// guild owner and administrators hold everything.
func (a *Adapter) MemberPermissions(ctx context.Context, guildID, userID string) (platform.Permissions, error) {
	g, err := a.guild(ctx, guildID)
	if err != nil {
		return platform.Permissions{}, err
	}
	if g.OwnerID == userID {
		return platform.Permissions{
			Administrator: true, ManageGuild: true, ModerateMembers: true,
			ManageMessages: true, KickMembers: true, BanMembers: true,
		}, nil
	}

	m, err := a.member(ctx, guildID, userID)
	if err != nil {
		return platform.Permissions{}, err
	}

	roleSet := make(map[string]struct{}, len(m.Roles))
	for _, id := range m.Roles {
		roleSet[id] = struct{}{}
	}
	var bits int64
	for _, r := range g.Roles {
		_, held := roleSet[r.ID]
		if held || r.ID == guildID { // @everyone shares the guild id
			bits |= r.Permissions
		}
	}

	perms := platform.Permissions{
		Administrator:   bits&discordgo.PermissionAdministrator != 0,
		ManageGuild:     bits&discordgo.PermissionManageGuild != 0,
		ModerateMembers: bits&discordgo.PermissionModerateMembers != 0,
		ManageMessages:  bits&discordgo.PermissionManageMessages != 0,
		KickMembers:     bits&discordgo.PermissionKickMembers != 0,
		BanMembers:      bits&discordgo.PermissionBanMembers != 0,
	}
	if perms.Administrator {
		perms.ManageGuild = true
		perms.ModerateMembers = true
		perms.ManageMessages = true
		perms.KickMembers = true
		perms.BanMembers = true
	}
	return perms, nil
}

func (a *Adapter) TopRolePosition(ctx context.Context, guildID, userID string) (int, error) {
	g, err := a.guild(ctx, guildID)
	if err != nil {
		return 0, err
	}
	m, err := a.member(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}

	roleSet := make(map[string]struct{}, len(m.Roles))
	for _, id := range m.Roles {
		roleSet[id] = struct{}{}
	}
	top := 0
	for _, r := range g.Roles {
		if _, held := roleSet[r.ID]; held && r.Position > top {
			top = r.Position
		}
	}
	return top, nil
}

func (a *Adapter) GuildOwnerID(ctx context.Context, guildID string) (string, error) {
	g, err := a.guild(ctx, guildID)
	if err != nil {
		return "", err
	}
	return g.OwnerID, nil
}
