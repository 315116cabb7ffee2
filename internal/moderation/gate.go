package moderation

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/modgate/internal/platform"
	"github.com/nextlevelbuilder/modgate/internal/store"
)

// Gate decides whether an action may be carried out in a guild. Every check
// that fails skips the action silently; a skipped verdict is logged but never
// surfaced to the channel.
type Gate struct {
	platform  platform.Platform
	botUserID string
}

func NewGate(p platform.Platform, botUserID string) *Gate {
	return &Gate{platform: p, botUserID: botUserID}
}

// targetProtected reports whether owner, permission, and role-hierarchy
// protection apply to the action's target. Every kind directed at a member
// qualifies; an unban target is no longer a member, so the lookups the
// checks need cannot succeed.
func targetProtected(kind ActionKind) bool {
	return kind != KindUnban
}

func kindPermission(kind ActionKind, p platform.Permissions) bool {
	switch kind {
	case KindDelete:
		return p.ManageMessages
	case KindTimeout:
		return p.ModerateMembers
	case KindKick:
		return p.KickMembers
	case KindBan, KindUnban:
		return p.BanMembers
	}
	return true
}

// Allows runs the gate chain for one action: the guild's per-action toggle,
// target protection (owner, elevated permissions, role hierarchy) for every
// kind acting on a member, then the bot's own permission for the kind.
// Lookup failures fail closed.
func (g *Gate) Allows(ctx context.Context, settings *store.GuildSettings, guildID, userID string, kind ActionKind) bool {
	log := slog.With("guild_id", guildID, "user_id", userID, "action", string(kind))

	if !settings.ActionAllowed(string(kind)) {
		log.Info("action disabled by guild settings")
		return false
	}

	if targetProtected(kind) {
		ownerID, err := g.platform.GuildOwnerID(ctx, guildID)
		if err != nil {
			log.Warn("owner lookup failed, skipping action", "error", err)
			return false
		}
		if userID == ownerID {
			log.Info("target is guild owner, skipping action")
			return false
		}

		perms, err := g.platform.MemberPermissions(ctx, guildID, userID)
		if err != nil {
			log.Warn("target permission lookup failed, skipping action", "error", err)
			return false
		}
		if perms.Elevated() {
			log.Info("target holds elevated permissions, skipping action")
			return false
		}

		targetPos, err := g.platform.TopRolePosition(ctx, guildID, userID)
		if err != nil {
			log.Warn("target role lookup failed, skipping action", "error", err)
			return false
		}
		botPos, err := g.platform.TopRolePosition(ctx, guildID, g.botUserID)
		if err != nil {
			log.Warn("bot role lookup failed, skipping action", "error", err)
			return false
		}
		if targetPos >= botPos {
			log.Info("target outranks bot, skipping action",
				"target_position", targetPos, "bot_position", botPos)
			return false
		}
	}

	botPerms, err := g.platform.MemberPermissions(ctx, guildID, g.botUserID)
	if err != nil {
		log.Warn("bot permission lookup failed, skipping action", "error", err)
		return false
	}
	if !kindPermission(kind, botPerms) {
		log.Info("bot lacks permission for action")
		return false
	}
	return true
}
