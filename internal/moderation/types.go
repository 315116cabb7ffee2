package moderation

import (
	"time"

	"github.com/nextlevelbuilder/modgate/internal/store"
)

// ActionKind enumerates the moderation verdicts the pipeline understands.
// The decision-service wire schema produces the first six; unban and review
// enter through the scheduler and review paths.
type ActionKind string

const (
	KindNull    ActionKind = "null"
	KindWarn    ActionKind = "warn"
	KindDelete  ActionKind = "delete"
	KindTimeout ActionKind = "timeout"
	KindKick    ActionKind = "kick"
	KindBan     ActionKind = "ban"
	KindUnban   ActionKind = "unban"
	KindReview  ActionKind = "review"
)

// ParseKind maps a wire action string to an ActionKind, falling back to
// KindNull for anything outside the vocabulary.
func ParseKind(s string) ActionKind {
	switch ActionKind(s) {
	case KindNull, KindWarn, KindDelete, KindTimeout, KindKick, KindBan, KindUnban, KindReview:
		return ActionKind(s)
	}
	return KindNull
}

// RequiresEvidence reports whether the kind may only execute against at
// least one concrete message from the batch.
func (k ActionKind) RequiresEvidence() bool {
	switch k {
	case KindDelete, KindTimeout, KindKick, KindBan:
		return true
	}
	return false
}

// AttachmentRef points at attachment content by hash. The payload itself is
// resolved at most once per round through an AttachmentSet.
type AttachmentRef struct {
	Hash string // 8 hex chars of the content hash
	URL  string
}

// Message is an immutable record of one inbound chat message. Downstream
// stages reference messages; they never own or mutate them.
type Message struct {
	ID          string
	UserID      string
	Username    string
	ChannelID   string
	GuildID     string
	Content     string
	Timestamp   time.Time
	Attachments []AttachmentRef
}

// BatchMessage tags a message with its provenance inside a batch: history
// messages supply context only and are never valid action evidence.
type BatchMessage struct {
	Message
	History bool
}

// UserView is the aggregated view of one author inside a round: their
// batch messages, guild roles, and recent moderation record.
type UserView struct {
	UserID      string
	Username    string
	Roles       []string
	JoinDate    *time.Time
	Messages    []BatchMessage
	PastActions []store.ActionRecord
}

// MessageIDs returns the ids of the user's non-history messages, the set an
// action against this user may cite as evidence.
func (u *UserView) MessageIDs() []string {
	ids := make([]string, 0, len(u.Messages))
	for _, m := range u.Messages {
		if !m.History {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// ChannelBatch is one channel's share of a flush round. Built fresh per
// round, mutated only during aggregation, discarded when the round ends.
type ChannelBatch struct {
	ChannelID    string
	ChannelName  string
	GuildID      string
	Users        []UserView
	HistoryUsers []UserView
}

// IsEmpty reports whether the batch carries no current-round messages.
func (b *ChannelBatch) IsEmpty() bool {
	for i := range b.Users {
		if len(b.Users[i].Messages) > 0 {
			return false
		}
	}
	return true
}

// FindUser returns the current-round view for userID, or nil.
func (b *ChannelBatch) FindUser(userID string) *UserView {
	for i := range b.Users {
		if b.Users[i].UserID == userID {
			return &b.Users[i]
		}
	}
	return nil
}

// Action is one verdict against one user. Created by the parser, adjusted by
// the reconciler, then read-only through the gate and executor.
//
// Duration semantics: nil = unspecified, 0 = not applicable, -1 = permanent,
// positive = minutes.
type Action struct {
	UserID         string
	Kind           ActionKind
	Reason         string
	MessageIDs     []string
	TimeoutMinutes *int
	BanMinutes     *int
}

// AddMessageIDs unions ids into the action's evidence list, preserving order
// of first appearance.
func (a *Action) AddMessageIDs(ids ...string) {
	seen := make(map[string]struct{}, len(a.MessageIDs))
	for _, id := range a.MessageIDs {
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		a.MessageIDs = append(a.MessageIDs, id)
	}
}
