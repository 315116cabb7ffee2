package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/modgate/internal/platform"
	"github.com/nextlevelbuilder/modgate/internal/store"
)

// Discord rejects timeouts longer than 28 days; a permanent timeout is
// clamped to that ceiling.
const maxTimeout = 28 * 24 * time.Hour

// Duration sentinel values as they arrive from verdicts: zero means not
// applicable, negative one means permanent.
const (
	durationNone      = 0
	durationPermanent = -1
)

// ReversalScheduler is the slice of the scheduler the executor needs:
// booking an unban for a temporary ban and cancelling it when the member is
// unbanned early.
type ReversalScheduler interface {
	ScheduleUnban(ctx context.Context, guildID, userID string, due time.Time, reason string) error
	CancelUnban(ctx context.Context, guildID, userID string) error
}

// Executor carries reconciled actions out against the platform. Every
// mutating call passes the shared rate limiter first, and each user's
// outcome is recorded in the action log so later rounds see it as context.
type Executor struct {
	platform  platform.Platform
	gate      *Gate
	actions   store.ActionLogStore
	scheduler ReversalScheduler
	limiter   *rate.Limiter

	now func() time.Time
}

func NewExecutor(p platform.Platform, gate *Gate, actions store.ActionLogStore, scheduler ReversalScheduler, limiter *rate.Limiter) *Executor {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Executor{
		platform:  p,
		gate:      gate,
		actions:   actions,
		scheduler: scheduler,
		limiter:   limiter,
		now:       time.Now,
	}
}

func (e *Executor) wait(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Execute applies one action in a guild channel. A gate refusal or a
// not-applicable duration is a silent no-op; platform faults on the primary
// operation are returned, while notification and cleanup failures are only
// logged.
func (e *Executor) Execute(ctx context.Context, settings *store.GuildSettings, guildID, channelID string, act Action) error {
	if act.Kind == KindNull || act.Kind == KindReview {
		return nil
	}
	if !e.gate.Allows(ctx, settings, guildID, act.UserID, act.Kind) {
		return nil
	}

	log := slog.With("guild_id", guildID, "channel_id", channelID,
		"user_id", act.UserID, "action", string(act.Kind))

	var err error
	duration := ""
	switch act.Kind {
	case KindWarn:
		err = e.warn(ctx, guildID, channelID, act)
	case KindDelete:
		err = e.deleteEvidence(ctx, channelID, act)
	case KindTimeout:
		duration, err = e.timeout(ctx, guildID, channelID, act)
	case KindKick:
		err = e.kick(ctx, guildID, channelID, act)
	case KindBan:
		duration, err = e.ban(ctx, guildID, channelID, act)
	case KindUnban:
		err = e.unban(ctx, guildID, act)
	default:
		return nil
	}
	if err != nil {
		log.Error("action failed", "error", err)
		return err
	}
	if duration == "skip" {
		return nil
	}

	if recErr := e.actions.Record(ctx, store.ActionRecord{
		GuildID:   guildID,
		UserID:    act.UserID,
		Action:    string(act.Kind),
		Reason:    act.Reason,
		Timestamp: e.now().UTC(),
		Duration:  duration,
	}); recErr != nil {
		log.Warn("action log write failed", "error", recErr)
	}
	log.Info("action executed", "reason", act.Reason, "evidence", len(act.MessageIDs))
	return nil
}

// notify DMs the member about the action. When DMs are closed the notice
// falls back to a channel mention so the action is never invisible.
func (e *Executor) notify(ctx context.Context, channelID string, act Action, notice string) {
	if err := e.wait(ctx); err != nil {
		return
	}
	if err := e.platform.SendDirectMessage(ctx, act.UserID, notice); err != nil {
		if !errors.Is(err, platform.ErrForbidden) && !errors.Is(err, platform.ErrNotFound) {
			slog.Warn("direct message failed", "user_id", act.UserID, "error", err)
		}
		if channelID == "" {
			return
		}
		fallback := fmt.Sprintf("<@%s> %s", act.UserID, notice)
		if err := e.platform.SendMessage(ctx, channelID, fallback); err != nil {
			slog.Warn("channel notice failed", "channel_id", channelID, "error", err)
		}
	}
}

// deleteEvidence removes the cited messages one by one. A message already
// gone is not a failure.
func (e *Executor) deleteEvidence(ctx context.Context, channelID string, act Action) error {
	var firstErr error
	for _, id := range act.MessageIDs {
		if err := e.wait(ctx); err != nil {
			return err
		}
		if err := e.platform.DeleteMessage(ctx, channelID, id); err != nil {
			if errors.Is(err, platform.ErrNotFound) {
				continue
			}
			slog.Warn("message delete failed", "channel_id", channelID,
				"message_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (e *Executor) warn(ctx context.Context, guildID, channelID string, act Action) error {
	e.notify(ctx, channelID, act,
		fmt.Sprintf("You have received a warning: %s", act.Reason))
	return nil
}

func (e *Executor) timeout(ctx context.Context, guildID, channelID string, act Action) (string, error) {
	minutes := durationNone
	if act.TimeoutMinutes != nil {
		minutes = *act.TimeoutMinutes
	}
	if minutes == durationNone {
		return "skip", nil
	}

	d := maxTimeout
	label := "permanent"
	if minutes != durationPermanent {
		if minutes < 0 {
			return "skip", nil
		}
		d = time.Duration(minutes) * time.Minute
		if d > maxTimeout {
			d = maxTimeout
		}
		label = strconv.Itoa(minutes) + "m"
	}

	e.notify(ctx, channelID, act,
		fmt.Sprintf("You have been timed out: %s", act.Reason))
	if err := e.wait(ctx); err != nil {
		return "", err
	}
	if err := e.platform.TimeoutMember(ctx, guildID, act.UserID, e.now().Add(d), act.Reason); err != nil {
		return "", fmt.Errorf("timeout member: %w", err)
	}
	if err := e.deleteEvidence(ctx, channelID, act); err != nil {
		slog.Warn("evidence cleanup after timeout failed", "error", err)
	}
	return label, nil
}

func (e *Executor) kick(ctx context.Context, guildID, channelID string, act Action) error {
	e.notify(ctx, channelID, act,
		fmt.Sprintf("You have been kicked: %s", act.Reason))
	if err := e.wait(ctx); err != nil {
		return err
	}
	if err := e.platform.KickMember(ctx, guildID, act.UserID, act.Reason); err != nil {
		return fmt.Errorf("kick member: %w", err)
	}
	if err := e.deleteEvidence(ctx, channelID, act); err != nil {
		slog.Warn("evidence cleanup after kick failed", "error", err)
	}
	return nil
}

func (e *Executor) ban(ctx context.Context, guildID, channelID string, act Action) (string, error) {
	minutes := durationNone
	if act.BanMinutes != nil {
		minutes = *act.BanMinutes
	}
	if minutes == durationNone {
		return "skip", nil
	}
	if minutes < durationPermanent {
		return "skip", nil
	}

	e.notify(ctx, channelID, act,
		fmt.Sprintf("You have been banned: %s", act.Reason))
	if err := e.wait(ctx); err != nil {
		return "", err
	}
	if err := e.platform.BanMember(ctx, guildID, act.UserID, act.Reason); err != nil {
		return "", fmt.Errorf("ban member: %w", err)
	}
	if err := e.deleteEvidence(ctx, channelID, act); err != nil {
		slog.Warn("evidence cleanup after ban failed", "error", err)
	}

	if minutes == durationPermanent {
		return "permanent", nil
	}
	due := e.now().Add(time.Duration(minutes) * time.Minute)
	if e.scheduler != nil {
		if err := e.scheduler.ScheduleUnban(ctx, guildID, act.UserID, due, act.Reason); err != nil {
			slog.Error("unban scheduling failed, ban stays until manual unban",
				"guild_id", guildID, "user_id", act.UserID, "error", err)
		}
	}
	return strconv.Itoa(minutes) + "m", nil
}

func (e *Executor) unban(ctx context.Context, guildID string, act Action) error {
	if err := e.wait(ctx); err != nil {
		return err
	}
	if err := e.platform.UnbanMember(ctx, guildID, act.UserID, act.Reason); err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			// Not banned anymore; still clear any pending reversal.
			err = nil
		} else {
			return fmt.Errorf("unban member: %w", err)
		}
	}
	if e.scheduler != nil {
		if err := e.scheduler.CancelUnban(ctx, guildID, act.UserID); err != nil {
			slog.Warn("reversal cancel failed", "guild_id", guildID,
				"user_id", act.UserID, "error", err)
		}
	}
	return nil
}
