// Package engine orchestrates one moderation round: aggregate the flushed
// messages, ask the decision service, reconcile its verdicts, and carry the
// surviving actions out.
package engine

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/modgate/internal/inference"
	"github.com/nextlevelbuilder/modgate/internal/moderation"
	"github.com/nextlevelbuilder/modgate/internal/platform"
	"github.com/nextlevelbuilder/modgate/internal/review"
	"github.com/nextlevelbuilder/modgate/internal/store"
)

// Submitter is the inference worker surface the engine drives.
type Submitter interface {
	Submit(ctx context.Context, system, user string, images []inference.ImagePayload) (string, error)
}

// Options collects the engine's collaborators.
type Options struct {
	Platform    platform.Platform
	Stores      *store.Stores
	Worker      Submitter
	Executor    *moderation.Executor
	Review      *review.Consolidator
	History     *moderation.HistoryCache
	Fetcher     moderation.AttachmentFetcher
	PastActions time.Duration
	Parallelism int
}

type Engine struct {
	platform  platform.Platform
	stores    *store.Stores
	worker    Submitter
	executor  *moderation.Executor
	review    *review.Consolidator
	history   *moderation.HistoryCache
	fetch     moderation.AttachmentFetcher
	lookback  time.Duration
	parallel  int
	tracer    trace.Tracer
}

func New(opts Options) *Engine {
	lookback := opts.PastActions
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	parallel := opts.Parallelism
	if parallel <= 0 {
		parallel = 4
	}
	return &Engine{
		platform:  opts.Platform,
		stores:    opts.Stores,
		worker:    opts.Worker,
		executor:  opts.Executor,
		review:    opts.Review,
		history:   opts.History,
		fetch:     opts.Fetcher,
		lookback:  lookback,
		parallel:  parallel,
		tracer:    otel.Tracer("modgate/engine"),
	}
}

// ProcessRound handles one collector flush: each channel's queue becomes a
// batch, channels run concurrently, and queued review items go out once all
// channels are done.
func (e *Engine) ProcessRound(ctx context.Context, pending map[string][]moderation.Message) {
	if len(pending) == 0 {
		return
	}
	ctx, span := e.tracer.Start(ctx, "moderation.round",
		trace.WithAttributes(attribute.Int("channels", len(pending))))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for channelID, msgs := range pending {
		if len(msgs) == 0 {
			continue
		}
		g.Go(func() error {
			e.processChannel(gctx, channelID, msgs)
			return nil
		})
	}
	_ = g.Wait()

	if e.review.Len() > 0 {
		e.review.Flush(ctx)
	}
}

func (e *Engine) processChannel(ctx context.Context, channelID string, msgs []moderation.Message) {
	guildID := msgs[0].GuildID
	log := slog.With("guild_id", guildID, "channel_id", channelID)

	ctx, span := e.tracer.Start(ctx, "moderation.channel",
		trace.WithAttributes(
			attribute.String("channel_id", channelID),
			attribute.Int("messages", len(msgs)),
		))
	defer span.End()

	// Processed or not, this round's messages become next round's context.
	defer func() {
		for _, m := range msgs {
			e.history.Add(m)
		}
	}()

	settings, err := e.stores.Guilds.Guild(ctx, guildID)
	if err != nil {
		log.Error("guild settings lookup failed, round skipped", "error", err)
		return
	}
	if !settings.Enabled {
		log.Debug("moderation disabled, round skipped")
		return
	}

	batch := e.buildBatch(ctx, channelID, guildID, msgs)
	if batch.IsEmpty() {
		return
	}

	payload, refs, err := inference.BuildPayload(batch)
	if err != nil {
		log.Error("payload build failed", "error", err)
		return
	}
	images := e.resolveImages(ctx, refs)

	text, err := e.worker.Submit(ctx, BuildSystemPrompt(settings.Rules), string(payload), images)
	if err != nil {
		log.Error("decision request failed", "error", err)
		return
	}

	actions := inference.ParseActions(text, channelID)
	actions = moderation.ReconcileEvidence(actions, batch)
	span.SetAttributes(attribute.Int("actions", len(actions)))

	for _, act := range actions {
		if act.Kind == moderation.KindNull {
			continue
		}
		if act.Kind == moderation.KindReview {
			item := review.Item{
				GuildID:    guildID,
				ChannelID:  channelID,
				UserID:     act.UserID,
				Reason:     act.Reason,
				MessageIDs: act.MessageIDs,
			}
			if u := batch.FindUser(act.UserID); u != nil {
				item.Username = u.Username
				item.PastActions = u.PastActions
			}
			e.review.Add(item)
			continue
		}
		if err := e.executor.Execute(ctx, settings, guildID, channelID, act); err != nil {
			log.Warn("action execution failed", "user_id", act.UserID,
				"action", string(act.Kind), "error", err)
		}
	}
}

// buildBatch aggregates the round's messages per user, folds in channel
// history, and enriches current users with member metadata and their recent
// moderation record. Enrichment failures degrade to an empty field.
func (e *Engine) buildBatch(ctx context.Context, channelID, guildID string, msgs []moderation.Message) *moderation.ChannelBatch {
	users := moderation.AggregateUsers(msgs)
	historyUsers := moderation.MergeHistory(users, e.history.History(channelID))

	batch := &moderation.ChannelBatch{
		ChannelID:    channelID,
		ChannelName:  e.platform.ChannelName(ctx, channelID),
		GuildID:      guildID,
		Users:        users,
		HistoryUsers: historyUsers,
	}

	for i := range batch.Users {
		u := &batch.Users[i]
		if info, err := e.platform.Member(ctx, guildID, u.UserID); err == nil {
			u.Roles = info.Roles
			u.JoinDate = info.JoinedAt
			if info.Username != "" {
				u.Username = info.Username
			}
		}
		if past, err := e.stores.Actions.PastActions(ctx, guildID, u.UserID, e.lookback); err == nil {
			u.PastActions = past
		}
	}
	return batch
}

// resolveImages fetches each referenced attachment once and base64-encodes
// it for the wire. Unresolvable attachments are dropped; the text still goes
// through.
func (e *Engine) resolveImages(ctx context.Context, refs []inference.ImageRef) []inference.ImagePayload {
	if e.fetch == nil || len(refs) == 0 {
		return nil
	}
	set := moderation.NewAttachmentSet(e.fetch)
	out := make([]inference.ImagePayload, 0, len(refs))
	for _, ref := range refs {
		data, err := set.Resolve(ctx, moderation.AttachmentRef{Hash: ref.Hash, URL: ref.URL})
		if err != nil {
			slog.Warn("attachment resolve failed", "hash", ref.Hash, "error", err)
			continue
		}
		out = append(out, inference.ImagePayload{
			Hash:     ref.Hash,
			MimeType: http.DetectContentType(data),
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return out
}
