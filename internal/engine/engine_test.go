package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/modgate/internal/inference"
	"github.com/nextlevelbuilder/modgate/internal/moderation"
	"github.com/nextlevelbuilder/modgate/internal/platform"
	"github.com/nextlevelbuilder/modgate/internal/review"
	"github.com/nextlevelbuilder/modgate/internal/store"
)

const testBotID = "bot"

type timeoutCall struct {
	guildID string
	userID  string
	until   time.Time
}

type fakePlatform struct {
	mu       sync.Mutex
	ownerID  string
	deleted  []string
	dms      map[string][]string
	sent     map[string][]string
	timeouts []timeoutCall
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		ownerID: "owner",
		dms:     make(map[string][]string),
		sent:    make(map[string][]string),
	}
}

func (f *fakePlatform) ChannelName(ctx context.Context, channelID string) string { return "general" }

func (f *fakePlatform) Member(ctx context.Context, guildID, userID string) (platform.MemberInfo, error) {
	return platform.MemberInfo{Username: "member-" + userID, Roles: []string{"Member"}}, nil
}

func (f *fakePlatform) FetchMessage(ctx context.Context, channelID, messageID string) (string, error) {
	return "", platform.ErrNotFound
}

func (f *fakePlatform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakePlatform) SendMessage(ctx context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[channelID] = append(f.sent[channelID], content)
	return nil
}

func (f *fakePlatform) SendDirectMessage(ctx context.Context, userID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms[userID] = append(f.dms[userID], content)
	return nil
}

func (f *fakePlatform) TimeoutMember(ctx context.Context, guildID, userID string, until time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, timeoutCall{guildID: guildID, userID: userID, until: until})
	return nil
}

func (f *fakePlatform) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return nil
}

func (f *fakePlatform) BanMember(ctx context.Context, guildID, userID, reason string) error {
	return nil
}

func (f *fakePlatform) UnbanMember(ctx context.Context, guildID, userID, reason string) error {
	return nil
}

func (f *fakePlatform) MemberPermissions(ctx context.Context, guildID, userID string) (platform.Permissions, error) {
	if userID == testBotID {
		return platform.Permissions{
			ModerateMembers: true,
			ManageMessages:  true,
			KickMembers:     true,
			BanMembers:      true,
		}, nil
	}
	return platform.Permissions{}, nil
}

func (f *fakePlatform) TopRolePosition(ctx context.Context, guildID, userID string) (int, error) {
	if userID == testBotID {
		return 10, nil
	}
	return 1, nil
}

func (f *fakePlatform) GuildOwnerID(ctx context.Context, guildID string) (string, error) {
	return f.ownerID, nil
}

type memGuilds struct {
	settings *store.GuildSettings
}

func (m *memGuilds) Guild(ctx context.Context, guildID string) (*store.GuildSettings, error) {
	return m.settings, nil
}

func (m *memGuilds) SaveGuild(ctx context.Context, settings *store.GuildSettings) error {
	m.settings = settings
	return nil
}

type memActions struct {
	mu      sync.Mutex
	records []store.ActionRecord
	past    map[string][]store.ActionRecord
}

func (m *memActions) Record(ctx context.Context, rec store.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memActions) PastActions(ctx context.Context, guildID, userID string, lookback time.Duration) ([]store.ActionRecord, error) {
	return m.past[userID], nil
}

type noopScheduler struct{}

func (noopScheduler) ScheduleUnban(ctx context.Context, guildID, userID string, due time.Time, reason string) error {
	return nil
}

func (noopScheduler) CancelUnban(ctx context.Context, guildID, userID string) error {
	return nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	response string
	calls    int
	payloads []string
}

func (f *fakeSubmitter) Submit(ctx context.Context, system, user string, images []inference.ImagePayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, user)
	return f.response, nil
}

type fixture struct {
	engine    *Engine
	platform  *fakePlatform
	actions   *memActions
	submitter *fakeSubmitter
	history   *moderation.HistoryCache
}

func newFixture(t *testing.T, settings *store.GuildSettings, response string) *fixture {
	t.Helper()
	fp := newFakePlatform()
	actions := &memActions{}
	stores := &store.Stores{
		Guilds:  &memGuilds{settings: settings},
		Actions: actions,
	}
	gate := moderation.NewGate(fp, testBotID)
	executor := moderation.NewExecutor(fp, gate, actions, noopScheduler{}, nil)
	sub := &fakeSubmitter{response: response}
	history := moderation.NewHistoryCache(12, time.Hour)
	eng := New(Options{
		Platform: fp,
		Stores:   stores,
		Worker:   sub,
		Executor: executor,
		Review:   review.NewConsolidator(fp, stores.Guilds),
		History:  history,
	})
	return &fixture{engine: eng, platform: fp, actions: actions, submitter: sub, history: history}
}

func enabledSettings() *store.GuildSettings {
	return &store.GuildSettings{
		GuildID:          "g1",
		Enabled:          true,
		Rules:            "No spam.",
		ReviewChannelIDs: []string{"rc1"},
	}
}

func roundMessages() []moderation.Message {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return []moderation.Message{
		{ID: "m1", UserID: "A", Username: "alice", ChannelID: "c1", GuildID: "g1", Content: "buy now!!!", Timestamp: base},
		{ID: "m2", UserID: "A", Username: "alice", ChannelID: "c1", GuildID: "g1", Content: "last chance", Timestamp: base.Add(time.Second)},
		{ID: "m3", UserID: "B", Username: "bob", ChannelID: "c1", GuildID: "g1", Content: "is this allowed?", Timestamp: base.Add(2 * time.Second)},
	}
}

func TestProcessRoundExecutesAndFlushesReview(t *testing.T) {
	response := "Verdict below.\n```json\n" + `{
		"channel_id": "c1",
		"users": [
			{"user_id": "A", "action": "timeout", "reason": "spam", "message_ids_to_delete": ["m1"], "timeout_duration": 30, "ban_duration": 0},
			{"user_id": "B", "action": "review", "reason": "borderline", "message_ids_to_delete": ["m3"], "timeout_duration": 0, "ban_duration": 0}
		]
	}` + "\n```"
	fx := newFixture(t, enabledSettings(), response)
	fx.actions.past = map[string][]store.ActionRecord{
		"B": {{Action: "warn", Reason: "mild spam"}},
	}

	before := time.Now()
	fx.engine.ProcessRound(context.Background(), map[string][]moderation.Message{
		"c1": roundMessages(),
	})

	if fx.submitter.calls != 1 {
		t.Fatalf("submitter calls = %d, want 1", fx.submitter.calls)
	}

	if len(fx.platform.timeouts) != 1 {
		t.Fatalf("timeouts = %+v, want one", fx.platform.timeouts)
	}
	to := fx.platform.timeouts[0]
	if to.guildID != "g1" || to.userID != "A" {
		t.Fatalf("timeout target = %+v", to)
	}
	remaining := to.until.Sub(before)
	if remaining < 29*time.Minute || remaining > 31*time.Minute {
		t.Fatalf("timeout until off by %v", remaining)
	}
	if len(fx.platform.deleted) != 1 || fx.platform.deleted[0] != "m1" {
		t.Fatalf("deleted = %v, want [m1]", fx.platform.deleted)
	}
	if len(fx.platform.dms["A"]) != 1 {
		t.Fatalf("dms to A = %v, want the timeout notice", fx.platform.dms["A"])
	}

	if len(fx.actions.records) != 1 {
		t.Fatalf("action log = %+v, want one record", fx.actions.records)
	}
	rec := fx.actions.records[0]
	if rec.UserID != "A" || rec.Action != "timeout" || rec.Duration != "30m" {
		t.Fatalf("record = %+v", rec)
	}

	reports := fx.platform.sent["rc1"]
	if len(reports) != 1 {
		t.Fatalf("review reports = %v, want one", reports)
	}
	if !strings.Contains(reports[0], "B") || !strings.Contains(reports[0], "borderline") {
		t.Fatalf("report = %q, want B's review line", reports[0])
	}
	if !strings.Contains(reports[0], "past: warn") {
		t.Fatalf("report = %q, want B's past action noted", reports[0])
	}

	if got := len(fx.history.History("c1")); got != 3 {
		t.Fatalf("history size = %d, want 3", got)
	}
}

func TestProcessRoundDisabledGuildSkipsInference(t *testing.T) {
	settings := enabledSettings()
	settings.Enabled = false
	fx := newFixture(t, settings, `{"channel_id": "c1", "users": []}`)

	fx.engine.ProcessRound(context.Background(), map[string][]moderation.Message{
		"c1": roundMessages(),
	})

	if fx.submitter.calls != 0 {
		t.Fatalf("submitter calls = %d, want 0 for disabled guild", fx.submitter.calls)
	}
	if got := len(fx.history.History("c1")); got != 3 {
		t.Fatalf("history size = %d, want messages retained as context", got)
	}
}

func TestProcessRoundMergesChannelHistory(t *testing.T) {
	fx := newFixture(t, enabledSettings(), `{"channel_id": "c1", "users": []}`)
	fx.history.Add(moderation.Message{
		ID: "h1", UserID: "C", Username: "carol", ChannelID: "c1", GuildID: "g1",
		Content: "earlier round", Timestamp: time.Now().Add(-time.Minute),
	})

	fx.engine.ProcessRound(context.Background(), map[string][]moderation.Message{
		"c1": roundMessages(),
	})

	if len(fx.submitter.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(fx.submitter.payloads))
	}
	payload := fx.submitter.payloads[0]
	if !strings.Contains(payload, "earlier round") {
		t.Fatalf("payload missing history message: %s", payload)
	}
	if !strings.Contains(payload, "buy now!!!") {
		t.Fatalf("payload missing current message: %s", payload)
	}
}

func TestProcessRoundEmptyPendingNoWork(t *testing.T) {
	fx := newFixture(t, enabledSettings(), `{}`)
	fx.engine.ProcessRound(context.Background(), nil)
	if fx.submitter.calls != 0 {
		t.Fatalf("submitter calls = %d, want 0", fx.submitter.calls)
	}
}
