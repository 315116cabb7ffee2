package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/modgate/internal/store"
)

type fakeActionLog struct {
	records []store.ActionRecord
}

func (f *fakeActionLog) Record(ctx context.Context, rec store.ActionRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeActionLog) PastActions(ctx context.Context, guildID, userID string, lookback time.Duration) ([]store.ActionRecord, error) {
	return nil, nil
}

type fakeScheduler struct {
	scheduled []time.Time
	cancelled []string
}

func (f *fakeScheduler) ScheduleUnban(ctx context.Context, guildID, userID string, due time.Time, reason string) error {
	f.scheduled = append(f.scheduled, due)
	return nil
}

func (f *fakeScheduler) CancelUnban(ctx context.Context, guildID, userID string) error {
	f.cancelled = append(f.cancelled, userID)
	return nil
}

func executorFixture() (*Executor, *fakePlatform, *fakeActionLog, *fakeScheduler, *store.GuildSettings) {
	gate, fp, settings := gateFixture()
	log := &fakeActionLog{}
	sched := &fakeScheduler{}
	ex := NewExecutor(fp, gate, log, sched, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ex.now = func() time.Time { return base }
	return ex, fp, log, sched, settings
}

func TestExecutorDelete(t *testing.T) {
	ex, fp, log, _, settings := executorFixture()
	act := Action{UserID: "target", Kind: KindDelete, Reason: "spam", MessageIDs: []string{"m1", "m2"}}
	if err := ex.Execute(context.Background(), settings, "g1", "c1", act); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fp.deleted) != 2 {
		t.Fatalf("deleted = %v, want both cited messages", fp.deleted)
	}
	if len(log.records) != 1 || log.records[0].Action != "delete" {
		t.Fatalf("records = %+v", log.records)
	}
}

func TestExecutorTimeoutDuration(t *testing.T) {
	ex, fp, _, _, settings := executorFixture()
	mins := 30
	act := Action{UserID: "target", Kind: KindTimeout, Reason: "r", TimeoutMinutes: &mins}
	if err := ex.Execute(context.Background(), settings, "g1", "c1", act); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fp.timeouts) != 1 {
		t.Fatalf("timeouts = %v", fp.timeouts)
	}
	want := ex.now().Add(30 * time.Minute)
	if !fp.timeouts[0].Equal(want) {
		t.Fatalf("until = %v, want %v", fp.timeouts[0], want)
	}
}

func TestExecutorTimeoutPermanentCapped(t *testing.T) {
	ex, fp, _, _, settings := executorFixture()
	mins := -1
	act := Action{UserID: "target", Kind: KindTimeout, Reason: "r", TimeoutMinutes: &mins}
	if err := ex.Execute(context.Background(), settings, "g1", "c1", act); err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := ex.now().Add(28 * 24 * time.Hour)
	if len(fp.timeouts) != 1 || !fp.timeouts[0].Equal(want) {
		t.Fatalf("until = %v, want 28-day cap %v", fp.timeouts, want)
	}
}

func TestExecutorTimeoutZeroIsNoop(t *testing.T) {
	ex, fp, log, _, settings := executorFixture()
	for _, mins := range []*int{nil, intPtr(0)} {
		act := Action{UserID: "target", Kind: KindTimeout, Reason: "r", TimeoutMinutes: mins}
		if err := ex.Execute(context.Background(), settings, "g1", "c1", act); err != nil {
			t.Fatalf("execute: %v", err)
		}
	}
	if len(fp.timeouts) != 0 || len(log.records) != 0 {
		t.Fatalf("zero-duration timeout acted: %v %v", fp.timeouts, log.records)
	}
}

func intPtr(n int) *int { return &n }

func TestExecutorTemporaryBanSchedulesUnban(t *testing.T) {
	ex, fp, log, sched, settings := executorFixture()
	mins := 120
	act := Action{UserID: "target", Kind: KindBan, Reason: "r", BanMinutes: &mins}
	if err := ex.Execute(context.Background(), settings, "g1", "c1", act); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fp.banned) != 1 {
		t.Fatalf("banned = %v", fp.banned)
	}
	want := ex.now().Add(120 * time.Minute)
	if len(sched.scheduled) != 1 || !sched.scheduled[0].Equal(want) {
		t.Fatalf("scheduled = %v, want %v", sched.scheduled, want)
	}
	if len(log.records) != 1 || log.records[0].Duration != "120m" {
		t.Fatalf("records = %+v", log.records)
	}
}

func TestExecutorPermanentBanNoReversal(t *testing.T) {
	ex, fp, log, sched, settings := executorFixture()
	mins := -1
	act := Action{UserID: "target", Kind: KindBan, Reason: "r", BanMinutes: &mins}
	if err := ex.Execute(context.Background(), settings, "g1", "c1", act); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fp.banned) != 1 || len(sched.scheduled) != 0 {
		t.Fatalf("banned = %v scheduled = %v", fp.banned, sched.scheduled)
	}
	if len(log.records) != 1 || log.records[0].Duration != "permanent" {
		t.Fatalf("records = %+v", log.records)
	}
}

func TestExecutorUnbanCancelsReversal(t *testing.T) {
	ex, fp, _, sched, settings := executorFixture()
	act := Action{UserID: "target", Kind: KindUnban, Reason: "appeal"}
	if err := ex.Execute(context.Background(), settings, "g1", "", act); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fp.unbanned) != 1 || len(sched.cancelled) != 1 {
		t.Fatalf("unbanned = %v cancelled = %v", fp.unbanned, sched.cancelled)
	}
}

func TestExecutorGateBlocksSilently(t *testing.T) {
	ex, fp, log, _, settings := executorFixture()
	act := Action{UserID: "owner", Kind: KindKick, Reason: "r"}
	if err := ex.Execute(context.Background(), settings, "g1", "c1", act); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fp.kicked) != 0 || len(log.records) != 0 {
		t.Fatalf("gated action still ran: %v %v", fp.kicked, log.records)
	}
}

func TestExecutorWarnDMFallback(t *testing.T) {
	ex, fp, log, _, settings := executorFixture()
	fp.failDM = true
	act := Action{UserID: "target", Kind: KindWarn, Reason: "spam"}
	if err := ex.Execute(context.Background(), settings, "g1", "c1", act); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(fp.sent) != 1 {
		t.Fatalf("sent = %v, want channel fallback", fp.sent)
	}
	if len(log.records) != 1 {
		t.Fatalf("records = %+v", log.records)
	}
}
