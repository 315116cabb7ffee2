package moderation

import (
	"reflect"
	"testing"
)

func reconcileBatch() *ChannelBatch {
	return &ChannelBatch{
		ChannelID: "123",
		GuildID:   "g1",
		Users: []UserView{
			{
				UserID:   "A",
				Username: "alice",
				Messages: []BatchMessage{
					{Message: Message{ID: "m1", UserID: "A"}},
					{Message: Message{ID: "m2", UserID: "A"}},
					{Message: Message{ID: "h1", UserID: "A"}, History: true},
				},
			},
			{
				UserID:   "B",
				Username: "bob",
				Messages: []BatchMessage{
					{Message: Message{ID: "m3", UserID: "B"}},
				},
			},
		},
	}
}

func TestReconcileIntersection(t *testing.T) {
	actions := []Action{
		{UserID: "A", Kind: KindTimeout, MessageIDs: []string{"m1", "zzz"}},
	}
	got := ReconcileEvidence(actions, reconcileBatch())
	if len(got) != 1 {
		t.Fatalf("actions = %d, want 1", len(got))
	}
	if !reflect.DeepEqual(got[0].MessageIDs, []string{"m1"}) {
		t.Fatalf("evidence = %v, want [m1]", got[0].MessageIDs)
	}
}

func TestReconcileFallbackToAllUserMessages(t *testing.T) {
	for _, cited := range [][]string{nil, {"nope"}} {
		actions := []Action{{UserID: "A", Kind: KindWarn, MessageIDs: cited}}
		got := ReconcileEvidence(actions, reconcileBatch())
		if len(got) != 1 {
			t.Fatalf("cited %v: actions = %d, want 1", cited, len(got))
		}
		if !reflect.DeepEqual(got[0].MessageIDs, []string{"m1", "m2"}) {
			t.Fatalf("cited %v: evidence = %v, want all live ids", cited, got[0].MessageIDs)
		}
	}
}

func TestReconcileHistoryNeverEvidence(t *testing.T) {
	actions := []Action{{UserID: "A", Kind: KindDelete, MessageIDs: []string{"h1"}}}
	got := ReconcileEvidence(actions, reconcileBatch())
	if !reflect.DeepEqual(got[0].MessageIDs, []string{"m1", "m2"}) {
		t.Fatalf("evidence = %v, history id must not survive", got[0].MessageIDs)
	}
}

func TestReconcileDropsUnknownUser(t *testing.T) {
	actions := []Action{{UserID: "ghost", Kind: KindBan}}
	if got := ReconcileEvidence(actions, reconcileBatch()); len(got) != 0 {
		t.Fatalf("actions = %+v, want none", got)
	}
}

func TestReconcileDowngradeWithoutEvidence(t *testing.T) {
	mins := 30
	batch := &ChannelBatch{
		ChannelID: "123",
		Users: []UserView{{
			UserID: "C",
			Messages: []BatchMessage{
				{Message: Message{ID: "h9", UserID: "C"}, History: true},
			},
		}},
	}
	cases := []struct {
		in   Action
		want ActionKind
	}{
		{Action{UserID: "C", Kind: KindDelete}, KindNull},
		{Action{UserID: "C", Kind: KindTimeout, TimeoutMinutes: &mins}, KindWarn},
		{Action{UserID: "C", Kind: KindKick}, KindWarn},
		{Action{UserID: "C", Kind: KindBan, BanMinutes: &mins}, KindWarn},
	}
	for _, tc := range cases {
		got := ReconcileEvidence([]Action{tc.in}, batch)
		if len(got) != 1 {
			t.Fatalf("%s: actions = %d, want 1", tc.in.Kind, len(got))
		}
		if got[0].Kind != tc.want {
			t.Fatalf("%s downgraded to %s, want %s", tc.in.Kind, got[0].Kind, tc.want)
		}
		if got[0].TimeoutMinutes != nil || got[0].BanMinutes != nil {
			t.Fatalf("%s kept duration after downgrade", tc.in.Kind)
		}
	}
}

func TestReconcileWarnWithoutEvidenceSurvives(t *testing.T) {
	batch := &ChannelBatch{
		ChannelID: "123",
		Users:     []UserView{{UserID: "C"}},
	}
	got := ReconcileEvidence([]Action{{UserID: "C", Kind: KindWarn}}, batch)
	if len(got) != 1 || got[0].Kind != KindWarn {
		t.Fatalf("actions = %+v, want warn kept", got)
	}
}

func TestReconcileEndToEndShape(t *testing.T) {
	actions := []Action{
		{UserID: "A", Kind: KindTimeout, MessageIDs: []string{"m1"}},
		{UserID: "A", Kind: KindNull, MessageIDs: []string{"m2"}},
		{UserID: "B", Kind: KindWarn},
	}
	// Duplicate entries are merged upstream by the parser; here the two A
	// entries arrive pre-merged as one timeout citing both ids.
	merged := []Action{
		{UserID: "A", Kind: KindTimeout, MessageIDs: []string{"m1", "m2"}},
		actions[2],
	}
	got := ReconcileEvidence(merged, reconcileBatch())
	if len(got) != 2 {
		t.Fatalf("actions = %d, want 2", len(got))
	}
	if got[0].Kind != KindTimeout || !reflect.DeepEqual(got[0].MessageIDs, []string{"m1", "m2"}) {
		t.Fatalf("A = %+v", got[0])
	}
	if got[1].Kind != KindWarn || !reflect.DeepEqual(got[1].MessageIDs, []string{"m3"}) {
		t.Fatalf("B = %+v", got[1])
	}
}
