package inference

import (
	"testing"

	"github.com/nextlevelbuilder/modgate/internal/moderation"
)

func TestParseActionsFencedProse(t *testing.T) {
	text := "Reviewing the batch now.\n```json\n" +
		`{"channel_id":"123","users":[{"user_id":"7","action":"warn","reason":"spam","message_ids_to_delete":["m1","m2"],"timeout_duration":0,"ban_duration":0}]}` +
		"\n```\nDone."
	actions := ParseActions(text, "123")
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}
	a := actions[0]
	if a.UserID != "7" || a.Kind != moderation.KindWarn || a.Reason != "spam" {
		t.Fatalf("unexpected action %+v", a)
	}
	if len(a.MessageIDs) != 2 {
		t.Fatalf("message_ids = %v", a.MessageIDs)
	}
}

func TestParseActionsWireEvidenceKey(t *testing.T) {
	text := `{"channel_id":"123","users":[{"user_id":"7","action":"delete","reason":"spam","message_ids_to_delete":["m1"],"timeout_duration":0,"ban_duration":0}]}`
	actions := ParseActions(text, "123")
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}
	if got := actions[0].MessageIDs; len(got) != 1 || got[0] != "m1" {
		t.Fatalf("cited evidence lost: MessageIDs = %v, want [m1]", got)
	}
}

func TestParseActionsEvidenceAlias(t *testing.T) {
	text := `{"channel_id":"123","users":[{"user_id":"7","action":"delete","reason":"spam","message_ids":["m1"],"timeout_duration":0,"ban_duration":0}]}`
	actions := ParseActions(text, "123")
	if len(actions) != 1 || len(actions[0].MessageIDs) != 1 || actions[0].MessageIDs[0] != "m1" {
		t.Fatalf("actions = %+v, want alias key accepted", actions)
	}
}

func TestParseActionsLastObjectWins(t *testing.T) {
	text := `{"channel_id":"123","users":[{"user_id":"1","action":"ban","reason":"x","message_ids_to_delete":["m1"],"timeout_duration":0,"ban_duration":-1}]}` +
		` ignore that, final answer: ` +
		`{"channel_id":"123","users":[{"user_id":"1","action":"warn","reason":"y","message_ids_to_delete":[],"timeout_duration":0,"ban_duration":0}]}`
	actions := ParseActions(text, "123")
	if len(actions) != 1 || actions[0].Kind != moderation.KindWarn {
		t.Fatalf("actions = %+v, want single warn", actions)
	}
}

func TestParseActionsChannelMismatch(t *testing.T) {
	text := `{"channel_id":"999","users":[{"user_id":"1","action":"warn","reason":"x","message_ids_to_delete":[],"timeout_duration":0,"ban_duration":0}]}`
	if actions := ParseActions(text, "123"); len(actions) != 0 {
		t.Fatalf("actions = %+v, want none", actions)
	}
}

func TestParseActionsNoJSON(t *testing.T) {
	if actions := ParseActions("I cannot help with that.", "123"); len(actions) != 0 {
		t.Fatalf("actions = %+v, want none", actions)
	}
}

func TestParseActionsNumericCoercion(t *testing.T) {
	text := `{"channel_id":123,"users":[{"user_id":42,"action":"timeout","reason":"r","message_ids_to_delete":[101],"timeout_duration":"60","ban_duration":0}]}`
	actions := ParseActions(text, "123")
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}
	a := actions[0]
	if a.UserID != "42" {
		t.Fatalf("user_id = %q", a.UserID)
	}
	if len(a.MessageIDs) != 1 || a.MessageIDs[0] != "101" {
		t.Fatalf("message_ids = %v", a.MessageIDs)
	}
	if a.TimeoutMinutes == nil || *a.TimeoutMinutes != 60 {
		t.Fatalf("timeout = %v", a.TimeoutMinutes)
	}
}

func TestParseActionsJunkDuration(t *testing.T) {
	text := `{"channel_id":"123","users":[{"user_id":"1","action":"ban","reason":"r","message_ids_to_delete":["m1"],"timeout_duration":0,"ban_duration":"forever"}]}`
	actions := ParseActions(text, "123")
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}
	if actions[0].BanMinutes != nil {
		t.Fatalf("ban minutes = %v, want nil", *actions[0].BanMinutes)
	}
}

func TestParseActionsMissingKeysRejectsPayload(t *testing.T) {
	text := `{"channel_id":"123","users":[{"user_id":"1","action":"ban"}]}`
	if actions := ParseActions(text, "123"); len(actions) != 0 {
		t.Fatalf("actions = %+v, want whole payload rejected", actions)
	}
}

func TestParseActionsMissingChannelIDRejectsPayload(t *testing.T) {
	text := `{"users":[{"user_id":"1","action":"warn","reason":"spam","message_ids_to_delete":[],"timeout_duration":0,"ban_duration":0}]}`
	if actions := ParseActions(text, "123"); len(actions) != 0 {
		t.Fatalf("actions = %+v, want whole payload rejected", actions)
	}
}

func TestParseActionsUnknownKindRejectsPayload(t *testing.T) {
	text := `{"channel_id":"123","users":[` +
		`{"user_id":"1","action":"obliterate","reason":"r","message_ids_to_delete":[],"timeout_duration":0,"ban_duration":0},` +
		`{"user_id":"2","action":"warn","reason":"spam","message_ids_to_delete":[],"timeout_duration":0,"ban_duration":0}` +
		`]}`
	if actions := ParseActions(text, "123"); len(actions) != 0 {
		t.Fatalf("actions = %+v, want whole payload rejected", actions)
	}
}

func TestParseActionsUnbanRejected(t *testing.T) {
	text := `{"channel_id":"123","users":[{"user_id":"1","action":"unban","reason":"r","message_ids_to_delete":[],"timeout_duration":0,"ban_duration":0}]}`
	if actions := ParseActions(text, "123"); len(actions) != 0 {
		t.Fatalf("actions = %+v, want unban refused at the wire boundary", actions)
	}
}

func TestParseActionsJunkReasonNormalized(t *testing.T) {
	for _, junk := range []string{"", "n/a", "NULL", "...", "12345"} {
		text := `{"channel_id":"123","users":[{"user_id":"1","action":"warn","reason":"` + junk + `","message_ids_to_delete":[],"timeout_duration":0,"ban_duration":0}]}`
		actions := ParseActions(text, "123")
		if len(actions) != 1 || actions[0].Reason != defaultReason {
			t.Fatalf("reason %q: actions = %+v, want normalized default", junk, actions)
		}
	}
}

func TestParseActionsDuplicateUserMerge(t *testing.T) {
	text := `{"channel_id":"123","users":[` +
		`{"user_id":"1","action":"null","reason":"","message_ids_to_delete":["m1"],"timeout_duration":0,"ban_duration":0},` +
		`{"user_id":"1","action":"ban","reason":"spam","message_ids_to_delete":["m2"],"timeout_duration":0,"ban_duration":60},` +
		`{"user_id":"1","action":"warn","reason":"rude","message_ids_to_delete":["m3"],"timeout_duration":0,"ban_duration":0},` +
		`{"user_id":"1","action":"null","reason":"noise","message_ids_to_delete":["m4"],"timeout_duration":0,"ban_duration":0}` +
		`]}`
	actions := ParseActions(text, "123")
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}
	a := actions[0]
	if a.Kind != moderation.KindBan {
		t.Fatalf("kind = %v, want the first real action kept", a.Kind)
	}
	if a.Reason != "rude" {
		t.Fatalf("reason = %q, want the later real entry's reason", a.Reason)
	}
	if a.BanMinutes == nil || *a.BanMinutes != 60 {
		t.Fatalf("ban minutes = %v, want 60", a.BanMinutes)
	}
	if len(a.MessageIDs) != 4 {
		t.Fatalf("message_ids = %v, want union of four", a.MessageIDs)
	}
}
