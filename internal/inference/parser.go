package inference

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/nextlevelbuilder/modgate/internal/moderation"
)

const defaultReason = "Automated moderation action"

// extractJSON returns the last balanced top-level JSON object embedded in the
// text. Models wrap verdicts in prose and code fences; anything before the
// final object is commentary.
func extractJSON(text string) (string, bool) {
	text = strings.ReplaceAll(text, "```json", "```")
	text = strings.ReplaceAll(text, "```", "")

	last := ""
	depth := 0
	start := -1
	inString := false
	escaped := false
	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						last = candidate
					}
					start = -1
				}
			}
		}
	}
	if last == "" {
		return "", false
	}
	return last, true
}

// coerceString renders a JSON scalar as a string. Models sometimes emit
// numeric ids; those round-trip through the raw token to keep precision.
func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// coerceMinutes parses a duration field into whole minutes. Junk values and
// non-numeric strings mean no duration rather than an error.
func coerceMinutes(v any) *int {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		n := int(f)
		return &n
	case float64:
		n := int(t)
		return &n
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		n := int(f)
		return &n
	default:
		return nil
	}
}

// normalizeReason replaces junk model reasons ("", "n/a", strings with no
// letters) with a usable default.
func normalizeReason(raw string) string {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "n/a", "null", "none":
		return defaultReason
	}
	for _, r := range s {
		if unicode.IsLetter(r) {
			return s
		}
	}
	return defaultReason
}

// requiredEntryKeys must all be present on every user entry. Evidence ids
// travel under "message_ids_to_delete" and are checked separately because
// "message_ids" is accepted as a lenient alias.
var requiredEntryKeys = []string{"user_id", "action", "reason", "timeout_duration", "ban_duration"}

// wireKind maps a wire action string onto the vocabulary the decision
// service may emit. "unban" is deliberately absent: reversals are scheduled
// by the executor, never commanded by the model.
func wireKind(s string) (moderation.ActionKind, bool) {
	switch k := moderation.ActionKind(s); k {
	case moderation.KindNull, moderation.KindWarn, moderation.KindDelete,
		moderation.KindTimeout, moderation.KindKick, moderation.KindBan,
		moderation.KindReview:
		return k, true
	}
	return moderation.KindNull, false
}

// entryEvidence returns the entry's cited message ids. The wire key is
// "message_ids_to_delete"; "message_ids" is tolerated as an alias.
func entryEvidence(e map[string]any) (any, bool) {
	if v, ok := e["message_ids_to_delete"]; ok {
		return v, true
	}
	v, ok := e["message_ids"]
	return v, ok
}

// validateVerdict checks the payload against the fixed response schema:
// channel_id and users present, every entry an object carrying all required
// keys, evidence an array, action inside the vocabulary. Any violation
// rejects the whole payload.
func validateVerdict(payload map[string]any) ([]map[string]any, error) {
	if _, ok := payload["channel_id"]; !ok {
		return nil, fmt.Errorf("missing channel_id")
	}
	rawUsers, ok := payload["users"]
	if !ok {
		return nil, fmt.Errorf("missing users array")
	}
	list, ok := rawUsers.([]any)
	if !ok {
		return nil, fmt.Errorf("users is not an array")
	}

	entries := make([]map[string]any, 0, len(list))
	for i, raw := range list {
		e, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entry %d is not an object", i)
		}
		for _, k := range requiredEntryKeys {
			if _, ok := e[k]; !ok {
				return nil, fmt.Errorf("entry %d missing %q", i, k)
			}
		}
		ids, ok := entryEvidence(e)
		if !ok {
			return nil, fmt.Errorf("entry %d missing \"message_ids_to_delete\"", i)
		}
		if _, ok := ids.([]any); !ok {
			return nil, fmt.Errorf("entry %d evidence is not an array", i)
		}
		rawKind := strings.ToLower(strings.TrimSpace(coerceString(e["action"])))
		if _, ok := wireKind(rawKind); !ok {
			return nil, fmt.Errorf("entry %d action %q outside vocabulary", i, rawKind)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ParseActions extracts per-user actions from a raw model response for the
// given channel. A response naming a different channel, carrying no
// parseable object, or violating the response schema yields an empty slice,
// never an error: a bad verdict is a no-op round.
func ParseActions(text, channelID string) []moderation.Action {
	doc, ok := extractJSON(text)
	if !ok {
		slog.Warn("no verdict object in model response", "channel_id", channelID)
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		slog.Warn("verdict decode failed", "channel_id", channelID, "error", err)
		return nil
	}

	entries, err := validateVerdict(payload)
	if err != nil {
		slog.Warn("verdict failed schema validation",
			"channel_id", channelID, "error", err)
		return nil
	}

	if got := coerceString(payload["channel_id"]); got != "" && got != channelID {
		slog.Warn("verdict for wrong channel discarded",
			"want", channelID, "got", got)
		return nil
	}

	var ordered []string
	byUser := make(map[string]*moderation.Action)
	for _, e := range entries {
		uid := coerceString(e["user_id"])
		if uid == "" {
			continue
		}
		rawKind := strings.ToLower(strings.TrimSpace(coerceString(e["action"])))
		kind, _ := wireKind(rawKind)
		reason := normalizeReason(coerceString(e["reason"]))

		rawIDs, _ := entryEvidence(e)
		list, _ := rawIDs.([]any)
		ids := make([]string, 0, len(list))
		for _, m := range list {
			if s := coerceString(m); s != "" {
				ids = append(ids, s)
			}
		}

		existing, ok := byUser[uid]
		if !ok {
			act := &moderation.Action{
				UserID: uid,
				Kind:   kind,
				Reason: reason,
			}
			act.AddMessageIDs(ids...)
			if kind == moderation.KindTimeout {
				act.TimeoutMinutes = coerceMinutes(e["timeout_duration"])
			}
			if kind == moderation.KindBan {
				act.BanMinutes = coerceMinutes(e["ban_duration"])
			}
			byUser[uid] = act
			ordered = append(ordered, uid)
			continue
		}

		// Duplicate verdicts for one user merge: evidence is unioned, the
		// first real action wins, and later real entries refresh the reason
		// and contribute their own durations. A later NULL only contributes
		// evidence.
		existing.AddMessageIDs(ids...)
		if kind != moderation.KindNull {
			if existing.Kind == moderation.KindNull {
				existing.Kind = kind
			}
			existing.Reason = reason
		}
		if kind == moderation.KindTimeout {
			if d := coerceMinutes(e["timeout_duration"]); d != nil {
				existing.TimeoutMinutes = d
			}
		}
		if kind == moderation.KindBan {
			if d := coerceMinutes(e["ban_duration"]); d != nil {
				existing.BanMinutes = d
			}
		}
	}

	out := make([]moderation.Action, 0, len(ordered))
	for _, uid := range ordered {
		out = append(out, *byUser[uid])
	}
	return out
}
