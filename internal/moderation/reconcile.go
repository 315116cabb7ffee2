package moderation

import "log/slog"

// ReconcileEvidence aligns model-cited evidence with what the batch actually
// contains. Actions for users outside the batch are dropped. Cited message
// ids are intersected with the user's live message ids; a citation set that
// misses entirely, or an empty one, falls back to everything the user sent
// this round. An action that needs evidence but ends up with none is
// downgraded: a delete becomes a no-op, anything else becomes a warning.
func ReconcileEvidence(actions []Action, batch *ChannelBatch) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		user := batch.FindUser(a.UserID)
		if user == nil {
			slog.Warn("verdict for user absent from batch dropped",
				"channel_id", batch.ChannelID, "user_id", a.UserID)
			continue
		}

		valid := user.MessageIDs()
		validSet := make(map[string]struct{}, len(valid))
		for _, id := range valid {
			validSet[id] = struct{}{}
		}

		var evidence []string
		for _, id := range a.MessageIDs {
			if _, ok := validSet[id]; ok {
				evidence = append(evidence, id)
			}
		}
		if len(evidence) == 0 {
			// Either the model cited nothing or nothing it cited exists.
			evidence = append(evidence, valid...)
		}

		a.MessageIDs = evidence
		if len(evidence) == 0 && a.Kind.RequiresEvidence() {
			downgraded := KindWarn
			if a.Kind == KindDelete {
				downgraded = KindNull
			}
			slog.Warn("action without evidence downgraded",
				"channel_id", batch.ChannelID, "user_id", a.UserID,
				"from", string(a.Kind), "to", string(downgraded))
			a.Kind = downgraded
			a.TimeoutMinutes = nil
			a.BanMinutes = nil
		}
		out = append(out, a)
	}
	return out
}
