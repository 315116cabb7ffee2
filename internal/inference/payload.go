// Package inference builds decision-service requests, submits them through a
// micro-batching worker, and parses the verdicts that come back.
package inference

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/modgate/internal/moderation"
	"github.com/nextlevelbuilder/modgate/internal/store"
)

// ImageRef names one attachment payload slot in a request. Refs are ordered
// by first appearance of their hash across the batch; the decision service
// matches inline payloads to image_ids positionally through that order.
type ImageRef struct {
	Hash string
	URL  string
}

type wirePastAction struct {
	Action    string `json:"action"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

type wireMessage struct {
	MessageID string   `json:"message_id"`
	Timestamp string   `json:"timestamp,omitempty"`
	Content   string   `json:"content"`
	ImageIDs  []string `json:"image_ids"`
	IsHistory bool     `json:"is_history"`
}

type wireUser struct {
	UserID       string           `json:"user_id"`
	Username     string           `json:"username"`
	Roles        []string         `json:"roles"`
	JoinDate     *string          `json:"join_date"`
	MessageCount int              `json:"message_count"`
	Messages     []wireMessage    `json:"messages"`
	PastActions  []wirePastAction `json:"past_actions"`
}

type wirePayload struct {
	ChannelID       string     `json:"channel_id"`
	ChannelName     string     `json:"channel_name"`
	MessageCount    int        `json:"message_count"`
	UniqueUserCount int        `json:"unique_user_count"`
	TotalImages     int        `json:"total_images"`
	Users           []wireUser `json:"users"`
}

func wireTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func wirePast(records []store.ActionRecord) []wirePastAction {
	out := make([]wirePastAction, 0, len(records))
	for _, r := range records {
		out = append(out, wirePastAction{
			Action:    r.Action,
			Reason:    r.Reason,
			Timestamp: wireTimestamp(r.Timestamp),
			Duration:  r.Duration,
		})
	}
	return out
}

// BuildPayload serializes a channel batch into the decision-service wire
// document plus the ordered attachment references it cites. Messages carry
// only hashes; a hash shared by many messages contributes one ImageRef.
func BuildPayload(batch *moderation.ChannelBatch) ([]byte, []ImageRef, error) {
	var images []ImageRef
	seenHash := make(map[string]struct{})

	encodeUser := func(u *moderation.UserView) wireUser {
		msgs := make([]wireMessage, 0, len(u.Messages))
		for _, m := range u.Messages {
			imageIDs := make([]string, 0, len(m.Attachments))
			for _, att := range m.Attachments {
				imageIDs = append(imageIDs, att.Hash)
				if _, ok := seenHash[att.Hash]; !ok {
					seenHash[att.Hash] = struct{}{}
					images = append(images, ImageRef{Hash: att.Hash, URL: att.URL})
				}
			}
			content := m.Content
			if content == "" && len(imageIDs) > 0 {
				content = "[Images only]"
			}
			msgs = append(msgs, wireMessage{
				MessageID: m.ID,
				Timestamp: wireTimestamp(m.Timestamp),
				Content:   content,
				ImageIDs:  imageIDs,
				IsHistory: m.History,
			})
		}
		var join *string
		if u.JoinDate != nil {
			j := wireTimestamp(*u.JoinDate)
			join = &j
		}
		roles := u.Roles
		if roles == nil {
			roles = []string{}
		}
		return wireUser{
			UserID:       u.UserID,
			Username:     u.Username,
			Roles:        roles,
			JoinDate:     join,
			MessageCount: len(msgs),
			Messages:     msgs,
			PastActions:  wirePast(u.PastActions),
		}
	}

	users := make([]wireUser, 0, len(batch.Users)+len(batch.HistoryUsers))
	total := 0
	for i := range batch.Users {
		wu := encodeUser(&batch.Users[i])
		total += wu.MessageCount
		users = append(users, wu)
	}
	for i := range batch.HistoryUsers {
		wu := encodeUser(&batch.HistoryUsers[i])
		total += wu.MessageCount
		users = append(users, wu)
	}

	doc := wirePayload{
		ChannelID:       batch.ChannelID,
		ChannelName:     batch.ChannelName,
		MessageCount:    total,
		UniqueUserCount: len(users),
		TotalImages:     len(images),
		Users:           users,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal decision payload: %w", err)
	}
	return raw, images, nil
}
