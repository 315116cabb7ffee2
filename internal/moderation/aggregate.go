package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// AttachmentHash returns the 8-hex-char content hash used to address
// attachment payloads. Identical bytes always collapse to the same hash.
func AttachmentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:4])
}

// AttachmentHashFromURL derives a stable hash for an attachment that has not
// been downloaded yet, keyed by its URL.
func AttachmentHashFromURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:4])
}

// AttachmentFetcher downloads attachment bytes for one URL.
type AttachmentFetcher func(ctx context.Context, url string) ([]byte, error)

// AttachmentSet resolves attachment payloads at most once per content hash
// within a round. Every message referencing the same hash shares the one
// resolved payload.
type AttachmentSet struct {
	mu       sync.Mutex
	fetch    AttachmentFetcher
	resolved map[string][]byte
	order    []string // first-seen hash order, drives payload indexing
}

// NewAttachmentSet returns an empty set backed by fetch.
func NewAttachmentSet(fetch AttachmentFetcher) *AttachmentSet {
	return &AttachmentSet{
		fetch:    fetch,
		resolved: make(map[string][]byte),
	}
}

// Resolve fetches the payload for ref unless its hash was already resolved
// this round. Fetch failures leave the hash unresolved; the reference still
// rides the wire by hash.
func (s *AttachmentSet) Resolve(ctx context.Context, ref AttachmentRef) ([]byte, error) {
	s.mu.Lock()
	if data, ok := s.resolved[ref.Hash]; ok {
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()

	data, err := s.fetch(ctx, ref.URL)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prior, ok := s.resolved[ref.Hash]; ok {
		return prior, nil
	}
	s.resolved[ref.Hash] = data
	s.order = append(s.order, ref.Hash)
	return data, nil
}

// Payloads returns the resolved payloads in first-seen hash order, parallel
// to the hash order embedded in the wire payload.
func (s *AttachmentSet) Payloads() (hashes []string, payloads [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hashes = append(hashes, s.order...)
	for _, h := range s.order {
		payloads = append(payloads, s.resolved[h])
	}
	return hashes, payloads
}

// AggregateUsers groups the round's messages by author, preserving the order
// in which each author first appeared. Username is taken from the author's
// first message.
func AggregateUsers(messages []Message) []UserView {
	var order []string
	byUser := make(map[string]*UserView)

	for _, msg := range messages {
		view, ok := byUser[msg.UserID]
		if !ok {
			view = &UserView{UserID: msg.UserID, Username: msg.Username}
			byUser[msg.UserID] = view
			order = append(order, msg.UserID)
		}
		view.Messages = append(view.Messages, BatchMessage{Message: msg})
	}

	users := make([]UserView, 0, len(order))
	for _, id := range order {
		users = append(users, *byUser[id])
	}
	return users
}

// MergeHistory folds history messages into the current-round views. A
// message present in both current and history belongs to current only;
// history-only authors become history users. Returned history views carry
// messages flagged History=true.
func MergeHistory(current []UserView, history []Message) []UserView {
	currentIDs := make(map[string]struct{})
	currentUsers := make(map[string]*UserView, len(current))
	for i := range current {
		currentUsers[current[i].UserID] = &current[i]
		for _, m := range current[i].Messages {
			currentIDs[m.ID] = struct{}{}
		}
	}

	var order []string
	historyViews := make(map[string]*UserView)

	for _, msg := range history {
		if _, dup := currentIDs[msg.ID]; dup {
			continue
		}
		tagged := BatchMessage{Message: msg, History: true}
		if view, ok := currentUsers[msg.UserID]; ok {
			view.Messages = append(view.Messages, tagged)
			continue
		}
		view, ok := historyViews[msg.UserID]
		if !ok {
			view = &UserView{UserID: msg.UserID, Username: msg.Username}
			historyViews[msg.UserID] = view
			order = append(order, msg.UserID)
		}
		view.Messages = append(view.Messages, tagged)
	}

	views := make([]UserView, 0, len(order))
	for _, id := range order {
		views = append(views, *historyViews[id])
	}
	return views
}
