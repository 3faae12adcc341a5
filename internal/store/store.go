// Package store holds the client-side cache of chats and the open chat's messages.
//
// A ConversationStore is not safe for concurrent use. It is owned by the console
// controller and mutated only from its single consumer goroutine.
package store

import (
	"sort"

	"github.com/capitalize-ai/inbox-console/internal/model"
)

// ConversationStore is the single mutable source of truth for chats and the open chat.
type ConversationStore struct {
	chats map[string]*model.Conversation

	openChatID string
	generation uint64
	messages   []model.Message
}

// New creates an empty store.
func New() *ConversationStore {
	return &ConversationStore{
		chats: make(map[string]*model.Conversation),
	}
}

// UpsertChat merges patch into the chat with the same id, creating it if absent.
// A patch carrying an inconsistent ownership fragment is rejected.
func (s *ConversationStore) UpsertChat(patch model.ChatPatch) (model.Conversation, error) {
	if patch.ChatID == "" {
		return model.Conversation{}, model.NewValidationError("chatId", "required")
	}
	if patch.Ownership != nil && !patch.Ownership.Valid() {
		return model.Conversation{}, model.NewValidationError("ownership", "assignedAgentId must be set exactly when humanTakeover is true")
	}

	conv, ok := s.chats[patch.ChatID]
	if !ok {
		conv = &model.Conversation{ChatID: patch.ChatID, Status: model.StatusOpen, Priority: model.PriorityNormal}
		s.chats[patch.ChatID] = conv
	}
	applyPatch(conv, patch)
	return conv.Clone(), nil
}

func applyPatch(c *model.Conversation, p model.ChatPatch) {
	setString(&c.DeviceID, p.DeviceID)
	setString(&c.ContactName, p.ContactName)
	setString(&c.Name, p.Name)
	setString(&c.PhoneNumber, p.PhoneNumber)
	setString(&c.ProfilePictureURL, p.ProfilePictureURL)
	setString(&c.LastMessageContent, p.LastMessageContent)
	setString(&c.Notes, p.Notes)
	setString(&c.PurchaseIntentStage, p.PurchaseIntentStage)
	if p.LastMessageTimestamp != nil {
		c.LastMessageTimestamp = *p.LastMessageTimestamp
	}
	if p.UnreadCount != nil {
		c.UnreadCount = *p.UnreadCount
	}
	if p.Ownership != nil {
		c.HumanTakeover = p.Ownership.HumanTakeover
		c.AssignedAgentID = p.Ownership.AssignedAgentID
		c.AssignedAgentName = p.Ownership.AssignedAgentName
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.Priority != nil {
		c.Priority = *p.Priority
	}
	if p.Labels != nil {
		c.Labels = append([]string(nil), p.Labels...)
	}
	if p.PurchaseIntentScore != nil {
		c.PurchaseIntentScore = *p.PurchaseIntentScore
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Chat returns a copy of the chat with the given id.
func (s *ConversationStore) Chat(chatID string) (model.Conversation, bool) {
	conv, ok := s.chats[chatID]
	if !ok {
		return model.Conversation{}, false
	}
	return conv.Clone(), true
}

// Chats returns copies of all chats in no particular order.
func (s *ConversationStore) Chats() []model.Conversation {
	out := make([]model.Conversation, 0, len(s.chats))
	for _, conv := range s.chats {
		out = append(out, conv.Clone())
	}
	return out
}

// RestoreOwnership puts back the ownership fields captured before an optimistic transition.
// Notes revert to notes only while they still hold the optimistic value, so an edit made
// in the meantime survives the rollback.
func (s *ConversationStore) RestoreOwnership(chatID string, own model.Ownership, notes, optimisticNotes string) bool {
	conv, ok := s.chats[chatID]
	if !ok {
		return false
	}
	conv.HumanTakeover = own.HumanTakeover
	conv.AssignedAgentID = own.AssignedAgentID
	conv.AssignedAgentName = own.AssignedAgentName
	if conv.Notes == optimisticNotes {
		conv.Notes = notes
	}
	return true
}

// SetOpenChat switches the active conversation and clears the previous chat's messages.
// It returns the generation that a later LoadHistory must present.
func (s *ConversationStore) SetOpenChat(chatID string) uint64 {
	s.openChatID = chatID
	s.generation++
	s.messages = nil
	if conv, ok := s.chats[chatID]; ok {
		conv.UnreadCount = 0
	}
	return s.generation
}

// OpenChat returns the id of the open chat, or "" when none is open.
func (s *ConversationStore) OpenChat() string {
	return s.openChatID
}

// Generation returns the current open-chat generation.
func (s *ConversationStore) Generation() uint64 {
	return s.generation
}

// Messages returns a copy of the open chat's messages in display order.
func (s *ConversationStore) Messages() []model.Message {
	return append([]model.Message(nil), s.messages...)
}

// HasMessage reports whether the open chat holds a message with the given id.
func (s *ConversationStore) HasMessage(messageID string) bool {
	return s.indexOf(messageID) >= 0
}

// Message returns the open chat's message with the given id.
func (s *ConversationStore) Message(messageID string) (model.Message, bool) {
	i := s.indexOf(messageID)
	if i < 0 {
		return model.Message{}, false
	}
	return s.messages[i], true
}

func (s *ConversationStore) indexOf(messageID string) int {
	for i := range s.messages {
		if s.messages[i].MessageID == messageID {
			return i
		}
	}
	return -1
}

// AppendMessages inserts messages into the open chat keeping non-decreasing timestamp order.
// Messages for any other chat are ignored. It returns the number inserted.
func (s *ConversationStore) AppendMessages(chatID string, msgs ...model.Message) int {
	if chatID == "" || chatID != s.openChatID {
		return 0
	}
	for _, m := range msgs {
		s.insertOrdered(m)
	}
	return len(msgs)
}

// insertOrdered places m after every message whose timestamp is not greater than its own.
func (s *ConversationStore) insertOrdered(m model.Message) {
	i := sort.Search(len(s.messages), func(i int) bool {
		return s.messages[i].Timestamp > m.Timestamp
	})
	s.messages = append(s.messages, model.Message{})
	copy(s.messages[i+1:], s.messages[i:])
	s.messages[i] = m
}

// RemoveMessage removes the first open-chat message matching pred.
func (s *ConversationStore) RemoveMessage(chatID string, pred func(*model.Message) bool) (model.Message, bool) {
	if chatID != s.openChatID {
		return model.Message{}, false
	}
	for i := range s.messages {
		if pred(&s.messages[i]) {
			removed := s.messages[i]
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return removed, true
		}
	}
	return model.Message{}, false
}

// PatchMessage applies fn to the open-chat message with the given id. Unknown ids are a no-op.
func (s *ConversationStore) PatchMessage(messageID string, fn func(*model.Message)) bool {
	i := s.indexOf(messageID)
	if i < 0 {
		return false
	}
	fn(&s.messages[i])
	return true
}

// LoadHistory installs a fetched history page for the open chat. The result is discarded when
// the user has navigated away since the fetch started. The page may arrive newest-first; it is
// normalized to ascending timestamps. Pending entries and live messages absent from the page are kept.
func (s *ConversationStore) LoadHistory(chatID string, generation uint64, page []model.Message) bool {
	if chatID != s.openChatID || generation != s.generation {
		return false
	}

	history := make([]model.Message, 0, len(page))
	seen := make(map[string]bool, len(page))
	for _, m := range page {
		if m.MessageID == "" || seen[m.MessageID] {
			continue
		}
		seen[m.MessageID] = true
		m.ChatID = chatID
		m.Pending = false
		history = append(history, m)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp < history[j].Timestamp
	})
	if isDescending(page) {
		// Equal timestamps in a newest-first page must keep their chronological order.
		reverseEqualRuns(history)
	}

	live := s.messages
	s.messages = history
	for _, m := range live {
		if !seen[m.MessageID] {
			s.insertOrdered(m)
		}
	}
	return true
}

func isDescending(page []model.Message) bool {
	if len(page) < 2 {
		return false
	}
	return page[0].Timestamp > page[len(page)-1].Timestamp
}

func reverseEqualRuns(msgs []model.Message) {
	for start := 0; start < len(msgs); {
		end := start + 1
		for end < len(msgs) && msgs[end].Timestamp == msgs[start].Timestamp {
			end++
		}
		for i, j := start, end-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
		start = end
	}
}

// PendingCount returns the number of unconfirmed optimistic messages in the open chat.
func (s *ConversationStore) PendingCount() int {
	n := 0
	for i := range s.messages {
		if s.messages[i].Pending {
			n++
		}
	}
	return n
}
