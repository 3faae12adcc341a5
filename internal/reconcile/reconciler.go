// Package reconcile unifies optimistic sends and authoritative stream messages into one ordered list.
package reconcile

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/internal/store"
)

// tempSeq is shared by every reconciler in the process so temporary ids never repeat.
var tempSeq atomic.Uint64

// Outcome describes what happened to one incoming authoritative message.
type Outcome string

const (
	OutcomeInserted   Outcome = "inserted"
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeSummarized Outcome = "summarized"
	OutcomeRejected   Outcome = "rejected"
)

// Result pairs an incoming message id with its outcome. Replaced is the temporary id of the
// pending entry it confirmed, if any.
type Result struct {
	MessageID string
	ChatID    string
	Outcome   Outcome
	Replaced  string
}

// Reconciler is driven from the same goroutine that owns the store.
type Reconciler struct {
	store *store.ConversationStore
	now   func() time.Time

	// bound maps authoritative ids returned by the send API to pending temp ids.
	bound map[string]string
}

// New creates a reconciler over s.
func New(s *store.ConversationStore) *Reconciler {
	return &Reconciler{
		store: s,
		now:   time.Now,
		bound: make(map[string]string),
	}
}

// NewPending creates an optimistic entry for a locally issued send and appends it to the open chat.
func (r *Reconciler) NewPending(chatID string, content model.Content, agentName string) model.Message {
	seq := tempSeq.Add(1)
	m := model.Message{
		MessageID: model.TempIDPrefix + strconv.FormatUint(seq, 10),
		ChatID:    chatID,
		FromMe:    true,
		Content:   content,
		AgentName: agentName,
		Timestamp: r.now().Unix(),
		Pending:   true,
		Seq:       seq,
	}
	r.store.AppendMessages(chatID, m)
	return m
}

// Apply merges a batch of authoritative messages in order.
func (r *Reconciler) Apply(msgs []model.Message) []Result {
	results := make([]Result, 0, len(msgs))
	for _, m := range msgs {
		results = append(results, r.applyOne(m))
	}
	return results
}

func (r *Reconciler) applyOne(m model.Message) Result {
	res := Result{MessageID: m.MessageID, ChatID: m.ChatID}
	if m.ChatID == "" || m.MessageID == "" || m.IsTemp() {
		res.Outcome = OutcomeRejected
		return res
	}
	m.Pending = false
	m.Seq = 0

	open := m.ChatID == r.store.OpenChat()
	if open && r.store.HasMessage(m.MessageID) {
		res.Outcome = OutcomeDuplicate
		return res
	}
	r.summarize(m, open)
	if !open {
		res.Outcome = OutcomeSummarized
		return res
	}

	if tempID, ok := r.bound[m.MessageID]; ok {
		delete(r.bound, m.MessageID)
		if _, removed := r.store.RemoveMessage(m.ChatID, byID(tempID)); removed {
			r.store.AppendMessages(m.ChatID, m)
			res.Outcome = OutcomeConfirmed
			res.Replaced = tempID
			return res
		}
	}

	if m.FromMe {
		if pending, ok := r.oldestMatch(m); ok {
			r.store.RemoveMessage(m.ChatID, byID(pending.MessageID))
			r.unbindTemp(pending.MessageID)
			r.store.AppendMessages(m.ChatID, m)
			res.Outcome = OutcomeConfirmed
			res.Replaced = pending.MessageID
			return res
		}
	}

	r.store.AppendMessages(m.ChatID, m)
	res.Outcome = OutcomeInserted
	return res
}

// summarize keeps the chat summary current, creating the chat for a first-seen contact.
func (r *Reconciler) summarize(m model.Message, open bool) {
	patch := model.ChatPatch{ChatID: m.ChatID}
	conv, known := r.store.Chat(m.ChatID)
	if !known || m.Timestamp >= conv.LastMessageTimestamp {
		patch.LastMessageContent = model.Ptr(m.Content.Preview())
		patch.LastMessageTimestamp = model.Ptr(m.Timestamp)
	}
	if !m.FromMe {
		if (!known || conv.ContactName == "") && m.SenderDisplayName != "" {
			patch.ContactName = model.Ptr(m.SenderDisplayName)
		}
		if !open {
			patch.UnreadCount = model.Ptr(conv.UnreadCount + 1)
		}
	}
	// The patch carries no ownership fragment, so it cannot fail validation.
	_, _ = r.store.UpsertChat(patch)
}

// oldestMatch finds the pending entry an authoritative fromMe message confirms.
// Text matches identical text; image matches any pending image. Entries already bound to
// another authoritative id are only taken when no unbound entry matches.
func (r *Reconciler) oldestMatch(m model.Message) (model.Message, bool) {
	bound := make(map[string]bool, len(r.bound))
	for _, tempID := range r.bound {
		bound[tempID] = true
	}

	var best, fallback model.Message
	found, haveFallback := false, false
	for _, p := range r.store.Messages() {
		if !p.Pending || p.ChatID != m.ChatID || p.Content.Kind != m.Content.Kind {
			continue
		}
		switch m.Content.Kind {
		case model.KindText:
			if p.Content.Text != m.Content.Text {
				continue
			}
		case model.KindImage:
		default:
			// Product cards carry no echo contract; only an id binding confirms them.
			continue
		}
		if bound[p.MessageID] {
			if !haveFallback || p.Seq < fallback.Seq {
				fallback = p
				haveFallback = true
			}
			continue
		}
		if !found || p.Seq < best.Seq {
			best = p
			found = true
		}
	}
	if !found {
		return fallback, haveFallback
	}
	return best, true
}

// ApplyUpdate patches mediaUrl on the message with the given id. Unknown ids are a silent no-op.
func (r *Reconciler) ApplyUpdate(u model.MessageUpdate) bool {
	set := func(m *model.Message) { m.Content.MediaURL = u.MediaURL }
	if r.store.PatchMessage(u.MessageID, set) {
		return true
	}
	if tempID, ok := r.bound[u.MessageID]; ok {
		return r.store.PatchMessage(tempID, set)
	}
	return false
}

// Bind records the authoritative id returned by the send API for a pending entry.
// When the echo already arrived, the leftover pending entry is dropped.
func (r *Reconciler) Bind(chatID, tempID, messageID string) {
	if messageID == "" {
		return
	}
	if _, ok := r.store.Message(tempID); !ok {
		return
	}
	if r.store.HasMessage(messageID) {
		r.store.RemoveMessage(chatID, byID(tempID))
		return
	}
	r.bound[messageID] = tempID
}

// Fail removes an orphaned pending entry after its send request failed.
func (r *Reconciler) Fail(chatID, tempID string) bool {
	r.unbindTemp(tempID)
	_, ok := r.store.RemoveMessage(chatID, byID(tempID))
	return ok
}

// Reset drops id bindings; called when the open chat changes.
func (r *Reconciler) Reset() {
	r.bound = make(map[string]string)
}

func (r *Reconciler) unbindTemp(tempID string) {
	for id, t := range r.bound {
		if t == tempID {
			delete(r.bound, id)
		}
	}
}

func byID(id string) func(*model.Message) bool {
	return func(m *model.Message) bool { return m.MessageID == id }
}
