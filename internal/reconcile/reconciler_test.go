package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/internal/store"
)

func setup(t *testing.T, chatID string) (*Reconciler, *store.ConversationStore) {
	t.Helper()
	s := store.New()
	_, err := s.UpsertChat(model.ChatPatch{ChatID: chatID})
	require.NoError(t, err)
	s.SetOpenChat(chatID)
	r := New(s)
	r.now = func() time.Time { return time.Unix(1000, 0) }
	return r, s
}

func authoritative(id, chatID, text string, ts int64) model.Message {
	return model.Message{MessageID: id, ChatID: chatID, FromMe: true, Content: model.TextContent(text), Timestamp: ts}
}

func TestNewPending_TempIDsAreMonotonic(t *testing.T) {
	r, s := setup(t, "c1")

	a := r.NewPending("c1", model.TextContent("one"), "Alice")
	b := r.NewPending("c1", model.TextContent("two"), "Alice")

	assert.True(t, a.IsTemp())
	assert.True(t, a.Pending)
	assert.Less(t, a.Seq, b.Seq)
	assert.NotEqual(t, a.MessageID, b.MessageID)
	assert.Equal(t, 2, s.PendingCount())
}

func TestApply_DuplicateSuppression(t *testing.T) {
	r, s := setup(t, "c1")
	m := model.Message{MessageID: "m1", ChatID: "c1", Content: model.TextContent("hello"), Timestamp: 10}

	res := r.Apply([]model.Message{m, m})
	require.Len(t, res, 2)
	assert.Equal(t, OutcomeInserted, res[0].Outcome)
	assert.Equal(t, OutcomeDuplicate, res[1].Outcome)

	res = r.Apply([]model.Message{m})
	assert.Equal(t, OutcomeDuplicate, res[0].Outcome)
	assert.Len(t, s.Messages(), 1)
}

func TestApply_HiThereConvergesToAuthoritative(t *testing.T) {
	r, s := setup(t, "C")
	r.NewPending("C", model.TextContent("Hi there"), "Alice")

	res := r.Apply([]model.Message{authoritative("abc123", "C", "Hi there", 1001)})
	require.Len(t, res, 1)
	assert.Equal(t, OutcomeConfirmed, res[0].Outcome)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "abc123", msgs[0].MessageID)
	assert.Equal(t, "Hi there", msgs[0].Content.Text)
	assert.False(t, msgs[0].Pending)
	assert.Equal(t, 0, s.PendingCount())
}

func TestApply_TextMatchesOldestIdentical(t *testing.T) {
	r, s := setup(t, "c1")
	first := r.NewPending("c1", model.TextContent("ok"), "")
	r.NewPending("c1", model.TextContent("other"), "")
	second := r.NewPending("c1", model.TextContent("ok"), "")

	res := r.Apply([]model.Message{authoritative("m1", "c1", "ok", 1001)})
	assert.Equal(t, first.MessageID, res[0].Replaced)

	res = r.Apply([]model.Message{authoritative("m2", "c1", "ok", 1002)})
	assert.Equal(t, second.MessageID, res[0].Replaced)
	assert.Equal(t, 1, s.PendingCount())
}

func TestApply_TextWithoutMatchIsInserted(t *testing.T) {
	r, s := setup(t, "c1")
	r.NewPending("c1", model.TextContent("draft"), "")

	res := r.Apply([]model.Message{authoritative("m1", "c1", "different", 1001)})
	assert.Equal(t, OutcomeInserted, res[0].Outcome)
	assert.Len(t, s.Messages(), 2)
	assert.Equal(t, 1, s.PendingCount())
}

func TestApply_InboundNeverMatchesPending(t *testing.T) {
	r, s := setup(t, "c1")
	r.NewPending("c1", model.TextContent("hi"), "")

	in := authoritative("m1", "c1", "hi", 1001)
	in.FromMe = false
	res := r.Apply([]model.Message{in})

	assert.Equal(t, OutcomeInserted, res[0].Outcome)
	assert.Equal(t, 1, s.PendingCount())
}

func TestApply_ImageMatchesAtMostOnePending(t *testing.T) {
	r, s := setup(t, "c1")
	first := r.NewPending("c1", model.ImageContent("", "caption a"), "")
	r.NewPending("c1", model.ImageContent("", "caption b"), "")

	img := model.Message{MessageID: "img1", ChatID: "c1", FromMe: true, Content: model.ImageContent("http://cdn/1.jpg", "echoed differently"), Timestamp: 1001}
	res := r.Apply([]model.Message{img})

	assert.Equal(t, OutcomeConfirmed, res[0].Outcome)
	assert.Equal(t, first.MessageID, res[0].Replaced)
	assert.Equal(t, 1, s.PendingCount())
	assert.True(t, s.HasMessage("img1"))
}

func TestApply_ImageDoesNotMatchTextPending(t *testing.T) {
	r, s := setup(t, "c1")
	r.NewPending("c1", model.TextContent("hi"), "")

	img := model.Message{MessageID: "img1", ChatID: "c1", FromMe: true, Content: model.ImageContent("u", ""), Timestamp: 1001}
	res := r.Apply([]model.Message{img})

	assert.Equal(t, OutcomeInserted, res[0].Outcome)
	assert.Equal(t, 1, s.PendingCount())
}

func TestApply_NonOpenChatUpdatesSummaryOnly(t *testing.T) {
	r, s := setup(t, "c1")

	in := model.Message{MessageID: "m1", ChatID: "c2", Content: model.TextContent("new contact"), SenderDisplayName: "Bruno", Timestamp: 50}
	res := r.Apply([]model.Message{in})

	assert.Equal(t, OutcomeSummarized, res[0].Outcome)
	assert.Empty(t, s.Messages())

	conv, ok := s.Chat("c2")
	require.True(t, ok)
	assert.Equal(t, "Bruno", conv.ContactName)
	assert.Equal(t, "new contact", conv.LastMessageContent)
	assert.Equal(t, int64(50), conv.LastMessageTimestamp)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestApply_OlderMessageDoesNotRewindSummary(t *testing.T) {
	r, s := setup(t, "c1")
	r.Apply([]model.Message{authoritative("m2", "c1", "newer", 20)})
	r.Apply([]model.Message{authoritative("m1", "c1", "older", 10)})

	conv, _ := s.Chat("c1")
	assert.Equal(t, "newer", conv.LastMessageContent)
	assert.Equal(t, []string{"m1", "m2"}, []string{s.Messages()[0].MessageID, s.Messages()[1].MessageID})
}

func TestApply_RejectsMalformed(t *testing.T) {
	r, s := setup(t, "c1")

	res := r.Apply([]model.Message{
		{ChatID: "c1", Content: model.TextContent("no id")},
		{MessageID: "temp-99", ChatID: "c1"},
		{MessageID: "m1"},
	})
	for _, rr := range res {
		assert.Equal(t, OutcomeRejected, rr.Outcome)
	}
	assert.Empty(t, s.Messages())
}

func TestApplyUpdate_UnknownIDIsNoop(t *testing.T) {
	r, s := setup(t, "c1")
	r.Apply([]model.Message{authoritative("m1", "c1", "x", 1)})
	before := s.Messages()
	chatsBefore := s.Chats()

	assert.False(t, r.ApplyUpdate(model.MessageUpdate{MessageID: "xyz", MediaURL: "http://cdn/x.jpg"}))
	assert.Equal(t, before, s.Messages())
	assert.Equal(t, chatsBefore, s.Chats())
}

func TestApplyUpdate_PatchesMediaURL(t *testing.T) {
	r, s := setup(t, "c1")
	img := model.Message{MessageID: "img1", ChatID: "c1", Content: model.ImageContent("", ""), Timestamp: 1}
	r.Apply([]model.Message{img})

	require.True(t, r.ApplyUpdate(model.MessageUpdate{MessageID: "img1", MediaURL: "http://cdn/1.jpg"}))
	m, _ := s.Message("img1")
	assert.Equal(t, "http://cdn/1.jpg", m.Content.MediaURL)
}

func TestBind_ConfirmsByIDBeforeContent(t *testing.T) {
	r, s := setup(t, "c1")
	older := r.NewPending("c1", model.TextContent("same"), "")
	newer := r.NewPending("c1", model.TextContent("same"), "")

	r.Bind("c1", newer.MessageID, "real-2")
	res := r.Apply([]model.Message{authoritative("real-2", "c1", "same", 1001)})

	assert.Equal(t, OutcomeConfirmed, res[0].Outcome)
	assert.Equal(t, newer.MessageID, res[0].Replaced)
	_, stillPending := s.Message(older.MessageID)
	assert.True(t, stillPending)
}

func TestApply_TextPrefersUnboundPending(t *testing.T) {
	r, s := setup(t, "c1")
	older := r.NewPending("c1", model.TextContent("same"), "")
	newer := r.NewPending("c1", model.TextContent("same"), "")

	// older's send already returned real-1, so the echo of another id belongs to newer.
	r.Bind("c1", older.MessageID, "real-1")
	res := r.Apply([]model.Message{authoritative("real-2", "c1", "same", 1001)})

	assert.Equal(t, OutcomeConfirmed, res[0].Outcome)
	assert.Equal(t, newer.MessageID, res[0].Replaced)
	_, olderLeft := s.Message(older.MessageID)
	assert.True(t, olderLeft)

	res = r.Apply([]model.Message{authoritative("real-1", "c1", "same", 1002)})
	assert.Equal(t, OutcomeConfirmed, res[0].Outcome)
	assert.Equal(t, older.MessageID, res[0].Replaced)
	assert.Equal(t, 0, s.PendingCount())
	assert.Len(t, s.Messages(), 2)
}

func TestApply_TextFallsBackToBoundPending(t *testing.T) {
	r, s := setup(t, "c1")
	only := r.NewPending("c1", model.TextContent("same"), "")
	r.Bind("c1", only.MessageID, "real-1")

	res := r.Apply([]model.Message{authoritative("real-9", "c1", "same", 1001)})
	assert.Equal(t, OutcomeConfirmed, res[0].Outcome)
	assert.Equal(t, only.MessageID, res[0].Replaced)
	assert.Equal(t, 0, s.PendingCount())
}

func TestBind_ProductConfirmedOnlyByID(t *testing.T) {
	r, s := setup(t, "c1")
	p := r.NewPending("c1", model.ProductContent(model.Product{ProductID: "p1", Name: "Shoe"}), "")

	echo := model.Message{MessageID: "real", ChatID: "c1", FromMe: true, Content: model.ProductContent(model.Product{ProductID: "p1"}), Timestamp: 1001}
	r.Bind("c1", p.MessageID, "real")
	res := r.Apply([]model.Message{echo})

	assert.Equal(t, OutcomeConfirmed, res[0].Outcome)
	assert.Equal(t, 0, s.PendingCount())
	assert.Len(t, s.Messages(), 1)
}

func TestBind_AfterEchoDropsLeftover(t *testing.T) {
	r, s := setup(t, "c1")
	a := r.NewPending("c1", model.TextContent("dup"), "")
	b := r.NewPending("c1", model.TextContent("dup"), "")

	// The echo for b's send arrives first and content-matches a.
	r.Apply([]model.Message{authoritative("real-b", "c1", "dup", 1001)})
	r.Bind("c1", b.MessageID, "real-b")

	_, aLeft := s.Message(a.MessageID)
	_, bLeft := s.Message(b.MessageID)
	assert.False(t, aLeft)
	assert.False(t, bLeft)
	assert.Len(t, s.Messages(), 1)
}

func TestBind_UpdateReachesBoundPending(t *testing.T) {
	r, s := setup(t, "c1")
	p := r.NewPending("c1", model.ImageContent("", ""), "")
	r.Bind("c1", p.MessageID, "real")

	assert.True(t, r.ApplyUpdate(model.MessageUpdate{MessageID: "real", MediaURL: "http://cdn/r.jpg"}))
	m, _ := s.Message(p.MessageID)
	assert.Equal(t, "http://cdn/r.jpg", m.Content.MediaURL)
}

func TestFail_RemovesOrphan(t *testing.T) {
	r, s := setup(t, "c1")
	p := r.NewPending("c1", model.TextContent("lost"), "")

	assert.True(t, r.Fail("c1", p.MessageID))
	assert.Empty(t, s.Messages())
	assert.False(t, r.Fail("c1", p.MessageID))
}
