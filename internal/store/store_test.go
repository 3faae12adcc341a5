package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/inbox-console/internal/model"
)

func msg(id string, ts int64) model.Message {
	return model.Message{MessageID: id, ChatID: "c1", Timestamp: ts, Content: model.TextContent(id)}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageID
	}
	return out
}

func TestUpsertChat_CreatesAndMerges(t *testing.T) {
	s := New()

	conv, err := s.UpsertChat(model.ChatPatch{ChatID: "c1", ContactName: model.Ptr("Ana")})
	require.NoError(t, err)
	assert.Equal(t, "Ana", conv.ContactName)
	assert.Equal(t, model.StatusOpen, conv.Status)
	assert.False(t, conv.HumanTakeover)

	conv, err = s.UpsertChat(model.ChatPatch{ChatID: "c1", PhoneNumber: model.Ptr("+5511999")})
	require.NoError(t, err)
	assert.Equal(t, "Ana", conv.ContactName)
	assert.Equal(t, "+5511999", conv.PhoneNumber)
	assert.Len(t, s.Chats(), 1)
}

func TestUpsertChat_RejectsInconsistentOwnership(t *testing.T) {
	s := New()

	_, err := s.UpsertChat(model.ChatPatch{ChatID: "c1", Ownership: &model.Ownership{AssignedAgentID: "a1"}})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	_, ok := s.Chat("c1")
	assert.False(t, ok)
}

func TestUpsertChat_RequiresID(t *testing.T) {
	_, err := New().UpsertChat(model.ChatPatch{})
	assert.Error(t, err)
}

func TestChat_ReturnsCopy(t *testing.T) {
	s := New()
	_, err := s.UpsertChat(model.ChatPatch{ChatID: "c1", Labels: []string{"vip"}})
	require.NoError(t, err)

	conv, _ := s.Chat("c1")
	conv.Labels[0] = "changed"

	again, _ := s.Chat("c1")
	assert.Equal(t, []string{"vip"}, again.Labels)
}

func TestSetOpenChat_ClearsMessages(t *testing.T) {
	s := New()
	s.SetOpenChat("c1")
	s.AppendMessages("c1", msg("m1", 1))
	require.Len(t, s.Messages(), 1)

	gen := s.SetOpenChat("c2")
	assert.Equal(t, "c2", s.OpenChat())
	assert.Empty(t, s.Messages())
	assert.Equal(t, uint64(2), gen)
}

func TestAppendMessages_IgnoresOtherChats(t *testing.T) {
	s := New()
	s.SetOpenChat("c1")

	assert.Equal(t, 0, s.AppendMessages("c2", msg("m1", 1)))
	assert.Empty(t, s.Messages())
}

func TestAppendMessages_KeepsTimestampOrder(t *testing.T) {
	s := New()
	s.SetOpenChat("c1")

	s.AppendMessages("c1", msg("m3", 30), msg("m1", 10), msg("m2", 20), msg("m2b", 20))
	assert.Equal(t, []string{"m1", "m2", "m2b", "m3"}, ids(s.Messages()))
}

func TestRemoveMessage(t *testing.T) {
	s := New()
	s.SetOpenChat("c1")
	s.AppendMessages("c1", msg("m1", 1), msg("m2", 2))

	removed, ok := s.RemoveMessage("c1", func(m *model.Message) bool { return m.MessageID == "m1" })
	require.True(t, ok)
	assert.Equal(t, "m1", removed.MessageID)
	assert.Equal(t, []string{"m2"}, ids(s.Messages()))

	_, ok = s.RemoveMessage("c1", func(m *model.Message) bool { return m.MessageID == "zz" })
	assert.False(t, ok)
}

func TestPatchMessage_UnknownIsNoop(t *testing.T) {
	s := New()
	s.SetOpenChat("c1")
	s.AppendMessages("c1", msg("m1", 1))
	before := s.Messages()

	assert.False(t, s.PatchMessage("xyz", func(m *model.Message) { m.Content.MediaURL = "http://x" }))
	assert.Equal(t, before, s.Messages())
}

func TestLoadHistory_NormalizesDescendingPage(t *testing.T) {
	s := New()
	gen := s.SetOpenChat("c1")

	ok := s.LoadHistory("c1", gen, []model.Message{msg("m3", 30), msg("m2", 20), msg("m1", 10)})
	require.True(t, ok)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages()))
}

func TestLoadHistory_DescendingEqualTimestamps(t *testing.T) {
	s := New()
	gen := s.SetOpenChat("c1")

	s.LoadHistory("c1", gen, []model.Message{msg("m3", 30), msg("m2b", 20), msg("m2a", 20), msg("m1", 10)})
	assert.Equal(t, []string{"m1", "m2a", "m2b", "m3"}, ids(s.Messages()))
}

func TestLoadHistory_StaleResponseDiscarded(t *testing.T) {
	s := New()
	gen := s.SetOpenChat("c1")
	s.SetOpenChat("c2")

	assert.False(t, s.LoadHistory("c1", gen, []model.Message{msg("m1", 1)}))
	assert.Empty(t, s.Messages())
}

func TestLoadHistory_SameChatReopened(t *testing.T) {
	s := New()
	first := s.SetOpenChat("c1")
	s.SetOpenChat("c1")

	assert.False(t, s.LoadHistory("c1", first, []model.Message{msg("m1", 1)}))
}

func TestLoadHistory_KeepsPendingAndLive(t *testing.T) {
	s := New()
	gen := s.SetOpenChat("c1")
	pending := model.Message{MessageID: "temp-1", ChatID: "c1", Pending: true, Timestamp: 100, Content: model.TextContent("hi")}
	s.AppendMessages("c1", pending, msg("live", 50), msg("m2", 20))

	s.LoadHistory("c1", gen, []model.Message{msg("m1", 10), msg("m2", 20)})
	assert.Equal(t, []string{"m1", "m2", "live", "temp-1"}, ids(s.Messages()))
	assert.Equal(t, 1, s.PendingCount())
}

func TestRestoreOwnership(t *testing.T) {
	s := New()
	_, err := s.UpsertChat(model.ChatPatch{ChatID: "c1", Notes: model.Ptr("n1")})
	require.NoError(t, err)
	before, _ := s.Chat("c1")

	_, err = s.UpsertChat(model.ChatPatch{
		ChatID:    "c1",
		Ownership: &model.Ownership{HumanTakeover: true, AssignedAgentID: "a1", AssignedAgentName: "Alice"},
		Notes:     model.Ptr("n1\nmore"),
	})
	require.NoError(t, err)

	require.True(t, s.RestoreOwnership("c1", before.Ownership(), before.Notes, "n1\nmore"))
	after, _ := s.Chat("c1")
	assert.Equal(t, before, after)
}

func TestRestoreOwnership_KeepsNotesEditedMeanwhile(t *testing.T) {
	s := New()
	_, err := s.UpsertChat(model.ChatPatch{ChatID: "c1", Notes: model.Ptr("n1")})
	require.NoError(t, err)

	_, err = s.UpsertChat(model.ChatPatch{
		ChatID:    "c1",
		Ownership: &model.Ownership{HumanTakeover: true, AssignedAgentID: "a1"},
		Notes:     model.Ptr("n1\nhandover"),
	})
	require.NoError(t, err)
	_, err = s.UpsertChat(model.ChatPatch{ChatID: "c1", Notes: model.Ptr("call back tomorrow")})
	require.NoError(t, err)

	require.True(t, s.RestoreOwnership("c1", model.Ownership{}, "n1", "n1\nhandover"))
	after, _ := s.Chat("c1")
	assert.False(t, after.HumanTakeover)
	assert.Empty(t, after.AssignedAgentID)
	assert.Equal(t, "call back tomorrow", after.Notes)
}
