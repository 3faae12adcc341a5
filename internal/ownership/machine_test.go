package ownership

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/internal/store"
)

func setupMachine(t *testing.T) (*Machine, *store.ConversationStore) {
	t.Helper()
	s := store.New()
	_, err := s.UpsertChat(model.ChatPatch{ChatID: "C", Notes: model.Ptr("vip customer")})
	require.NoError(t, err)
	m := NewMachine(s)
	m.now = func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }
	return m, s
}

func TestNext(t *testing.T) {
	ai := model.Ownership{}
	alice := model.Ownership{HumanTakeover: true, AssignedAgentID: "A", AssignedAgentName: "Alice"}

	tests := []struct {
		name    string
		current model.Ownership
		req     Request
		want    model.Ownership
		wantErr bool
	}{
		{"takeover from ai", ai, Request{Action: model.ActionTakeover, ChatID: "C", AgentID: "A", AgentName: "Alice"}, alice, false},
		{"takeover reassigns", alice, Request{Action: model.ActionTakeover, ChatID: "C", AgentID: "B", AgentName: "Bob"},
			model.Ownership{HumanTakeover: true, AssignedAgentID: "B", AssignedAgentName: "Bob"}, false},
		{"release from human", alice, Request{Action: model.ActionRelease, ChatID: "C"}, ai, false},
		{"release from ai", ai, Request{Action: model.ActionRelease, ChatID: "C"}, ai, false},
		{"handover from ai", ai, Request{Action: model.ActionHandover, ChatID: "C", AgentID: "A", AgentName: "Alice"}, alice, false},
		{"handover without target", alice, Request{Action: model.ActionHandover, ChatID: "C"}, model.Ownership{}, true},
		{"takeover without agent", ai, Request{Action: model.ActionTakeover, ChatID: "C"}, model.Ownership{}, true},
		{"unknown action", ai, Request{Action: "steal", ChatID: "C", AgentID: "A"}, model.Ownership{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(context.Background(), tt.current, tt.req)
			if tt.wantErr {
				var verr *model.ValidationError
				assert.ErrorAs(t, err, &verr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestTakeoverThenHandover(t *testing.T) {
	ctx := context.Background()
	m, s := setupMachine(t)

	tr, err := m.Begin(ctx, Request{Action: model.ActionTakeover, ChatID: "C", ActorID: "A", AgentID: "A", AgentName: "Alice"})
	require.NoError(t, err)
	assert.True(t, m.InFlight("C"))

	rec, err := m.Commit(tr, model.Ownership{HumanTakeover: true, AssignedAgentID: "A", AssignedAgentName: "Alice"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ai", rec.FromOwner)
	assert.Equal(t, "human:A", rec.ToOwner)

	conv, _ := s.Chat("C")
	assert.True(t, conv.HumanTakeover)
	assert.Equal(t, "A", conv.AssignedAgentID)

	tr, err = m.Begin(ctx, Request{Action: model.ActionHandover, ChatID: "C", ActorID: "B", AgentID: "B", AgentName: "Bob"})
	require.NoError(t, err)
	_, err = m.Commit(tr, model.Ownership{HumanTakeover: true, AssignedAgentID: "B", AssignedAgentName: "Bob"}, nil)
	require.NoError(t, err)

	conv, _ = s.Chat("C")
	assert.Equal(t, "B", conv.AssignedAgentID)
	assert.Contains(t, conv.Notes, "vip customer\n")
	assert.Contains(t, conv.Notes, "handover human:A -> Bob (B)")
	assert.False(t, m.InFlight("C"))
}

func TestHandover_NotesAppended(t *testing.T) {
	m, s := setupMachine(t)

	tr, err := m.Begin(context.Background(), Request{Action: model.ActionHandover, ChatID: "C", ActorID: "A", AgentID: "B", Notes: "billing question"})
	require.NoError(t, err)
	assert.Equal(t, "vip customer\n[2026-10-19T12:00:00Z] handover ai -> B by A: billing question", tr.Notes())

	conv, _ := s.Chat("C")
	assert.Equal(t, tr.Notes(), conv.Notes)
}

func TestHandover_EmptyTargetRejectedBeforeMutation(t *testing.T) {
	m, s := setupMachine(t)
	before, _ := s.Chat("C")

	_, err := m.Begin(context.Background(), Request{Action: model.ActionHandover, ChatID: "C", AgentID: "  "})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	after, _ := s.Chat("C")
	assert.Equal(t, before, after)
	assert.False(t, m.InFlight("C"))
}

func TestRollback_RestoresExactState(t *testing.T) {
	ctx := context.Background()
	m, s := setupMachine(t)
	before, _ := s.Chat("C")

	tr, err := m.Begin(ctx, Request{Action: model.ActionHandover, ChatID: "C", AgentID: "A", Notes: "x"})
	require.NoError(t, err)
	optimistic, _ := s.Chat("C")
	assert.True(t, optimistic.HumanTakeover)

	err = m.Rollback(tr, errors.New("backend down"))
	var failed *model.ActionFailed
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "handover", failed.Action)

	after, _ := s.Chat("C")
	assert.Equal(t, before, after)
	assert.False(t, m.InFlight("C"))
}

func TestTakeover_IdempotentForSameAgent(t *testing.T) {
	ctx := context.Background()
	m, _ := setupMachine(t)

	tr, err := m.Begin(ctx, Request{Action: model.ActionTakeover, ChatID: "C", AgentID: "A"})
	require.NoError(t, err)
	_, err = m.Commit(tr, model.Ownership{HumanTakeover: true, AssignedAgentID: "A"}, nil)
	require.NoError(t, err)

	tr, err = m.Begin(ctx, Request{Action: model.ActionTakeover, ChatID: "C", AgentID: "A"})
	require.NoError(t, err)
	assert.True(t, tr.Noop())
	assert.False(t, m.InFlight("C"))
}

func TestBegin_RejectsConcurrentAction(t *testing.T) {
	ctx := context.Background()
	m, s := setupMachine(t)

	_, err := m.Begin(ctx, Request{Action: model.ActionTakeover, ChatID: "C", AgentID: "A"})
	require.NoError(t, err)
	mid, _ := s.Chat("C")

	_, err = m.Begin(ctx, Request{Action: model.ActionRelease, ChatID: "C"})
	assert.ErrorIs(t, err, ErrInFlight)

	after, _ := s.Chat("C")
	assert.Equal(t, mid, after)
}

func TestBegin_UnknownChat(t *testing.T) {
	m, _ := setupMachine(t)
	_, err := m.Begin(context.Background(), Request{Action: model.ActionRelease, ChatID: "nope"})
	assert.ErrorIs(t, err, model.ErrChatNotFound)
}

func TestCommit_InconsistentFragmentRollsBack(t *testing.T) {
	m, s := setupMachine(t)
	before, _ := s.Chat("C")

	tr, err := m.Begin(context.Background(), Request{Action: model.ActionTakeover, ChatID: "C", AgentID: "A"})
	require.NoError(t, err)

	_, err = m.Commit(tr, model.Ownership{HumanTakeover: false, AssignedAgentID: "A"}, nil)
	var failed *model.ActionFailed
	require.ErrorAs(t, err, &failed)

	after, _ := s.Chat("C")
	assert.Equal(t, before, after)
}

func TestCommit_FragmentMustMatchAction(t *testing.T) {
	tests := []struct {
		name     string
		seed     model.Ownership
		req      Request
		fragment model.Ownership
	}{
		{
			name:     "takeover answered with AI",
			req:      Request{Action: model.ActionTakeover, ChatID: "C", AgentID: "A"},
			fragment: model.Ownership{},
		},
		{
			name:     "handover answered with AI",
			seed:     model.Ownership{HumanTakeover: true, AssignedAgentID: "A"},
			req:      Request{Action: model.ActionHandover, ChatID: "C", AgentID: "B"},
			fragment: model.Ownership{},
		},
		{
			name:     "release answered with a human owner",
			seed:     model.Ownership{HumanTakeover: true, AssignedAgentID: "A"},
			req:      Request{Action: model.ActionRelease, ChatID: "C"},
			fragment: model.Ownership{HumanTakeover: true, AssignedAgentID: "A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s := setupMachine(t)
			_, err := s.UpsertChat(model.ChatPatch{ChatID: "C", Ownership: &tt.seed})
			require.NoError(t, err)
			before, _ := s.Chat("C")

			tr, err := m.Begin(context.Background(), tt.req)
			require.NoError(t, err)

			_, err = m.Commit(tr, tt.fragment, nil)
			var failed *model.ActionFailed
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, string(tt.req.Action), failed.Action)

			after, _ := s.Chat("C")
			assert.Equal(t, before, after)
			assert.False(t, m.InFlight("C"))
		})
	}
}

func TestCommit_BackendNotesReplaceLocal(t *testing.T) {
	m, s := setupMachine(t)

	tr, err := m.Begin(context.Background(), Request{Action: model.ActionHandover, ChatID: "C", AgentID: "B"})
	require.NoError(t, err)
	_, err = m.Commit(tr, model.Ownership{HumanTakeover: true, AssignedAgentID: "B"}, model.Ptr("server notes"))
	require.NoError(t, err)

	conv, _ := s.Chat("C")
	assert.Equal(t, "server notes", conv.Notes)
}

func TestOwnershipExclusivity_RandomSequences(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	agents := []string{"", "A", "B", "C"}
	actions := []model.Action{model.ActionTakeover, model.ActionRelease, model.ActionHandover}

	m, s := setupMachine(t)
	for i := 0; i < 500; i++ {
		req := Request{
			Action:  actions[rng.Intn(len(actions))],
			ChatID:  "C",
			AgentID: agents[rng.Intn(len(agents))],
		}
		tr, err := m.Begin(ctx, req)
		if err == nil && !tr.Noop() {
			if rng.Intn(3) == 0 {
				_ = m.Rollback(tr, errors.New("boom"))
			} else {
				_, err = m.Commit(tr, tr.Optimistic(), nil)
				require.NoError(t, err)
			}
		}

		conv, _ := s.Chat("C")
		require.Equal(t, conv.HumanTakeover, conv.AssignedAgentID != "", "step %d: %+v", i, conv.Ownership())
		require.False(t, m.InFlight("C"))
	}
}
