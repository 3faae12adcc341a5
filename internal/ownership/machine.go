package ownership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/capitalize-ai/inbox-console/internal/model"
	"github.com/capitalize-ai/inbox-console/internal/store"
)

// ErrInFlight is returned when an ownership action is already pending for the chat.
var ErrInFlight = errors.New("ownership change already in progress")

// Request describes one ownership action.
type Request struct {
	Action    model.Action
	ChatID    string
	ActorID   string
	AgentID   string
	AgentName string
	Notes     string
}

// Transition is an applied optimistic ownership change awaiting backend confirmation.
type Transition struct {
	Request Request

	prior      model.Ownership
	priorNotes string
	optimistic model.Ownership
	notes      string
	noop       bool
}

// Noop reports whether the action needs no backend call, e.g. a repeated takeover by the owner.
func (t *Transition) Noop() bool {
	return t.noop
}

// Prior returns the ownership fragment captured before the optimistic mutation.
func (t *Transition) Prior() model.Ownership {
	return t.prior
}

// Optimistic returns the fragment applied before the backend answered.
func (t *Transition) Optimistic() model.Ownership {
	return t.optimistic
}

// Notes returns the conversation notes after the optimistic mutation.
func (t *Transition) Notes() string {
	return t.notes
}

// Machine applies ownership transitions to a ConversationStore. Like the store it is driven
// from a single goroutine.
type Machine struct {
	store    *store.ConversationStore
	now      func() time.Time
	inflight map[string]bool
}

// NewMachine creates an ownership machine over s.
func NewMachine(s *store.ConversationStore) *Machine {
	return &Machine{
		store:    s,
		now:      time.Now,
		inflight: make(map[string]bool),
	}
}

// newFSM builds a state machine whose state lives in *current.
func newFSM(current *State) *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return *current, nil
		},
		func(_ context.Context, s stateless.State) error {
			*current = s.(State)
			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(StateAI).
		Permit(TriggerTakeover, StateHuman).
		Permit(TriggerHandover, StateHuman).
		PermitReentry(TriggerRelease)

	sm.Configure(StateHuman).
		PermitReentry(TriggerTakeover).
		PermitReentry(TriggerHandover).
		Permit(TriggerRelease, StateAI)

	return sm
}

// Next computes the ownership fragment that results from applying req to current.
func Next(ctx context.Context, current model.Ownership, req Request) (model.Ownership, error) {
	if err := validate(req); err != nil {
		return model.Ownership{}, err
	}

	state := StateOf(current)
	if err := newFSM(&state).FireCtx(ctx, Trigger(req.Action)); err != nil {
		return model.Ownership{}, fmt.Errorf("ownership %s from %s: %w", req.Action, StateOf(current), err)
	}

	if state == StateAI {
		return model.Ownership{}, nil
	}
	return model.Ownership{
		HumanTakeover:     true,
		AssignedAgentID:   req.AgentID,
		AssignedAgentName: req.AgentName,
	}, nil
}

func validate(req Request) error {
	switch req.Action {
	case model.ActionTakeover:
		if strings.TrimSpace(req.AgentID) == "" {
			return model.NewValidationError("agentId", "takeover requires an agent")
		}
	case model.ActionHandover:
		if strings.TrimSpace(req.AgentID) == "" {
			return model.NewValidationError("targetAgentId", "handover requires a target agent")
		}
	case model.ActionRelease:
	default:
		return model.NewValidationError("action", fmt.Sprintf("unknown ownership action %q", req.Action))
	}
	if req.ChatID == "" {
		return model.NewValidationError("chatId", "required")
	}
	return nil
}

// Begin validates req and applies its optimistic mutation to the store.
func (m *Machine) Begin(ctx context.Context, req Request) (*Transition, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	conv, ok := m.store.Chat(req.ChatID)
	if !ok {
		return nil, model.ErrChatNotFound
	}
	if m.inflight[req.ChatID] {
		return nil, &model.ActionFailed{Action: string(req.Action), ChatID: req.ChatID, Err: ErrInFlight}
	}

	prior := conv.Ownership()
	next, err := Next(ctx, prior, req)
	if err != nil {
		return nil, err
	}

	tr := &Transition{
		Request:    req,
		prior:      prior,
		priorNotes: conv.Notes,
		optimistic: next,
		notes:      conv.Notes,
	}

	if req.Action == model.ActionTakeover && prior.HumanTakeover && prior.AssignedAgentID == req.AgentID {
		tr.noop = true
		tr.optimistic = prior
		return tr, nil
	}

	if req.Action == model.ActionHandover {
		tr.notes = appendNote(conv.Notes, handoverNote(m.now(), prior, req))
	}

	if _, err := m.store.UpsertChat(model.ChatPatch{ChatID: req.ChatID, Ownership: &next, Notes: &tr.notes}); err != nil {
		return nil, err
	}
	m.inflight[req.ChatID] = true
	return tr, nil
}

// Commit replaces local ownership fields with the backend's authoritative fragment.
// A fragment naming no consistent owner, or one the action cannot produce, is rejected
// and the transition is rolled back.
func (m *Machine) Commit(tr *Transition, fragment model.Ownership, notes *string) (model.OwnershipTransition, error) {
	delete(m.inflight, tr.Request.ChatID)

	if err := checkFragment(tr.Request.Action, fragment); err != nil {
		m.restore(tr)
		return model.OwnershipTransition{}, &model.ActionFailed{
			Action: string(tr.Request.Action),
			ChatID: tr.Request.ChatID,
			Err:    err,
		}
	}

	patch := model.ChatPatch{ChatID: tr.Request.ChatID, Ownership: &fragment}
	if notes != nil {
		patch.Notes = notes
	}
	if _, err := m.store.UpsertChat(patch); err != nil {
		m.restore(tr)
		return model.OwnershipTransition{}, &model.ActionFailed{Action: string(tr.Request.Action), ChatID: tr.Request.ChatID, Err: err}
	}

	return model.OwnershipTransition{
		ChatID:       tr.Request.ChatID,
		Action:       tr.Request.Action,
		FromOwner:    tr.prior.Owner(),
		ToOwner:      fragment.Owner(),
		ActorAgentID: tr.Request.ActorID,
		Notes:        tr.Request.Notes,
		Timestamp:    m.now().UTC(),
	}, nil
}

// checkFragment verifies fragment is a state action can end in: Human for takeover and
// handover, AI for release.
func checkFragment(action model.Action, fragment model.Ownership) error {
	if !fragment.Valid() {
		return fmt.Errorf("backend returned inconsistent ownership %+v", fragment)
	}
	wantHuman := action != model.ActionRelease
	if fragment.HumanTakeover != wantHuman {
		return fmt.Errorf("backend answered %s with owner %s", action, fragment.Owner())
	}
	return nil
}

// Rollback restores the ownership fields and notes captured by Begin.
func (m *Machine) Rollback(tr *Transition, cause error) error {
	delete(m.inflight, tr.Request.ChatID)
	m.restore(tr)
	return &model.ActionFailed{Action: string(tr.Request.Action), ChatID: tr.Request.ChatID, Err: cause}
}

func (m *Machine) restore(tr *Transition) {
	if tr.noop {
		return
	}
	m.store.RestoreOwnership(tr.Request.ChatID, tr.prior, tr.priorNotes, tr.notes)
}

// InFlight reports whether an ownership action is pending for chatID.
func (m *Machine) InFlight(chatID string) bool {
	return m.inflight[chatID]
}

func handoverNote(at time.Time, from model.Ownership, req Request) string {
	target := req.AgentID
	if req.AgentName != "" {
		target = fmt.Sprintf("%s (%s)", req.AgentName, req.AgentID)
	}
	line := fmt.Sprintf("[%s] handover %s -> %s", at.UTC().Format(time.RFC3339), from.Owner(), target)
	if req.ActorID != "" {
		line += " by " + req.ActorID
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		line += ": " + notes
	}
	return line
}

func appendNote(existing, line string) string {
	if existing == "" {
		return line
	}
	return existing + "\n" + line
}
