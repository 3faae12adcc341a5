// Package ownership governs whether the AI or a human agent answers a conversation.
package ownership

import "github.com/capitalize-ai/inbox-console/internal/model"

// State is the ownership state of one conversation.
type State string

const (
	// StateAI means the AI auto-responder answers the conversation.
	StateAI State = "ai"
	// StateHuman means one assigned human agent answers the conversation.
	StateHuman State = "human"
)

// Trigger is an ownership transition request.
type Trigger string

const (
	TriggerTakeover Trigger = Trigger(model.ActionTakeover)
	TriggerRelease  Trigger = Trigger(model.ActionRelease)
	TriggerHandover Trigger = Trigger(model.ActionHandover)
)

// StateOf derives the state from an ownership fragment.
func StateOf(o model.Ownership) State {
	if o.HumanTakeover {
		return StateHuman
	}
	return StateAI
}
