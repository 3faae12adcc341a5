// Package model defines data structures for the inbox console.
package model

// Status is the workflow status of a conversation.
type Status string

const (
	StatusOpen     Status = "open"
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Priority is the workflow priority of a conversation.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Conversation is one contact's thread with a device session.
type Conversation struct {
	// Identity
	ChatID   string `json:"chatId"`
	DeviceID string `json:"deviceId,omitempty"`

	// Display
	ContactName          string `json:"contactName,omitempty"`
	Name                 string `json:"name,omitempty"`
	PhoneNumber          string `json:"phoneNumber,omitempty"`
	ProfilePictureURL    string `json:"profilePictureUrl,omitempty"`
	LastMessageContent   string `json:"lastMessageContent,omitempty"`
	LastMessageTimestamp int64  `json:"lastMessageTimestamp,omitempty"`
	UnreadCount          int    `json:"unreadCount,omitempty"`

	// Ownership. AssignedAgentID is set if and only if HumanTakeover is true.
	HumanTakeover     bool   `json:"humanTakeover"`
	AssignedAgentID   string `json:"assignedAgentId,omitempty"`
	AssignedAgentName string `json:"assignedAgentName,omitempty"`

	// Workflow
	Status              Status   `json:"status,omitempty"`
	Priority            Priority `json:"priority,omitempty"`
	Labels              []string `json:"labels,omitempty"`
	Notes               string   `json:"notes,omitempty"`
	PurchaseIntentScore float64  `json:"purchaseIntentScore,omitempty"`
	PurchaseIntentStage string   `json:"purchaseIntentStage,omitempty"`
}

// Ownership returns the ownership fragment of the conversation.
func (c *Conversation) Ownership() Ownership {
	return Ownership{
		HumanTakeover:     c.HumanTakeover,
		AssignedAgentID:   c.AssignedAgentID,
		AssignedAgentName: c.AssignedAgentName,
	}
}

// Clone returns a deep copy.
func (c *Conversation) Clone() Conversation {
	out := *c
	if c.Labels != nil {
		out.Labels = append([]string(nil), c.Labels...)
	}
	return out
}

// Ownership is the authoritative ownership fragment returned by takeover, release and handover.
type Ownership struct {
	HumanTakeover     bool   `json:"humanTakeover"`
	AssignedAgentID   string `json:"assignedAgentId,omitempty"`
	AssignedAgentName string `json:"assignedAgentName,omitempty"`
}

// Valid reports whether the fragment names exactly one owner.
func (o Ownership) Valid() bool {
	return o.HumanTakeover == (o.AssignedAgentID != "")
}

// Owner renders the fragment as "ai" or "human:<agent>".
func (o Ownership) Owner() string {
	if !o.HumanTakeover {
		return "ai"
	}
	return "human:" + o.AssignedAgentID
}

// ChatPatch is a partial Conversation merged by chat id. Nil fields are left untouched.
type ChatPatch struct {
	ChatID string

	DeviceID             *string
	ContactName          *string
	Name                 *string
	PhoneNumber          *string
	ProfilePictureURL    *string
	LastMessageContent   *string
	LastMessageTimestamp *int64
	UnreadCount          *int

	Ownership *Ownership

	Status              *Status
	Priority            *Priority
	Labels              []string
	Notes               *string
	PurchaseIntentScore *float64
	PurchaseIntentStage *string
}

// PatchFrom builds a patch that overwrites every field with the values of c.
func PatchFrom(c Conversation) ChatPatch {
	own := c.Ownership()
	p := ChatPatch{
		ChatID:               c.ChatID,
		DeviceID:             &c.DeviceID,
		ContactName:          &c.ContactName,
		Name:                 &c.Name,
		PhoneNumber:          &c.PhoneNumber,
		ProfilePictureURL:    &c.ProfilePictureURL,
		LastMessageContent:   &c.LastMessageContent,
		LastMessageTimestamp: &c.LastMessageTimestamp,
		UnreadCount:          &c.UnreadCount,
		Ownership:            &own,
		Notes:                &c.Notes,
		PurchaseIntentScore:  &c.PurchaseIntentScore,
		PurchaseIntentStage:  &c.PurchaseIntentStage,
		Labels:               append([]string{}, c.Labels...),
	}
	if c.Status != "" {
		p.Status = &c.Status
	}
	if c.Priority != "" {
		p.Priority = &c.Priority
	}
	return p
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
