// Package projector derives the filtered and ordered chat list shown in the inbox.
package projector

import (
	"sort"
	"strings"

	"github.com/capitalize-ai/inbox-console/internal/model"
)

// Tab selects a subset of chats.
type Tab string

const (
	TabAll        Tab = "all"
	TabUnassigned Tab = "unassigned"
	TabHuman      Tab = "human"
	TabMine       Tab = "mine"
)

// ParseTab maps a query value to a tab. Status values are tabs of their own.
func ParseTab(v string) (Tab, bool) {
	switch t := Tab(strings.ToLower(strings.TrimSpace(v))); t {
	case "":
		return TabAll, true
	case TabAll, TabUnassigned, TabHuman, TabMine:
		return t, true
	default:
		if model.Status(t).Valid() {
			return t, true
		}
		return "", false
	}
}

// Project filters chats by tab and search query and orders them newest activity first.
// It never mutates chats.
func Project(chats []model.Conversation, tab Tab, query, currentUserID string) []model.Conversation {
	q := strings.ToLower(strings.TrimSpace(query))

	out := make([]model.Conversation, 0, len(chats))
	for i := range chats {
		c := &chats[i]
		if !matchesTab(c, tab, currentUserID) || !matchesQuery(c, q) {
			continue
		}
		out = append(out, c.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageTimestamp != out[j].LastMessageTimestamp {
			return out[i].LastMessageTimestamp > out[j].LastMessageTimestamp
		}
		return out[i].ChatID < out[j].ChatID
	})
	return out
}

func matchesTab(c *model.Conversation, tab Tab, currentUserID string) bool {
	switch tab {
	case "", TabAll:
		return true
	case TabUnassigned:
		return c.AssignedAgentID == ""
	case TabHuman, TabMine:
		return currentUserID != "" && c.AssignedAgentID == currentUserID
	default:
		return c.Status == model.Status(tab)
	}
}

func matchesQuery(c *model.Conversation, q string) bool {
	if q == "" {
		return true
	}
	for _, field := range []string{c.ContactName, c.Name, c.PhoneNumber, c.ChatID} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
