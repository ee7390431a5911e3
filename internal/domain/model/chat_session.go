package model

import (
	"strings"
	"time"
)

// DefaultHistoryLimit bounds a ChatHistory when no limit is given.
const DefaultHistoryLimit = 20

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage represents one message within a conversation context.
type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatHistory keeps the most recent messages of one context, oldest first.
type ChatHistory struct {
	limit    int
	messages []ChatMessage
}

func NewChatHistory(limit int) *ChatHistory {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	return &ChatHistory{limit: limit, messages: make([]ChatMessage, 0, 8)}
}

// Append adds m and evicts the oldest entries beyond the limit.
func (h *ChatHistory) Append(m ChatMessage) {
	h.messages = append(h.messages, m)
	if over := len(h.messages) - h.limit; over > 0 {
		kept := make([]ChatMessage, h.limit)
		copy(kept, h.messages[over:])
		h.messages = kept
	}
}

func (h *ChatHistory) Len() int { return len(h.messages) }

// Messages returns a copy of the history.
func (h *ChatHistory) Messages() []ChatMessage {
	out := make([]ChatMessage, len(h.messages))
	copy(out, h.messages)
	return out
}

// Recent returns a copy of the last n messages.
func (h *ChatHistory) Recent(n int) []ChatMessage {
	if n <= 0 || n >= len(h.messages) {
		return h.Messages()
	}
	out := make([]ChatMessage, n)
	copy(out, h.messages[len(h.messages)-n:])
	return out
}

const (
	docContextPrefix       = "doc:"
	workspaceContextPrefix = "ws:"
)

func DocContext(docID string) string      { return docContextPrefix + docID }
func WorkspaceContext(wsID string) string { return workspaceContextPrefix + wsID }

// ValidContextKey reports whether key is a doc:<id> or ws:<id> key.
func ValidContextKey(key string) bool {
	for _, p := range []string{docContextPrefix, workspaceContextPrefix} {
		if strings.HasPrefix(key, p) && len(key) > len(p) {
			return true
		}
	}
	return false
}
