package api

import (
	"sync"
	"time"
)

// maxConversationLen caps the history kept per conversation; older
// messages fall off the front.
const maxConversationLen = 20

// ChatMessage is one turn of a dashboard chat conversation.
type ChatMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

type conversation struct {
	messages []ChatMessage
	lastSeen time.Time
}

// ConversationStore keeps short-lived chat context in memory, keyed by
// conversation id. Idle conversations are dropped by the periodic prune.
type ConversationStore struct {
	mu    sync.Mutex
	convs map[string]*conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{convs: make(map[string]*conversation)}
}

// Append records a message and bumps the conversation's idle clock.
func (cs *ConversationStore) Append(id, role, content string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.convs[id]
	if !ok {
		c = &conversation{}
		cs.convs[id] = c
	}
	c.messages = append(c.messages, ChatMessage{Role: role, Content: content, At: time.Now()})
	if len(c.messages) > maxConversationLen {
		c.messages = c.messages[len(c.messages)-maxConversationLen:]
	}
	c.lastSeen = time.Now()
}

// History returns a copy of the conversation's messages, oldest first.
func (cs *ConversationStore) History(id string) []ChatMessage {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.convs[id]
	if !ok {
		return nil
	}
	out := make([]ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// Prune drops conversations idle longer than maxIdle and reports how
// many were removed.
func (cs *ConversationStore) Prune(maxIdle time.Duration) int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for id, c := range cs.convs {
		if c.lastSeen.Before(cutoff) {
			delete(cs.convs, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live conversations.
func (cs *ConversationStore) Len() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.convs)
}
