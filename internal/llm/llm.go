package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is one entry of a conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Completer produces the next assistant message for a conversation.
type Completer interface {
	Complete(ctx context.Context, system string, messages []Message) (string, error)
}

// Responder is the dialogue service used by the turn pipeline.
type Responder interface {
	Respond(ctx context.Context, sessionID, text, language string) (string, error)
	// Forget releases the conversation history of a session.
	Forget(sessionID string)
}

// Conversation keeps per-session history in memory and delegates the
// actual generation to a Completer.
type Conversation struct {
	completer  Completer
	system     string
	maxHistory int

	mu      sync.Mutex
	history map[string][]Message
}

// NewConversation creates a Responder. maxHistory bounds the number of
// messages replayed to the model; zero means 20.
func NewConversation(c Completer, system string, maxHistory int) *Conversation {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	if system == "" {
		system = SystemPrompt
	}
	return &Conversation{
		completer:  c,
		system:     system,
		maxHistory: maxHistory,
		history:    make(map[string][]Message),
	}
}

// Respond appends the user's text to the session history, asks the model for
// a reply and records it. History is only updated when the model answers.
func (c *Conversation) Respond(ctx context.Context, sessionID, text, language string) (string, error) {
	c.mu.Lock()
	msgs := append(append([]Message(nil), c.history[sessionID]...), Message{Role: RoleUser, Content: text})
	c.mu.Unlock()

	reply, err := c.completer.Complete(ctx, c.system+languageInstruction(language), msgs)
	if err != nil {
		return "", fmt.Errorf("failed to generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("failed to generate reply: empty response")
	}

	c.mu.Lock()
	msgs = append(msgs, Message{Role: RoleAssistant, Content: reply})
	if len(msgs) > c.maxHistory {
		msgs = msgs[len(msgs)-c.maxHistory:]
	}
	c.history[sessionID] = msgs
	c.mu.Unlock()

	return reply, nil
}

func (c *Conversation) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.history, sessionID)
	c.mu.Unlock()
}

// Len reports how many histories are held.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

// History returns a copy of the session's messages.
func (c *Conversation) History(sessionID string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.history[sessionID]...)
}
