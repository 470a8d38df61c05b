// Package keys composes the names of every key and channel the coordinator
// writes to the ephemeral store. Keeping naming in one place lets instances
// sharing a store agree on layout.
package keys

import "fmt"

// DefaultPrefix is used when no prefix is configured.
const DefaultPrefix = "chat"

// Namer builds keys under a fixed prefix. The zero value uses DefaultPrefix.
type Namer struct {
	prefix string
}

// New returns a Namer for the given prefix.
func New(prefix string) Namer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Namer{prefix: prefix}
}

// Prefix returns the configured prefix.
func (n Namer) Prefix() string {
	if n.prefix == "" {
		return DefaultPrefix
	}
	return n.prefix
}

// Conversation is the JSON metadata record of one conversation.
func (n Namer) Conversation(conversationID string) string {
	return fmt.Sprintf("%s:conversation:%s", n.Prefix(), conversationID)
}

// ConversationMessages is the TTL-bounded message log of one conversation.
func (n Namer) ConversationMessages(conversationID string) string {
	return fmt.Sprintf("%s:conversation:%s:messages", n.Prefix(), conversationID)
}

// ConversationIndex is the sorted set of live conversation ids, scored by
// last update time. Closed conversations are removed from it.
func (n Namer) ConversationIndex() string {
	return fmt.Sprintf("%s:conversations:index", n.Prefix())
}

// QueuePending is the sorted set of waiting conversations, scored by
// enqueue time.
func (n Namer) QueuePending() string {
	return fmt.Sprintf("%s:queue:pending", n.Prefix())
}

// Assignment is the ownership lease of one conversation.
func (n Namer) Assignment(conversationID string) string {
	return fmt.Sprintf("%s:assignment:%s", n.Prefix(), conversationID)
}

// Presence is the liveness flag of one participant.
func (n Namer) Presence(participantID string) string {
	return fmt.Sprintf("%s:presence:%s", n.Prefix(), participantID)
}

// AgentLoad is the set of conversations currently assigned to one agent.
func (n Namer) AgentLoad(agentID string) string {
	return fmt.Sprintf("%s:agent:%s:load", n.Prefix(), agentID)
}

// ConversationLock names the mutual-exclusion lock of one conversation.
func (n Namer) ConversationLock(conversationID string) string {
	return fmt.Sprintf("%s:lock:conversation:%s", n.Prefix(), conversationID)
}

// QueueLock names the lock held during bulk queue maintenance.
func (n Namer) QueueLock() string {
	return fmt.Sprintf("%s:lock:queue", n.Prefix())
}

// LifecycleChannel is the pub/sub channel carrying lifecycle events.
func (n Namer) LifecycleChannel() string {
	return fmt.Sprintf("%s:events:lifecycle", n.Prefix())
}

// MessageChannel is the pub/sub channel carrying message events.
func (n Namer) MessageChannel() string {
	return fmt.Sprintf("%s:events:messages", n.Prefix())
}
