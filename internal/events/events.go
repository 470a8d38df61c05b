// Package events carries lifecycle and message events between service
// instances. Every transition the coordinator performs is published here and
// fanned back out to each gateway node, so a client sees its conversation
// move regardless of which instance holds its session.
package events

import (
	"time"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
)

// Type names a lifecycle transition.
type Type string

const (
	ConversationStarted    Type = "CONVERSATION_STARTED"
	ConversationQueued     Type = "CONVERSATION_QUEUED"
	ConversationAccepted   Type = "CONVERSATION_ACCEPTED"
	ConversationReassigned Type = "CONVERSATION_REASSIGNED"
	MessageReceived        Type = "MESSAGE_RECEIVED"
	ConversationClosed     Type = "CONVERSATION_CLOSED"
)

// Event is one lifecycle transition of one conversation. Delivery is
// at-least-once; consumers dedupe on EventID where it matters.
type Event struct {
	EventID        string         `json:"eventId"`
	ConversationID string         `json:"conversationId"`
	Type           Type           `json:"type"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// MessageEvent carries one chat message to every room subscriber.
type MessageEvent struct {
	EventID        string       `json:"eventId"`
	ConversationID string       `json:"conversationId"`
	Message        chat.Message `json:"message"`
	OccurredAt     time.Time    `json:"occurredAt"`
}
