// Package chat defines the domain model shared by the coordinator, the
// realtime gateway, and the HTTP surface.
package chat

import (
	"fmt"
	"strings"
	"time"
)

// ParticipantType classifies a party to a conversation.
type ParticipantType string

const (
	ParticipantCustomer ParticipantType = "CUSTOMER"
	ParticipantAgent    ParticipantType = "AGENT"
	// ParticipantSystem is a sentinel used only for closure notices. It is
	// never accepted from a client.
	ParticipantSystem ParticipantType = "SYSTEM"
)

// Status is the conversation lifecycle state.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusQueued   Status = "QUEUED"
	StatusAssigned Status = "ASSIGNED"
	StatusClosed   Status = "CLOSED"
)

// MessageType classifies a chat message.
type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageSystem MessageType = "SYSTEM"
)

// Participant identifies a party to a conversation. Customers are identified
// by a token or device fingerprint, agents by an opaque agent id.
type Participant struct {
	ID          string            `json:"id"`
	Type        ParticipantType   `json:"type"`
	DisplayName string            `json:"displayName"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// System returns the sentinel participant that authors closure notices.
func System() Participant {
	return Participant{ID: "system", Type: ParticipantSystem, DisplayName: "System"}
}

// Conversation is the lifecycle unit of the coordinator. Once CLOSED no field
// other than UpdatedAt may mutate.
type Conversation struct {
	ID         string            `json:"id"`
	Customer   Participant       `json:"customer"`
	Agent      *Participant      `json:"agent,omitempty"`
	Status     Status            `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	AcceptedAt *time.Time        `json:"acceptedAt,omitempty"`
	ClosedAt   *time.Time        `json:"closedAt,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Closed reports whether the conversation reached its terminal state.
func (c *Conversation) Closed() bool {
	return c.Status == StatusClosed
}

// Touch advances UpdatedAt. UpdatedAt is monotonically non-decreasing even
// when the caller's clock reads behind a previous writer.
func (c *Conversation) Touch(now time.Time) {
	if now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
}

// Message is a single chat message. SYSTEM messages are authored only by the
// coordinator itself.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Sender         Participant `json:"sender"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
}

// QueueEntry is a waiting conversation. EnqueuedAt is epoch milliseconds and
// doubles as the FIFO score in the pending queue.
type QueueEntry struct {
	ConversationID string `json:"conversationId"`
	CustomerID     string `json:"customerId"`
	Channel        string `json:"channel"`
	EnqueuedAt     int64  `json:"enqueuedAt"`
}

// QueueStatus is returned after a conversation is queued.
type QueueStatus struct {
	ConversationID string    `json:"conversationId"`
	Status         Status    `json:"status"`
	QueuePosition  int64     `json:"queuePosition"`
	QueuedAt       time.Time `json:"queuedAt"`
}

// ParseMessageType normalizes a wire message type. Unknown values are an
// ErrInvalidArgument.
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(strings.ToUpper(strings.TrimSpace(s))) {
	case MessageText, "":
		return MessageText, nil
	case MessageSystem:
		return MessageSystem, nil
	default:
		return "", fmt.Errorf("%w: unknown message type %q", ErrInvalidArgument, s)
	}
}

// ParseStatus normalizes a wire conversation status.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusOpen:
		return StatusOpen, nil
	case StatusQueued:
		return StatusQueued, nil
	case StatusAssigned:
		return StatusAssigned, nil
	case StatusClosed:
		return StatusClosed, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
	}
}

// ClosureNotice derives the SYSTEM notice content appended when a
// conversation closes.
func ClosureNotice(conv *Conversation, closedBy Participant) string {
	if closedBy.Type == ParticipantCustomer {
		return "You ended the chat"
	}

	name := ""
	if conv != nil && conv.Agent != nil {
		name = conv.Agent.DisplayName
	}
	if closedBy.Type == ParticipantAgent && strings.TrimSpace(closedBy.DisplayName) != "" {
		name = closedBy.DisplayName
	}
	if strings.TrimSpace(name) != "" {
		return fmt.Sprintf("%s has closed this chat. Feel free to start a new conversation if you need any more help.", name)
	}
	return "This conversation has been closed. You can start a new chat anytime you need assistance."
}
