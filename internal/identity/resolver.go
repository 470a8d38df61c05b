// Package identity resolves the participants behind gateway connections and
// HTTP calls. The SYSTEM participant is never minted here: it belongs to the
// coordinator alone.
package identity

import (
	"fmt"
	"strings"

	"github.com/ashik1291/customer-live-chat-system/internal/chat"
)

// Resolver maps tokens and fingerprints to participants. When agentTokens is
// empty every agent token is accepted as an opaque agent id, which is the
// development mode; production deployments enumerate tokens in config.
type Resolver struct {
	agentTokens map[string]string
}

// NewResolver returns a resolver over the configured token map
// (token -> agent id).
func NewResolver(agentTokens map[string]string) *Resolver {
	return &Resolver{agentTokens: agentTokens}
}

// ResolveAgent authenticates an agent token. The display name is advisory
// and defaults to the agent id.
func (r *Resolver) ResolveAgent(token, displayName string) (chat.Participant, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return chat.Participant{}, fmt.Errorf("%w: agent token is required", chat.ErrUnauthorized)
	}
	agentID := token
	if len(r.agentTokens) > 0 {
		id, ok := r.agentTokens[token]
		if !ok {
			return chat.Participant{}, fmt.Errorf("%w: unknown agent token", chat.ErrUnauthorized)
		}
		agentID = id
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = agentID
	}
	return chat.Participant{ID: agentID, Type: chat.ParticipantAgent, DisplayName: displayName}, nil
}

// ResolveCustomer identifies a customer by token, falling back to an
// anonymous identity derived from the device fingerprint.
func (r *Resolver) ResolveCustomer(token, fingerprint, displayName string) (chat.Participant, error) {
	token = strings.TrimSpace(token)
	fingerprint = strings.TrimSpace(fingerprint)
	id := token
	if id == "" && fingerprint != "" {
		id = "anon-" + fingerprint
	}
	if id == "" {
		return chat.Participant{}, fmt.Errorf("%w: customer token or fingerprint is required", chat.ErrUnauthorized)
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = "Customer"
	}
	return chat.Participant{ID: id, Type: chat.ParticipantCustomer, DisplayName: displayName}, nil
}

// ResolveSender builds the participant behind a REST message send. SYSTEM is
// forbidden at the boundary.
func (r *Resolver) ResolveSender(senderID, displayName, senderType string) (chat.Participant, error) {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return chat.Participant{}, fmt.Errorf("%w: sender id is required", chat.ErrInvalidArgument)
	}
	switch chat.ParticipantType(strings.ToUpper(strings.TrimSpace(senderType))) {
	case chat.ParticipantCustomer, "":
		return chat.Participant{ID: senderID, Type: chat.ParticipantCustomer, DisplayName: displayName}, nil
	case chat.ParticipantAgent:
		return chat.Participant{ID: senderID, Type: chat.ParticipantAgent, DisplayName: displayName}, nil
	case chat.ParticipantSystem:
		return chat.Participant{}, fmt.Errorf("%w: system sender is not accepted", chat.ErrUnauthorized)
	default:
		return chat.Participant{}, fmt.Errorf("%w: unknown sender type %q", chat.ErrInvalidArgument, senderType)
	}
}
