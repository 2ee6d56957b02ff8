package nats

import (
	"time"

	"github.com/brojonat/nftvault/service/txn"
)

// StateEvent is a transaction-state update published to NATS.
// This is published to the subject "txstate.{wallet}" in JetStream.
type StateEvent struct {
	Wallet string `json:"wallet"`

	Status    txn.Status    `json:"status"`
	Operation txn.Operation `json:"operation,omitempty"`
	Signature string        `json:"signature,omitempty"`
	Error     string        `json:"error,omitempty"`
	Kind      txn.Kind      `json:"kind,omitempty"`
	Message   string        `json:"message"`

	UpdatedAt   time.Time `json:"updated_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromState converts an orchestrator state to a StateEvent for publishing.
func FromState(wallet string, state txn.State) *StateEvent {
	return &StateEvent{
		Wallet:      wallet,
		Status:      state.Status,
		Operation:   state.Operation,
		Signature:   state.Signature,
		Error:       state.Error,
		Kind:        state.Kind,
		Message:     state.Message,
		UpdatedAt:   state.UpdatedAt,
		PublishedAt: time.Now().UTC(),
	}
}

// State converts the event back to the orchestrator's state.
func (e *StateEvent) State() txn.State {
	return txn.State{
		Status:    e.Status,
		Operation: e.Operation,
		Signature: e.Signature,
		Error:     e.Error,
		Kind:      e.Kind,
		Message:   e.Message,
		UpdatedAt: e.UpdatedAt,
	}
}

// Subject returns the JetStream subject for wallet's state events.
func Subject(wallet string) string {
	return SubjectPrefix + wallet
}
