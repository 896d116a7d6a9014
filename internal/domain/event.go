/**
 * @description
 * Models for the payment provider's webhook events. Production deliveries decode into
 * ProviderEvent, locally simulated deliveries into MockEvent. Both satisfy Event so the
 * settlement worker never branches on where an event came from.
 */
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// SubscriptionInvoice is the subscription name of payment request events.
	SubscriptionInvoice = "invoice"
	// LogTypeCredited is the log type emitted when a payment request is paid and credited.
	LogTypeCredited = "credited"
)

// ErrMissingEvent is returned when a provider payload carries no "event" object.
var ErrMissingEvent = errors.New("payload has no event object")

// Event is the read-only view of a webhook event shared by both delivery modes.
type Event interface {
	Subscription() string
	ID() string
	// Log returns the event's log entry, ok is false when the event carries none.
	Log() (log *EventLog, ok bool)
}

// EventLog describes what happened to the resource the event refers to.
type EventLog struct {
	Type    string
	Invoice *EventInvoice
}

// EventInvoice is the payment request referenced by an invoice log.
type EventInvoice struct {
	ID     string
	Amount int64
	Fee    int64
}

type invoicePayload struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Fee    int64  `json:"fee"`
	Status string `json:"status,omitempty"`
}

type logPayload struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Created string          `json:"created,omitempty"`
	Invoice *invoicePayload `json:"invoice,omitempty"`
}

type eventPayload struct {
	ID           string      `json:"id"`
	Subscription string      `json:"subscription"`
	WorkspaceID  string      `json:"workspaceId,omitempty"`
	Created      string      `json:"created,omitempty"`
	Log          *logPayload `json:"log,omitempty"`
}

func (l *logPayload) toEventLog() *EventLog {
	out := &EventLog{Type: l.Type}
	if l.Invoice != nil {
		out.Invoice = &EventInvoice{ID: l.Invoice.ID, Amount: l.Invoice.Amount, Fee: l.Invoice.Fee}
	}
	return out
}

// ProviderEvent is an event delivered by the real payment provider.
type ProviderEvent struct {
	payload eventPayload
}

// ParseProviderEvent decodes a provider body of the form {"event": {...}}.
func ParseProviderEvent(content []byte) (*ProviderEvent, error) {
	var envelope struct {
		Event *eventPayload `json:"event"`
	}
	if err := json.Unmarshal(content, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode provider event: %w", err)
	}
	if envelope.Event == nil {
		return nil, ErrMissingEvent
	}
	return &ProviderEvent{payload: *envelope.Event}, nil
}

func (e *ProviderEvent) Subscription() string { return e.payload.Subscription }
func (e *ProviderEvent) ID() string           { return e.payload.ID }

func (e *ProviderEvent) Log() (*EventLog, bool) {
	if e.payload.Log == nil {
		return nil, false
	}
	return e.payload.Log.toEventLog(), true
}

// WorkspaceID returns the provider workspace that emitted the event.
func (e *ProviderEvent) WorkspaceID() string { return e.payload.WorkspaceID }

// CreatedAt returns the provider's creation timestamp, zero when absent or unparsable.
func (e *ProviderEvent) CreatedAt() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.payload.Created)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MockEvent is an event delivered by the local provider stub.
type MockEvent struct {
	payload eventPayload
}

// ParseMockEvent decodes a stub body. The event may be wrapped in {"event": {...}} or be
// the top-level object itself.
func ParseMockEvent(content []byte) (*MockEvent, error) {
	var envelope struct {
		Event json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(content, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode mock event: %w", err)
	}

	raw := json.RawMessage(content)
	if len(envelope.Event) > 0 && string(envelope.Event) != "null" {
		raw = envelope.Event
	}

	var payload eventPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode mock event: %w", err)
	}
	return &MockEvent{payload: payload}, nil
}

func (e *MockEvent) Subscription() string { return e.payload.Subscription }
func (e *MockEvent) ID() string           { return e.payload.ID }

func (e *MockEvent) Log() (*EventLog, bool) {
	if e.payload.Log == nil {
		return nil, false
	}
	return e.payload.Log.toEventLog(), true
}

// NewMockCreditedPayload builds the body the local stub sends when a payment request is paid.
func NewMockCreditedPayload(eventID, invoiceID string, amount, fee int64) ([]byte, error) {
	body := struct {
		Event eventPayload `json:"event"`
	}{
		Event: eventPayload{
			ID:           eventID,
			Subscription: SubscriptionInvoice,
			WorkspaceID:  "mock_workspace",
			Created:      time.Now().UTC().Format(time.RFC3339Nano),
			Log: &logPayload{
				Type: LogTypeCredited,
				Invoice: &invoicePayload{
					ID:     invoiceID,
					Amount: amount,
					Fee:    fee,
					Status: "paid",
				},
			},
		},
	}
	return json.Marshal(body)
}
