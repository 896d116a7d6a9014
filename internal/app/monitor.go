/**
 * @description
 * Process-local webhook statistics and the recent event history shown on the dashboard.
 * The receiver, the settlement worker and the admin API share one WebhookMonitor.
 */
package app

import (
	"sync"
	"time"
)

// HistoryCapacity is how many processed events the history keeps.
const HistoryCapacity = 50

// HistoryEntry is one processed event as shown on the dashboard.
type HistoryEntry struct {
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	InvoiceID string    `json:"invoice_id"`
	Amount    int64     `json:"amount"`
}

// WebhookStats are the receiver and worker counters.
type WebhookStats struct {
	TotalReceived    int64      `json:"total_received"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	Errors           int64      `json:"errors"`
	LastEventTime    *time.Time `json:"last_event_time"`
}

// WebhookMonitor guards the stats and a fixed-size ring of history entries.
type WebhookMonitor struct {
	mu      sync.Mutex
	stats   WebhookStats
	history [HistoryCapacity]HistoryEntry
	next    int
	size    int
	now     func() time.Time
}

func NewWebhookMonitor() *WebhookMonitor {
	return &WebhookMonitor{now: time.Now}
}

// RecordReceived counts an accepted delivery.
func (m *WebhookMonitor) RecordReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	m.stats.TotalReceived++
	m.stats.LastEventTime = &now
}

// RecordError counts a delivery rejected at the receiver.
func (m *WebhookMonitor) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Errors++
}

// AddCreditedAmount adds a credited amount to the running total.
func (m *WebhookMonitor) AddCreditedAmount(amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.TotalAmountCents += amount
}

// AppendHistory stores entry, evicting the oldest once the ring is full. A zero Time is
// replaced by the current time.
func (m *WebhookMonitor) AppendHistory(entry HistoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Time.IsZero() {
		entry.Time = m.now().UTC()
	}
	m.history[m.next] = entry
	m.next = (m.next + 1) % HistoryCapacity
	if m.size < HistoryCapacity {
		m.size++
	}
}

// Stats returns a copy of the counters.
func (m *WebhookMonitor) Stats() WebhookStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.stats
	if out.LastEventTime != nil {
		t := *out.LastEventTime
		out.LastEventTime = &t
	}
	return out
}

// History returns the stored entries, newest first.
func (m *WebhookMonitor) History() []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]HistoryEntry, 0, m.size)
	for i := 1; i <= m.size; i++ {
		idx := (m.next - i + HistoryCapacity) % HistoryCapacity
		out = append(out, m.history[idx])
	}
	return out
}
