package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookMonitor_HistoryIsBoundedNewestFirst(t *testing.T) {
	m := NewWebhookMonitor()
	for i := 0; i < HistoryCapacity+10; i++ {
		m.AppendHistory(HistoryEntry{Type: "invoice.credited", InvoiceID: fmt.Sprintf("inv_%d", i)})
	}

	history := m.History()
	require.Len(t, history, HistoryCapacity)
	assert.Equal(t, fmt.Sprintf("inv_%d", HistoryCapacity+9), history[0].InvoiceID)
	assert.Equal(t, "inv_10", history[HistoryCapacity-1].InvoiceID)
	assert.False(t, history[0].Time.IsZero())
}

func TestWebhookMonitor_Counters(t *testing.T) {
	m := NewWebhookMonitor()
	assert.Nil(t, m.Stats().LastEventTime)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordReceived()
			m.AddCreditedAmount(100)
		}()
	}
	wg.Wait()
	m.RecordError()

	stats := m.Stats()
	assert.Equal(t, int64(20), stats.TotalReceived)
	assert.Equal(t, int64(2000), stats.TotalAmountCents)
	assert.Equal(t, int64(1), stats.Errors)
	assert.NotNil(t, stats.LastEventTime)
}

func TestWebhookMonitor_EmptyHistory(t *testing.T) {
	assert.Empty(t, NewWebhookMonitor().History())
}
