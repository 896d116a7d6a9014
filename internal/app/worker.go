/**
 * @description
 * The settlement worker is the single consumer of the ingestion queue. It processes one
 * delivery at a time: authenticate and parse, record history, and settle credited
 * payment requests. A failure in one delivery never stops the loop.
 */
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/internal/queue"
	"github.com/transfa/settlement-service/internal/signature"
)

// ItemSource yields queued deliveries, blocking while none are available.
type ItemSource interface {
	Dequeue(ctx context.Context) (queue.Item, error)
}

// VerifierSelector returns the verifier for a delivery mode.
type VerifierSelector interface {
	For(mockMode bool) signature.Verifier
}

// Worker drains the ingestion queue serially.
type Worker struct {
	source    ItemSource
	verifiers VerifierSelector
	settler   *Settler
	monitor   *WebhookMonitor
	deduper   Deduper
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewWorker creates the settlement worker. deduper may be nil.
func NewWorker(source ItemSource, verifiers VerifierSelector, settler *Settler, monitor *WebhookMonitor, deduper Deduper, logger *slog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		source:    source,
		verifiers: verifiers,
		settler:   settler,
		monitor:   monitor,
		deduper:   deduper,
		logger:    logger,
		metrics:   m,
	}
}

// Run processes items until ctx is cancelled or the queue is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("settlement worker started")
	for {
		item, err := w.source.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				w.logger.Info("settlement worker stopped")
				return
			}
			w.logger.Error("failed to dequeue item", "error", err)
			continue
		}
		w.Process(ctx, item)
	}
}

// Process handles a single delivery. Panics are recovered and logged.
func (w *Worker) Process(ctx context.Context, item queue.Item) {
	logger := w.logger.With("request_id", item.RequestID, "mock", item.MockMode)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("unhandled panic while processing event", "panic", r)
			w.metrics.EventProcessed("panic")
		}
	}()

	event, err := w.verifiers.For(item.MockMode).Verify(ctx, item.Content, item.Signature)
	if err != nil {
		if errors.Is(err, signature.ErrInvalidSignature) {
			logger.Warn("dropping event with invalid signature", "error", err)
			w.metrics.EventProcessed("invalid_signature")
			return
		}
		logger.Error("dropping event that could not be parsed", "error", err)
		w.metrics.EventProcessed("parse_error")
		return
	}

	w.handleEvent(ctx, logger, event, w.isDuplicate(ctx, logger, event))
}

func (w *Worker) isDuplicate(ctx context.Context, logger *slog.Logger, event domain.Event) bool {
	if w.deduper == nil || event.ID() == "" {
		return false
	}
	seen, err := w.deduper.Seen(ctx, event.ID())
	if err != nil {
		logger.Warn("event dedupe check failed, processing anyway", "event_id", event.ID(), "error", err)
		return false
	}
	if seen {
		logger.Info("duplicate event, settlement skipped", "event_id", event.ID())
	}
	return seen
}

// handleEvent records history for every verified event. A duplicate delivery stops
// there.
func (w *Worker) handleEvent(ctx context.Context, logger *slog.Logger, event domain.Event, duplicate bool) {
	subscription := event.Subscription()
	logger.Info("processing event", "subscription", subscription, "event_id", event.ID(), "duplicate", duplicate)

	log, ok := event.Log()
	if subscription != domain.SubscriptionInvoice || !ok {
		w.monitor.AppendHistory(HistoryEntry{Type: subscription, InvoiceID: "N/A"})
		if duplicate {
			w.metrics.EventProcessed("duplicate")
		} else {
			w.metrics.EventProcessed("recorded")
		}
		return
	}

	invoiceID, amount, fee := "N/A", int64(0), int64(0)
	if log.Invoice != nil {
		invoiceID, amount, fee = log.Invoice.ID, log.Invoice.Amount, log.Invoice.Fee
	}
	w.monitor.AppendHistory(HistoryEntry{
		Type:      subscription + "." + log.Type,
		InvoiceID: invoiceID,
		Amount:    amount,
	})

	if duplicate {
		w.metrics.EventProcessed("duplicate")
		return
	}
	if log.Type != domain.LogTypeCredited || log.Invoice == nil {
		w.metrics.EventProcessed("recorded")
		return
	}

	w.monitor.AddCreditedAmount(amount)
	logger.Info("invoice credited", "invoice_id", invoiceID, "amount", amount, "fee", fee)

	outcome, err := w.settler.Settle(ctx, invoiceID, amount, fee, false)
	switch {
	case errors.Is(err, ErrLedgerWrite):
		w.metrics.EventProcessed("settled")
	case err != nil:
		logger.Error("failed to forward credited invoice", "invoice_id", invoiceID, "error", err)
		w.metrics.EventProcessed("forward_error")
	case outcome == OutcomeAlreadyReceived:
		logger.Info("invoice already settled, skipping transfer", "invoice_id", invoiceID)
		w.metrics.EventProcessed("already_settled")
	default:
		w.metrics.EventProcessed("settled")
	}
}
