package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/pkg/starkclient"
)

const (
	DefaultReconcileLimit = 100
	reconcileTimeout      = 5 * time.Minute
)

// InvoiceQuerier lists payment requests at the provider.
type InvoiceQuerier interface {
	QueryInvoices(ctx context.Context, status string, limit int) ([]starkclient.Invoice, error)
}

// ReconcileResult summarises one reconciliation run.
type ReconcileResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Processed  int       `json:"processed"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
}

// Reconciler settles invoices the provider reports as paid but whose webhook was lost.
type Reconciler struct {
	client  InvoiceQuerier
	settler *Settler
	limit   int
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewReconciler(client InvoiceQuerier, settler *Settler, limit int, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	if limit <= 0 {
		limit = DefaultReconcileLimit
	}
	return &Reconciler{
		client:  client,
		settler: settler,
		limit:   limit,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Run compares the provider's paid invoices with the ledger. It returns an error only
// when the provider query fails, in which case no summary is logged.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileResult, error) {
	result := &ReconcileResult{RunID: uuid.NewString(), StartedAt: r.now().UTC()}
	logger := r.logger.With("run_id", result.RunID)
	logger.Info("starting reconciliation job")

	paid, err := r.client.QueryInvoices(ctx, "paid", r.limit)
	if err != nil {
		logger.Error("failed to query paid invoices", "error", err)
		return nil, err
	}
	logger.Info("found paid invoices", "count", len(paid))

	for _, inv := range paid {
		outcome, err := r.settler.Settle(ctx, inv.ID, inv.Amount, inv.Fee, true)
		if err != nil {
			logger.Error("failed to reconcile invoice", "invoice_id", inv.ID, "error", err)
			result.Errors++
			r.metrics.ReconcileInvoice("error")
			continue
		}

		switch outcome {
		case OutcomeUnknownInvoice:
			logger.Warn("paid invoice not found in ledger, skipping", "invoice_id", inv.ID)
			result.Skipped++
			r.metrics.ReconcileInvoice("unknown")
		case OutcomeAlreadyReceived:
			result.Skipped++
			r.metrics.ReconcileInvoice("skipped")
		default:
			logger.Info("reconciled invoice with lost webhook", "invoice_id", inv.ID)
			result.Processed++
			r.metrics.ReconcileInvoice("processed")
		}
	}

	result.FinishedAt = r.now().UTC()
	logger.Info("reconciliation job finished",
		"processed", result.Processed, "skipped", result.Skipped, "errors", result.Errors,
		"timestamp", result.FinishedAt.Format(time.RFC3339))
	return result, nil
}

// Tick is the cron entry point.
func (r *Reconciler) Tick() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	r.Run(ctx)
}
