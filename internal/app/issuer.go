package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/identity"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/pkg/starkclient"
)

const (
	invoiceDueIn          = time.Hour
	invoiceExpirationSecs = 3600
	outcomeHistorySize    = 50
	batchTimeout          = 2 * time.Minute
)

// InvoiceClient issues payment requests at the provider.
type InvoiceClient interface {
	CreateInvoices(ctx context.Context, invoices []starkclient.Invoice) ([]starkclient.Invoice, error)
}

// PayerSource produces synthetic payers and batch sizes.
type PayerSource interface {
	RandomPayer() identity.Payer
	IntBetween(min, max int) int
}

// BatchOutcome is the result of one issuing tick.
type BatchOutcome struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Requested int       `json:"requested"`
	Created   int       `json:"created"`
	Persisted int       `json:"persisted"`
	Error     string    `json:"error,omitempty"`
}

// Issuer creates batches of payment requests and records them in the ledger as sent.
type Issuer struct {
	client   InvoiceClient
	ledger   Ledger
	payers   PayerSource
	minBatch int
	maxBatch int
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	outcomes []BatchOutcome
}

func NewIssuer(client InvoiceClient, ledger Ledger, payers PayerSource, minBatch, maxBatch int, logger *slog.Logger, m *metrics.Metrics) *Issuer {
	return &Issuer{
		client:   client,
		ledger:   ledger,
		payers:   payers,
		minBatch: minBatch,
		maxBatch: maxBatch,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// IssueBatch creates between minBatch and maxBatch payment requests and persists the
// ones the provider accepted.
func (i *Issuer) IssueBatch(ctx context.Context) (BatchOutcome, error) {
	outcome := BatchOutcome{RunID: uuid.NewString(), StartedAt: i.now().UTC()}
	outcome.Requested = i.payers.IntBetween(i.minBatch, i.maxBatch)

	due := i.now().UTC().Add(invoiceDueIn).Format(time.RFC3339)
	invoices := make([]starkclient.Invoice, 0, outcome.Requested)
	for n := 0; n < outcome.Requested; n++ {
		payer := i.payers.RandomPayer()
		invoices = append(invoices, starkclient.Invoice{
			Amount:       payer.AmountCents,
			Name:         payer.Name,
			TaxID:        payer.TaxID,
			Due:          due,
			Expiration:   invoiceExpirationSecs,
			Tags:         []string{payer.Email, payer.Phone},
			Descriptions: []starkclient.InvoiceDescription{{Key: "Service", Value: "Trial payment"}},
		})
	}

	created, err := i.client.CreateInvoices(ctx, invoices)
	if err != nil {
		return i.finish(outcome, fmt.Errorf("failed to create invoices: %w", err))
	}
	outcome.Created = len(created)

	records := make([]domain.SettlementRecord, 0, len(created))
	for idx, inv := range created {
		if inv.ID == "" {
			i.logger.Warn("provider returned invoice without id", "run_id", outcome.RunID, "index", idx)
			continue
		}
		name, taxID := inv.Name, inv.TaxID
		if name == "" && idx < len(invoices) {
			name, taxID = invoices[idx].Name, invoices[idx].TaxID
		}
		records = append(records, domain.SettlementRecord{
			ID:         inv.ID,
			Amount:     inv.Amount,
			PayerName:  name,
			PayerTaxID: taxID,
			Status:     domain.StatusSent,
		})
	}

	persisted, err := i.ledger.InsertIfAbsent(ctx, records...)
	outcome.Persisted = persisted
	if err != nil {
		return i.finish(outcome, fmt.Errorf("failed to persist issued invoices: %w", err))
	}
	return i.finish(outcome, nil)
}

func (i *Issuer) finish(outcome BatchOutcome, err error) (BatchOutcome, error) {
	if err != nil {
		outcome.Error = err.Error()
		i.metrics.Batch("error")
	} else {
		i.metrics.Batch("success")
	}

	i.mu.Lock()
	i.outcomes = append([]BatchOutcome{outcome}, i.outcomes...)
	if len(i.outcomes) > outcomeHistorySize {
		i.outcomes = i.outcomes[:outcomeHistorySize]
	}
	i.mu.Unlock()
	return outcome, err
}

// Tick is the cron entry point. Failures are logged and never propagate.
func (i *Issuer) Tick() {
	i.logger.Info("starting invoice batch job")
	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	outcome, err := i.IssueBatch(ctx)
	if err != nil {
		i.logger.Error("invoice batch failed", "run_id", outcome.RunID, "error", err)
		return
	}
	i.logger.Info("invoice batch job finished",
		"run_id", outcome.RunID, "requested", outcome.Requested, "created", outcome.Created, "persisted", outcome.Persisted)
}

// Outcomes returns the most recent batch outcomes, newest first.
func (i *Issuer) Outcomes() []BatchOutcome {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]BatchOutcome, len(i.outcomes))
	copy(out, i.outcomes)
	return out
}
