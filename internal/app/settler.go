package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/store"
)

// Ledger defines the ledger operations the settlement flow needs.
type Ledger interface {
	InsertIfAbsent(ctx context.Context, records ...domain.SettlementRecord) (int, error)
	MarkReceived(ctx context.Context, id string, transferID *string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.SettlementRecord, error)
}

// ErrLedgerWrite marks a settlement whose transfer succeeded but whose ledger update did not.
var ErrLedgerWrite = errors.New("ledger update failed")

// SettleOutcome says what Settle did with a credited payment request.
type SettleOutcome string

const (
	OutcomeForwarded       SettleOutcome = "forwarded"
	OutcomeAlreadyReceived SettleOutcome = "already_received"
	OutcomeUnknownInvoice  SettleOutcome = "unknown_invoice"
)

// Settler runs the check, forward, mark sequence for one payment request. The worker
// and the reconciliation job share a Settler so the same invoice is never settled by
// both at once.
type Settler struct {
	ledger    Ledger
	forwarder Forwarder
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*invoiceLock
}

func NewSettler(ledger Ledger, forwarder Forwarder, logger *slog.Logger) *Settler {
	return &Settler{
		ledger:    ledger,
		forwarder: forwarder,
		logger:    logger,
		locks:     make(map[string]*invoiceLock),
	}
}

// Settle forwards the net amount of invoiceID unless the ledger already shows it as
// received. With requireRecord set, an invoice missing from the ledger is skipped
// instead of forwarded, and ledger read failures are returned instead of ignored.
func (s *Settler) Settle(ctx context.Context, invoiceID string, credited, fee int64, requireRecord bool) (SettleOutcome, error) {
	unlock := s.lock(invoiceID)
	defer unlock()

	record, err := s.ledger.GetByID(ctx, invoiceID)
	switch {
	case err == nil && record.IsReceived():
		return OutcomeAlreadyReceived, nil
	case errors.Is(err, store.ErrRecordNotFound):
		if requireRecord {
			return OutcomeUnknownInvoice, nil
		}
		s.logger.Warn("credited invoice not in ledger, forwarding anyway", "invoice_id", invoiceID)
	case err != nil:
		if requireRecord {
			return "", fmt.Errorf("failed to read ledger for invoice %s: %w", invoiceID, err)
		}
		s.logger.Error("ledger lookup failed, forwarding anyway", "invoice_id", invoiceID, "error", err)
	}

	transferID, err := s.forwarder.Forward(ctx, invoiceID, credited, fee)
	if err != nil {
		return "", err
	}

	if _, err := s.ledger.MarkReceived(ctx, invoiceID, transferID); err != nil {
		s.logger.Error("failed to mark invoice received", "invoice_id", invoiceID, "error", err)
		return OutcomeForwarded, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}
	return OutcomeForwarded, nil
}

func (s *Settler) lock(invoiceID string) func() {
	s.mu.Lock()
	l, ok := s.locks[invoiceID]
	if !ok {
		l = &invoiceLock{}
		s.locks[invoiceID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, invoiceID)
		}
		s.mu.Unlock()
	}
}

type invoiceLock struct {
	mu   sync.Mutex
	refs int
}
