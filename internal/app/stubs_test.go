package app

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/identity"
	"github.com/transfa/settlement-service/internal/store"
	"github.com/transfa/settlement-service/pkg/starkclient"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type markCall struct {
	id         string
	transferID *string
}

type ledgerStub struct {
	mu        sync.Mutex
	records   map[string]domain.SettlementRecord
	getErr    error
	markErr   error
	insertErr error
	marks     []markCall
	inserted  []domain.SettlementRecord
}

func newLedgerStub(records ...domain.SettlementRecord) *ledgerStub {
	l := &ledgerStub{records: make(map[string]domain.SettlementRecord)}
	for _, rec := range records {
		l.records[rec.ID] = rec
	}
	return l
}

func (l *ledgerStub) InsertIfAbsent(ctx context.Context, records ...domain.SettlementRecord) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.insertErr != nil {
		return 0, l.insertErr
	}
	n := 0
	for _, rec := range records {
		if _, ok := l.records[rec.ID]; ok {
			continue
		}
		l.records[rec.ID] = rec
		l.inserted = append(l.inserted, rec)
		n++
	}
	return n, nil
}

func (l *ledgerStub) MarkReceived(ctx context.Context, id string, transferID *string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks = append(l.marks, markCall{id: id, transferID: transferID})
	if l.markErr != nil {
		return false, l.markErr
	}
	rec, ok := l.records[id]
	if !ok {
		return false, nil
	}
	rec.Status = domain.StatusReceived
	rec.TransferID = transferID
	l.records[id] = rec
	return true, nil
}

func (l *ledgerStub) GetByID(ctx context.Context, id string) (*domain.SettlementRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return nil, l.getErr
	}
	rec, ok := l.records[id]
	if !ok {
		return nil, store.ErrRecordNotFound
	}
	return &rec, nil
}

type forwardCall struct {
	invoiceID string
	credited  int64
	fee       int64
}

type forwarderStub struct {
	mu         sync.Mutex
	calls      []forwardCall
	transferID *string
	err        error
}

func (f *forwarderStub) Forward(ctx context.Context, invoiceID string, credited, fee int64) (*string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, forwardCall{invoiceID: invoiceID, credited: credited, fee: fee})
	if f.err != nil {
		return nil, f.err
	}
	return f.transferID, nil
}

// transferClientStub rejects a reused externalId the way the provider does.
type transferClientStub struct {
	mu       sync.Mutex
	requests [][]starkclient.Transfer
	created  []starkclient.Transfer
	queries  []string
	err      error
	queryErr error
}

func (c *transferClientStub) CreateTransfers(ctx context.Context, transfers []starkclient.Transfer) ([]starkclient.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, transfers)
	if c.err != nil {
		return nil, c.err
	}
	for _, tr := range transfers {
		for _, existing := range c.created {
			if tr.ExternalID != "" && existing.ExternalID == tr.ExternalID {
				return nil, &starkclient.ErrorResponse{
					StatusCode: 400,
					Errors:     []starkclient.APIError{{Code: starkclient.ErrCodeInvalidExternalID, Message: "externalId already used"}},
				}
			}
		}
	}
	out := make([]starkclient.Transfer, len(transfers))
	for i, tr := range transfers {
		tr.ID = "tr_" + tr.ExternalID
		out[i] = tr
		c.created = append(c.created, tr)
	}
	return out, nil
}

func (c *transferClientStub) QueryTransfers(ctx context.Context, externalID string) ([]starkclient.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, externalID)
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	var out []starkclient.Transfer
	for _, tr := range c.created {
		if tr.ExternalID == externalID {
			out = append(out, tr)
		}
	}
	return out, nil
}

type publisherStub struct {
	published []interface{}
	keys      []string
	err       error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.published = append(p.published, body)
	p.keys = append(p.keys, routingKey)
	return p.err
}

type invoiceClientStub struct {
	mu       sync.Mutex
	batches  [][]starkclient.Invoice
	errs     []error
	paid     []starkclient.Invoice
	queryErr error
}

func (c *invoiceClientStub) CreateInvoices(ctx context.Context, invoices []starkclient.Invoice) ([]starkclient.Invoice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, invoices)
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]starkclient.Invoice, len(invoices))
	for i, inv := range invoices {
		inv.ID = "inv_" + inv.TaxID
		inv.Fee = 200
		inv.Status = "created"
		out[i] = inv
	}
	return out, nil
}

func (c *invoiceClientStub) QueryInvoices(ctx context.Context, status string, limit int) ([]starkclient.Invoice, error) {
	if c.queryErr != nil {
		return nil, c.queryErr
	}
	return c.paid, nil
}

type fixedPayers struct {
	size int
	next int
}

func (p *fixedPayers) RandomPayer() identity.Payer {
	p.next++
	return identity.Payer{
		AmountCents: int64(1000 * p.next),
		Name:        "Ana Lima",
		TaxID:       "000.000.000-0" + string(rune('0'+p.next%10)),
		Email:       "ana.lima1@gmail.com",
		Phone:       "+5511912345678",
	}
}

func (p *fixedPayers) IntBetween(min, max int) int {
	return p.size
}

func strPtr(s string) *string {
	return &s
}
