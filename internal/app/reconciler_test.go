package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/pkg/starkclient"
)

func newTestReconciler(paid []starkclient.Invoice, records ...domain.SettlementRecord) (*Reconciler, *ledgerStub, *forwarderStub) {
	ledger := newLedgerStub(records...)
	forwarder := &forwarderStub{transferID: strPtr("tr_rec")}
	settler := NewSettler(ledger, forwarder, discardLogger())
	client := &invoiceClientStub{paid: paid}
	return NewReconciler(client, settler, 0, discardLogger(), nil), ledger, forwarder
}

func TestReconcile_SentInvoiceIsForwardedAndMarked(t *testing.T) {
	paid := []starkclient.Invoice{{ID: "inv_1", Amount: 10000, Fee: 200}}
	r, ledger, forwarder := newTestReconciler(paid, domain.SettlementRecord{ID: "inv_1", Status: domain.StatusSent})

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.Errors)
	require.Len(t, forwarder.calls, 1)
	assert.Equal(t, forwardCall{invoiceID: "inv_1", credited: 10000, fee: 200}, forwarder.calls[0])
	require.Len(t, ledger.marks, 1)
	assert.Equal(t, "tr_rec", *ledger.marks[0].transferID)
}

func TestReconcile_ReceivedInvoiceIsSkipped(t *testing.T) {
	paid := []starkclient.Invoice{{ID: "inv_1", Amount: 10000, Fee: 200}}
	r, ledger, forwarder := newTestReconciler(paid, domain.SettlementRecord{ID: "inv_1", Status: domain.StatusReceived})

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, forwarder.calls)
	assert.Empty(t, ledger.marks)
}

func TestReconcile_UnknownInvoiceIsSkippedWithoutError(t *testing.T) {
	paid := []starkclient.Invoice{{ID: "inv_ghost", Amount: 10000, Fee: 200}}
	r, ledger, forwarder := newTestReconciler(paid)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Errors)
	assert.Empty(t, forwarder.calls)
	assert.Empty(t, ledger.marks)
}

func TestReconcile_PerInvoiceErrorsAreCounted(t *testing.T) {
	paid := []starkclient.Invoice{
		{ID: "inv_1", Amount: 10000, Fee: 200},
		{ID: "inv_2", Amount: 20000, Fee: 200},
	}
	r, _, forwarder := newTestReconciler(paid,
		domain.SettlementRecord{ID: "inv_1", Status: domain.StatusSent},
		domain.SettlementRecord{ID: "inv_2", Status: domain.StatusSent},
	)
	forwarder.err = errors.New("provider down")

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Errors)
	assert.Len(t, forwarder.calls, 2, "one failure must not stop the run")
}

func TestReconcile_QueryFailureAbortsRun(t *testing.T) {
	r, _, forwarder := newTestReconciler(nil)
	r.client = &invoiceClientStub{queryErr: errors.New("unauthorized")}

	result, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Empty(t, forwarder.calls)
}

func TestReconcile_LedgerFailureIsRepairedOnNextRun(t *testing.T) {
	ledger := newLedgerStub(domain.SettlementRecord{ID: "inv_1", Status: domain.StatusSent})
	transfers := &transferClientStub{}
	forwarder := NewSettlementForwarder(transfers, testDestination, FeeSchedule{}, nil, "", discardLogger(), nil)
	settler := NewSettler(ledger, forwarder, discardLogger())
	paid := []starkclient.Invoice{{ID: "inv_1", Amount: 10000, Fee: 200}}
	r := NewReconciler(&invoiceClientStub{paid: paid}, settler, 0, discardLogger(), nil)

	ledger.markErr = errors.New("disk full")
	first, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Errors)
	require.Len(t, transfers.created, 1)

	rec, err := ledger.GetByID(context.Background(), "inv_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSent, rec.Status, "transfer went out but the mark failed")

	ledger.markErr = nil
	second, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.Zero(t, second.Errors)

	assert.Len(t, transfers.created, 1, "no second transfer")
	rec, err = ledger.GetByID(context.Background(), "inv_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReceived, rec.Status)
	require.NotNil(t, rec.TransferID)
	assert.Equal(t, transfers.created[0].ID, *rec.TransferID)

	third, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, third.Skipped)
	assert.Len(t, transfers.requests, 2)
}
