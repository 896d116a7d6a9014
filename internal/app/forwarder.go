/**
 * @description
 * Forwarding of net settlement amounts. For every credited payment request the
 * provider's fee, the platform fee and the transfer fee are deducted and the remainder
 * is sent to the fixed destination account.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/pkg/starkclient"
)

// RoutingKeySettlementForwarded is the routing key of SettlementForwardedEvent messages.
const RoutingKeySettlementForwarded = "settlement.forwarded"

// TransferClient creates and looks up outbound transfers at the provider.
type TransferClient interface {
	CreateTransfers(ctx context.Context, transfers []starkclient.Transfer) ([]starkclient.Transfer, error)
	QueryTransfers(ctx context.Context, externalID string) ([]starkclient.Transfer, error)
}

// EventPublisher publishes internal notifications to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Forwarder sends the net amount of one credited payment request onward. It returns
// the transfer id, or nil when nothing was left to send.
type Forwarder interface {
	Forward(ctx context.Context, invoiceID string, credited, fee int64) (*string, error)
}

// FeeSchedule holds the deductions applied on top of the provider's own fee.
type FeeSchedule struct {
	PlatformFeeCents int64
	TransferFeeCents int64
}

// SettlementForwarder implements Forwarder against the provider's transfer API.
type SettlementForwarder struct {
	client      TransferClient
	destination domain.DestinationAccount
	fees        FeeSchedule
	publisher   EventPublisher
	exchange    string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewSettlementForwarder creates a forwarder. publisher may be nil.
func NewSettlementForwarder(client TransferClient, destination domain.DestinationAccount, fees FeeSchedule, publisher EventPublisher, exchange string, logger *slog.Logger, m *metrics.Metrics) *SettlementForwarder {
	return &SettlementForwarder{
		client:      client,
		destination: destination,
		fees:        fees,
		publisher:   publisher,
		exchange:    exchange,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

// NetAmount is credited minus every fee, in minor units.
func (f *SettlementForwarder) NetAmount(credited, fee int64) int64 {
	return credited - fee - f.fees.PlatformFeeCents - f.fees.TransferFeeCents
}

func (f *SettlementForwarder) Forward(ctx context.Context, invoiceID string, credited, fee int64) (*string, error) {
	net := f.NetAmount(credited, fee)
	if net <= 0 {
		f.logger.Warn("net amount not positive, transfer skipped",
			"invoice_id", invoiceID, "credited", credited, "fee", fee,
			"platform_fee", f.fees.PlatformFeeCents, "transfer_fee", f.fees.TransferFeeCents, "net", net)
		f.metrics.Transfer("skipped")
		return nil, nil
	}

	transfer := starkclient.Transfer{
		Amount:        net,
		Name:          f.destination.Name,
		TaxID:         f.destination.TaxID,
		BankCode:      f.destination.BankCode,
		BranchCode:    f.destination.BranchCode,
		AccountNumber: f.destination.AccountNumber,
		AccountType:   f.destination.AccountType,
		ExternalID:    ExternalID(invoiceID),
		Tags:          []string{invoiceID},
	}

	created, err := f.client.CreateTransfers(ctx, []starkclient.Transfer{transfer})
	var apiErr *starkclient.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.HasCode(starkclient.ErrCodeInvalidExternalID) {
		return f.existingTransfer(ctx, invoiceID, transfer.ExternalID, err)
	}
	if err != nil {
		f.metrics.Transfer("error")
		return nil, fmt.Errorf("failed to create transfer for invoice %s: %w", invoiceID, err)
	}
	if len(created) == 0 || created[0].ID == "" {
		f.metrics.Transfer("error")
		return nil, fmt.Errorf("provider returned no transfer for invoice %s", invoiceID)
	}

	transferID := created[0].ID
	f.metrics.Transfer("success")
	f.logger.Info("net amount transferred",
		"invoice_id", invoiceID, "transfer_id", transferID, "gross", credited, "fee", fee, "net", net)

	f.publish(ctx, domain.SettlementForwardedEvent{
		InvoiceID:   invoiceID,
		TransferID:  transferID,
		Gross:       credited,
		Fee:         fee,
		PlatformFee: f.fees.PlatformFeeCents,
		TransferFee: f.fees.TransferFeeCents,
		Net:         net,
		OccurredAt:  f.now().UTC(),
	})
	return &transferID, nil
}

// ExternalID is the provider-side idempotency key of the settlement for invoiceID.
func ExternalID(invoiceID string) string {
	return "settlement-" + invoiceID
}

// existingTransfer resolves a rejected duplicate to the transfer an earlier attempt
// created, so the caller can still record it.
func (f *SettlementForwarder) existingTransfer(ctx context.Context, invoiceID, externalID string, createErr error) (*string, error) {
	found, err := f.client.QueryTransfers(ctx, externalID)
	if err != nil {
		f.metrics.Transfer("error")
		return nil, fmt.Errorf("failed to look up existing transfer for invoice %s: %w", invoiceID, errors.Join(createErr, err))
	}
	if len(found) == 0 || found[0].ID == "" {
		f.metrics.Transfer("error")
		return nil, fmt.Errorf("failed to create transfer for invoice %s: %w", invoiceID, createErr)
	}

	transferID := found[0].ID
	f.metrics.Transfer("existing")
	f.logger.Info("transfer already created for invoice, reusing it",
		"invoice_id", invoiceID, "transfer_id", transferID, "external_id", externalID)
	return &transferID, nil
}

func (f *SettlementForwarder) publish(ctx context.Context, event domain.SettlementForwardedEvent) {
	if f.publisher == nil {
		return
	}
	if err := f.publisher.Publish(ctx, f.exchange, RoutingKeySettlementForwarded, event); err != nil {
		f.logger.Error("failed to publish settlement event", "invoice_id", event.InvoiceID, "error", err)
	}
}
