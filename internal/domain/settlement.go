/**
 * @description
 * Domain models for the settlement ledger and the destination of forwarded funds.
 */
package domain

import "time"

// SettlementStatus is the lifecycle state of a payment request in the local ledger.
type SettlementStatus string

const (
	// StatusSent marks a payment request that was issued but not yet settled.
	StatusSent SettlementStatus = "sent"
	// StatusReceived marks a payment request whose credit was observed and forwarded.
	StatusReceived SettlementStatus = "received"
)

// SettlementRecord is the durable fact "payment request X was issued and has/hasn't settled".
type SettlementRecord struct {
	ID         string           `json:"id"`
	Amount     int64            `json:"amount"`
	PayerName  string           `json:"payer_name"`
	PayerTaxID string           `json:"payer_tax_id"`
	Status     SettlementStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	ReceivedAt *time.Time       `json:"received_at,omitempty"`
	TransferID *string          `json:"transfer_id,omitempty"`
}

// IsReceived reports whether the record already settled.
func (r SettlementRecord) IsReceived() bool {
	return r.Status == StatusReceived
}

// LedgerStats summarises the ledger for the dashboard.
type LedgerStats struct {
	CountSent           int64 `json:"count_sent"`
	CountReceived       int64 `json:"count_received"`
	ReceivedVolumeCents int64 `json:"received_volume_cents"`
}

// DestinationAccount is the fixed account that receives every net settlement.
type DestinationAccount struct {
	BankCode      string `json:"bank_code"`
	BranchCode    string `json:"branch_code"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type"`
	Name          string `json:"name"`
	TaxID         string `json:"tax_id"`
}

// SettlementForwardedEvent is published after a net transfer was created.
type SettlementForwardedEvent struct {
	InvoiceID   string    `json:"invoice_id"`
	TransferID  string    `json:"transfer_id"`
	Gross       int64     `json:"gross"`
	Fee         int64     `json:"fee"`
	PlatformFee int64     `json:"platform_fee"`
	TransferFee int64     `json:"transfer_fee"`
	Net         int64     `json:"net"`
	OccurredAt  time.Time `json:"occurred_at"`
}
