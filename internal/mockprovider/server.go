/**
 * @description
 * A local stand-in for the payment provider's API, used for end-to-end runs without
 * provider credentials. It signs its webhook deliveries with a key pair generated at
 * startup and publishes the public half on /v2/public-key, exactly like the real
 * provider does.
 *
 * Behaviour:
 * - POST /v2/invoice assigns ids, fee 200 and status "created". After a short delay the
 *   first invoice of the batch is marked paid and a signed "credited" event is posted
 *   to the configured webhook target.
 * - GET /v2/invoice?status=paid lists paid invoices for the reconciliation job.
 * - POST /v2/transfer assigns ids and status "processing". A reused externalId is
 *   rejected with invalidExternalId, and GET /v2/transfer?externalIds= finds the original.
 */
package mockprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/identity"
	"github.com/transfa/settlement-service/pkg/starkclient"
	"github.com/transfa/settlement-service/pkg/starkkey"
)

const (
	// PublicKeyID is the id reported for the stub's signing key.
	PublicKeyID = "mock-starkbank-key"
	// DefaultPaymentDelay is how long after creation the first invoice is paid.
	DefaultPaymentDelay = 3 * time.Second
	mockInvoiceFee      = 200
)

// Options configures the stub.
type Options struct {
	// WebhookTarget receives the signed credited events.
	WebhookTarget string
	PaymentDelay  time.Duration
	// Key signs webhook deliveries. A fresh key is generated when nil.
	Key *secp256k1.PrivateKey
}

// Server is the provider stub.
type Server struct {
	key          *secp256k1.PrivateKey
	publicKeyPEM string
	target       string
	delay        time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	seq       int
	invoices  []starkclient.Invoice
	transfers []starkclient.Transfer
	webhooks  []starkclient.Webhook

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

func New(opts Options, logger *slog.Logger) (*Server, error) {
	key := opts.Key
	if key == nil {
		var err error
		if key, err = starkkey.GeneratePrivateKey(); err != nil {
			return nil, err
		}
	}
	pubPEM, err := starkkey.MarshalPublicKeyPEM(key.PubKey())
	if err != nil {
		return nil, err
	}
	delay := opts.PaymentDelay
	if delay <= 0 {
		delay = DefaultPaymentDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		key:          key,
		publicKeyPEM: string(pubPEM),
		target:       opts.WebhookTarget,
		delay:        delay,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Routes returns the stub's HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v2", func(r chi.Router) {
		r.Get("/public-key", s.handlePublicKey)
		r.Post("/invoice", s.handleCreateInvoices)
		r.Get("/invoice", s.handleQueryInvoices)
		r.Post("/transfer", s.handleCreateTransfers)
		r.Get("/transfer", s.handleQueryTransfers)
		r.Post("/webhook", s.handleCreateWebhook)
		r.Get("/webhook", s.handleListWebhooks)
	})
	return r
}

// Close cancels pending webhook deliveries and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.pending.Wait()
}

// Transfers returns the transfers received so far.
func (s *Server) Transfers() []starkclient.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]starkclient.Transfer, len(s.transfers))
	copy(out, s.transfers)
	return out
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"publicKeys": []starkclient.PublicKey{{ID: PublicKeyID, Content: s.publicKeyPEM}},
	})
}

func (s *Server) handleCreateInvoices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Invoices []starkclient.Invoice `json:"invoices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalidJson", "request body is not valid JSON")
		return
	}
	for i, inv := range req.Invoices {
		if inv.Amount <= 0 {
			writeError(w, http.StatusBadRequest, "invalidAmount", fmt.Sprintf("invoice %d: amount must be positive", i))
			return
		}
		if !identity.ValidTaxID(inv.TaxID) {
			writeError(w, http.StatusBadRequest, "invalidTaxId", fmt.Sprintf("invoice %d: invalid tax id %q", i, inv.TaxID))
			return
		}
	}

	s.mu.Lock()
	stamp := s.now().Unix()
	created := s.now().UTC().Format(time.RFC3339Nano)
	for i := range req.Invoices {
		req.Invoices[i].ID = fmt.Sprintf("mock_inv_%d_%d", stamp, s.seq)
		req.Invoices[i].Fee = mockInvoiceFee
		req.Invoices[i].Status = "created"
		req.Invoices[i].Created = created
		s.seq++
		s.invoices = append(s.invoices, req.Invoices[i])
	}
	s.mu.Unlock()

	s.logger.Info("invoices created", "count", len(req.Invoices))
	if len(req.Invoices) > 0 {
		s.schedulePayment(req.Invoices[0].ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": req.Invoices})
}

func (s *Server) handleQueryInvoices(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	s.mu.Lock()
	out := make([]starkclient.Invoice, 0)
	for i := len(s.invoices) - 1; i >= 0; i-- {
		if status != "" && s.invoices[i].Status != status {
			continue
		}
		out = append(out, s.invoices[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"invoices": out, "cursor": nil})
}

func (s *Server) handleCreateTransfers(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transfers []starkclient.Transfer `json:"transfers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalidJson", "request body is not valid JSON")
		return
	}

	s.mu.Lock()
	if dup := s.usedExternalID(req.Transfers); dup != "" {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, starkclient.ErrCodeInvalidExternalID, fmt.Sprintf("externalId %q already used", dup))
		return
	}
	stamp := s.now().Unix()
	for i := range req.Transfers {
		req.Transfers[i].ID = fmt.Sprintf("mock_transf_%d_%d", stamp, s.seq)
		req.Transfers[i].Status = "processing"
		s.seq++
		s.transfers = append(s.transfers, req.Transfers[i])
	}
	s.mu.Unlock()

	for _, t := range req.Transfers {
		s.logger.Info("transfer received", "transfer_id", t.ID, "amount", t.Amount, "name", t.Name, "external_id", t.ExternalID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": req.Transfers})
}

// usedExternalID returns the first externalId of transfers already taken, by an
// earlier request or within this batch. Callers hold s.mu.
func (s *Server) usedExternalID(transfers []starkclient.Transfer) string {
	taken := make(map[string]bool, len(s.transfers))
	for _, t := range s.transfers {
		taken[t.ExternalID] = true
	}
	for _, t := range transfers {
		if t.ExternalID == "" {
			continue
		}
		if taken[t.ExternalID] {
			return t.ExternalID
		}
		taken[t.ExternalID] = true
	}
	return ""
}

func (s *Server) handleQueryTransfers(w http.ResponseWriter, r *http.Request) {
	wanted := make(map[string]bool)
	for _, v := range r.URL.Query()["externalIds"] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				wanted[id] = true
			}
		}
	}

	s.mu.Lock()
	out := make([]starkclient.Transfer, 0)
	for i := len(s.transfers) - 1; i >= 0; i-- {
		if len(wanted) > 0 && !wanted[s.transfers[i].ExternalID] {
			continue
		}
		out = append(out, s.transfers[i])
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"transfers": out, "cursor": nil})
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var hook starkclient.Webhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil || hook.URL == "" {
		writeError(w, http.StatusBadRequest, "invalidWebhook", "url is required")
		return
	}

	s.mu.Lock()
	hook.ID = fmt.Sprintf("mock_webhook_%d", len(s.webhooks)+1)
	s.webhooks = append(s.webhooks, hook)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"webhook": hook})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]starkclient.Webhook, len(s.webhooks))
	copy(out, s.webhooks)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

// schedulePayment marks invoiceID paid after the payment delay and delivers the
// credited event.
func (s *Server) schedulePayment(invoiceID string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.delay):
		}

		inv, ok := s.markPaid(invoiceID)
		if !ok {
			return
		}
		s.logger.Info("invoice paid, sending webhook", "invoice_id", inv.ID, "target", s.target)
		if err := s.deliver(inv); err != nil {
			s.logger.Error("failed to deliver webhook", "invoice_id", inv.ID, "target", s.target, "error", err)
		}
	}()
}

func (s *Server) markPaid(invoiceID string) (starkclient.Invoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.invoices {
		if s.invoices[i].ID == invoiceID {
			s.invoices[i].Status = "paid"
			return s.invoices[i], true
		}
	}
	return starkclient.Invoice{}, false
}

func (s *Server) deliver(inv starkclient.Invoice) error {
	if s.target == "" {
		return nil
	}
	body, err := domain.NewMockCreditedPayload("mock_evt_"+uuid.NewString(), inv.ID, inv.Amount, inv.Fee)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Digital-Signature", starkkey.Sign(s.key, body))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook target answered %d", resp.StatusCode)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, map[string]any{
		"errors": []map[string]string{{"code": errCode, "message": message}},
	})
}
