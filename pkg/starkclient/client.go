/**
 * @description
 * This package provides a client for the Stark Bank v2 REST API. It signs every request
 * with the project's secp256k1 key, marshals request bodies, and parses responses and
 * provider error envelopes.
 *
 * @dependencies
 * - pkg/starkkey: Request signing.
 * - github.com/decred/dcrd/dcrec/secp256k1/v4: The project private key type.
 */
package starkclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/transfa/settlement-service/pkg/starkkey"
)

const (
	SandboxBaseURL    = "https://sandbox.api.starkbank.com/v2"
	ProductionBaseURL = "https://api.starkbank.com/v2"
)

// BaseURLForEnvironment maps "sandbox" or "production" to the API root.
func BaseURLForEnvironment(environment string) string {
	if strings.EqualFold(environment, "production") {
		return ProductionBaseURL
	}
	return SandboxBaseURL
}

// Client is a client for the Stark Bank API.
type Client struct {
	BaseURL    string
	ProjectID  string
	PrivateKey *secp256k1.PrivateKey
	HTTPClient *http.Client
	Logger     *slog.Logger

	now func() time.Time
}

// NewClient creates a new API client. A nil key produces unsigned requests, which only
// the local provider stub accepts.
func NewClient(baseURL, projectID string, key *secp256k1.PrivateKey) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		ProjectID:  projectID,
		PrivateKey: key,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Logger: slog.Default(),
		now:    time.Now,
	}
}

// InvoiceDescription is a key/value line shown to the payer.
type InvoiceDescription struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Invoice is a payment request.
type Invoice struct {
	ID           string               `json:"id,omitempty"`
	Amount       int64                `json:"amount"`
	Name         string               `json:"name"`
	TaxID        string               `json:"taxId"`
	Due          string               `json:"due,omitempty"`
	Expiration   int64                `json:"expiration,omitempty"`
	Tags         []string             `json:"tags,omitempty"`
	Descriptions []InvoiceDescription `json:"descriptions,omitempty"`
	Fee          int64                `json:"fee,omitempty"`
	Status       string               `json:"status,omitempty"`
	Created      string               `json:"created,omitempty"`
}

// Transfer is an outbound payment to a bank account.
type Transfer struct {
	ID            string   `json:"id,omitempty"`
	Amount        int64    `json:"amount"`
	Name          string   `json:"name"`
	TaxID         string   `json:"taxId"`
	BankCode      string   `json:"bankCode"`
	BranchCode    string   `json:"branchCode"`
	AccountNumber string   `json:"accountNumber"`
	AccountType   string   `json:"accountType,omitempty"`
	ExternalID    string   `json:"externalId,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// Webhook is a subscription that makes the provider deliver events to a URL.
type Webhook struct {
	ID            string   `json:"id,omitempty"`
	URL           string   `json:"url"`
	Subscriptions []string `json:"subscriptions"`
}

// PublicKey is one of the provider's event signing keys.
type PublicKey struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

// ErrCodeInvalidExternalID is returned when a transfer reuses an externalId.
const ErrCodeInvalidExternalID = "invalidExternalId"

// APIError is one entry of the provider's error envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse represents an error envelope from the API.
type ErrorResponse struct {
	StatusCode int        `json:"-"`
	Errors     []APIError `json:"errors"`
}

// HasCode reports whether any entry of the envelope carries code.
func (e *ErrorResponse) HasCode(code string) bool {
	for _, item := range e.Errors {
		if item.Code == code {
			return true
		}
	}
	return false
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("stark bank api error (status %d): %s - %s", e.StatusCode, e.Errors[0].Code, e.Errors[0].Message)
	}
	return fmt.Sprintf("unknown stark bank api error (status %d)", e.StatusCode)
}

// CreateInvoices issues a batch of payment requests and returns them with provider ids.
func (c *Client) CreateInvoices(ctx context.Context, invoices []Invoice) ([]Invoice, error) {
	var resp struct {
		Invoices []Invoice `json:"invoices"`
	}
	if err := c.do(ctx, http.MethodPost, "/invoice", nil, map[string]any{"invoices": invoices}, &resp); err != nil {
		return nil, err
	}
	return resp.Invoices, nil
}

// QueryInvoices lists payment requests in the given status, newest first.
func (c *Client) QueryInvoices(ctx context.Context, status string, limit int) ([]Invoice, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Invoices []Invoice `json:"invoices"`
	}
	if err := c.do(ctx, http.MethodGet, "/invoice", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Invoices, nil
}

// CreateTransfers submits outbound transfers.
func (c *Client) CreateTransfers(ctx context.Context, transfers []Transfer) ([]Transfer, error) {
	var resp struct {
		Transfers []Transfer `json:"transfers"`
	}
	if err := c.do(ctx, http.MethodPost, "/transfer", nil, map[string]any{"transfers": transfers}, &resp); err != nil {
		return nil, err
	}
	return resp.Transfers, nil
}

// QueryTransfers lists transfers created with the given externalId. The provider
// allows at most one.
func (c *Client) QueryTransfers(ctx context.Context, externalID string) ([]Transfer, error) {
	query := url.Values{"externalIds": {externalID}}

	var resp struct {
		Transfers []Transfer `json:"transfers"`
	}
	if err := c.do(ctx, http.MethodGet, "/transfer", query, nil, &resp); err != nil {
		return nil, err
	}

	out := resp.Transfers[:0]
	for _, t := range resp.Transfers {
		if t.ExternalID == externalID {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetPublicKey returns the PEM content of the provider's current event signing key.
func (c *Client) GetPublicKey(ctx context.Context) (string, error) {
	var resp struct {
		PublicKeys []PublicKey `json:"publicKeys"`
	}
	if err := c.do(ctx, http.MethodGet, "/public-key", url.Values{"limit": {"1"}}, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.PublicKeys) == 0 || strings.TrimSpace(resp.PublicKeys[0].Content) == "" {
		return "", fmt.Errorf("provider returned no public key")
	}
	return resp.PublicKeys[0].Content, nil
}

// CreateWebhook registers a delivery URL for the given subscriptions.
func (c *Client) CreateWebhook(ctx context.Context, webhookURL string, subscriptions []string) (*Webhook, error) {
	var resp struct {
		Webhook Webhook `json:"webhook"`
	}
	payload := Webhook{URL: webhookURL, Subscriptions: subscriptions}
	if err := c.do(ctx, http.MethodPost, "/webhook", nil, payload, &resp); err != nil {
		return nil, err
	}
	return &resp.Webhook, nil
}

// ListWebhooks returns the registered webhooks.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var resp struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if err := c.do(ctx, http.MethodGet, "/webhook", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Webhooks, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s request: %w", method, path, err)
		}
	}

	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s %s request: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "settlement-service")
	c.sign(req, body)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s %s request: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, errResp); err != nil {
			c.Logger.Warn("non-2xx response (unparsable error body)", "component", "stark_client", "path", path, "status", resp.StatusCode)
			return errResp
		}
		c.Logger.Warn("non-2xx response", "component", "stark_client", "path", path, "status", resp.StatusCode, "error", errResp.Error())
		return errResp
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// sign sets the Access-* headers: the signature covers "accessId:accessTime:body".
func (c *Client) sign(req *http.Request, body []byte) {
	if c.PrivateKey == nil {
		return
	}
	accessID := "project/" + c.ProjectID
	accessTime := strconv.FormatInt(c.now().Unix(), 10)
	message := accessID + ":" + accessTime + ":" + string(body)

	req.Header.Set("Access-Id", accessID)
	req.Header.Set("Access-Time", accessTime)
	req.Header.Set("Access-Signature", starkkey.Sign(c.PrivateKey, []byte(message)))
}
