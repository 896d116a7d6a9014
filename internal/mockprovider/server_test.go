package mockprovider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/identity"
	"github.com/transfa/settlement-service/pkg/starkclient"
	"github.com/transfa/settlement-service/pkg/starkkey"
)

type delivery struct {
	body      []byte
	signature string
}

func newStub(t *testing.T, target string) (*Server, *starkclient.Client) {
	t.Helper()
	stub, err := New(Options{WebhookTarget: target, PaymentDelay: 10 * time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(stub.Close)

	srv := httptest.NewServer(stub.Routes())
	t.Cleanup(srv.Close)

	client := starkclient.NewClient(srv.URL+"/v2", "", nil)
	return stub, client
}

func TestStub_CreditedWebhookIsSignedWithPublishedKey(t *testing.T) {
	deliveries := make(chan delivery, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		deliveries <- delivery{body: body, signature: r.Header.Get("Digital-Signature")}
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	_, client := newStub(t, target.URL+"/webhook")
	ctx := context.Background()
	payer := identity.NewGenerator(nil).RandomPayer()

	created, err := client.CreateInvoices(ctx, []starkclient.Invoice{
		{Amount: payer.AmountCents, Name: payer.Name, TaxID: payer.TaxID},
		{Amount: 2000, Name: payer.Name, TaxID: payer.TaxID},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.True(t, strings.HasPrefix(created[0].ID, "mock_inv_"))
	assert.NotEqual(t, created[0].ID, created[1].ID)
	assert.Equal(t, int64(200), created[0].Fee)
	assert.Equal(t, "created", created[0].Status)

	var got delivery
	select {
	case got = <-deliveries:
	case <-time.After(2 * time.Second):
		t.Fatal("no webhook delivered")
	}

	pemKey, err := client.GetPublicKey(ctx)
	require.NoError(t, err)
	pub, err := starkkey.ParsePublicKeyPEM([]byte(pemKey))
	require.NoError(t, err)
	require.NoError(t, starkkey.Verify(pub, got.body, got.signature))

	event, err := domain.ParseMockEvent(got.body)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionInvoice, event.Subscription())
	log, ok := event.Log()
	require.True(t, ok)
	assert.Equal(t, domain.LogTypeCredited, log.Type)
	require.NotNil(t, log.Invoice)
	assert.Equal(t, created[0].ID, log.Invoice.ID)
	assert.Equal(t, payer.AmountCents, log.Invoice.Amount)
	assert.Equal(t, int64(200), log.Invoice.Fee)

	paid, err := client.QueryInvoices(ctx, "paid", 100)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, created[0].ID, paid[0].ID)
}

func TestStub_RejectsInvalidTaxID(t *testing.T) {
	_, client := newStub(t, "")

	_, err := client.CreateInvoices(context.Background(), []starkclient.Invoice{{Amount: 1000, Name: "Ana", TaxID: "111.111.111-11"}})

	var apiErr *starkclient.ErrorResponse
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalidTaxId", apiErr.Errors[0].Code)
}

func TestStub_Transfers(t *testing.T) {
	stub, client := newStub(t, "")

	out, err := client.CreateTransfers(context.Background(), []starkclient.Transfer{{Amount: 9750, Name: "Stark Bank S.A.", ExternalID: "settlement-inv_1"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, strings.HasPrefix(out[0].ID, "mock_transf_"))
	assert.Equal(t, "processing", out[0].Status)

	received := stub.Transfers()
	require.Len(t, received, 1)
	assert.Equal(t, int64(9750), received[0].Amount)
}

func TestStub_RejectsReusedExternalID(t *testing.T) {
	stub, client := newStub(t, "")
	ctx := context.Background()
	transfer := starkclient.Transfer{Amount: 9800, Name: "Stark Bank S.A.", ExternalID: "settlement-inv_2"}

	first, err := client.CreateTransfers(ctx, []starkclient.Transfer{transfer})
	require.NoError(t, err)

	_, err = client.CreateTransfers(ctx, []starkclient.Transfer{transfer})
	var apiErr *starkclient.ErrorResponse
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.HasCode(starkclient.ErrCodeInvalidExternalID))
	assert.Len(t, stub.Transfers(), 1)

	found, err := client.QueryTransfers(ctx, "settlement-inv_2")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, first[0].ID, found[0].ID)

	none, err := client.QueryTransfers(ctx, "settlement-unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStub_Webhooks(t *testing.T) {
	_, client := newStub(t, "")
	ctx := context.Background()

	hook, err := client.CreateWebhook(ctx, "https://example.com/webhook", []string{"invoice"})
	require.NoError(t, err)
	assert.NotEmpty(t, hook.ID)

	hooks, err := client.ListWebhooks(ctx)
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "https://example.com/webhook", hooks[0].URL)
}
