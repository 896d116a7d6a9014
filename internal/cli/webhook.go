package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/transfa/settlement-service/internal/config"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/pkg/starkclient"
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the provider webhook subscription",
}

var webhookRegisterCmd = &cobra.Command{
	Use:   "register <url>",
	Short: "Register the public webhook URL for invoice events",
	Long: `Register the public HTTPS URL the provider delivers invoice events to.

Registration is idempotent: when a webhook with the same URL already exists it is
reused. All registered webhooks are listed afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runWebhookRegister,
}

func init() {
	webhookCmd.AddCommand(webhookRegisterCmd)
}

type webhookClient interface {
	ListWebhooks(ctx context.Context) ([]starkclient.Webhook, error)
	CreateWebhook(ctx context.Context, webhookURL string, subscriptions []string) (*starkclient.Webhook, error)
}

func runWebhookRegister(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	key, err := cfg.PrivateKey()
	if err != nil {
		return err
	}
	client := starkclient.NewClient(cfg.ProviderBaseURL(), cfg.StarkBankProjectID, key)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	if _, err := registerWebhook(ctx, client, args[0], out); err != nil {
		return err
	}

	hooks, err := client.ListWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	fmt.Fprintln(out, "\nAll registered webhooks:")
	for _, h := range hooks {
		fmt.Fprintf(out, "  %s  %s  %v\n", h.ID, h.URL, h.Subscriptions)
	}
	return nil
}

// registerWebhook returns the webhook for url, creating it when none exists.
func registerWebhook(ctx context.Context, client webhookClient, url string, out io.Writer) (*starkclient.Webhook, error) {
	existing, err := client.ListWebhooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	for _, h := range existing {
		if h.URL == url {
			fmt.Fprintf(out, "[OK] Already registered id=%s url=%s\n", h.ID, h.URL)
			return &h, nil
		}
	}

	created, err := client.CreateWebhook(ctx, url, []string{domain.SubscriptionInvoice})
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}
	fmt.Fprintf(out, "[OK] Webhook created id=%s url=%s\n", created.ID, created.URL)
	return created, nil
}
