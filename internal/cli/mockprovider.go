package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/transfa/settlement-service/internal/config"
	"github.com/transfa/settlement-service/internal/mockprovider"
	"github.com/transfa/settlement-service/pkg/logging"
)

var mockProviderCmd = &cobra.Command{
	Use:   "mock-provider",
	Short: "Run a local stand-in for the Stark Bank API",
	Long: `Run a local stand-in for the Stark Bank API for end-to-end runs without credentials.

Start the service with MOCK_MODE=true so its provider calls go to this stub. The stub
marks the first invoice of every batch as paid after a short delay and delivers a
signed credited event to MOCK_WEBHOOK_TARGET.`,
	RunE: runMockProvider,
}

func init() {
	mockProviderCmd.Flags().String("port", "", "Listen port (default MOCK_PROVIDER_PORT)")
	mockProviderCmd.Flags().String("target", "", "Webhook target URL (default MOCK_WEBHOOK_TARGET)")
	mockProviderCmd.Flags().Duration("delay", mockprovider.DefaultPaymentDelay, "Delay before the first invoice of a batch is paid")
}

func runMockProvider(cmd *cobra.Command, args []string) error {
	cfg, err := config.Read()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	port, _ := cmd.Flags().GetString("port")
	target, _ := cmd.Flags().GetString("target")
	delay, _ := cmd.Flags().GetDuration("delay")
	if port == "" {
		port = cfg.MockProviderPort
	}
	if target == "" {
		target = cfg.MockWebhookTarget
	}

	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel).With("component", "mock_provider")
	stub, err := mockprovider.New(mockprovider.Options{WebhookTarget: target, PaymentDelay: delay}, logger)
	if err != nil {
		return err
	}
	defer stub.Close()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           stub.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mock provider listening", "port", port, "webhook_target", target)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("mock provider failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("mock provider forced to shutdown", "error", err)
	}
	logger.Info("mock provider stopped")
	return nil
}
