package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/transfa/settlement-service/internal/api"
	"github.com/transfa/settlement-service/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the admin API",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().String("subject", "admin", "Token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Read()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.AdminJWTSecret == "" {
		return errors.New("ADMIN_JWT_SECRET is not set")
	}

	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	token, err := api.IssueAdminToken(cfg.AdminJWTSecret, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
