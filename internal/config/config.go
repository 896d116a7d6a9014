/**
 * @description
 * Configuration management for the settlement service.
 * Settings come from environment variables (optionally seeded from a .env file) with
 * defaults for everything except the provider credentials.
 */
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/pkg/starkclient"
	"github.com/transfa/settlement-service/pkg/starkkey"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	StarkBankProjectID      string `mapstructure:"STARKBANK_PROJECT_ID"`
	StarkBankPrivateKey     string `mapstructure:"STARKBANK_PRIVATE_KEY"`
	StarkBankPrivateKeyPath string `mapstructure:"STARKBANK_PRIVATE_KEY_PATH"`
	StarkBankEnvironment    string `mapstructure:"STARKBANK_ENVIRONMENT"`

	MockMode          bool   `mapstructure:"MOCK_MODE"`
	MockProviderURL   string `mapstructure:"MOCK_PROVIDER_URL"`
	MockProviderPort  string `mapstructure:"MOCK_PROVIDER_PORT"`
	MockWebhookTarget string `mapstructure:"MOCK_WEBHOOK_TARGET"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`

	TransferBankCode      string `mapstructure:"TRANSFER_BANK_CODE"`
	TransferBranchCode    string `mapstructure:"TRANSFER_BRANCH_CODE"`
	TransferAccountNumber string `mapstructure:"TRANSFER_ACCOUNT_NUMBER"`
	TransferAccountType   string `mapstructure:"TRANSFER_ACCOUNT_TYPE"`
	TransferName          string `mapstructure:"TRANSFER_NAME"`
	TransferTaxID         string `mapstructure:"TRANSFER_TAX_ID"`
	PlatformFeeCents      int64  `mapstructure:"PLATFORM_FEE_CENTS"`
	TransferFeeCents      int64  `mapstructure:"TRANSFER_FEE_CENTS"`

	InvoiceMinBatch          int  `mapstructure:"INVOICE_MIN_BATCH"`
	InvoiceMaxBatch          int  `mapstructure:"INVOICE_MAX_BATCH"`
	InvoiceIntervalHours     int  `mapstructure:"INVOICE_INTERVAL_HOURS"`
	InvoiceDurationHours     int  `mapstructure:"INVOICE_DURATION_HOURS"`
	ReconcileIntervalMinutes int  `mapstructure:"RECONCILE_INTERVAL_MINUTES"`
	ReconcileLimit           int  `mapstructure:"RECONCILE_LIMIT"`
	SchedulerEnabled         bool `mapstructure:"SCHEDULER_ENABLED"`

	RedisURL           string `mapstructure:"REDIS_URL"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	SettlementExchange string `mapstructure:"SETTLEMENT_EXCHANGE"`
	AdminJWTSecret     string `mapstructure:"ADMIN_JWT_SECRET"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var keys = []string{
	"SERVER_PORT",
	"STARKBANK_PROJECT_ID", "STARKBANK_PRIVATE_KEY", "STARKBANK_PRIVATE_KEY_PATH", "STARKBANK_ENVIRONMENT",
	"MOCK_MODE", "MOCK_PROVIDER_URL", "MOCK_PROVIDER_PORT", "MOCK_WEBHOOK_TARGET",
	"DATABASE_URL",
	"TRANSFER_BANK_CODE", "TRANSFER_BRANCH_CODE", "TRANSFER_ACCOUNT_NUMBER", "TRANSFER_ACCOUNT_TYPE",
	"TRANSFER_NAME", "TRANSFER_TAX_ID", "PLATFORM_FEE_CENTS", "TRANSFER_FEE_CENTS",
	"INVOICE_MIN_BATCH", "INVOICE_MAX_BATCH", "INVOICE_INTERVAL_HOURS", "INVOICE_DURATION_HOURS",
	"RECONCILE_INTERVAL_MINUTES", "RECONCILE_LIMIT", "SCHEDULER_ENABLED",
	"REDIS_URL", "RABBITMQ_URL", "SETTLEMENT_EXCHANGE", "ADMIN_JWT_SECRET", "CORS_ALLOWED_ORIGINS",
	"LOG_LEVEL", "LOG_FORMAT",
}

// LoadConfig reads configuration from the environment and validates it.
func LoadConfig() (*Config, error) {
	config, err := Read()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Read loads configuration without validating it. Tooling commands that need only a
// few settings use it so they run without provider credentials.
func Read() (*Config, error) {
	// A missing .env file is fine; the environment is authoritative.
	_ = godotenv.Load()

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STARKBANK_ENVIRONMENT", "sandbox")
	viper.SetDefault("MOCK_MODE", false)
	viper.SetDefault("MOCK_PROVIDER_URL", "http://127.0.0.1:9090")
	viper.SetDefault("MOCK_PROVIDER_PORT", "9090")
	viper.SetDefault("MOCK_WEBHOOK_TARGET", "http://127.0.0.1:8080/webhook")
	viper.SetDefault("DATABASE_URL", "file:./data/settlements.db")

	// Stark Bank S.A. is the default settlement destination.
	viper.SetDefault("TRANSFER_BANK_CODE", "20018183")
	viper.SetDefault("TRANSFER_BRANCH_CODE", "0001")
	viper.SetDefault("TRANSFER_ACCOUNT_NUMBER", "6341320293482496")
	viper.SetDefault("TRANSFER_ACCOUNT_TYPE", "payment")
	viper.SetDefault("TRANSFER_NAME", "Stark Bank S.A.")
	viper.SetDefault("TRANSFER_TAX_ID", "20.018.183/0001-80")
	viper.SetDefault("PLATFORM_FEE_CENTS", 0)
	viper.SetDefault("TRANSFER_FEE_CENTS", 0)

	viper.SetDefault("INVOICE_MIN_BATCH", 8)
	viper.SetDefault("INVOICE_MAX_BATCH", 12)
	viper.SetDefault("INVOICE_INTERVAL_HOURS", 3)
	viper.SetDefault("INVOICE_DURATION_HOURS", 24)
	viper.SetDefault("RECONCILE_INTERVAL_MINUTES", 10)
	viper.SetDefault("RECONCILE_LIMIT", 100)
	viper.SetDefault("SCHEDULER_ENABLED", true)

	viper.SetDefault("SETTLEMENT_EXCHANGE", "settlement_events")
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range keys {
		_ = viper.BindEnv(key)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.StarkBankEnvironment = strings.ToLower(strings.TrimSpace(config.StarkBankEnvironment))
	return &config, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if !c.MockMode {
		if strings.TrimSpace(c.StarkBankProjectID) == "" {
			errs = append(errs, errors.New("STARKBANK_PROJECT_ID is required"))
		}
		if strings.TrimSpace(c.StarkBankPrivateKey) == "" && strings.TrimSpace(c.StarkBankPrivateKeyPath) == "" {
			errs = append(errs, errors.New("STARKBANK_PRIVATE_KEY or STARKBANK_PRIVATE_KEY_PATH is required"))
		}
	}
	if c.StarkBankEnvironment != "sandbox" && c.StarkBankEnvironment != "production" {
		errs = append(errs, fmt.Errorf("STARKBANK_ENVIRONMENT must be sandbox or production, got %q", c.StarkBankEnvironment))
	}
	if c.PlatformFeeCents < 0 {
		errs = append(errs, errors.New("PLATFORM_FEE_CENTS must not be negative"))
	}
	if c.TransferFeeCents < 0 {
		errs = append(errs, errors.New("TRANSFER_FEE_CENTS must not be negative"))
	}
	if c.InvoiceMinBatch < 1 || c.InvoiceMaxBatch < c.InvoiceMinBatch {
		errs = append(errs, fmt.Errorf("invoice batch bounds must satisfy 1 <= INVOICE_MIN_BATCH <= INVOICE_MAX_BATCH, got %d and %d", c.InvoiceMinBatch, c.InvoiceMaxBatch))
	}
	if c.InvoiceIntervalHours <= 0 {
		errs = append(errs, errors.New("INVOICE_INTERVAL_HOURS must be positive"))
	}
	if c.InvoiceDurationHours <= 0 {
		errs = append(errs, errors.New("INVOICE_DURATION_HOURS must be positive"))
	}
	if c.ReconcileIntervalMinutes <= 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL_MINUTES must be positive"))
	}

	dest := c.Destination()
	for name, value := range map[string]string{
		"TRANSFER_BANK_CODE":      dest.BankCode,
		"TRANSFER_BRANCH_CODE":    dest.BranchCode,
		"TRANSFER_ACCOUNT_NUMBER": dest.AccountNumber,
		"TRANSFER_NAME":           dest.Name,
		"TRANSFER_TAX_ID":         dest.TaxID,
	} {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", name))
		}
	}

	return errors.Join(errs...)
}

// Destination returns the account every settlement is forwarded to.
func (c *Config) Destination() domain.DestinationAccount {
	return domain.DestinationAccount{
		BankCode:      c.TransferBankCode,
		BranchCode:    c.TransferBranchCode,
		AccountNumber: c.TransferAccountNumber,
		AccountType:   c.TransferAccountType,
		Name:          c.TransferName,
		TaxID:         c.TransferTaxID,
	}
}

// ProviderBaseURL is where provider API calls go. In mock mode every call is routed
// to the local provider stub.
func (c *Config) ProviderBaseURL() string {
	if c.MockMode {
		return strings.TrimRight(c.MockProviderURL, "/") + "/v2"
	}
	return starkclient.BaseURLForEnvironment(c.StarkBankEnvironment)
}

func (c *Config) IssueInterval() time.Duration {
	return time.Duration(c.InvoiceIntervalHours) * time.Hour
}

func (c *Config) IssueDuration() time.Duration {
	return time.Duration(c.InvoiceDurationHours) * time.Hour
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMinutes) * time.Minute
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// PrivateKey loads the project signing key from STARKBANK_PRIVATE_KEY, or from the file
// at STARKBANK_PRIVATE_KEY_PATH. It returns nil, nil when neither is set.
func (c *Config) PrivateKey() (*secp256k1.PrivateKey, error) {
	pemData := strings.TrimSpace(c.StarkBankPrivateKey)
	if pemData == "" && c.StarkBankPrivateKeyPath != "" {
		data, err := os.ReadFile(c.StarkBankPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
		pemData = string(data)
	}
	if pemData == "" {
		return nil, nil
	}
	// Keys passed through env files often carry literal \n sequences.
	pemData = strings.ReplaceAll(pemData, `\n`, "\n")

	key, err := starkkey.ParsePrivateKeyPEM([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
