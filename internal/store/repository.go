/**
 * @description
 * This file defines the `Repository` interface, the contract for the settlement ledger.
 * The ledger is the single durable record of which payment requests were issued and
 * which of them have settled. Business logic depends on this interface only, so the
 * concrete backend (PostgreSQL or SQLite) is chosen at startup from DATABASE_URL.
 *
 * @dependencies
 * - internal/domain: For the SettlementRecord and LedgerStats models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/settlement-service/internal/domain"
)

var (
	ErrRecordNotFound = errors.New("settlement record not found")
)

// Repository defines the set of methods for interacting with the settlement ledger.
type Repository interface {
	// InsertIfAbsent persists the records whose id is not yet known. Duplicates are
	// skipped and logged, never reported as errors. It returns how many rows were written.
	InsertIfAbsent(ctx context.Context, records ...domain.SettlementRecord) (int, error)
	// MarkReceived flips a record to received. It returns false without writing when the
	// id is unknown. A nil transferID leaves the stored transfer id untouched.
	MarkReceived(ctx context.Context, id string, transferID *string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.SettlementRecord, error)
	Stats(ctx context.Context) (*domain.LedgerStats, error)
	ListRecent(ctx context.Context, limit int) ([]domain.SettlementRecord, error)
}

// Ledger is a Repository that owns a connection which must be released on shutdown.
type Ledger interface {
	Repository
	Close()
}

// Open connects to the ledger named by databaseURL. postgres:// and postgresql:// URLs
// select PostgreSQL; anything else is treated as a SQLite path (file: and sqlite://
// prefixes are stripped).
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (Ledger, error) {
	url := strings.TrimSpace(databaseURL)
	if url == "" {
		return nil, errors.New("database url is empty")
	}

	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		repo, err := NewPostgresLedger(ctx, url, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres ledger: %w", err)
		}
		return repo, nil
	}

	path := strings.TrimPrefix(strings.TrimPrefix(url, "sqlite://"), "file:")
	repo, err := NewSQLiteRepository(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
	}
	return repo, nil
}

// normalizeRecord keeps received_at consistent with the status before a row is written.
func normalizeRecord(rec domain.SettlementRecord, now time.Time) domain.SettlementRecord {
	if rec.Status == "" {
		rec.Status = domain.StatusSent
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	switch rec.Status {
	case domain.StatusReceived:
		if rec.ReceivedAt == nil {
			rec.ReceivedAt = &now
		}
	default:
		rec.ReceivedAt = nil
	}
	return rec
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
