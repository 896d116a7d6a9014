/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver and connection pool.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/settlement-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool, logger *slog.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger, now: time.Now}
}

// NewPostgresLedger opens a pool, verifies connectivity and applies the schema.
func NewPostgresLedger(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return NewPostgresRepository(pool, logger), nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.db.Close()
}

// InsertIfAbsent writes every unknown record in a single transaction.
func (r *PostgresRepository) InsertIfAbsent(ctx context.Context, records ...domain.SettlementRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO invoices (id, amount, payer_name, payer_tax_id, status, created_at, received_at, transfer_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	now := r.now().UTC()
	inserted := 0
	for _, rec := range records {
		rec = normalizeRecord(rec, now)
		tag, err := tx.Exec(ctx, query, rec.ID, rec.Amount, rec.PayerName, rec.PayerTaxID, string(rec.Status), rec.CreatedAt, rec.ReceivedAt, rec.TransferID)
		if err != nil {
			return 0, fmt.Errorf("failed to insert invoice %s: %w", rec.ID, err)
		}
		if tag.RowsAffected() == 0 {
			r.logger.Info("invoice already in ledger, skipping", "invoice_id", rec.ID)
			continue
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

// MarkReceived flips the record to received, keeping the first received_at.
func (r *PostgresRepository) MarkReceived(ctx context.Context, id string, transferID *string) (bool, error) {
	query := `
		UPDATE invoices
		SET status = 'received',
		    received_at = COALESCE(received_at, $2),
		    transfer_id = COALESCE($3, transfer_id)
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, r.now().UTC(), transferID)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice %s received: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("mark received: invoice not found in ledger", "invoice_id", id)
		return false, nil
	}
	return true, nil
}

// GetByID retrieves a single record.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.SettlementRecord, error) {
	query := `
		SELECT id, amount, payer_name, payer_tax_id, status, created_at, received_at, transfer_id
		FROM invoices WHERE id = $1`

	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

// Stats aggregates the ledger by status.
func (r *PostgresRepository) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'received'),
			COALESCE(SUM(amount) FILTER (WHERE status = 'received'), 0)
		FROM invoices`

	var stats domain.LedgerStats
	if err := r.db.QueryRow(ctx, query).Scan(&stats.CountSent, &stats.CountReceived, &stats.ReceivedVolumeCents); err != nil {
		return nil, fmt.Errorf("failed to query ledger stats: %w", err)
	}
	return &stats, nil
}

// ListRecent returns the newest records first.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	query := `
		SELECT id, amount, payer_name, payer_tax_id, status, created_at, received_at, transfer_id
		FROM invoices ORDER BY created_at DESC, id LIMIT $1`

	rows, err := r.db.Query(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var records []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.SettlementRecord, error) {
	var rec domain.SettlementRecord
	var status string
	err := row.Scan(&rec.ID, &rec.Amount, &rec.PayerName, &rec.PayerTaxID, &status, &rec.CreatedAt, &rec.ReceivedAt, &rec.TransferID)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.SettlementStatus(status)
	return &rec, nil
}
