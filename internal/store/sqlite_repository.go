package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/transfa/settlement-service/internal/domain"
)

// Ensure both backends implement Ledger
var (
	_ Ledger = (*SQLiteRepository)(nil)
	_ Ledger = (*PostgresRepository)(nil)
)

// SQLiteRepository implements Repository on a local SQLite file. It is the default
// ledger for single-instance deployments.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteRepository opens dbPath, creating parent directories, and applies the schema.
func NewSQLiteRepository(dbPath string, logger *slog.Logger) (*SQLiteRepository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between the worker and the jobs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteRepository) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("failed to close sqlite ledger", "error", err)
	}
}

func (s *SQLiteRepository) InsertIfAbsent(ctx context.Context, records ...domain.SettlementRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO invoices (id, amount, payer_name, payer_tax_id, status, created_at, received_at, transfer_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	now := s.now().UTC()
	inserted := 0
	for _, rec := range records {
		rec = normalizeRecord(rec, now)
		res, err := tx.ExecContext(ctx, query,
			rec.ID, rec.Amount, rec.PayerName, rec.PayerTaxID, string(rec.Status),
			rec.CreatedAt.UnixNano(), nullableUnix(rec.ReceivedAt), nullableString(rec.TransferID))
		if err != nil {
			return 0, fmt.Errorf("failed to insert invoice %s: %w", rec.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			s.logger.Info("invoice already in ledger, skipping", "invoice_id", rec.ID)
			continue
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, nil
}

func (s *SQLiteRepository) MarkReceived(ctx context.Context, id string, transferID *string) (bool, error) {
	query := `
		UPDATE invoices
		SET status = 'received',
		    received_at = COALESCE(received_at, ?),
		    transfer_id = COALESCE(?, transfer_id)
		WHERE id = ?`

	res, err := s.db.ExecContext(ctx, query, s.now().UTC().UnixNano(), nullableString(transferID), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice %s received: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		s.logger.Warn("mark received: invoice not found in ledger", "invoice_id", id)
		return false, nil
	}
	return true, nil
}

func (s *SQLiteRepository) GetByID(ctx context.Context, id string) (*domain.SettlementRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, amount, payer_name, payer_tax_id, status, created_at, received_at, transfer_id
		FROM invoices WHERE id = ?`, id)

	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteRepository) Stats(ctx context.Context) (*domain.LedgerStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'received' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'received' THEN amount ELSE 0 END), 0)
		FROM invoices`

	var stats domain.LedgerStats
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.CountSent, &stats.CountReceived, &stats.ReceivedVolumeCents); err != nil {
		return nil, fmt.Errorf("failed to query ledger stats: %w", err)
	}
	return &stats, nil
}

func (s *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount, payer_name, payer_tax_id, status, created_at, received_at, transfer_id
		FROM invoices ORDER BY created_at DESC, id LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var records []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*domain.SettlementRecord, error) {
	var (
		rec        domain.SettlementRecord
		status     string
		createdAt  int64
		receivedAt sql.NullInt64
		transferID sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Amount, &rec.PayerName, &rec.PayerTaxID, &status, &createdAt, &receivedAt, &transferID); err != nil {
		return nil, err
	}

	rec.Status = domain.SettlementStatus(status)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	if receivedAt.Valid {
		t := time.Unix(0, receivedAt.Int64).UTC()
		rec.ReceivedAt = &t
	}
	if transferID.Valid {
		rec.TransferID = &transferID.String
	}
	return &rec, nil
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
