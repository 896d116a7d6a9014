package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/transfa/settlement-service/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "ledger.db"), newTestLogger())
	if err != nil {
		t.Fatalf("failed to create sqlite repository: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository { return newSQLiteTestRepo(t) })
}

func TestPostgresRepository(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	runRepositoryContract(t, func(t *testing.T) Repository {
		ctx := context.Background()
		repo, err := NewPostgresLedger(ctx, url, newTestLogger())
		if err != nil {
			t.Fatalf("failed to open postgres ledger: %v", err)
		}
		if _, err := repo.db.Exec(ctx, "TRUNCATE invoices"); err != nil {
			t.Fatalf("failed to truncate invoices: %v", err)
		}
		t.Cleanup(repo.Close)
		return repo
	})
}

func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("InsertIfAbsent is idempotent", func(t *testing.T) {
		repo := newRepo(t)
		rec := domain.SettlementRecord{ID: "inv_1", Amount: 1500, PayerName: "Ana Lima", PayerTaxID: "529.982.247-25"}

		n, err := repo.InsertIfAbsent(ctx, rec)
		if err != nil || n != 1 {
			t.Fatalf("first insert: n=%d err=%v", n, err)
		}
		n, err = repo.InsertIfAbsent(ctx, rec)
		if err != nil {
			t.Fatalf("duplicate insert returned error: %v", err)
		}
		if n != 0 {
			t.Fatalf("expected duplicate to be skipped, inserted %d", n)
		}

		stats, err := repo.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.CountSent != 1 || stats.CountReceived != 0 {
			t.Fatalf("expected exactly one sent row, got %+v", stats)
		}

		got, err := repo.GetByID(ctx, "inv_1")
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if got.Status != domain.StatusSent || got.ReceivedAt != nil || got.TransferID != nil {
			t.Fatalf("unexpected stored record: %+v", got)
		}
		if got.PayerName != "Ana Lima" || got.Amount != 1500 {
			t.Fatalf("payer fields not persisted: %+v", got)
		}
	})

	t.Run("InsertIfAbsent skips duplicates inside one batch", func(t *testing.T) {
		repo := newRepo(t)
		n, err := repo.InsertIfAbsent(ctx,
			domain.SettlementRecord{ID: "a", Amount: 1000},
			domain.SettlementRecord{ID: "b", Amount: 2000},
			domain.SettlementRecord{ID: "a", Amount: 3000},
		)
		if err != nil {
			t.Fatalf("InsertIfAbsent failed: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 inserted, got %d", n)
		}
		got, _ := repo.GetByID(ctx, "a")
		if got.Amount != 1000 {
			t.Fatalf("expected first write to win, got amount %d", got.Amount)
		}
	})

	t.Run("MarkReceived on unknown id writes nothing", func(t *testing.T) {
		repo := newRepo(t)
		found, err := repo.MarkReceived(ctx, "missing", nil)
		if err != nil {
			t.Fatalf("MarkReceived returned error: %v", err)
		}
		if found {
			t.Fatal("expected unknown id to report not found")
		}
		if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrRecordNotFound) {
			t.Fatalf("expected ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("MarkReceived flips status and keeps first timestamp", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.InsertIfAbsent(ctx, domain.SettlementRecord{ID: "inv_2", Amount: 10000}); err != nil {
			t.Fatalf("insert failed: %v", err)
		}

		transferID := "tr_1"
		found, err := repo.MarkReceived(ctx, "inv_2", &transferID)
		if err != nil || !found {
			t.Fatalf("MarkReceived: found=%v err=%v", found, err)
		}

		first, err := repo.GetByID(ctx, "inv_2")
		if err != nil {
			t.Fatalf("GetByID failed: %v", err)
		}
		if first.Status != domain.StatusReceived || first.ReceivedAt == nil {
			t.Fatalf("expected received record with timestamp, got %+v", first)
		}
		if first.TransferID == nil || *first.TransferID != "tr_1" {
			t.Fatalf("expected transfer id tr_1, got %v", first.TransferID)
		}

		time.Sleep(2 * time.Millisecond)
		if _, err := repo.MarkReceived(ctx, "inv_2", nil); err != nil {
			t.Fatalf("second MarkReceived failed: %v", err)
		}
		second, _ := repo.GetByID(ctx, "inv_2")
		if !second.ReceivedAt.Equal(*first.ReceivedAt) {
			t.Fatalf("received_at moved from %v to %v", first.ReceivedAt, second.ReceivedAt)
		}
		if second.TransferID == nil || *second.TransferID != "tr_1" {
			t.Fatal("nil transfer id must not clear the stored one")
		}
	})

	t.Run("MarkReceived without transfer leaves transfer id null", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.InsertIfAbsent(ctx, domain.SettlementRecord{ID: "inv_3", Amount: 200}); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if _, err := repo.MarkReceived(ctx, "inv_3", nil); err != nil {
			t.Fatalf("MarkReceived failed: %v", err)
		}
		got, _ := repo.GetByID(ctx, "inv_3")
		if got.TransferID != nil {
			t.Fatalf("expected null transfer id, got %q", *got.TransferID)
		}
	})

	t.Run("Stats and ListRecent", func(t *testing.T) {
		repo := newRepo(t)
		base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		_, err := repo.InsertIfAbsent(ctx,
			domain.SettlementRecord{ID: "old", Amount: 1000, CreatedAt: base},
			domain.SettlementRecord{ID: "mid", Amount: 2000, CreatedAt: base.Add(time.Minute)},
			domain.SettlementRecord{ID: "new", Amount: 4000, CreatedAt: base.Add(2 * time.Minute)},
		)
		if err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		repo.MarkReceived(ctx, "mid", nil)
		repo.MarkReceived(ctx, "new", nil)

		stats, err := repo.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		want := domain.LedgerStats{CountSent: 1, CountReceived: 2, ReceivedVolumeCents: 6000}
		if *stats != want {
			t.Fatalf("expected %+v, got %+v", want, *stats)
		}

		recent, err := repo.ListRecent(ctx, 2)
		if err != nil {
			t.Fatalf("ListRecent failed: %v", err)
		}
		if len(recent) != 2 || recent[0].ID != "new" || recent[1].ID != "mid" {
			t.Fatalf("unexpected ordering: %+v", recent)
		}
	})
}

func TestOpen_SelectsBackendFromURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ledger, err := Open(context.Background(), "file:"+path, newTestLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer ledger.Close()

	if _, ok := ledger.(*SQLiteRepository); !ok {
		t.Fatalf("expected sqlite repository, got %T", ledger)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file to be created: %v", err)
	}

	if _, err := Open(context.Background(), "  ", newTestLogger()); err == nil {
		t.Fatal("expected error for empty url")
	}
}
