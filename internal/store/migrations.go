package store

// The invoices table is created on startup so a fresh database is usable immediately.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    amount BIGINT NOT NULL,
    payer_name TEXT NOT NULL DEFAULT '',
    payer_tax_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'received')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    received_at TIMESTAMPTZ,
    transfer_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at DESC);
`

// Timestamps are stored as unix nanoseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT PRIMARY KEY,
    amount INTEGER NOT NULL,
    payer_name TEXT NOT NULL DEFAULT '',
    payer_tax_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'received')),
    created_at INTEGER NOT NULL,
    received_at INTEGER,
    transfer_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at DESC);
`
