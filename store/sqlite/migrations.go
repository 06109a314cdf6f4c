package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the finledger store (SQLite).
var Migrations = migrate.NewGroup("finledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_finledger_invoices",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS finledger_invoices (
    id              TEXT PRIMARY KEY,
    token_id        TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'issued',
    issuer          TEXT NOT NULL DEFAULT '',
    debtor          TEXT NOT NULL DEFAULT '',
    amount          TEXT NOT NULL DEFAULT '0',
    cumulative_paid TEXT NOT NULL DEFAULT '0',
    currency        TEXT NOT NULL DEFAULT '',
    due_date        TEXT NOT NULL,
    is_financed     INTEGER NOT NULL DEFAULT 0,
    version         INTEGER NOT NULL DEFAULT 1,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_finledger_invoices_status ON finledger_invoices (status);
CREATE INDEX IF NOT EXISTS idx_finledger_invoices_issuer ON finledger_invoices (issuer);
CREATE INDEX IF NOT EXISTS idx_finledger_invoices_created ON finledger_invoices (created_at, id);

CREATE TABLE IF NOT EXISTS finledger_lifecycle_events (
    id              TEXT PRIMARY KEY,
    invoice_id      TEXT NOT NULL REFERENCES finledger_invoices (id),
    old_status      TEXT NOT NULL DEFAULT '',
    new_status      TEXT NOT NULL DEFAULT '',
    cumulative_paid TEXT NOT NULL DEFAULT '0',
    timestamp       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_finledger_lifecycle_events_invoice ON finledger_lifecycle_events (invoice_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS finledger_lifecycle_events;
DROP TABLE IF EXISTS finledger_invoices;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_finledger_positions",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS finledger_positions (
    invoice_id   TEXT PRIMARY KEY REFERENCES finledger_invoices (id),
    token_id     TEXT NOT NULL DEFAULT '',
    owner        TEXT NOT NULL DEFAULT '',
    pool_id      TEXT NOT NULL DEFAULT '',
    face_value   TEXT NOT NULL DEFAULT '0',
    ltv_bps      INTEGER NOT NULL DEFAULT 0,
    credit_limit TEXT NOT NULL DEFAULT '0',
    used_credit  TEXT NOT NULL DEFAULT '0',
    present      INTEGER NOT NULL DEFAULT 1,
    exited       INTEGER NOT NULL DEFAULT 0,
    version      INTEGER NOT NULL DEFAULT 1,
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_finledger_positions_pool ON finledger_positions (pool_id) WHERE present = 1 AND exited = 0;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS finledger_positions`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_finledger_pools",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS finledger_pools (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL DEFAULT '',
    currency            TEXT NOT NULL DEFAULT '',
    annual_rate         TEXT NOT NULL DEFAULT '0',
    tick_interval_ns    INTEGER NOT NULL DEFAULT 0,
    ticks_per_year      INTEGER NOT NULL DEFAULT 0,
    ltv_bps             INTEGER NOT NULL DEFAULT 0,
    max_utilization_bps INTEGER NOT NULL DEFAULT 0,
    liquidity           TEXT NOT NULL DEFAULT '0',
    last_accrued_at     TEXT NOT NULL,
    version             INTEGER NOT NULL DEFAULT 1,
    created_at          TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at          TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS finledger_pool_accounts (
    pool_id       TEXT NOT NULL REFERENCES finledger_pools (id),
    wallet        TEXT NOT NULL,
    share_balance TEXT NOT NULL DEFAULT '0',
    updated_at    TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (pool_id, wallet)
);

CREATE TABLE IF NOT EXISTS finledger_yield_accounts (
    pool_id         TEXT NOT NULL,
    wallet          TEXT NOT NULL,
    accrued_yield   TEXT NOT NULL DEFAULT '0',
    carry           TEXT NOT NULL DEFAULT '0',
    accrued_through TEXT NOT NULL,
    version         INTEGER NOT NULL DEFAULT 1,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (pool_id, wallet)
);

CREATE TABLE IF NOT EXISTS finledger_accrual_runs (
    id                  TEXT PRIMARY KEY,
    pool_id             TEXT NOT NULL,
    from_time           TEXT NOT NULL,
    to_time             TEXT NOT NULL,
    ticks               INTEGER NOT NULL DEFAULT 0,
    accounts_processed  INTEGER NOT NULL DEFAULT 0,
    accounts_succeeded  INTEGER NOT NULL DEFAULT 0,
    accounts_failed     INTEGER NOT NULL DEFAULT 0,
    total_yield_accrued TEXT NOT NULL DEFAULT '0',
    aborted             INTEGER NOT NULL DEFAULT 0,
    started_at          TEXT NOT NULL,
    finished_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_finledger_accrual_runs_pool ON finledger_accrual_runs (pool_id, started_at DESC);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS finledger_accrual_runs;
DROP TABLE IF EXISTS finledger_yield_accounts;
DROP TABLE IF EXISTS finledger_pool_accounts;
DROP TABLE IF EXISTS finledger_pools;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_finledger_settlements",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS finledger_settlement_rules (
    id           TEXT PRIMARY KEY,
    external_ref TEXT NOT NULL DEFAULT '',
    invoice_id   TEXT NOT NULL REFERENCES finledger_invoices (id),
    payer        TEXT NOT NULL DEFAULT '',
    recipients   TEXT NOT NULL DEFAULT '[]',
    bps_split    TEXT NOT NULL DEFAULT '[]',
    active       INTEGER NOT NULL DEFAULT 1,
    version      INTEGER NOT NULL DEFAULT 1,
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_finledger_settlement_rules_ref ON finledger_settlement_rules (external_ref) WHERE external_ref != '';
CREATE INDEX IF NOT EXISTS idx_finledger_settlement_rules_invoice ON finledger_settlement_rules (invoice_id);

CREATE TABLE IF NOT EXISTS finledger_settlement_executions (
    id           TEXT PRIMARY KEY,
    rule_id      TEXT NOT NULL REFERENCES finledger_settlement_rules (id),
    invoice_id   TEXT NOT NULL,
    gross_amount TEXT NOT NULL DEFAULT '0',
    currency     TEXT NOT NULL DEFAULT '',
    splits       TEXT NOT NULL DEFAULT '[]',
    timestamp    TEXT NOT NULL,
    created_at   TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_finledger_settlement_executions_rule ON finledger_settlement_executions (rule_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS finledger_settlement_executions;
DROP TABLE IF EXISTS finledger_settlement_rules;
`)
				return err
			},
		},
	)
}
