package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type migration struct {
	name string
	sql  string
}

// migrations are idempotent and applied in order on every start when AUTO_MIGRATE is set.
var migrations = []migration{
	{
		name: "create_ledger_accounts",
		sql: `
CREATE TABLE IF NOT EXISTS ledger_accounts (
    user_id    TEXT PRIMARY KEY,
    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		name: "create_ledger_transactions",
		sql: `
CREATE TABLE IF NOT EXISTS ledger_transactions (
    id           UUID PRIMARY KEY,
    from_account TEXT REFERENCES ledger_accounts (user_id),
    to_account   TEXT REFERENCES ledger_accounts (user_id),
    amount       BIGINT NOT NULL CHECK (amount > 0),
    kind         TEXT NOT NULL CHECK (kind IN ('purchase', 'redemption', 'issuance', 'ecosystem_purchase')),
    status       TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
    reference    TEXT,
    notes        TEXT NOT NULL DEFAULT '',
    initiated_by TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (from_account IS NOT NULL OR to_account IS NOT NULL),
    CHECK (kind NOT IN ('purchase', 'ecosystem_purchase') OR (from_account IS NOT NULL AND to_account IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_ledger_transactions_from ON ledger_transactions (from_account, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_transactions_to ON ledger_transactions (to_account, created_at DESC);
CREATE UNIQUE INDEX IF NOT EXISTS uniq_ledger_transactions_completed_ref
    ON ledger_transactions (kind, reference)
    WHERE status = 'completed' AND reference IS NOT NULL;`,
	},
	{
		name: "create_content_items",
		sql: `
CREATE TABLE IF NOT EXISTS content_items (
    id           UUID PRIMARY KEY,
    owner_id     TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    price_tokens BIGINT NOT NULL CHECK (price_tokens >= 0),
    status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'sold', 'archived')),
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_content_items_owner ON content_items (owner_id, status);`,
	},
	{
		name: "create_purchases",
		sql: `
CREATE TABLE IF NOT EXISTS purchases (
    id             UUID PRIMARY KEY,
    content_id     UUID NOT NULL REFERENCES content_items (id),
    seller_id      TEXT NOT NULL,
    buyer_id       TEXT NOT NULL,
    tokens_paid    BIGINT NOT NULL CHECK (tokens_paid >= 0),
    status         TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'refunded')),
    transaction_id UUID REFERENCES ledger_transactions (id),
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uniq_purchases_open_per_content
    ON purchases (content_id)
    WHERE status IN ('pending', 'completed');
CREATE INDEX IF NOT EXISTS idx_purchases_pending_created ON purchases (created_at) WHERE status = 'pending';`,
	},
	{
		name: "create_subscription_periods",
		sql: `
CREATE TABLE IF NOT EXISTS subscription_periods (
    user_id            TEXT PRIMARY KEY,
    current_period_end TIMESTAMPTZ NOT NULL,
    status             TEXT NOT NULL CHECK (status IN ('active', 'cancelled', 'expired')),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
}

// Migrate applies the ledger schema.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}
