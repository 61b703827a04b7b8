package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates all tables needed by the services. Safe to call
// from every binary at startup; the DDL uses IF NOT EXISTS throughout.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const schema = `
-- Referral graph. referrer_id is nil for root users; the chain of
-- referrers forms a forest.
CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    telegram_id TEXT NOT NULL UNIQUE,
    username TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    profile_url TEXT NOT NULL DEFAULT '',
    referrer_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_users_referrer_id ON users(referrer_id);

-- Scheduled content plan entries. Content fields are immutable once
-- the entry leaves pending.
CREATE TABLE IF NOT EXISTS content_plan_entries (
    id BIGSERIAL PRIMARY KEY,
    owner_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    scheduled_at TIMESTAMPTZ NOT NULL,
    message_text TEXT NOT NULL,
    media_refs TEXT[] NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'in_progress', 'completed', 'failed')),
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_content_plan_entries_owner_id ON content_plan_entries(owner_id);
CREATE INDEX IF NOT EXISTS idx_content_plan_entries_due ON content_plan_entries(status, scheduled_at);

-- Per-recipient delivery state, one row per (entry, recipient),
-- created at fan-out time and never deleted while the entry exists.
CREATE TABLE IF NOT EXISTS delivery_outcomes (
    entry_id BIGINT NOT NULL REFERENCES content_plan_entries(id) ON DELETE CASCADE,
    recipient_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'sent', 'failed_retryable', 'failed_permanent')),
    attempt_count INT NOT NULL DEFAULT 0,
    last_attempt_at TIMESTAMPTZ,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (entry_id, recipient_id)
);

CREATE INDEX IF NOT EXISTS idx_delivery_outcomes_status ON delivery_outcomes(status, created_at);
`
