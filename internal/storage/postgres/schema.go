// Package postgres provides PostgreSQL implementations of storage interfaces.
package postgres

// Schema contains the statements that create the identity tables.
// Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS authors (
    id TEXT PRIMARY KEY,
    full_name TEXT NOT NULL,
    email TEXT,
    phone TEXT,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_authors_email ON authors(email);
CREATE INDEX IF NOT EXISTS idx_authors_phone ON authors(phone);

CREATE TABLE IF NOT EXISTS identities (
    id TEXT PRIMARY KEY,
    author_id TEXT NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
    platform TEXT NOT NULL,
    platform_identifier TEXT NOT NULL,
    normalized_identifier TEXT,
    confidence_score DOUBLE PRECISION NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
    matching_method TEXT NOT NULL,
    verified BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT identities_platform_handle_key UNIQUE (platform, platform_identifier)
);

CREATE INDEX IF NOT EXISTS idx_identities_author ON identities(author_id);
CREATE INDEX IF NOT EXISTS idx_identities_normalized ON identities(normalized_identifier);

CREATE TABLE IF NOT EXISTS author_name_tokens (
    token TEXT NOT NULL,
    author_id TEXT NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
    PRIMARY KEY (token, author_id)
);
`
