// Package sqlite provides a SQLite implementation of storage.IdentityStore
// using the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite" // SQLite driver
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bookleaf/assist/internal/logging"
	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/pkg/types"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store implements storage.IdentityStore using SQLite.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ storage.IdentityStore = (*Store)(nil)

// NewStore opens (or creates) the database at dsn and applies migrations.
// If the initial open fails due to stale WAL files left by a crashed process,
// it removes them and retries once.
func NewStore(dsn string, logger *zap.Logger) (*Store, error) {
	logger = logging.OrNop(logger)

	store, err := openStore(dsn, logger)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath, logger)

	store, retryErr := openStore(dsn, logger)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	logger.Info("recovered from stale WAL files", zap.String("path", dbPath))
	return store, nil
}

// openStore opens a SQLite database, configures WAL mode, and migrates the schema.
func openStore(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer. A single connection serialises writes and
	// keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	source, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	mgr, err := storage.NewMigrationManager(db, source)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := mgr.Up(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to run migrations: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

const identityColumns = `id, author_id, platform, platform_identifier, normalized_identifier,
	confidence_score, matching_method, verified, created_at`

const authorColumns = `a.id, a.full_name, a.email, a.phone, a.metadata, a.created_at, a.updated_at`

// FindIdentity returns the identity for a platform handle, or (nil, nil).
func (s *Store) FindIdentity(ctx context.Context, platform, platformIdentifier string) (*types.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE platform = ? AND platform_identifier = ?`,
		platform, platformIdentifier)

	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to find identity: %w", err)
	}
	return ident, nil
}

// FindByIdentifier returns the sorted IDs of authors owning normalized.
func (s *Store) FindByIdentifier(ctx context.Context, normalized string) ([]string, error) {
	if normalized == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT author_id FROM identities WHERE normalized_identifier = ?
		UNION
		SELECT id FROM authors WHERE email = ? OR phone = ?
		ORDER BY 1`,
		normalized, normalized, normalized)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query identifier owners: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan author id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindCandidatesByNameToken returns authors sharing a blocking token.
func (s *Store) FindCandidatesByNameToken(ctx context.Context, tokens []string, limit int) ([]*types.Author, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tokens)), ",")
	args := make([]interface{}, 0, len(tokens)+1)
	for _, tok := range tokens {
		args = append(args, tok)
	}

	query := `SELECT ` + authorColumns + ` FROM authors a
		WHERE a.id IN (SELECT author_id FROM author_name_tokens WHERE token IN (` + placeholders + `))
		ORDER BY a.id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []*types.Author
	for rows.Next() {
		a, err := scanAuthor(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan candidate: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAuthor retrieves an author by ID.
func (s *Store) GetAuthor(ctx context.Context, id string) (*types.Author, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+authorColumns+` FROM authors a WHERE a.id = ?`, id)
	a, err := scanAuthor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("author %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get author: %w", err)
	}
	return a, nil
}

// ListIdentities returns the author's identities, oldest first.
func (s *Store) ListIdentities(ctx context.Context, authorID string) ([]*types.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE author_id = ? ORDER BY created_at, id`, authorID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list identities: %w", err)
	}
	defer rows.Close()

	var out []*types.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan identity: %w", err)
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

// InsertAuthor writes author, its name tokens and first identity in one transaction.
func (s *Store) InsertAuthor(ctx context.Context, author *types.Author, first *types.Identity) error {
	if author == nil || first == nil {
		return storage.ErrInvalidInput
	}
	if err := storage.ValidateInsert(author, first); err != nil {
		return err
	}

	metadataJSON, err := marshalMetadata(author.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO authors (id, full_name, email, phone, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		author.ID, author.FullName, nullableString(author.Email), nullableString(author.Phone),
		metadataJSON, timestamp(author.CreatedAt), timestamp(author.UpdatedAt))
	if err != nil {
		return translateError("insert author", err)
	}

	for _, tok := range storage.BlockingTokens(author.FullName) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO author_name_tokens (token, author_id) VALUES (?, ?)`, tok, author.ID); err != nil {
			return translateError("insert name token", err)
		}
	}

	if err := insertIdentity(ctx, tx, first); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return translateError("commit author", err)
	}
	return nil
}

// InsertIdentity attaches identity to an existing author.
func (s *Store) InsertIdentity(ctx context.Context, identity *types.Identity) error {
	if identity == nil {
		return storage.ErrInvalidInput
	}
	if err := storage.ValidateInsert(nil, identity); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM authors WHERE id = ?`, identity.AuthorID).Scan(&exists); err != nil {
		return fmt.Errorf("sqlite: failed to check author: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("author %s: %w", identity.AuthorID, storage.ErrNotFound)
	}

	if err := insertIdentity(ctx, tx, identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translateError("commit identity", err)
	}
	return nil
}

func insertIdentity(ctx context.Context, tx *sql.Tx, i *types.Identity) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.AuthorID, i.Platform, i.PlatformIdentifier, nullableString(i.NormalizedIdentifier),
		i.ConfidenceScore, string(i.MatchingMethod), i.Verified, timestamp(i.CreatedAt))
	if err != nil {
		return translateError("insert identity", err)
	}
	return nil
}

// Close flushes the WAL into the main database file and releases resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("WAL checkpoint on close failed", zap.Error(err))
	}

	return s.db.Close()
}

// translateError maps SQLite constraint violations onto storage errors.
func translateError(op string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("sqlite: %s: %w", op, storage.ErrConflict)
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("sqlite: %s: %w: %v", op, storage.ErrInvalidInput, err)
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("sqlite: %s: %w", op, storage.ErrConflict)
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAuthor(row scanner) (*types.Author, error) {
	var (
		a            types.Author
		email, phone sql.NullString
		metadata     sql.NullString
	)
	if err := row.Scan(&a.ID, &a.FullName, &email, &phone, &metadata, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Email = email.String
	a.Phone = phone.String
	a.Metadata = map[string]interface{}{}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &a, nil
}

func scanIdentity(row scanner) (*types.Identity, error) {
	var (
		i          types.Identity
		normalized sql.NullString
		method     string
	)
	if err := row.Scan(&i.ID, &i.AuthorID, &i.Platform, &i.PlatformIdentifier, &normalized,
		&i.ConfidenceScore, &method, &i.Verified, &i.CreatedAt); err != nil {
		return nil, err
	}
	i.NormalizedIdentifier = normalized.String
	i.MatchingMethod = types.MatchMethod(method)
	return &i, nil
}

func marshalMetadata(m map[string]interface{}) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
