package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Snapshot writes a consistent copy of the identity database to destPath with
// VACUUM INTO and verifies it. destPath must not exist yet.
func (s *Store) Snapshot(ctx context.Context, destPath string) error {
	if destPath == "" {
		return errors.New("snapshot path is required")
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("snapshot target %s already exists", destPath)
	}

	quoted := strings.ReplaceAll(destPath, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}

	if err := VerifySnapshot(ctx, destPath); err != nil {
		return err
	}
	s.logger.Info("identity database snapshot written", zap.String("path", destPath))
	return nil
}

// VerifySnapshot opens path read-only and runs SQLite's integrity check.
func VerifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("snapshot integrity check failed: %s", result)
	}
	return nil
}
