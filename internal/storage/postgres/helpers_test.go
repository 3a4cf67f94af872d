package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from the identity tables.
// It is intended for use in tests only. It is exported so that the
// postgres_test package can call it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE author_name_tokens, identities, authors CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate identity tables: %w", err)
	}
	return nil
}
