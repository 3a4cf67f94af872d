package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/bookleaf/assist/internal/storage"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pq.Error{Code: codeUniqueViolation}, storage.ErrConflict},
		{"wrapped unique violation", fmt.Errorf("exec: %w", &pq.Error{Code: codeUniqueViolation}), storage.ErrConflict},
		{"foreign key violation", &pq.Error{Code: codeForeignKeyViolation}, storage.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(translateError("insert", tt.err), tt.want))
		})
	}

	other := translateError("insert", &pq.Error{Code: "42P01"})
	assert.False(t, errors.Is(other, storage.ErrConflict))
	assert.False(t, errors.Is(other, storage.ErrNotFound))
}
