package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreOrderedAndAnnotated(t *testing.T) {
	entries, err := fs.ReadDir(Migrations(), ".")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "00001_users.sql", entries[0].Name())
	assert.Equal(t, "00002_revoked_tokens.sql", entries[1].Name())

	for _, e := range entries {
		body, err := fs.ReadFile(Migrations(), e.Name())
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(body), "-- +goose Up"), e.Name())
		assert.True(t, strings.Contains(string(body), "-- +goose Down"), e.Name())
	}
}

func TestNewManagerRequiresDB(t *testing.T) {
	_, err := NewManager(nil)
	assert.Error(t, err)
}
