package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesDirectoryAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, []string{
		`CREATE TABLE IF NOT EXISTS items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`INSERT INTO items (name) VALUES ('a')`,
	}))

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM items`))
	assert.Equal(t, 1, n)

	assert.Error(t, Migrate(db, []string{`NOT SQL`}))
}

func TestFloatCodec(t *testing.T) {
	v := []float64{0, -1.5, 3.25}
	got, err := DecodeFloats(EncodeFloats(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeFloats([]byte{1, 2, 3})
	assert.Error(t, err)
}
