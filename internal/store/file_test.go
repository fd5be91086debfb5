package store

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/token-ledger/internal/model"
)

const sampleDocument = `{
  "users": {
    "u1": {"id": "u1", "name": "Ada", "role": "student", "token_limit": 100000, "token_used": 800}
  },
  "logs": [
    {"id": 1, "user_id": "u1", "request_type": "autograde", "model": "gpt-4o",
     "tokens_used": 500, "cost_usd": 0.01, "timestamp": "2026-03-01T10:00:00.123456Z"},
    {"id": 2, "user_id": "u1", "request_type": "autograde", "model": "gpt-4o",
     "tokens_used": 300, "cost_usd": 0.006, "timestamp": "2026-03-01T10:05:00Z"}
  ]
}`

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestFileStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file yields empty snapshot", func(t *testing.T) {
		s := newTestFileStore(t)

		snap, err := s.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Users)
		assert.NotNil(t, snap.Users)
		assert.Empty(t, snap.Logs)
		assert.NotNil(t, snap.Logs)
	})

	t.Run("malformed file is corrupt, not empty", func(t *testing.T) {
		documents := []string{
			`{"users": {`,
			`null`,
			`{}`,
			`[]`,
			`"users"`,
			`{"users": null, "logs": null}`,
			`{"users": {}}`,
			`{"logs": []}`,
			`{"users": {}, "logs": null}`,
			`{"users": [], "logs": []}`,
		}

		for _, doc := range documents {
			t.Run(doc, func(t *testing.T) {
				s := newTestFileStore(t)
				require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0o644))

				snap, err := s.Load(ctx)
				assert.Nil(t, snap)
				assert.ErrorIs(t, err, ErrCorruptSnapshot)
			})
		}
	})

	t.Run("explicit empty collections are valid", func(t *testing.T) {
		s := newTestFileStore(t)
		require.NoError(t, os.WriteFile(s.Path(), []byte(`{"users": {}, "logs": []}`), 0o644))

		snap, err := s.Load(ctx)
		require.NoError(t, err)
		assert.NotNil(t, snap.Users)
		assert.NotNil(t, snap.Logs)
	})

	t.Run("zero-byte file is corrupt", func(t *testing.T) {
		s := newTestFileStore(t)
		require.NoError(t, os.WriteFile(s.Path(), nil, 0o644))

		_, err := s.Load(ctx)
		assert.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("decodes accounts and events", func(t *testing.T) {
		s := newTestFileStore(t)
		require.NoError(t, os.WriteFile(s.Path(), []byte(sampleDocument), 0o644))

		snap, err := s.Load(ctx)
		require.NoError(t, err)

		require.Contains(t, snap.Users, "u1")
		assert.Equal(t, int64(800), snap.Users["u1"].TokenUsed)
		require.Len(t, snap.Logs, 2)
		assert.Equal(t, int64(2), snap.Logs[1].ID)
		assert.Equal(t, 0.006, snap.Logs[1].CostUSD)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC), snap.Logs[0].Timestamp.Time)
	})

	t.Run("accepts zone-less legacy timestamps as UTC", func(t *testing.T) {
		s := newTestFileStore(t)
		legacy := `{"users": {}, "logs": [{"id": 1, "user_id": "u1", "request_type": "autograde",
			"model": "gpt-4o", "tokens_used": 10, "cost_usd": 0.1, "timestamp": "2025-09-14T08:30:15.250000"}]}`
		require.NoError(t, os.WriteFile(s.Path(), []byte(legacy), 0o644))

		snap, err := s.Load(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Logs, 1)
		assert.Equal(t, time.Date(2025, 9, 14, 8, 30, 15, 250000000, time.UTC), snap.Logs[0].Timestamp.Time)
	})
}

func TestFileStore_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("empty snapshot encodes empty collections", func(t *testing.T) {
		s := newTestFileStore(t)
		require.NoError(t, s.Save(ctx, &model.Snapshot{}))

		data, err := os.ReadFile(s.Path())
		require.NoError(t, err)
		assert.JSONEq(t, `{"users": {}, "logs": []}`, string(data))
	})

	t.Run("save of a fresh load is a no-op", func(t *testing.T) {
		s := newTestFileStore(t)
		require.NoError(t, os.WriteFile(s.Path(), []byte(sampleDocument), 0o644))

		snap, err := s.Load(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, snap))

		data, err := os.ReadFile(s.Path())
		require.NoError(t, err)
		assert.JSONEq(t, sampleDocument, string(data))
	})

	t.Run("replaces previous snapshot and leaves no temp files", func(t *testing.T) {
		s := newTestFileStore(t)

		first := model.NewSnapshot()
		first.Users["a"] = model.Account{ID: "a", TokenLimit: 10}
		require.NoError(t, s.Save(ctx, first))

		second := model.NewSnapshot()
		second.Users["b"] = model.Account{ID: "b", TokenLimit: 20}
		require.NoError(t, s.Save(ctx, second))

		snap, err := s.Load(ctx)
		require.NoError(t, err)
		assert.NotContains(t, snap.Users, "a")
		assert.Contains(t, snap.Users, "b")

		assert.Equal(t, []string{"tokens.json"}, dirEntries(t, filepath.Dir(s.Path())))
	})

	t.Run("encode failure keeps previous snapshot", func(t *testing.T) {
		s := newTestFileStore(t)
		require.NoError(t, os.WriteFile(s.Path(), []byte(sampleDocument), 0o644))

		bad := model.NewSnapshot()
		bad.Logs = append(bad.Logs, model.UsageEvent{ID: 1, CostUSD: math.NaN()})
		assert.Error(t, s.Save(ctx, bad))

		data, err := os.ReadFile(s.Path())
		require.NoError(t, err)
		assert.JSONEq(t, sampleDocument, string(data))
	})

	t.Run("failed replace removes temp file", func(t *testing.T) {
		dir := t.TempDir()
		target := filepath.Join(dir, "tokens.json")
		// A non-empty directory at the target path makes the rename fail.
		require.NoError(t, os.MkdirAll(filepath.Join(target, "occupied"), 0o755))

		s := NewFileStore(target)
		assert.Error(t, s.Save(ctx, model.NewSnapshot()))

		assert.Equal(t, []string{"tokens.json"}, dirEntries(t, dir))
	})

	t.Run("creates missing parent directories", func(t *testing.T) {
		s := NewFileStore(filepath.Join(t.TempDir(), "nested", "data", "tokens.json"))
		require.NoError(t, s.Save(ctx, model.NewSnapshot()))

		_, err := os.Stat(s.Path())
		assert.NoError(t, err)
	})
}
