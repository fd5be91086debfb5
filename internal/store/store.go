// Package store persists ledger snapshots. A Store replaces the whole
// snapshot on every Save and never exposes a half-written one, but it does
// not serialize Load/Save pairs: callers hold their own lock across the
// read-modify-write cycle.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openclaw/token-ledger/internal/model"
)

// ErrCorruptSnapshot is returned by Load when the persisted document exists
// but cannot be decoded. It is never conflated with a missing snapshot.
var ErrCorruptSnapshot = errors.New("corrupt ledger snapshot")

type Store interface {
	Load(ctx context.Context) (*model.Snapshot, error)
	Save(ctx context.Context, snap *model.Snapshot) error
}

func encodeSnapshot(snap *model.Snapshot) ([]byte, error) {
	if snap == nil {
		snap = model.NewSnapshot()
	}
	data, err := json.MarshalIndent(snap.Normalize(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// persistedSnapshot distinguishes absent or null collections from empty ones.
type persistedSnapshot struct {
	Users *map[string]model.Account `json:"users"`
	Logs  *[]model.UsageEvent       `json:"logs"`
}

// decodeSnapshot requires a top-level object carrying both collections.
// Anything else is corrupt, including null and {}.
func decodeSnapshot(data []byte) (*model.Snapshot, error) {
	var doc persistedSnapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if doc.Users == nil || *doc.Users == nil {
		return nil, fmt.Errorf("%w: users missing or null", ErrCorruptSnapshot)
	}
	if doc.Logs == nil || *doc.Logs == nil {
		return nil, fmt.Errorf("%w: logs missing or null", ErrCorruptSnapshot)
	}

	snap := &model.Snapshot{Users: *doc.Users, Logs: *doc.Logs}
	return snap, nil
}
