package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339 utc", `"2025-03-01T12:00:00Z"`, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"rfc3339 offset", `"2025-03-01T14:00:00+02:00"`, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"legacy fractional", `"2025-03-01T12:00:00.123456"`, time.Date(2025, 3, 1, 12, 0, 0, 123456000, time.UTC)},
		{"legacy seconds", `"2025-03-01T12:00:00"`, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.input), &ts))
			assert.True(t, tt.want.Equal(ts.Time))
			assert.Equal(t, time.UTC, ts.Location())
		})
	}

	t.Run("rejects garbage", func(t *testing.T) {
		var ts Timestamp
		assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
		assert.Error(t, json.Unmarshal([]byte(`12`), &ts))
	})
}

func TestTimestamp_MarshalJSON(t *testing.T) {
	local := time.FixedZone("KST", 9*60*60)
	ts := NewTimestamp(time.Date(2025, 3, 1, 21, 0, 0, 500, local))

	data, err := json.Marshal(ts)

	require.NoError(t, err)
	assert.Equal(t, `"2025-03-01T12:00:00.0000005Z"`, string(data))
}

func TestAccount_Remaining(t *testing.T) {
	assert.Equal(t, int64(700), Account{TokenLimit: 1000, TokenUsed: 300}.Remaining())
	assert.Equal(t, int64(-50), Account{TokenLimit: 100, TokenUsed: 150}.Remaining())
}

func TestSnapshot_Normalize(t *testing.T) {
	snap := (&Snapshot{}).Normalize()

	data, err := json.Marshal(snap)

	require.NoError(t, err)
	assert.JSONEq(t, `{"users": {}, "logs": []}`, string(data))
}

func TestSnapshot_Clone(t *testing.T) {
	snap := NewSnapshot()
	snap.Users["u1"] = Account{ID: "u1", TokenLimit: 10}
	snap.Logs = append(snap.Logs, UsageEvent{ID: 1, AccountID: "u1", TokensUsed: 5})

	clone := snap.Clone()
	clone.Users["u1"] = Account{ID: "u1", TokenLimit: 99}
	clone.Users["u2"] = Account{ID: "u2"}
	clone.Logs[0].TokensUsed = 42

	assert.Equal(t, int64(10), snap.Users["u1"].TokenLimit)
	assert.Len(t, snap.Users, 1)
	assert.Equal(t, int64(5), snap.Logs[0].TokensUsed)
}
