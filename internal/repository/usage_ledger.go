package repository

import (
	"time"

	"github.com/openclaw/token-ledger/internal/model"
)

// UsageLedger appends to and queries the usage log of a loaded snapshot.
// Entries are never modified or removed.
type UsageLedger struct {
	snap *model.Snapshot
	now  func() time.Time
}

func NewUsageLedger(snap *model.Snapshot, now func() time.Time) *UsageLedger {
	if now == nil {
		now = time.Now
	}
	return &UsageLedger{snap: snap.Normalize(), now: now}
}

// Append assigns the next sequence id (count of existing events + 1).
func (l *UsageLedger) Append(params model.AppendUsageParams) model.UsageEvent {
	event := model.UsageEvent{
		ID:          int64(len(l.snap.Logs)) + 1,
		AccountID:   params.AccountID,
		RequestType: params.RequestType,
		Model:       params.Model,
		TokensUsed:  params.TokensUsed,
		CostUSD:     params.CostUSD,
		Timestamp:   model.NewTimestamp(l.now()),
	}
	l.snap.Logs = append(l.snap.Logs, event)
	return event
}

// QueryByAccount returns a copy of the account's events in append order.
func (l *UsageLedger) QueryByAccount(accountID string) []model.UsageEvent {
	events := make([]model.UsageEvent, 0)
	for _, event := range l.snap.Logs {
		if event.AccountID == accountID {
			events = append(events, event)
		}
	}
	return events
}

// Summarize totals the ledger entries for one account. Totals are independent
// of the account counter, which ResetUsage can zero.
func (l *UsageLedger) Summarize(accountID string) model.UsageSummary {
	summary := model.UsageSummary{AccountID: accountID}
	for _, event := range l.snap.Logs {
		if event.AccountID != accountID {
			continue
		}
		summary.EventCount++
		summary.TokensUsed += event.TokensUsed
		summary.CostUSD += event.CostUSD
	}
	return summary
}
