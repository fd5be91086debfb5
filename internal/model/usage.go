package model

// UsageEvent is one immutable ledger entry. AccountID is a soft reference:
// nothing guarantees the account still exists or existed first.
type UsageEvent struct {
	ID          int64     `json:"id"`
	AccountID   string    `json:"user_id"`
	RequestType string    `json:"request_type"`
	Model       string    `json:"model"`
	TokensUsed  int64     `json:"tokens_used"`
	CostUSD     float64   `json:"cost_usd"`
	Timestamp   Timestamp `json:"timestamp"`
}

type AppendUsageParams struct {
	AccountID   string
	RequestType string
	Model       string
	TokensUsed  int64
	CostUSD     float64
}

type UsageSummary struct {
	AccountID  string  `json:"accountId"`
	EventCount int     `json:"eventCount"`
	TokensUsed int64   `json:"tokensUsed"`
	CostUSD    float64 `json:"costUsd"`
}
