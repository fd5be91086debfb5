package handler

import (
	"net/http"
	"time"

	"github.com/openclaw/token-ledger/internal/httputil"
	"github.com/openclaw/token-ledger/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func formatAccount(account model.Account) map[string]any {
	return map[string]any{
		"id":         account.ID,
		"name":       account.Name,
		"role":       account.Role,
		"tokenLimit": account.TokenLimit,
		"tokenUsed":  account.TokenUsed,
		"remaining":  account.Remaining(),
	}
}

func formatUsageEvent(event model.UsageEvent) map[string]any {
	return map[string]any{
		"id":          event.ID,
		"accountId":   event.AccountID,
		"requestType": event.RequestType,
		"model":       event.Model,
		"tokensUsed":  event.TokensUsed,
		"costUsd":     event.CostUSD,
		"timestamp":   event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}
