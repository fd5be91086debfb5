package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAccountBootstrap EventType = "account_bootstrap"
	EventUsageRecorded    EventType = "usage_recorded"
	EventUsageReset       EventType = "usage_reset"
	EventLimitChanged     EventType = "limit_changed"
)

type Event struct {
	Type      EventType
	AccountID string
	Details   map[string]interface{}
}

// Log writes a quota audit record. Only committed changes are audited.
func Log(event Event) {
	logger := log.With().
		Str("audit", "quota").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.AccountID != "" {
		logger = logger.With().Str("account_id", event.AccountID).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("quota audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case float64:
		return e.Float64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
