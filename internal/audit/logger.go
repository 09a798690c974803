package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventUnsupportedChannel  EventType = "unsupported_channel"
	EventRateLimitExceed     EventType = "rate_limit_exceeded"
	EventMalformedPayload    EventType = "malformed_payload"
	EventVerificationFailure EventType = "webhook_verification_failed"
	EventSignatureFailure    EventType = "signature_verification_failed"
	EventStateReset          EventType = "conversation_state_reset"
	EventDeliveryExhausted   EventType = "delivery_retries_exhausted"
	EventNotificationLapsed  EventType = "notification_grace_lapsed"
)

type Event struct {
	Type           EventType
	UserID         string
	Channel        string
	BusinessUnitID string
	IP             string
	UserAgent      string
	Details        map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "messaging").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.UserID != "" {
		logger = logger.With().Str("user_id", event.UserID).Logger()
	}
	if event.Channel != "" {
		logger = logger.With().Str("channel", event.Channel).Logger()
	}
	if event.BusinessUnitID != "" {
		logger = logger.With().Str("business_unit_id", event.BusinessUnitID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("messaging audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
