package model

import (
	"encoding/json"
	"time"
)

// InboundMessage is the channel-agnostic form of a provider webhook event.
// Channel adapters produce it; nothing downstream looks at RawPayload except
// audit logging.
type InboundMessage struct {
	Channel        Channel         `json:"channel"`
	SenderID       string          `json:"senderId"`
	Text           string          `json:"text,omitempty"`
	MediaRef       string          `json:"mediaRef,omitempty"`
	BusinessUnitID string          `json:"businessUnitId"`
	RawPayload     json.RawMessage `json:"rawPayload,omitempty"`
}

// ButtonOption is one choice offered by a buttons-kind message.
type ButtonOption struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

// OutboundMessage is the channel-agnostic send request. It flows through the
// dispatcher, the rate limiter and the delivery manager before an adapter
// encodes it for the provider API.
type OutboundMessage struct {
	ID              string          `db:"id" json:"id"`
	Channel         Channel         `db:"channel" json:"channel"`
	RecipientID     string          `db:"recipient_id" json:"recipientId"`
	Kind            MessageKind     `db:"kind" json:"kind"`
	Body            string          `db:"body" json:"body"`
	Options         []ButtonOption  `db:"-" json:"options,omitempty"`
	OptionsRaw      json.RawMessage `db:"options" json:"-"`
	TemplateName    string          `db:"template_name" json:"templateName,omitempty"`
	MediaURL        string          `db:"media_url" json:"mediaUrl,omitempty"`
	PricingCategory PricingCategory `db:"pricing_category" json:"pricingCategory"`
	Within24hWindow bool            `db:"within_24h_window" json:"within24hWindow"`
	BusinessUnitID  string          `db:"business_unit_id" json:"businessUnitId"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
}

// EncodeOptions fills OptionsRaw from Options for persistence.
func (m *OutboundMessage) EncodeOptions() error {
	if len(m.Options) == 0 {
		m.OptionsRaw = nil
		return nil
	}
	raw, err := json.Marshal(m.Options)
	if err != nil {
		return err
	}
	m.OptionsRaw = raw
	return nil
}

// DeliveryAttempt is the immutable audit record for one physical provider
// API call.
type DeliveryAttempt struct {
	ID               string         `db:"id" json:"id"`
	MessageRef       string         `db:"message_ref" json:"messageRef"`
	AttemptNumber    int            `db:"attempt_number" json:"attemptNumber"`
	Status           DeliveryStatus `db:"status" json:"status"`
	ProviderResponse *string        `db:"provider_response" json:"providerResponse,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"createdAt"`
}

type CreateDeliveryAttemptParams struct {
	MessageRef       string
	AttemptNumber    int
	Status           DeliveryStatus
	ProviderResponse *string
}
