package model

import (
	"encoding/json"
	"time"
)

// Metadata is the open key-value store carried by a conversation. It holds
// transient per-conversation data such as the service notification record,
// recommended jobs and the selected interview slot.
type Metadata map[string]json.RawMessage

// Known metadata keys.
const (
	MetaServiceNotification = "service_notification"
	MetaRecommendedJobs     = "recommended_jobs"
	MetaSelectedJob         = "selected_job"
	MetaAvailableSlots      = "available_slots"
	MetaRetryCount          = "retry_count"
)

func (m Metadata) Get(key string, dest any) (bool, error) {
	raw, ok := m[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, err
	}
	return true, nil
}

func (m Metadata) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m[key] = raw
	return nil
}

func (m Metadata) Delete(key string) {
	delete(m, key)
}

// ServiceNotificationRecord is embedded in Metadata under
// MetaServiceNotification while a conversation sits in the
// service_notification stage.
type ServiceNotificationRecord struct {
	SentAt             string            `json:"sent_at"`
	GracePeriodSeconds int               `json:"grace_period_seconds"`
	PreviousState      ConversationStage `json:"previous_state"`
}

// GraceWindow parses SentAt and returns the inclusive bounds of the grace
// window.
func (r ServiceNotificationRecord) GraceWindow() (start, end time.Time, err error) {
	sentAt, err := time.Parse(time.RFC3339, r.SentAt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return sentAt, sentAt.Add(time.Duration(r.GracePeriodSeconds) * time.Second), nil
}

// ConversationState tracks one user's position in the flow for a given
// channel and business unit. The (user_id, channel, business_unit_id) triple
// is unique.
type ConversationState struct {
	ID                 string            `db:"id" json:"id"`
	UserID             string            `db:"user_id" json:"userId"`
	Channel            Channel           `db:"channel" json:"channel"`
	BusinessUnitID     string            `db:"business_unit_id" json:"businessUnitId"`
	CurrentStage       ConversationStage `db:"current_stage" json:"currentStage"`
	CurrentQuestionRef *string           `db:"current_question_ref" json:"currentQuestionRef,omitempty"`
	MetadataRaw        json.RawMessage   `db:"metadata" json:"-"`
	LastInteractionAt  time.Time         `db:"last_interaction_at" json:"lastInteractionAt"`
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updatedAt"`
}

// Metadata decodes the raw metadata column. A null or empty column yields an
// empty, writable map.
func (c *ConversationState) Metadata() (Metadata, error) {
	if len(c.MetadataRaw) == 0 {
		return Metadata{}, nil
	}
	var m Metadata
	if err := json.Unmarshal(c.MetadataRaw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = Metadata{}
	}
	return m, nil
}

func (c *ConversationState) SetMetadata(m Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.MetadataRaw = raw
	return nil
}

type UpsertConversationParams struct {
	UserID         string
	Channel        Channel
	BusinessUnitID string
}

type SaveConversationParams struct {
	ID                 string
	CurrentStage       ConversationStage
	CurrentQuestionRef *string
	Metadata           json.RawMessage
}
