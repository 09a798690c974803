// Package intercept prevents replies to outbound service notifications from
// being misrouted into the normal conversational flow.
package intercept

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/model"
	"github.com/huntred/chatflow/internal/repository"
)

// NotificationData is handed to HandleNotificationResponse when a message is
// intercepted.
type NotificationData struct {
	Record model.ServiceNotificationRecord
}

// Middleware decides whether an inbound message is a notification reply.
type Middleware struct {
	conversations repository.ConversationRepository
	allowed       map[model.Channel]bool

	// now is swapped out by tests.
	now func() time.Time
}

func NewMiddleware(conversations repository.ConversationRepository, allowedChannels ...model.Channel) *Middleware {
	if len(allowedChannels) == 0 {
		allowedChannels = []model.Channel{model.ChannelWhatsApp, model.ChannelTelegram}
	}
	allowed := make(map[model.Channel]bool, len(allowedChannels))
	for _, c := range allowedChannels {
		allowed[c] = true
	}
	return &Middleware{
		conversations: conversations,
		allowed:       allowed,
		now:           time.Now,
	}
}

// ShouldIntercept reports whether the message should be answered with a
// canned notification reply instead of entering the flow. The caller passes
// the conversation row it loaded under the per-user lock; a lapsed grace
// window restores the saved previous state on that same row, so the caller's
// subsequent flow processing runs under the restored state. The grace window
// is inclusive at both ends, and a second call after the restore sees a
// normal conversation. Every failure degrades to (false, nil); interception
// must never break inbound processing.
func (m *Middleware) ShouldIntercept(ctx context.Context, conv *model.ConversationState) (bool, *NotificationData) {
	if conv == nil || !m.allowed[conv.Channel] {
		return false, nil
	}
	if conv.CurrentStage != model.StageServiceNotification {
		return false, nil
	}

	metadata, err := conv.Metadata()
	if err != nil {
		log.Warn().Err(err).Str("userId", conv.UserID).Msg("unreadable conversation metadata, passing through")
		return false, nil
	}

	var record model.ServiceNotificationRecord
	found, err := metadata.Get(model.MetaServiceNotification, &record)
	if !found || err != nil {
		if err != nil {
			log.Warn().Err(err).Str("userId", conv.UserID).Msg("malformed service notification record, passing through")
		}
		return false, nil
	}

	graceStart, graceEnd, err := record.GraceWindow()
	if err != nil {
		log.Warn().Err(err).Str("userId", conv.UserID).Str("sentAt", record.SentAt).
			Msg("unparsable notification sent_at, passing through")
		return false, nil
	}

	// Inclusive at both bounds: sent_at <= now <= grace_end.
	now := m.now()
	if !now.Before(graceStart) && !now.After(graceEnd) {
		return true, &NotificationData{Record: record}
	}
	if now.Before(graceStart) {
		// Clock skew; treat as outside the window without restoring.
		return false, nil
	}

	// Grace lapsed: restore the saved state and let the message flow
	// normally under it.
	m.restore(ctx, conv, metadata, record)
	return false, nil
}

func (m *Middleware) restore(ctx context.Context, conv *model.ConversationState, metadata model.Metadata, record model.ServiceNotificationRecord) {
	metadata.Delete(model.MetaServiceNotification)
	if err := conv.SetMetadata(metadata); err != nil {
		log.Error().Err(err).Str("conversationId", conv.ID).Msg("failed to encode metadata during state restore")
		return
	}

	previous := record.PreviousState
	if previous == "" {
		previous = model.StageIdle
	}
	questionRef := conv.CurrentQuestionRef
	if !previous.AwaitsInput() {
		questionRef = nil
	}

	err := m.conversations.Save(ctx, model.SaveConversationParams{
		ID:                 conv.ID,
		CurrentStage:       previous,
		CurrentQuestionRef: questionRef,
		Metadata:           conv.MetadataRaw,
	})
	if err != nil {
		log.Error().Err(err).Str("conversationId", conv.ID).Msg("failed to restore conversation state")
		return
	}

	conv.CurrentStage = previous
	conv.CurrentQuestionRef = questionRef

	log.Info().
		Str("conversationId", conv.ID).
		Str("restoredState", string(previous)).
		Msg("service notification grace period lapsed, state restored")
}

// MarkNotificationSent puts a conversation into the service_notification
// stage, saving where it was so the grace-period expiry can put it back.
func (m *Middleware) MarkNotificationSent(ctx context.Context, conv *model.ConversationState, gracePeriod time.Duration) error {
	metadata, err := conv.Metadata()
	if err != nil {
		return err
	}

	record := model.ServiceNotificationRecord{
		SentAt:             m.now().Format(time.RFC3339),
		GracePeriodSeconds: int(gracePeriod.Seconds()),
		PreviousState:      conv.CurrentStage,
	}
	if err := metadata.Set(model.MetaServiceNotification, record); err != nil {
		return err
	}
	if err := conv.SetMetadata(metadata); err != nil {
		return err
	}

	err = m.conversations.Save(ctx, model.SaveConversationParams{
		ID:                 conv.ID,
		CurrentStage:       model.StageServiceNotification,
		CurrentQuestionRef: conv.CurrentQuestionRef,
		Metadata:           conv.MetadataRaw,
	})
	if err != nil {
		return err
	}

	conv.CurrentStage = model.StageServiceNotification
	return nil
}

var acknowledgementWords = []string{
	"gracias", "ok", "okay", "vale", "entendido", "entiendo", "perfecto",
	"thanks", "thank you", "understood", "got it", "de acuerdo", "listo",
}

const (
	ackResponse      = "¡Gracias por tu mensaje! Si necesitas algo más, escríbenos cuando quieras."
	infoResponse     = "Este es un mensaje informativo. Si deseas interactuar con nosotros, envía un nuevo mensaje y con gusto te atenderemos."
	fallbackResponse = "Disculpa, no pudimos procesar tu mensaje en este momento. Por favor intenta de nuevo más tarde."
)

// HandleNotificationResponse classifies a notification reply and returns a
// canned response. It is pure, business-unit-agnostic and never panics.
func HandleNotificationResponse(text string, data *NotificationData) (response string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("notification response handler recovered")
			response = fallbackResponse
		}
	}()

	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, word := range acknowledgementWords {
		if strings.Contains(normalized, word) {
			return ackResponse
		}
	}
	return infoResponse
}
