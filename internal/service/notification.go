package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/delivery"
	"github.com/huntred/chatflow/internal/intercept"
	"github.com/huntred/chatflow/internal/model"
)

// MessageSender is satisfied by dispatch.Dispatcher.
type MessageSender interface {
	Send(ctx context.Context, msg *model.OutboundMessage, flowType string) *delivery.Result
}

// NotificationService sends service notifications: out-of-band messages
// (interview reminders, status updates) that pause the conversation flow for
// a grace period so the user's reaction is not misread as a flow answer.
type NotificationService struct {
	conversations *ConversationService
	intercept     *intercept.Middleware
	sender        MessageSender
	gracePeriod   time.Duration
}

func NewNotificationService(
	conversations *ConversationService,
	interceptMiddleware *intercept.Middleware,
	sender MessageSender,
	gracePeriod time.Duration,
) *NotificationService {
	return &NotificationService{
		conversations: conversations,
		intercept:     interceptMiddleware,
		sender:        sender,
		gracePeriod:   gracePeriod,
	}
}

type SendNotificationParams struct {
	UserID         string            `json:"userId"`
	Channel        model.Channel     `json:"channel"`
	BusinessUnitID string            `json:"businessUnitId"`
	Body           string            `json:"body"`
	Kind           model.MessageKind `json:"kind,omitempty"`
	TemplateName   string            `json:"templateName,omitempty"`
}

func (p SendNotificationParams) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if !p.Channel.Valid() {
		return fmt.Errorf("unknown channel %q", p.Channel)
	}
	if p.BusinessUnitID == "" {
		return fmt.Errorf("businessUnitId is required")
	}
	if p.Body == "" {
		return fmt.Errorf("body is required")
	}
	return nil
}

// Send delivers a notification and, on success, marks the conversation so
// the next inbound message within the grace period is intercepted instead of
// fed to the flow engine.
func (s *NotificationService) Send(ctx context.Context, params SendNotificationParams) (*delivery.Result, error) {
	conv, err := s.conversations.FindOrCreate(ctx, params.UserID, params.Channel, params.BusinessUnitID)
	if err != nil {
		return nil, err
	}

	kind := params.Kind
	if kind == "" {
		kind = model.KindText
	}

	msg := &model.OutboundMessage{
		Channel:        params.Channel,
		RecipientID:    params.UserID,
		Kind:           kind,
		Body:           params.Body,
		TemplateName:   params.TemplateName,
		BusinessUnitID: params.BusinessUnitID,
	}

	result := s.sender.Send(ctx, msg, "notification")
	if !result.OK() {
		return result, nil
	}

	if err := s.intercept.MarkNotificationSent(ctx, conv, s.gracePeriod); err != nil {
		// The message went out; losing the marker only means the next reply
		// is processed by the flow instead of acknowledged.
		log.Error().
			Err(err).
			Str("conversationId", conv.ID).
			Msg("failed to mark notification sent")
	}

	return result, nil
}
