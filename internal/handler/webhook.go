package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/audit"
	"github.com/huntred/chatflow/internal/channel"
	"github.com/huntred/chatflow/internal/flow"
	"github.com/huntred/chatflow/internal/intercept"
	"github.com/huntred/chatflow/internal/lock"
	"github.com/huntred/chatflow/internal/model"
	"github.com/huntred/chatflow/internal/service"
)

// FlowEngine resolves one conversation transition.
type FlowEngine interface {
	ProcessMessage(ctx context.Context, conv *model.ConversationState, msg *model.InboundMessage) *flow.Reply
}

// ConversationLocker is satisfied by lock.Locker.
type ConversationLocker interface {
	Acquire(ctx context.Context, channel model.Channel, userID string) (lock.Releaser, error)
}

// InboundWindow records inbound activity for 24h-window bookkeeping.
type InboundWindow interface {
	RecordInbound(ctx context.Context, businessUnitID, recipientID string)
}

// flowType under which engine replies are classified for pricing.
const intakeFlowType = "profile_creation"

type WebhookHandler struct {
	registry      *channel.Registry
	conversations *service.ConversationService
	window        InboundWindow
	intercept     *intercept.Middleware
	locker        ConversationLocker
	engine        FlowEngine
	sender        service.MessageSender
	verifyTokens  map[string]string
	verifyToken   string
}

func NewWebhookHandler(
	registry *channel.Registry,
	conversations *service.ConversationService,
	window InboundWindow,
	interceptMiddleware *intercept.Middleware,
	locker ConversationLocker,
	engine FlowEngine,
	sender service.MessageSender,
	verifyTokens map[string]string,
	defaultVerifyToken string,
) *WebhookHandler {
	return &WebhookHandler{
		registry:      registry,
		conversations: conversations,
		window:        window,
		intercept:     interceptMiddleware,
		locker:        locker,
		engine:        engine,
		sender:        sender,
		verifyTokens:  verifyTokens,
		verifyToken:   defaultVerifyToken,
	}
}

// tokenFor resolves the verify token for one business unit, falling back to
// the shared default when no tenant-specific secret is configured.
func (h *WebhookHandler) tokenFor(businessUnitID string) string {
	if token, ok := h.verifyTokens[businessUnitID]; ok && token != "" {
		return token
	}
	return h.verifyToken
}

// Verify answers the subscription handshake Meta performs when a webhook URL
// is registered: echo hub.challenge when the verify token matches.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode == "" || token == "" || challenge == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing verification parameters"})
		return
	}

	expected := h.tokenFor(chi.URLParam(r, "businessUnit"))
	if mode != "subscribe" || expected == "" || token != expected {
		audit.LogFromRequest(r, audit.Event{
			Type:           audit.EventVerificationFailure,
			Channel:        chi.URLParam(r, "channel"),
			BusinessUnitID: chi.URLParam(r, "businessUnit"),
		})
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "Verification failed"})
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

// Receive processes one provider webhook. After the payload decodes, the
// response is always 200: providers retry non-2xx responses, and retrying a
// processing failure would duplicate user messages.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	businessUnitID := chi.URLParam(r, "businessUnit")
	channelName := model.Channel(chi.URLParam(r, "channel"))

	adapter, err := h.registry.Get(channelName)
	if err != nil {
		audit.LogFromRequest(r, audit.Event{
			Type:           audit.EventUnsupportedChannel,
			Channel:        string(channelName),
			BusinessUnitID: businessUnitID,
		})
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown channel"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to read request body"})
		return
	}

	msg, err := adapter.DecodeWebhook(body)
	if err != nil {
		log.Warn().
			Err(err).
			Str("channel", string(channelName)).
			Msg("malformed webhook payload")
		audit.LogFromRequest(r, audit.Event{
			Type:           audit.EventMalformedPayload,
			Channel:        string(channelName),
			BusinessUnitID: businessUnitID,
		})
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Malformed payload"})
		return
	}
	if msg == nil {
		// Status callback or other non-message event.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	msg.BusinessUnitID = businessUnitID

	log.Info().
		Str("channel", string(channelName)).
		Str("senderId", msg.SenderID).
		Str("text", truncate(msg.Text, 50)).
		Msg("received webhook message")

	ctx := r.Context()
	status := h.process(ctx, channelName, businessUnitID, msg)
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *WebhookHandler) process(ctx context.Context, channelName model.Channel, businessUnitID string, msg *model.InboundMessage) string {
	h.window.RecordInbound(ctx, businessUnitID, msg.SenderID)

	lease, err := h.locker.Acquire(ctx, channelName, msg.SenderID)
	if err != nil {
		// Another replica is mid-transition for this user. Dropping here is
		// at-most-once; the provider does not retry a 200.
		if errors.Is(err, lock.ErrNotAcquired) {
			log.Warn().
				Str("senderId", msg.SenderID).
				Str("channel", string(channelName)).
				Msg("conversation busy, dropping message")
			return "busy"
		}
		log.Error().Err(err).Str("senderId", msg.SenderID).Msg("lock acquisition failed")
		return "error"
	}
	defer func() {
		if rerr := lease.Release(ctx); rerr != nil {
			log.Warn().Err(rerr).Str("senderId", msg.SenderID).Msg("lock release failed")
		}
	}()

	// The conversation row is read under the lease so the read-decide-write
	// cycle cannot interleave with a concurrent message from the same user.
	conv, err := h.conversations.FindOrCreate(ctx, msg.SenderID, channelName, businessUnitID)
	if err != nil {
		log.Error().Err(err).Str("senderId", msg.SenderID).Msg("failed to load conversation")
		return "error"
	}
	h.conversations.Touch(ctx, conv.ID)

	if intercepted, data := h.intercept.ShouldIntercept(ctx, conv); intercepted {
		h.reply(ctx, conv, &flow.Reply{
			Kind: model.KindText,
			Text: intercept.HandleNotificationResponse(msg.Text, data),
		})
		return "intercepted"
	}

	// A lapsed notification has had its previous state restored on conv
	// itself, so the engine runs under the restored state.
	reply := h.engine.ProcessMessage(ctx, conv, msg)
	if reply == nil {
		return "ok"
	}
	h.reply(ctx, conv, reply)
	return "ok"
}

func (h *WebhookHandler) reply(ctx context.Context, conv *model.ConversationState, reply *flow.Reply) {
	out := &model.OutboundMessage{
		Channel:        conv.Channel,
		RecipientID:    conv.UserID,
		Kind:           reply.Kind,
		Body:           reply.Text,
		Options:        reply.Options,
		BusinessUnitID: conv.BusinessUnitID,
	}

	result := h.sender.Send(ctx, out, intakeFlowType)
	if !result.OK() {
		log.Error().
			Str("conversationId", conv.ID).
			Str("code", string(result.Code)).
			Int("attempts", result.Attempts).
			Msg("failed to deliver reply")
	}
}
