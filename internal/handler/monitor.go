package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/events"
	"github.com/huntred/chatflow/internal/model"
	"github.com/huntred/chatflow/internal/repository"
	"github.com/huntred/chatflow/internal/service"
)

type MonitorHandler struct {
	conversations *service.ConversationService
	outbound      repository.OutboundMessageRepository
	attempts      repository.DeliveryAttemptRepository
	broker        *events.Broker
	gamification  *service.GamificationService
}

func NewMonitorHandler(
	conversations *service.ConversationService,
	outbound repository.OutboundMessageRepository,
	attempts repository.DeliveryAttemptRepository,
	broker *events.Broker,
	gamification *service.GamificationService,
) *MonitorHandler {
	return &MonitorHandler{
		conversations: conversations,
		outbound:      outbound,
		attempts:      attempts,
		broker:        broker,
		gamification:  gamification,
	}
}

func (h *MonitorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stages, err := h.conversations.StageCounts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to collect stage counts")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to collect stats"})
		return
	}

	deliveries := make(map[string]int)
	for _, status := range []model.DeliveryStatus{model.DeliverySent, model.DeliveryRetrying, model.DeliveryFailed} {
		count, err := h.attempts.CountByStatus(ctx, status)
		if err != nil {
			log.Error().Err(err).Msg("failed to collect delivery counts")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to collect stats"})
			return
		}
		deliveries[string(status)] = count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversationsByStage": stages,
		"deliveryAttempts":     deliveries,
		"eventClients":         h.broker.TotalClients(),
	})
}

// Messages lists recent outbound messages for a recipient, newest first.
func (h *MonitorHandler) Messages(w http.ResponseWriter, r *http.Request) {
	channelName := model.Channel(chi.URLParam(r, "channel"))
	recipientID := chi.URLParam(r, "recipientID")

	if !channelName.Valid() {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown channel"})
		return
	}

	page := ParsePagination(r)
	msgs, err := h.outbound.FindByRecipient(r.Context(), channelName, recipientID, page.Limit, page.Offset)
	if err != nil {
		log.Error().Err(err).Str("recipientId", recipientID).Msg("failed to list messages")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list messages"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// Leaderboard returns the current month's engagement ranking.
func (h *MonitorHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)

	users, err := h.gamification.TopUsers(r.Context(), int64(page.Limit))
	if err != nil {
		log.Error().Err(err).Msg("failed to load leaderboard")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load leaderboard"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"limit": page.Limit,
	})
}

// Attempts lists the delivery attempt trail for one outbound message.
func (h *MonitorHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")

	msg, err := h.outbound.FindByID(r.Context(), messageID)
	if err != nil {
		log.Error().Err(err).Str("messageId", messageID).Msg("failed to load message")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to load message"})
		return
	}
	if msg == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Message not found"})
		return
	}

	attempts, err := h.attempts.FindByMessageRef(r.Context(), messageID)
	if err != nil {
		log.Error().Err(err).Str("messageId", messageID).Msg("failed to list attempts")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list attempts"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  msg,
		"attempts": attempts,
	})
}
