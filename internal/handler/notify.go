package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/huntred/chatflow/internal/errors"
	"github.com/huntred/chatflow/internal/httputil"
	"github.com/huntred/chatflow/internal/service"
)

// NotifyHandler exposes service notifications to internal callers (HR tools,
// schedulers). Notifications bypass the flow engine and arm the grace-period
// interception on the target conversation.
type NotifyHandler struct {
	notifications *service.NotificationService
}

func NewNotifyHandler(notifications *service.NotificationService) *NotifyHandler {
	return &NotifyHandler{notifications: notifications}
}

func (h *NotifyHandler) Send(w http.ResponseWriter, r *http.Request) {
	var params service.SendNotificationParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		httputil.WriteError(w, apperrors.MalformedPayload("invalid JSON body"))
		return
	}

	if err := params.Validate(); err != nil {
		httputil.WriteError(w, apperrors.ValidationError(err.Error()))
		return
	}

	result, err := h.notifications.Send(r.Context(), params)
	if err != nil {
		log.Error().Err(err).Str("userId", params.UserID).Msg("notification send failed")
		httputil.WriteError(w, apperrors.Internal("Failed to send notification"))
		return
	}

	status := http.StatusOK
	if !result.OK() {
		status = http.StatusBadGateway
		if result.Code == apperrors.ErrCodeRateLimitExceeded {
			status = http.StatusTooManyRequests
		}
	}
	writeJSON(w, status, result)
}
