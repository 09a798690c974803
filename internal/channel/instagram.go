package channel

import (
	"context"
	"net/http"

	"github.com/huntred/chatflow/internal/model"
)

// InstagramAdapter handles Instagram Direct messaging, which shares the
// Messenger Platform payloads under the "instagram" webhook object.
type InstagramAdapter struct {
	pageToken      string
	businessUnitID string
	baseURL        string
	client         *http.Client
}

func NewInstagramAdapter(pageToken, businessUnitID string, client *http.Client) *InstagramAdapter {
	return &InstagramAdapter{
		pageToken:      pageToken,
		businessUnitID: businessUnitID,
		baseURL:        defaultGraphBaseURL,
		client:         client,
	}
}

func (a *InstagramAdapter) Name() model.Channel {
	return model.ChannelInstagram
}

func (a *InstagramAdapter) DecodeWebhook(body []byte) (*model.InboundMessage, error) {
	return decodeMetaWebhook(body, model.ChannelInstagram, "instagram", a.businessUnitID)
}

func (a *InstagramAdapter) Send(ctx context.Context, msg *model.OutboundMessage) error {
	return sendMetaMessage(ctx, a.client, a.baseURL, a.pageToken, "instagram", msg)
}
