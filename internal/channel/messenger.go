package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/huntred/chatflow/internal/errors"
	"github.com/huntred/chatflow/internal/model"
)

// MessengerAdapter speaks the Messenger Platform Send API. Instagram
// messaging rides the same payload shapes with a different webhook object
// name, so InstagramAdapter reuses this decoding.
type MessengerAdapter struct {
	pageToken      string
	businessUnitID string
	baseURL        string
	client         *http.Client
}

func NewMessengerAdapter(pageToken, businessUnitID string, client *http.Client) *MessengerAdapter {
	return &MessengerAdapter{
		pageToken:      pageToken,
		businessUnitID: businessUnitID,
		baseURL:        defaultGraphBaseURL,
		client:         client,
	}
}

func (a *MessengerAdapter) Name() model.Channel {
	return model.ChannelMessenger
}

type metaWebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				Text        string `json:"text"`
				QuickReply  *struct {
					Payload string `json:"payload"`
				} `json:"quick_reply"`
				Attachments []struct {
					Type    string `json:"type"`
					Payload struct {
						URL string `json:"url"`
					} `json:"payload"`
				} `json:"attachments"`
			} `json:"message"`
			Postback *struct {
				Payload string `json:"payload"`
			} `json:"postback"`
		} `json:"messaging"`
	} `json:"entry"`
}

func decodeMetaWebhook(body []byte, channel model.Channel, wantObject, businessUnitID string) (*model.InboundMessage, error) {
	var payload metaWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.MalformedPayload("invalid JSON").WithCause(err)
	}
	if payload.Object != wantObject {
		return nil, apperrors.MalformedPayload(fmt.Sprintf("unexpected object %q", payload.Object))
	}
	if len(payload.Entry) == 0 {
		return nil, apperrors.MalformedPayload("missing entry")
	}

	for _, entry := range payload.Entry {
		for _, event := range entry.Messaging {
			if event.Sender.ID == "" {
				return nil, apperrors.MalformedPayload("event missing sender")
			}
			inbound := &model.InboundMessage{
				Channel:        channel,
				SenderID:       event.Sender.ID,
				BusinessUnitID: businessUnitID,
				RawPayload:     body,
			}
			switch {
			case event.Postback != nil:
				inbound.Text = event.Postback.Payload
			case event.Message != nil && event.Message.QuickReply != nil:
				inbound.Text = event.Message.QuickReply.Payload
			case event.Message != nil:
				inbound.Text = event.Message.Text
				if len(event.Message.Attachments) > 0 {
					inbound.MediaRef = event.Message.Attachments[0].Payload.URL
				}
			}
			return inbound, nil
		}
	}

	// Read receipts and delivery events carry no messaging entries we use.
	return nil, nil
}

func (a *MessengerAdapter) DecodeWebhook(body []byte) (*model.InboundMessage, error) {
	return decodeMetaWebhook(body, model.ChannelMessenger, "page", a.businessUnitID)
}

func sendMetaMessage(ctx context.Context, client *http.Client, baseURL, pageToken, provider string, msg *model.OutboundMessage) error {
	message := map[string]any{}

	switch msg.Kind {
	case model.KindText, model.KindTemplate:
		message["text"] = msg.Body
	case model.KindButtons:
		replies := make([]map[string]string, 0, len(msg.Options))
		for _, opt := range msg.Options {
			replies = append(replies, map[string]string{
				"content_type": "text",
				"title":        opt.Title,
				"payload":      opt.Payload,
			})
		}
		message["text"] = msg.Body
		message["quick_replies"] = replies
	case model.KindDocument, model.KindImage:
		attachmentType := "file"
		if msg.Kind == model.KindImage {
			attachmentType = "image"
		}
		message["attachment"] = map[string]any{
			"type":    attachmentType,
			"payload": map[string]any{"url": msg.MediaURL, "is_reusable": true},
		}
	default:
		return apperrors.PermanentDelivery(fmt.Sprintf("unsupported message kind %q", msg.Kind), nil)
	}

	payload := map[string]any{
		"recipient":      map[string]string{"id": msg.RecipientID},
		"message":        message,
		"messaging_type": "RESPONSE",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.PermanentDelivery("encode send payload", err)
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", baseURL, pageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.PermanentDelivery("build send request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(provider, err)
	}
	defer resp.Body.Close()

	return classifyResponse(provider, resp)
}

func (a *MessengerAdapter) Send(ctx context.Context, msg *model.OutboundMessage) error {
	return sendMetaMessage(ctx, a.client, a.baseURL, a.pageToken, "messenger", msg)
}
