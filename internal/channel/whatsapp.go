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

const defaultGraphBaseURL = "https://graph.facebook.com/v19.0"

// WhatsAppAdapter speaks the WhatsApp Business Cloud API.
type WhatsAppAdapter struct {
	token          string
	phoneID        string
	businessUnitID string
	baseURL        string
	client         *http.Client
}

func NewWhatsAppAdapter(token, phoneID, businessUnitID string, client *http.Client) *WhatsAppAdapter {
	return &WhatsAppAdapter{
		token:          token,
		phoneID:        phoneID,
		businessUnitID: businessUnitID,
		baseURL:        defaultGraphBaseURL,
		client:         client,
	}
}

func (a *WhatsAppAdapter) Name() model.Channel {
	return model.ChannelWhatsApp
}

// Webhook payload types (Cloud API change notifications).

type waWebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Messages []waMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type waMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Interactive *struct {
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
	} `json:"interactive"`
	Image *struct {
		ID string `json:"id"`
	} `json:"image"`
	Document *struct {
		ID string `json:"id"`
	} `json:"document"`
}

func (a *WhatsAppAdapter) DecodeWebhook(body []byte) (*model.InboundMessage, error) {
	var payload waWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.MalformedPayload("invalid JSON").WithCause(err)
	}
	if payload.Object == "" || len(payload.Entry) == 0 {
		return nil, apperrors.MalformedPayload("missing entry")
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.From == "" {
					return nil, apperrors.MalformedPayload("message missing sender")
				}
				inbound := &model.InboundMessage{
					Channel:        model.ChannelWhatsApp,
					SenderID:       msg.From,
					BusinessUnitID: a.businessUnitID,
					RawPayload:     body,
				}
				switch {
				case msg.Text != nil:
					inbound.Text = msg.Text.Body
				case msg.Interactive != nil && msg.Interactive.ButtonReply != nil:
					inbound.Text = msg.Interactive.ButtonReply.ID
				case msg.Image != nil:
					inbound.MediaRef = msg.Image.ID
				case msg.Document != nil:
					inbound.MediaRef = msg.Document.ID
				}
				return inbound, nil
			}
		}
	}

	// Status callbacks (delivered/read receipts) carry no messages.
	return nil, nil
}

func (a *WhatsAppAdapter) Send(ctx context.Context, msg *model.OutboundMessage) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.RecipientID,
	}

	switch msg.Kind {
	case model.KindText:
		payload["type"] = "text"
		payload["text"] = map[string]string{"body": msg.Body}
	case model.KindButtons:
		buttons := make([]map[string]any, 0, len(msg.Options))
		for _, opt := range msg.Options {
			buttons = append(buttons, map[string]any{
				"type": "reply",
				"reply": map[string]string{
					"id":    opt.Payload,
					"title": opt.Title,
				},
			})
		}
		payload["type"] = "interactive"
		payload["interactive"] = map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": msg.Body},
			"action": map[string]any{"buttons": buttons},
		}
	case model.KindTemplate:
		payload["type"] = "template"
		payload["template"] = map[string]any{
			"name":     msg.TemplateName,
			"language": map[string]string{"code": "es_MX"},
		}
	case model.KindDocument:
		payload["type"] = "document"
		payload["document"] = map[string]string{"link": msg.MediaURL}
	case model.KindImage:
		payload["type"] = "image"
		payload["image"] = map[string]string{"link": msg.MediaURL}
	default:
		return apperrors.PermanentDelivery(fmt.Sprintf("unsupported message kind %q", msg.Kind), nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.PermanentDelivery("encode whatsapp payload", err)
	}

	url := fmt.Sprintf("%s/%s/messages", a.baseURL, a.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.PermanentDelivery("build whatsapp request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransport("whatsapp", err)
	}
	defer resp.Body.Close()

	return classifyResponse("whatsapp", resp)
}
