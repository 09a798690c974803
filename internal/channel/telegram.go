package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	apperrors "github.com/huntred/chatflow/internal/errors"
	"github.com/huntred/chatflow/internal/model"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// TelegramAdapter speaks the Telegram Bot API.
type TelegramAdapter struct {
	botToken       string
	businessUnitID string
	baseURL        string
	client         *http.Client
}

func NewTelegramAdapter(botToken, businessUnitID string, client *http.Client) *TelegramAdapter {
	return &TelegramAdapter{
		botToken:       botToken,
		businessUnitID: businessUnitID,
		baseURL:        defaultTelegramBaseURL,
		client:         client,
	}
}

func (a *TelegramAdapter) Name() model.Channel {
	return model.ChannelTelegram
}

type tgUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Text  string `json:"text"`
		Photo []struct {
			FileID string `json:"file_id"`
		} `json:"photo"`
		Document *struct {
			FileID string `json:"file_id"`
		} `json:"document"`
	} `json:"message"`
	CallbackQuery *struct {
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

func (a *TelegramAdapter) DecodeWebhook(body []byte) (*model.InboundMessage, error) {
	var update tgUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, apperrors.MalformedPayload("invalid JSON").WithCause(err)
	}

	if update.CallbackQuery != nil {
		if update.CallbackQuery.From.ID == 0 {
			return nil, apperrors.MalformedPayload("callback query missing sender")
		}
		return &model.InboundMessage{
			Channel:        model.ChannelTelegram,
			SenderID:       strconv.FormatInt(update.CallbackQuery.From.ID, 10),
			Text:           update.CallbackQuery.Data,
			BusinessUnitID: a.businessUnitID,
			RawPayload:     body,
		}, nil
	}

	if update.Message == nil {
		return nil, apperrors.MalformedPayload("missing message")
	}
	if update.Message.From == nil || update.Message.From.ID == 0 {
		return nil, apperrors.MalformedPayload("message missing sender")
	}

	inbound := &model.InboundMessage{
		Channel:        model.ChannelTelegram,
		SenderID:       strconv.FormatInt(update.Message.From.ID, 10),
		Text:           update.Message.Text,
		BusinessUnitID: a.businessUnitID,
		RawPayload:     body,
	}
	if len(update.Message.Photo) > 0 {
		inbound.MediaRef = update.Message.Photo[len(update.Message.Photo)-1].FileID
	} else if update.Message.Document != nil {
		inbound.MediaRef = update.Message.Document.FileID
	}
	return inbound, nil
}

func (a *TelegramAdapter) Send(ctx context.Context, msg *model.OutboundMessage) error {
	var method string
	payload := map[string]any{"chat_id": msg.RecipientID}

	switch msg.Kind {
	case model.KindText, model.KindTemplate:
		// Telegram has no template concept; templates render as plain text.
		method = "sendMessage"
		payload["text"] = msg.Body
	case model.KindButtons:
		method = "sendMessage"
		payload["text"] = msg.Body
		keyboard := make([][]map[string]string, 0, len(msg.Options))
		for _, opt := range msg.Options {
			keyboard = append(keyboard, []map[string]string{{
				"text":          opt.Title,
				"callback_data": opt.Payload,
			}})
		}
		payload["reply_markup"] = map[string]any{"inline_keyboard": keyboard}
	case model.KindDocument:
		method = "sendDocument"
		payload["document"] = msg.MediaURL
		payload["caption"] = msg.Body
	case model.KindImage:
		method = "sendPhoto"
		payload["photo"] = msg.MediaURL
		payload["caption"] = msg.Body
	default:
		return apperrors.PermanentDelivery(fmt.Sprintf("unsupported message kind %q", msg.Kind), nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.PermanentDelivery("encode telegram payload", err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", a.baseURL, a.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return apperrors.PermanentDelivery("build telegram request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransport("telegram", err)
	}
	defer resp.Body.Close()

	return classifyResponse("telegram", resp)
}
