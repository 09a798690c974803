package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// EmailRelayService hands emails to the shared mail relay over HTTP. With no
// relay configured it logs and drops, so flows keep working in environments
// without outbound mail.
type EmailRelayService struct {
	relayURL string
	client   *http.Client
}

func NewEmailRelayService(relayURL string, client *http.Client) *EmailRelayService {
	if client == nil {
		client = http.DefaultClient
	}
	return &EmailRelayService{relayURL: relayURL, client: client}
}

type emailRelayRequest struct {
	BusinessUnitID string `json:"businessUnitId"`
	Subject        string `json:"subject"`
	To             string `json:"to"`
	Body           string `json:"body"`
}

func (s *EmailRelayService) SendEmail(ctx context.Context, businessUnitID, subject, to, body string) error {
	if to == "" {
		return fmt.Errorf("recipient email is empty")
	}

	if s.relayURL == "" {
		log.Warn().
			Str("to", to).
			Str("subject", subject).
			Msg("email relay not configured, dropping email")
		return nil
	}

	payload, err := json.Marshal(emailRelayRequest{
		BusinessUnitID: businessUnitID,
		Subject:        subject,
		To:             to,
		Body:           body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email relay returned %d", resp.StatusCode)
	}
	return nil
}
