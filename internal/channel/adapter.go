// Package channel holds the per-provider adapters. Each adapter translates
// provider webhook payloads into normalized inbound messages and normalized
// outbound messages into provider API calls.
package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/huntred/chatflow/internal/errors"
	"github.com/huntred/chatflow/internal/model"
)

// Adapter is the provider-facing boundary of the engine.
type Adapter interface {
	Name() model.Channel
	// DecodeWebhook normalizes a provider webhook body. A payload missing
	// required keys yields a MALFORMED_PAYLOAD error and no message. Some
	// payloads carry only status callbacks; those decode to (nil, nil).
	DecodeWebhook(body []byte) (*model.InboundMessage, error)
	// Send performs one provider API call. Errors are classified as
	// transient (retryable) or permanent.
	Send(ctx context.Context, msg *model.OutboundMessage) error
}

// Registry maps channel names to adapters. It is built once at process start
// and passed to the dispatcher; there are no lazily initialized globals.
type Registry struct {
	adapters map[model.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.Channel]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(channel model.Channel) (Adapter, error) {
	adapter, ok := r.adapters[channel]
	if !ok {
		return nil, apperrors.UnsupportedChannel(string(channel))
	}
	return adapter, nil
}

func (r *Registry) Channels() []model.Channel {
	channels := make([]model.Channel, 0, len(r.adapters))
	for name := range r.adapters {
		channels = append(channels, name)
	}
	return channels
}

// classifyResponse converts a provider HTTP response into the delivery error
// taxonomy: 5xx and 429 are transient, other 4xx are permanent.
func classifyResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	detail := fmt.Sprintf("%s returned %d: %s", provider, resp.StatusCode, string(body))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return apperrors.TransientDelivery(detail, nil)
	}
	return apperrors.PermanentDelivery(detail, nil)
}

// classifyTransport wraps network-level failures (timeouts, refused
// connections) as transient.
func classifyTransport(provider string, err error) error {
	return apperrors.TransientDelivery(fmt.Sprintf("%s request failed", provider), err)
}
