// Package dispatch is the single entry point for outbound messages. It
// resolves the channel adapter, tags pricing metadata, applies the rate
// limit gate and hands the send to the delivery manager.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/audit"
	"github.com/huntred/chatflow/internal/channel"
	"github.com/huntred/chatflow/internal/classify"
	"github.com/huntred/chatflow/internal/config"
	"github.com/huntred/chatflow/internal/delivery"
	apperrors "github.com/huntred/chatflow/internal/errors"
	"github.com/huntred/chatflow/internal/events"
	"github.com/huntred/chatflow/internal/model"
	"github.com/huntred/chatflow/internal/repository"
)

// EventPublisher decouples the dispatcher from the SSE broker.
type EventPublisher interface {
	Publish(ctx context.Context, businessUnitID string, event events.Event) error
}

// SendGate is satisfied by ratelimit.Limiter.
type SendGate interface {
	Allow(ctx context.Context, channel model.Channel, userID string) bool
}

// WindowChecker reports 24h engagement-window eligibility.
type WindowChecker interface {
	WithinWindow(ctx context.Context, businessUnitID, recipientID string) bool
}

// DenyPolicy decides what happens when the rate limiter denies a send.
type DenyPolicy string

const (
	// DenyReject surfaces the denial to the caller immediately.
	DenyReject DenyPolicy = "reject"
	// DenyWait sleeps one bounded interval and retries the gate once
	// before surfacing the denial.
	DenyWait DenyPolicy = "wait"
)

type Dispatcher struct {
	registry  *channel.Registry
	limiter   SendGate
	window    WindowChecker
	manager   *delivery.Manager
	outbound  repository.OutboundMessageRepository
	events    EventPublisher
	policies  map[model.Channel]DenyPolicy
	retryWait time.Duration

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	registry *channel.Registry,
	limiter SendGate,
	window WindowChecker,
	manager *delivery.Manager,
	outbound repository.OutboundMessageRepository,
	publisher EventPublisher,
) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		limiter:   limiter,
		window:    window,
		manager:   manager,
		outbound:  outbound,
		events:    publisher,
		policies:  make(map[model.Channel]DenyPolicy),
		retryWait: config.RateLimitRetryWait,
		sleep:     sleepCtx,
	}
}

// SetChannelPolicy overrides the rate-limit deny policy for one channel.
// Channels without an override reject immediately.
func (d *Dispatcher) SetChannelPolicy(channel model.Channel, policy DenyPolicy) {
	d.policies[channel] = policy
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// allowSend consults the rate limiter under the channel's deny policy. A
// wait-configured channel gets one bounded delay and a second chance at the
// gate before the denial stands.
func (d *Dispatcher) allowSend(ctx context.Context, channel model.Channel, userID string) bool {
	if d.limiter.Allow(ctx, channel, userID) {
		return true
	}
	if d.policies[channel] != DenyWait {
		return false
	}
	if err := d.sleep(ctx, d.retryWait); err != nil {
		return false
	}
	return d.limiter.Allow(ctx, channel, userID)
}

// deliveredPayload is the event body published after a delivery attempt run.
type deliveredPayload struct {
	MessageID       string                `json:"messageId"`
	Channel         model.Channel         `json:"channel"`
	RecipientID     string                `json:"recipientId"`
	PricingCategory model.PricingCategory `json:"pricingCategory"`
	Attempts        int                   `json:"attempts"`
	Error           string                `json:"error,omitempty"`
}

// Send pushes one message through the full outbound pipeline. Failures are
// reported in the Result, never raised: callers inspect Result.OK().
func (d *Dispatcher) Send(ctx context.Context, msg *model.OutboundMessage, flowType string) *delivery.Result {
	adapter, err := d.registry.Get(msg.Channel)
	if err != nil {
		// A channel nobody registered is a deployment defect. Fail loudly
		// instead of silently dropping the message.
		log.Error().
			Str("channel", string(msg.Channel)).
			Str("recipientId", msg.RecipientID).
			Msg("no adapter registered for channel")
		audit.Log(ctx, audit.Event{
			Type:           audit.EventUnsupportedChannel,
			UserID:         msg.RecipientID,
			Channel:        string(msg.Channel),
			BusinessUnitID: msg.BusinessUnitID,
		})
		return &delivery.Result{
			Status: "error",
			Error:  err.Error(),
			Code:   apperrors.GetCode(err),
		}
	}

	d.tag(ctx, msg, flowType)

	if !d.allowSend(ctx, msg.Channel, msg.RecipientID) {
		audit.Log(ctx, audit.Event{
			Type:           audit.EventRateLimitExceed,
			UserID:         msg.RecipientID,
			Channel:        string(msg.Channel),
			BusinessUnitID: msg.BusinessUnitID,
		})
		rateErr := apperrors.RateLimitExceeded()
		return &delivery.Result{
			Status: "error",
			Error:  rateErr.Error(),
			Code:   apperrors.GetCode(rateErr),
		}
	}

	d.persist(ctx, msg)

	result := d.manager.Deliver(ctx, msg.ID, func(ctx context.Context) error {
		return adapter.Send(ctx, msg)
	})

	d.publish(ctx, msg, result)
	return result
}

// tag fills the pricing and window metadata on the message before persisting
// or sending. Classification is advisory and never blocks the send.
func (d *Dispatcher) tag(ctx context.Context, msg *model.OutboundMessage, flowType string) {
	_, _, category := classify.ClassifyContent(msg.Body, classify.Context{
		FlowType:       flowType,
		Channel:        msg.Channel,
		BusinessUnitID: msg.BusinessUnitID,
	})
	msg.PricingCategory = category
	msg.Within24hWindow = d.window.WithinWindow(ctx, msg.BusinessUnitID, msg.RecipientID)

	if msg.Channel == model.ChannelWhatsApp && !msg.Within24hWindow && msg.Kind != model.KindTemplate {
		log.Warn().
			Str("recipientId", msg.RecipientID).
			Str("kind", string(msg.Kind)).
			Msg("sending non-template message outside 24h window, provider may reject")
	}
}

// persist writes the outbound row before the delivery attempt so the audit
// trail exists even when every attempt fails. A storage failure downgrades
// to an unpersisted send rather than blocking the reply.
func (d *Dispatcher) persist(ctx context.Context, msg *model.OutboundMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if d.outbound == nil {
		return
	}
	saved, err := d.outbound.Create(ctx, msg)
	if err != nil {
		log.Error().
			Err(err).
			Str("messageId", msg.ID).
			Msg("failed to persist outbound message")
		return
	}
	msg.ID = saved.ID
}

func (d *Dispatcher) publish(ctx context.Context, msg *model.OutboundMessage, result *delivery.Result) {
	if d.events == nil {
		return
	}

	eventType := events.TypeMessageDelivered
	if !result.OK() {
		eventType = events.TypeDeliveryFailed
		audit.Log(ctx, audit.Event{
			Type:           audit.EventDeliveryExhausted,
			UserID:         msg.RecipientID,
			Channel:        string(msg.Channel),
			BusinessUnitID: msg.BusinessUnitID,
			Details: map[string]interface{}{
				"attempts": result.Attempts,
				"code":     string(result.Code),
			},
		})
	}

	event := events.NewEvent(eventType, deliveredPayload{
		MessageID:       msg.ID,
		Channel:         msg.Channel,
		RecipientID:     msg.RecipientID,
		PricingCategory: msg.PricingCategory,
		Attempts:        result.Attempts,
		Error:           result.Error,
	})
	if err := d.events.Publish(ctx, msg.BusinessUnitID, event); err != nil {
		log.Warn().Err(err).Str("messageId", msg.ID).Msg("failed to publish delivery event")
	}
}
