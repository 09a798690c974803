package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntred/chatflow/internal/channel"
	"github.com/huntred/chatflow/internal/delivery"
	apperrors "github.com/huntred/chatflow/internal/errors"
	"github.com/huntred/chatflow/internal/events"
	"github.com/huntred/chatflow/internal/model"
)

type stubAdapter struct {
	name    model.Channel
	sendErr error
	sent    []*model.OutboundMessage
}

func (s *stubAdapter) Name() model.Channel { return s.name }

func (s *stubAdapter) DecodeWebhook(body []byte) (*model.InboundMessage, error) {
	return nil, nil
}

func (s *stubAdapter) Send(ctx context.Context, msg *model.OutboundMessage) error {
	s.sent = append(s.sent, msg)
	return s.sendErr
}

type stubGate struct {
	allow   bool
	results []bool // consumed per call when set, overriding allow
	calls   int
}

func (s *stubGate) Allow(ctx context.Context, channel model.Channel, userID string) bool {
	s.calls++
	if len(s.results) > 0 {
		r := s.results[0]
		s.results = s.results[1:]
		return r
	}
	return s.allow
}

type stubWindow struct {
	within bool
}

func (s *stubWindow) WithinWindow(ctx context.Context, businessUnitID, recipientID string) bool {
	return s.within
}

type stubPublisher struct {
	published []events.Event
	units     []string
}

func (s *stubPublisher) Publish(ctx context.Context, businessUnitID string, event events.Event) error {
	s.published = append(s.published, event)
	s.units = append(s.units, businessUnitID)
	return nil
}

type recordingOutboundRepo struct {
	created []*model.OutboundMessage
}

func (r *recordingOutboundRepo) Create(ctx context.Context, msg *model.OutboundMessage) (*model.OutboundMessage, error) {
	r.created = append(r.created, msg)
	return msg, nil
}

func (r *recordingOutboundRepo) FindByID(ctx context.Context, id string) (*model.OutboundMessage, error) {
	return nil, nil
}

func (r *recordingOutboundRepo) FindByRecipient(ctx context.Context, channel model.Channel, recipientID string, limit, offset int) ([]model.OutboundMessage, error) {
	return nil, nil
}

func (r *recordingOutboundRepo) CountByBusinessUnitSince(ctx context.Context, businessUnitID string, since time.Time) (int, error) {
	return 0, nil
}

type dispatcherHarness struct {
	dispatcher *Dispatcher
	adapter    *stubAdapter
	gate       *stubGate
	window     *stubWindow
	publisher  *stubPublisher
	outbound   *recordingOutboundRepo
}

func newDispatcherHarness() *dispatcherHarness {
	h := &dispatcherHarness{
		adapter:   &stubAdapter{name: model.ChannelWhatsApp},
		gate:      &stubGate{allow: true},
		window:    &stubWindow{within: true},
		publisher: &stubPublisher{},
		outbound:  &recordingOutboundRepo{},
	}
	h.dispatcher = NewDispatcher(
		channel.NewRegistry(h.adapter),
		h.gate,
		h.window,
		delivery.NewManager(nil, 3),
		h.outbound,
		h.publisher,
	)
	return h
}

func outboundFixture() *model.OutboundMessage {
	return &model.OutboundMessage{
		Channel:        model.ChannelWhatsApp,
		RecipientID:    "user-1",
		Kind:           model.KindText,
		Body:           "Tu entrevista quedó agendada.",
		BusinessUnitID: "bu-1",
	}
}

func TestDispatcherSendsHappyPath(t *testing.T) {
	h := newDispatcherHarness()

	result := h.dispatcher.Send(context.Background(), outboundFixture(), "onboarding")

	require.True(t, result.OK())
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, h.adapter.sent, 1)

	// The message was persisted before the provider call.
	require.Len(t, h.outbound.created, 1)
	assert.NotEmpty(t, h.outbound.created[0].ID)
	assert.Equal(t, model.CategoryService, h.outbound.created[0].PricingCategory)
	assert.True(t, h.outbound.created[0].Within24hWindow)

	require.Len(t, h.publisher.published, 1)
	assert.Equal(t, events.TypeMessageDelivered, h.publisher.published[0].Type)
	assert.Equal(t, []string{"bu-1"}, h.publisher.units)
}

func TestDispatcherUnsupportedChannel(t *testing.T) {
	h := newDispatcherHarness()
	msg := outboundFixture()
	msg.Channel = model.ChannelTelegram // not registered in the harness

	result := h.dispatcher.Send(context.Background(), msg, "")

	assert.False(t, result.OK())
	assert.Equal(t, apperrors.ErrCodeUnsupportedChannel, result.Code)
	assert.Empty(t, h.adapter.sent)
	assert.Empty(t, h.outbound.created)
	assert.Equal(t, 0, h.gate.calls, "rate limiter must not run for unknown channels")
}

func TestDispatcherRateLimited(t *testing.T) {
	h := newDispatcherHarness()
	h.gate.allow = false

	result := h.dispatcher.Send(context.Background(), outboundFixture(), "")

	assert.False(t, result.OK())
	assert.Equal(t, apperrors.ErrCodeRateLimitExceeded, result.Code)
	assert.Equal(t, 1, h.gate.calls, "reject policy denies without a second gate check")
	assert.Empty(t, h.adapter.sent, "denied sends must not reach the provider")
	assert.Empty(t, h.outbound.created)
}

func TestDispatcherDenyWaitRetriesGateOnce(t *testing.T) {
	h := newDispatcherHarness()
	h.gate.results = []bool{false, true}
	h.dispatcher.SetChannelPolicy(model.ChannelWhatsApp, DenyWait)

	var slept []time.Duration
	h.dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	result := h.dispatcher.Send(context.Background(), outboundFixture(), "")

	assert.True(t, result.OK())
	assert.Equal(t, 2, h.gate.calls)
	require.Len(t, slept, 1)
	assert.Equal(t, h.dispatcher.retryWait, slept[0])
	assert.Len(t, h.adapter.sent, 1)
}

func TestDispatcherDenyWaitStillDenied(t *testing.T) {
	h := newDispatcherHarness()
	h.gate.results = []bool{false, false}
	h.dispatcher.SetChannelPolicy(model.ChannelWhatsApp, DenyWait)
	h.dispatcher.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	result := h.dispatcher.Send(context.Background(), outboundFixture(), "")

	assert.False(t, result.OK())
	assert.Equal(t, apperrors.ErrCodeRateLimitExceeded, result.Code)
	assert.Equal(t, 2, h.gate.calls)
	assert.Empty(t, h.adapter.sent)
}

func TestDispatcherPermanentFailurePublishesFailureEvent(t *testing.T) {
	h := newDispatcherHarness()
	h.adapter.sendErr = apperrors.PermanentDelivery("invalid recipient", nil)

	result := h.dispatcher.Send(context.Background(), outboundFixture(), "")

	assert.False(t, result.OK())
	assert.Equal(t, 1, result.Attempts)
	require.Len(t, h.publisher.published, 1)
	assert.Equal(t, events.TypeDeliveryFailed, h.publisher.published[0].Type)
}

func TestDispatcherOutsideWindowStillSends(t *testing.T) {
	h := newDispatcherHarness()
	h.window.within = false

	msg := outboundFixture()
	msg.Kind = model.KindTemplate
	msg.TemplateName = "interview_reminder"

	result := h.dispatcher.Send(context.Background(), msg, "")

	require.True(t, result.OK())
	require.Len(t, h.outbound.created, 1)
	assert.False(t, h.outbound.created[0].Within24hWindow)
}

func TestDispatcherClassifiesByContent(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		flowType string
		want     model.PricingCategory
	}{
		{name: "service flow wins", body: "10% de descuento", flowType: "assessment", want: model.CategoryService},
		{name: "utility keyword", body: "Recordatorio de tu cita mañana", flowType: "", want: model.CategoryUtility},
		{name: "marketing keyword", body: "Promoción especial para ti", flowType: "", want: model.CategoryMarketing},
		{name: "default is service", body: "Hola, ¿cómo estás?", flowType: "", want: model.CategoryService},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newDispatcherHarness()
			msg := outboundFixture()
			msg.Body = tc.body

			result := h.dispatcher.Send(context.Background(), msg, tc.flowType)

			require.True(t, result.OK())
			require.Len(t, h.outbound.created, 1)
			assert.Equal(t, tc.want, h.outbound.created[0].PricingCategory)
		})
	}
}
