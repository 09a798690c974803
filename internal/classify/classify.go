// Package classify tags outbound messages with provider billing metadata.
// Classification is advisory: it never gates whether a message is sent.
package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/config"
	"github.com/huntred/chatflow/internal/model"
)

// Context carries the conversational context relevant to pricing.
type Context struct {
	FlowType       string
	Channel        model.Channel
	BusinessUnitID string
}

// Flow types that always bill as service conversations.
var serviceFlowTypes = map[string]bool{
	"onboarding":       true,
	"profile_creation": true,
	"assessment":       true,
	"feedback":         true,
	"support":          true,
}

var (
	serviceKeywords   = regexp.MustCompile(`(?i)\b(entrevista|vacante|postulaci[oó]n|perfil|evaluaci[oó]n|assessment|soporte|cuenta|proceso)\b`)
	utilityKeywords   = regexp.MustCompile(`(?i)\b(recordatorio|confirmaci[oó]n|c[oó]digo|cita|reagendar|verificaci[oó]n)\b`)
	marketingKeywords = regexp.MustCompile(`(?i)\b(promoci[oó]n|descuento|evento|invitaci[oó]n|webinar|novedades)\b`)
)

// ClassifyContent applies a deterministic rule cascade to derive the pricing
// category of an outbound message. The default is service, the conservative
// choice for billing.
func ClassifyContent(content string, ctx Context) (pricingModel string, messageType string, category model.PricingCategory) {
	normalized := strings.ToLower(content)

	switch {
	case serviceFlowTypes[ctx.FlowType]:
		return "conversation", "flow", model.CategoryService
	case serviceKeywords.MatchString(normalized):
		return "conversation", "keyword", model.CategoryService
	case utilityKeywords.MatchString(normalized):
		return "per_message", "keyword", model.CategoryUtility
	case marketingKeywords.MatchString(normalized):
		return "per_message", "keyword", model.CategoryMarketing
	default:
		return "conversation", "default", model.CategoryService
	}
}

// Window tracks the most recent inbound message per recipient to decide 24h
// engagement-window eligibility. Entries live in redis so every process
// instance sees the same window.
type Window struct {
	client *redis.Client
	span   time.Duration
}

func NewWindow(client *redis.Client) *Window {
	return &Window{client: client, span: config.MessagingWindow}
}

func windowKey(businessUnitID, recipientID string) string {
	return fmt.Sprintf("inbound_window:%s:%s", businessUnitID, recipientID)
}

// RecordInbound stamps the recipient's last inbound time. Failures are
// logged only; window bookkeeping must never block message processing.
func (w *Window) RecordInbound(ctx context.Context, businessUnitID, recipientID string) {
	key := windowKey(businessUnitID, recipientID)
	if err := w.client.Set(ctx, key, time.Now().UnixMilli(), w.span).Err(); err != nil {
		log.Warn().Err(err).Str("recipientId", recipientID).Msg("failed to record inbound window timestamp")
	}
}

// WithinWindow reports whether the recipient messaged us inside the last
// 24 hours. Unknown recipients and redis failures report false.
func (w *Window) WithinWindow(ctx context.Context, businessUnitID, recipientID string) bool {
	key := windowKey(businessUnitID, recipientID)
	lastMilli, err := w.client.Get(ctx, key).Int64()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Str("recipientId", recipientID).Msg("window lookup failed")
		}
		return false
	}

	last := time.UnixMilli(lastMilli)
	return time.Since(last) < w.span
}
