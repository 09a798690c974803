// Package delivery wraps outbound sends with bounded retry and an immutable
// audit trail of attempts.
package delivery

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/config"
	apperrors "github.com/huntred/chatflow/internal/errors"
	"github.com/huntred/chatflow/internal/model"
	"github.com/huntred/chatflow/internal/repository"
)

// SendFunc performs one physical provider call.
type SendFunc func(ctx context.Context) error

// Result is the structured outcome of a delivery. Exhausted retries surface
// here as Status "error", never as a raised error.
type Result struct {
	Status   string              `json:"status"` // "sent" or "error"
	Error    string              `json:"error,omitempty"`
	Code     apperrors.ErrorCode `json:"code,omitempty"`
	Attempts int                 `json:"attempts"`
}

func (r *Result) OK() bool {
	return r.Status == "sent"
}

type Manager struct {
	attempts    repository.DeliveryAttemptRepository
	maxAttempts int
	backoffBase time.Duration
	backoffMin  time.Duration
	backoffMax  time.Duration

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewManager(attempts repository.DeliveryAttemptRepository, maxAttempts int) *Manager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Manager{
		attempts:    attempts,
		maxAttempts: maxAttempts,
		backoffBase: config.RetryBackoffBase,
		backoffMin:  config.RetryBackoffMin,
		backoffMax:  config.RetryBackoffMax,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff returns the wait before the given retry (1-based), capped
// exponential with jitter.
func (m *Manager) backoff(retry int) time.Duration {
	d := m.backoffBase << uint(retry)
	if d < m.backoffMin {
		d = m.backoffMin
	}
	if d > m.backoffMax {
		d = m.backoffMax
	}
	jitter := time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	return d + jitter
}

// Deliver runs send with bounded retry. Transient failures retry up to the
// attempt cap; permanent failures surface immediately. Every physical call
// is recorded exactly once as a DeliveryAttempt.
func (m *Manager) Deliver(ctx context.Context, messageRef string, send SendFunc) *Result {
	var lastErr error
	attemptsMade := 0

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		attemptsMade = attempt
		err := send(ctx)
		if err == nil {
			m.record(ctx, messageRef, attempt, model.DeliverySent, nil)
			return &Result{Status: "sent", Attempts: attempt}
		}

		lastErr = err
		retryable := apperrors.IsTransient(err) && attempt < m.maxAttempts

		status := model.DeliveryFailed
		if retryable {
			status = model.DeliveryRetrying
		}
		errText := err.Error()
		m.record(ctx, messageRef, attempt, status, &errText)

		log.Warn().
			Err(err).
			Str("messageRef", messageRef).
			Int("attempt", attempt).
			Bool("retryable", retryable).
			Msg("delivery attempt failed")

		if !apperrors.IsTransient(err) {
			break
		}
		if attempt < m.maxAttempts {
			if serr := m.sleep(ctx, m.backoff(attempt)); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	return &Result{
		Status:   "error",
		Error:    lastErr.Error(),
		Code:     apperrors.GetCode(lastErr),
		Attempts: attemptsMade,
	}
}

func (m *Manager) record(ctx context.Context, messageRef string, attempt int, status model.DeliveryStatus, response *string) {
	if m.attempts == nil {
		return
	}
	_, err := m.attempts.Create(ctx, model.CreateDeliveryAttemptParams{
		MessageRef:       messageRef,
		AttemptNumber:    attempt,
		Status:           status,
		ProviderResponse: response,
	})
	if err != nil {
		log.Error().Err(err).Str("messageRef", messageRef).Msg("failed to record delivery attempt")
	}
}
