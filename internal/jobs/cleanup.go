package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/config"
	"github.com/huntred/chatflow/internal/repository"
)

// CleanupJob periodically resets conversations abandoned mid-flow and prunes
// old delivery attempt rows.
type CleanupJob struct {
	conversationRepo repository.ConversationRepository
	attemptRepo      repository.DeliveryAttemptRepository
	interval         time.Duration
	done             chan struct{}
}

func NewCleanupJob(
	conversationRepo repository.ConversationRepository,
	attemptRepo repository.DeliveryAttemptRepository,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		conversationRepo: conversationRepo,
		attemptRepo:      attemptRepo,
		interval:         interval,
		done:             make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	j.runCleanup(ctx, "stale conversations", j.conversationRepo.ResetStale)
	j.runCleanup(ctx, "old delivery attempts", func(ctx context.Context) (int64, error) {
		return j.attemptRepo.DeleteOlderThan(ctx, time.Now().Add(-config.DeliveryAttemptRetention))
	})
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
