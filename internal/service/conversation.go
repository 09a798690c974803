package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/audit"
	"github.com/huntred/chatflow/internal/model"
	"github.com/huntred/chatflow/internal/repository"
)

type ConversationService struct {
	repo repository.ConversationRepository
}

func NewConversationService(repo repository.ConversationRepository) *ConversationService {
	return &ConversationService{repo: repo}
}

func (s *ConversationService) Find(ctx context.Context, userID string, channel model.Channel, businessUnitID string) (*model.ConversationState, error) {
	return s.repo.Find(ctx, userID, channel, businessUnitID)
}

func (s *ConversationService) FindOrCreate(ctx context.Context, userID string, channel model.Channel, businessUnitID string) (*model.ConversationState, error) {
	conv, err := s.repo.FindOrCreate(ctx, model.UpsertConversationParams{
		UserID:         userID,
		Channel:        channel,
		BusinessUnitID: businessUnitID,
	})
	if err != nil {
		return nil, fmt.Errorf("find or create conversation: %w", err)
	}
	return conv, nil
}

func (s *ConversationService) Touch(ctx context.Context, id string) {
	if err := s.repo.TouchInteraction(ctx, id); err != nil {
		log.Warn().Err(err).Str("conversationId", id).Msg("failed to touch conversation")
	}
}

// Reset returns a conversation to idle, discarding its metadata.
func (s *ConversationService) Reset(ctx context.Context, conv *model.ConversationState) error {
	if err := s.repo.Reset(ctx, conv.ID); err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}

	audit.Log(ctx, audit.Event{
		Type:           audit.EventStateReset,
		UserID:         conv.UserID,
		Channel:        string(conv.Channel),
		BusinessUnitID: conv.BusinessUnitID,
		Details: map[string]interface{}{
			"previousStage": string(conv.CurrentStage),
		},
	})

	log.Info().
		Str("conversationId", conv.ID).
		Str("previousStage", string(conv.CurrentStage)).
		Msg("conversation reset")
	return nil
}

// StageCounts reports how many conversations sit in each stage, for the
// monitor endpoint.
func (s *ConversationService) StageCounts(ctx context.Context) (map[model.ConversationStage]int, error) {
	stages := []model.ConversationStage{
		model.StageIdle, model.StageAwaitingFirst, model.StageAwaitingAnswer,
		model.StageSkillsCapture, model.StageJobSelection,
		model.StageScheduleInterview, model.StageConfirmInterviewSlot,
		model.StageFinalizeProfile, model.StageConfirmRecap,
		model.StageServiceNotification, model.StageCompleted,
	}

	counts := make(map[model.ConversationStage]int, len(stages))
	for _, stage := range stages {
		count, err := s.repo.CountByStage(ctx, stage)
		if err != nil {
			return nil, fmt.Errorf("count stage %s: %w", stage, err)
		}
		counts[stage] = count
	}
	return counts, nil
}
