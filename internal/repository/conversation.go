package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/huntred/chatflow/internal/model"
)

type ConversationRepository interface {
	Find(ctx context.Context, userID string, channel model.Channel, businessUnitID string) (*model.ConversationState, error)
	FindOrCreate(ctx context.Context, params model.UpsertConversationParams) (*model.ConversationState, error)
	Save(ctx context.Context, params model.SaveConversationParams) error
	TouchInteraction(ctx context.Context, id string) error
	Reset(ctx context.Context, id string) error
	FindStaleActive(ctx context.Context, limit int) ([]model.ConversationState, error)
	ResetStale(ctx context.Context) (int64, error)
	CountByStage(ctx context.Context, stage model.ConversationStage) (int, error)
}

type conversationRepo struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) Find(ctx context.Context, userID string, channel model.Channel, businessUnitID string) (*model.ConversationState, error) {
	var conv model.ConversationState
	err := r.db.GetContext(ctx, &conv, `
		SELECT * FROM conversation_states
		WHERE user_id = $1 AND channel = $2 AND business_unit_id = $3
	`, userID, channel, businessUnitID)
	return HandleNotFound(&conv, err)
}

// FindOrCreate lazily creates the state row on a user's first inbound
// message. Existing rows only get their last_interaction_at bumped.
func (r *conversationRepo) FindOrCreate(ctx context.Context, params model.UpsertConversationParams) (*model.ConversationState, error) {
	var conv model.ConversationState
	err := r.db.GetContext(ctx, &conv, `
		INSERT INTO conversation_states
			(id, user_id, channel, business_unit_id, current_stage, metadata)
		VALUES ($1, $2, $3, $4, 'idle', '{}')
		ON CONFLICT (user_id, channel, business_unit_id) DO UPDATE SET
			last_interaction_at = NOW()
		RETURNING *
	`, uuid.NewString(), params.UserID, params.Channel, params.BusinessUnitID)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Save persists a fully computed transition. Callers must hold the
// per-conversation lease lock; nothing here is written incrementally.
func (r *conversationRepo) Save(ctx context.Context, params model.SaveConversationParams) error {
	metadata := params.Metadata
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_states SET
			current_stage = $2,
			current_question_ref = $3,
			metadata = $4,
			updated_at = NOW()
		WHERE id = $1
	`, params.ID, params.CurrentStage, params.CurrentQuestionRef, metadata)
	return err
}

func (r *conversationRepo) TouchInteraction(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_states SET last_interaction_at = NOW() WHERE id = $1
	`, id)
	return err
}

// Reset returns a conversation to idle and clears metadata. This is the only
// operation that discards flow context; rows are never hard-deleted.
func (r *conversationRepo) Reset(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversation_states SET
			current_stage = 'idle',
			current_question_ref = NULL,
			metadata = '{}',
			updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (r *conversationRepo) FindStaleActive(ctx context.Context, limit int) ([]model.ConversationState, error) {
	var convs []model.ConversationState
	err := r.db.SelectContext(ctx, &convs, `
		SELECT * FROM conversation_states
		WHERE current_stage NOT IN ('idle', 'completed')
		  AND last_interaction_at < NOW() - INTERVAL '30 days'
		ORDER BY last_interaction_at ASC
		LIMIT $1
	`, limit)
	return convs, err
}

func (r *conversationRepo) ResetStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE conversation_states SET
			current_stage = 'idle',
			current_question_ref = NULL,
			metadata = '{}',
			updated_at = NOW()
		WHERE current_stage NOT IN ('idle', 'completed')
		  AND last_interaction_at < NOW() - INTERVAL '30 days'
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *conversationRepo) CountByStage(ctx context.Context, stage model.ConversationStage) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM conversation_states WHERE current_stage = $1
	`, stage)
	return count, err
}
