package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/huntred/chatflow/internal/model"
)

type FlowRepository interface {
	FindDefinition(ctx context.Context, businessUnitID, name string) (*model.FlowDefinition, error)
	FindQuestions(ctx context.Context, flowID string) ([]model.Question, error)
	FindQuestionByRef(ctx context.Context, flowID, ref string) (*model.Question, error)
}

type flowRepo struct {
	db *sqlx.DB
}

func NewFlowRepository(db *sqlx.DB) FlowRepository {
	return &flowRepo{db: db}
}

func (r *flowRepo) FindDefinition(ctx context.Context, businessUnitID, name string) (*model.FlowDefinition, error) {
	var def model.FlowDefinition
	err := r.db.GetContext(ctx, &def, `
		SELECT * FROM flow_definitions
		WHERE business_unit_id = $1 AND name = $2
	`, businessUnitID, name)
	return HandleNotFound(&def, err)
}

func (r *flowRepo) FindQuestions(ctx context.Context, flowID string) ([]model.Question, error) {
	var questions []model.Question
	err := r.db.SelectContext(ctx, &questions, `
		SELECT * FROM flow_questions
		WHERE flow_id = $1
		ORDER BY ref ASC
	`, flowID)
	if err != nil {
		return nil, err
	}
	for i := range questions {
		if err := questions[i].DecodeOptions(); err != nil {
			return nil, err
		}
	}
	return questions, nil
}

func (r *flowRepo) FindQuestionByRef(ctx context.Context, flowID, ref string) (*model.Question, error) {
	var q model.Question
	err := r.db.GetContext(ctx, &q, `
		SELECT * FROM flow_questions
		WHERE flow_id = $1 AND ref = $2
	`, flowID, ref)
	q2, err := HandleNotFound(&q, err)
	if q2 == nil || err != nil {
		return q2, err
	}
	if err := q2.DecodeOptions(); err != nil {
		return nil, err
	}
	return q2, nil
}
