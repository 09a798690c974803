package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/huntred/chatflow/internal/model"
)

type ProfileRepository interface {
	FindByUser(ctx context.Context, userID, businessUnitID string) (*model.CandidateProfile, error)
	FindOrCreate(ctx context.Context, userID, businessUnitID string) (*model.CandidateProfile, error)
	UpdateSkills(ctx context.Context, id, skills string) error
	UpdateField(ctx context.Context, id, column, value string) error
}

// profileColumns are the columns UpdateField accepts. Values come from
// model.CorrectableFields, never directly from user input.
var profileColumns = map[string]bool{
	"name": true, "last_name": true, "email": true, "date_of_birth": true,
	"nationality": true, "work_permit": true, "national_id": true,
	"location": true, "experience": true, "salary_expectation": true,
	"skills": true,
}

type profileRepo struct {
	db *sqlx.DB
}

func NewProfileRepository(db *sqlx.DB) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) FindByUser(ctx context.Context, userID, businessUnitID string) (*model.CandidateProfile, error) {
	var profile model.CandidateProfile
	err := r.db.GetContext(ctx, &profile, `
		SELECT * FROM candidate_profiles
		WHERE user_id = $1 AND business_unit_id = $2
	`, userID, businessUnitID)
	return HandleNotFound(&profile, err)
}

func (r *profileRepo) FindOrCreate(ctx context.Context, userID, businessUnitID string) (*model.CandidateProfile, error) {
	var profile model.CandidateProfile
	err := r.db.GetContext(ctx, &profile, `
		INSERT INTO candidate_profiles (id, user_id, business_unit_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, business_unit_id) DO UPDATE SET
			updated_at = NOW()
		RETURNING *
	`, uuid.NewString(), userID, businessUnitID)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepo) UpdateSkills(ctx context.Context, id, skills string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE candidate_profiles SET skills = $2, updated_at = NOW() WHERE id = $1
	`, id, skills)
	return err
}

func (r *profileRepo) UpdateField(ctx context.Context, id, column, value string) error {
	if !profileColumns[column] {
		return fmt.Errorf("unknown profile column %q", column)
	}
	query := fmt.Sprintf(`
		UPDATE candidate_profiles SET %s = $2, updated_at = NOW() WHERE id = $1
	`, column)
	_, err := r.db.ExecContext(ctx, query, id, value)
	return err
}
