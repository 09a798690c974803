package repository

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/huntred/chatflow/internal/model"
)

// JobCatalogRepository serves the vacancy and interview-slot catalog the
// flow engine recommends from.
type JobCatalogRepository interface {
	SearchBySkills(ctx context.Context, businessUnitID string, skills []string, limit int) ([]model.JobPosting, error)
	AvailableSlots(ctx context.Context, jobID string, limit int) ([]model.InterviewSlot, error)
	BookSlot(ctx context.Context, slotID, profileID string) (bool, error)
}

type jobCatalogRepo struct {
	db *sqlx.DB
}

func NewJobCatalogRepository(db *sqlx.DB) JobCatalogRepository {
	return &jobCatalogRepo{db: db}
}

// SearchBySkills matches open postings whose requirement text mentions any
// of the candidate's skills.
func (r *jobCatalogRepo) SearchBySkills(ctx context.Context, businessUnitID string, skills []string, limit int) ([]model.JobPosting, error) {
	patterns := make([]string, 0, len(skills))
	for _, skill := range skills {
		skill = strings.TrimSpace(skill)
		if skill == "" {
			continue
		}
		patterns = append(patterns, "%"+strings.ToLower(skill)+"%")
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	var jobs []model.JobPosting
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT id, title, company FROM job_postings
		WHERE business_unit_id = $1
		  AND status = 'open'
		  AND LOWER(requirements) LIKE ANY($2)
		ORDER BY created_at DESC
		LIMIT $3
	`, businessUnitID, pq.Array(patterns), limit)
	return jobs, err
}

func (r *jobCatalogRepo) AvailableSlots(ctx context.Context, jobID string, limit int) ([]model.InterviewSlot, error) {
	var slots []model.InterviewSlot
	err := r.db.SelectContext(ctx, &slots, `
		SELECT id, start_at, label FROM interview_slots
		WHERE job_id = $1
		  AND booked_by IS NULL
		  AND start_at > NOW()
		ORDER BY start_at ASC
		LIMIT $2
	`, jobID, limit)
	return slots, err
}

// BookSlot claims a slot for a profile. The WHERE clause makes the claim
// atomic: a second booking of the same slot affects zero rows.
func (r *jobCatalogRepo) BookSlot(ctx context.Context, slotID, profileID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE interview_slots
		SET booked_by = $2, booked_at = NOW()
		WHERE id = $1 AND booked_by IS NULL
	`, slotID, profileID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}
