package service

import (
	"context"
	"strings"

	"github.com/huntred/chatflow/internal/model"
	"github.com/huntred/chatflow/internal/repository"
)

const (
	maxRecommendedJobs = 5
	maxOfferedSlots    = 5
)

// JobMatchingService recommends open vacancies from the catalog based on
// the free-text skills a candidate typed.
type JobMatchingService struct {
	catalog repository.JobCatalogRepository
}

func NewJobMatchingService(catalog repository.JobCatalogRepository) *JobMatchingService {
	return &JobMatchingService{catalog: catalog}
}

func (s *JobMatchingService) Match(ctx context.Context, businessUnitID, skills string) ([]model.JobPosting, error) {
	return s.catalog.SearchBySkills(ctx, businessUnitID, splitSkills(skills), maxRecommendedJobs)
}

// splitSkills breaks a typed skills answer into searchable terms. Users
// separate skills with commas, "y" or plain spaces.
func splitSkills(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '/'
	})

	var terms []string
	for _, field := range fields {
		for _, word := range strings.Fields(field) {
			if word == "y" || word == "e" || len(word) < 3 {
				continue
			}
			terms = append(terms, word)
		}
	}
	return terms
}

// SchedulingService offers and books interview slots for a selected job.
type SchedulingService struct {
	catalog repository.JobCatalogRepository
}

func NewSchedulingService(catalog repository.JobCatalogRepository) *SchedulingService {
	return &SchedulingService{catalog: catalog}
}

func (s *SchedulingService) AvailableSlots(ctx context.Context, job model.JobPosting) ([]model.InterviewSlot, error) {
	return s.catalog.AvailableSlots(ctx, job.ID, maxOfferedSlots)
}

func (s *SchedulingService) BookSlot(ctx context.Context, job model.JobPosting, slot model.InterviewSlot, profile *model.CandidateProfile) (bool, error) {
	return s.catalog.BookSlot(ctx, slot.ID, profile.ID)
}
