package flow

import (
	"context"

	"github.com/huntred/chatflow/internal/model"
)

// External collaborators the engine calls into. Their implementations live
// outside this subsystem; failures inside them are converted into
// user-facing apologies and never propagate.

type JobMatcher interface {
	Match(ctx context.Context, businessUnitID, skills string) ([]model.JobPosting, error)
}

type SlotService interface {
	AvailableSlots(ctx context.Context, job model.JobPosting) ([]model.InterviewSlot, error)
	BookSlot(ctx context.Context, job model.JobPosting, slot model.InterviewSlot, profile *model.CandidateProfile) (bool, error)
}

// Gamification is fire-and-forget: the engine logs failures and moves on.
type Gamification interface {
	RecordActivity(ctx context.Context, userID, activityType string, metadata map[string]any) error
}

type EmailSender interface {
	SendEmail(ctx context.Context, businessUnitID, subject, to, body string) error
}
