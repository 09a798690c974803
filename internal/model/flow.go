package model

import (
	"encoding/json"
	"time"
)

// Question is one node of a flow graph. NextOnYes/NextOnNo reference other
// question refs within the same flow; either may be nil, and cycles are
// allowed (retry loops).
type Question struct {
	ID         string          `db:"id" json:"id"`
	FlowID     string          `db:"flow_id" json:"flowId"`
	Ref        string          `db:"ref" json:"ref"`
	Content    string          `db:"content" json:"content"`
	InputType  InputType       `db:"input_type" json:"inputType"`
	ActionType ActionType      `db:"action_type" json:"actionType"`
	NextOnYes  *string         `db:"next_on_yes" json:"nextOnYes,omitempty"`
	NextOnNo   *string         `db:"next_on_no" json:"nextOnNo,omitempty"`
	Options    []ButtonOption  `db:"-" json:"options,omitempty"`
	OptionsRaw json.RawMessage `db:"options" json:"-"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
}

// DecodeOptions fills Options from the raw column after a read.
func (q *Question) DecodeOptions() error {
	if len(q.OptionsRaw) == 0 {
		q.Options = nil
		return nil
	}
	return json.Unmarshal(q.OptionsRaw, &q.Options)
}

// FlowDefinition groups the questions of one conversational flow for a
// business unit.
type FlowDefinition struct {
	ID             string    `db:"id" json:"id"`
	BusinessUnitID string    `db:"business_unit_id" json:"businessUnitId"`
	Name           string    `db:"name" json:"name"`
	EntryRef       string    `db:"entry_ref" json:"entryRef"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// JobPosting is the shape returned by the job-matching collaborator and
// cached in conversation metadata under MetaRecommendedJobs.
type JobPosting struct {
	ID      string `db:"id" json:"id"`
	Title   string `db:"title" json:"title"`
	Company string `db:"company" json:"company"`
}

// InterviewSlot is one bookable slot returned by the slot collaborator.
type InterviewSlot struct {
	ID      string `db:"id" json:"id"`
	StartAt string `db:"start_at" json:"startAt"`
	Label   string `db:"label" json:"label"`
}
