package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntred/chatflow/internal/model"
)

// --- fakes ---

type fakeConversationRepo struct {
	conversations map[string]*model.ConversationState
	saveErr       error
	saves         int
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{conversations: make(map[string]*model.ConversationState)}
}

func (f *fakeConversationRepo) Find(ctx context.Context, userID string, channel model.Channel, businessUnitID string) (*model.ConversationState, error) {
	for _, c := range f.conversations {
		if c.UserID == userID && c.Channel == channel && c.BusinessUnitID == businessUnitID {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeConversationRepo) FindOrCreate(ctx context.Context, params model.UpsertConversationParams) (*model.ConversationState, error) {
	if c, _ := f.Find(ctx, params.UserID, params.Channel, params.BusinessUnitID); c != nil {
		return c, nil
	}
	c := &model.ConversationState{
		ID:             "conv-" + params.UserID,
		UserID:         params.UserID,
		Channel:        params.Channel,
		BusinessUnitID: params.BusinessUnitID,
		CurrentStage:   model.StageIdle,
	}
	f.conversations[c.ID] = c
	return c, nil
}

func (f *fakeConversationRepo) Save(ctx context.Context, params model.SaveConversationParams) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	if c, ok := f.conversations[params.ID]; ok {
		c.CurrentStage = params.CurrentStage
		c.CurrentQuestionRef = params.CurrentQuestionRef
		c.MetadataRaw = params.Metadata
	}
	return nil
}

func (f *fakeConversationRepo) TouchInteraction(ctx context.Context, id string) error { return nil }
func (f *fakeConversationRepo) Reset(ctx context.Context, id string) error           { return nil }
func (f *fakeConversationRepo) FindStaleActive(ctx context.Context, limit int) ([]model.ConversationState, error) {
	return nil, nil
}
func (f *fakeConversationRepo) ResetStale(ctx context.Context) (int64, error) { return 0, nil }
func (f *fakeConversationRepo) CountByStage(ctx context.Context, stage model.ConversationStage) (int, error) {
	return 0, nil
}

type fakeProfileRepo struct {
	profile      *model.CandidateProfile
	skillUpdates []string
	fieldUpdates map[string]string
	updateErr    error
}

func (f *fakeProfileRepo) FindByUser(ctx context.Context, userID, businessUnitID string) (*model.CandidateProfile, error) {
	return f.profile, nil
}

func (f *fakeProfileRepo) FindOrCreate(ctx context.Context, userID, businessUnitID string) (*model.CandidateProfile, error) {
	return f.profile, nil
}

func (f *fakeProfileRepo) UpdateSkills(ctx context.Context, id, skills string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.skillUpdates = append(f.skillUpdates, skills)
	return nil
}

func (f *fakeProfileRepo) UpdateField(ctx context.Context, id, column, value string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.fieldUpdates == nil {
		f.fieldUpdates = make(map[string]string)
	}
	f.fieldUpdates[column] = value
	return nil
}

type fakeFlowRepo struct {
	def       *model.FlowDefinition
	questions []model.Question
}

func (f *fakeFlowRepo) FindDefinition(ctx context.Context, businessUnitID, name string) (*model.FlowDefinition, error) {
	return f.def, nil
}

func (f *fakeFlowRepo) FindQuestions(ctx context.Context, flowID string) ([]model.Question, error) {
	return f.questions, nil
}

func (f *fakeFlowRepo) FindQuestionByRef(ctx context.Context, flowID, ref string) (*model.Question, error) {
	for i := range f.questions {
		if f.questions[i].Ref == ref {
			return &f.questions[i], nil
		}
	}
	return nil, nil
}

type fakeJobMatcher struct {
	jobs  []model.JobPosting
	err   error
	panic bool
}

func (f *fakeJobMatcher) Match(ctx context.Context, businessUnitID, skills string) ([]model.JobPosting, error) {
	if f.panic {
		panic("matcher exploded")
	}
	return f.jobs, f.err
}

type fakeSlotService struct {
	slots      []model.InterviewSlot
	slotsErr   error
	bookOK     bool
	bookErr    error
	bookedSlot *model.InterviewSlot
}

func (f *fakeSlotService) AvailableSlots(ctx context.Context, job model.JobPosting) ([]model.InterviewSlot, error) {
	return f.slots, f.slotsErr
}

func (f *fakeSlotService) BookSlot(ctx context.Context, job model.JobPosting, slot model.InterviewSlot, profile *model.CandidateProfile) (bool, error) {
	f.bookedSlot = &slot
	return f.bookOK, f.bookErr
}

type fakeGamification struct {
	activities []string
}

func (f *fakeGamification) RecordActivity(ctx context.Context, userID, activityType string, metadata map[string]any) error {
	f.activities = append(f.activities, activityType)
	return nil
}

type fakeEmailSender struct {
	sent []string
	err  error
}

func (f *fakeEmailSender) SendEmail(ctx context.Context, businessUnitID, subject, to, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

// --- harness ---

type engineHarness struct {
	engine        *Engine
	conversations *fakeConversationRepo
	profiles      *fakeProfileRepo
	jobs          *fakeJobMatcher
	slots         *fakeSlotService
	gamification  *fakeGamification
	email         *fakeEmailSender
	conv          *model.ConversationState
}

func strPtr(s string) *string { return &s }

func testQuestions() []model.Question {
	return []model.Question{
		{Ref: "welcome", Content: "Hola {nombre}, ¿quieres aplicar a una vacante?", InputType: model.InputButtons,
			Options:   []model.ButtonOption{{Title: "Sí", Payload: "si"}, {Title: "No", Payload: "no"}},
			NextOnYes: strPtr("skills"), NextOnNo: strPtr("goodbye")},
		{Ref: "skills", Content: "Cuéntanos tus habilidades.", InputType: model.InputSkills},
		{Ref: "goodbye", Content: "Gracias por tu tiempo.", InputType: model.InputFreeText},
		{Ref: "recap", Content: "", InputType: model.InputRecap, NextOnYes: nil},
		{Ref: "notify_hr", Content: "Tu proceso avanzó.", InputType: model.InputFreeText, ActionType: model.ActionSendEmail},
	}
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	flowRepo := &fakeFlowRepo{
		def:       &model.FlowDefinition{ID: "flow-1", BusinessUnitID: "bu-1", Name: DefaultFlowName, EntryRef: "welcome"},
		questions: testQuestions(),
	}

	h := &engineHarness{
		conversations: newFakeConversationRepo(),
		profiles: &fakeProfileRepo{profile: &model.CandidateProfile{
			ID: "prof-1", UserID: "user-1", BusinessUnitID: "bu-1",
			Name: "Ana", LastName: "García", Email: "ana@example.com",
			Location: "CDMX", Skills: "ventas",
		}},
		jobs:         &fakeJobMatcher{},
		slots:        &fakeSlotService{},
		gamification: &fakeGamification{},
		email:        &fakeEmailSender{},
	}

	h.engine = NewEngine(
		h.conversations, h.profiles, NewGraphCache(flowRepo),
		h.jobs, h.slots, h.gamification, h.email,
	)

	conv, err := h.conversations.FindOrCreate(context.Background(), model.UpsertConversationParams{
		UserID: "user-1", Channel: model.ChannelWhatsApp, BusinessUnitID: "bu-1",
	})
	require.NoError(t, err)
	h.conv = conv
	return h
}

func (h *engineHarness) process(t *testing.T, text string) *Reply {
	t.Helper()
	reply := h.engine.ProcessMessage(context.Background(), h.conv, &model.InboundMessage{
		Channel: model.ChannelWhatsApp, SenderID: "user-1", Text: text, BusinessUnitID: "bu-1",
	})
	require.NotNil(t, reply)
	return reply
}

func (h *engineHarness) setStage(t *testing.T, stage model.ConversationStage, ref string) {
	t.Helper()
	h.conv.CurrentStage = stage
	h.conv.CurrentQuestionRef = &ref
}

func (h *engineHarness) setMetadata(t *testing.T, key string, value any) {
	t.Helper()
	m, err := h.conv.Metadata()
	require.NoError(t, err)
	require.NoError(t, m.Set(key, value))
	require.NoError(t, h.conv.SetMetadata(m))
}

// --- tests ---

func TestEngineStartsFlowFromIdle(t *testing.T) {
	h := newEngineHarness(t)

	reply := h.process(t, "hola")

	assert.Equal(t, model.KindButtons, reply.Kind)
	assert.Contains(t, reply.Text, "Hola Ana")
	assert.Len(t, reply.Options, 2)
	assert.Equal(t, model.StageAwaitingAnswer, h.conv.CurrentStage)
	require.NotNil(t, h.conv.CurrentQuestionRef)
	assert.Equal(t, "welcome", *h.conv.CurrentQuestionRef)
}

func TestEngineButtonMatchAdvances(t *testing.T) {
	tests := []struct {
		name  string
		input string
		next  string
	}{
		{name: "payload match walks yes edge", input: "si", next: "skills"},
		{name: "title match is case insensitive", input: "SÍ", next: "skills"},
		{name: "negative payload walks no edge", input: "no", next: "goodbye"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newEngineHarness(t)
			h.setStage(t, model.StageAwaitingAnswer, "welcome")

			h.process(t, tc.input)

			require.NotNil(t, h.conv.CurrentQuestionRef)
			assert.Equal(t, tc.next, *h.conv.CurrentQuestionRef)
		})
	}
}

func TestEngineButtonMismatchRepromptsWithoutAdvancing(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageAwaitingAnswer, "welcome")

	reply := h.process(t, "tal vez")

	assert.Equal(t, model.KindButtons, reply.Kind)
	assert.NotContains(t, reply.Text, msgRetryHint)
	assert.Equal(t, "welcome", *h.conv.CurrentQuestionRef)

	m, err := h.conv.Metadata()
	require.NoError(t, err)
	var retries int
	found, err := m.Get(model.MetaRetryCount, &retries)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, retries)
}

func TestEngineButtonRetryHintAfterSoftCap(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageAwaitingAnswer, "welcome")

	var reply *Reply
	for i := 0; i < 5; i++ {
		reply = h.process(t, "ni idea")
		assert.Equal(t, "welcome", *h.conv.CurrentQuestionRef)
	}

	assert.Contains(t, reply.Text, msgRetryHint)

	// A correct answer afterwards still advances and clears the counter.
	h.process(t, "si")
	assert.Equal(t, "skills", *h.conv.CurrentQuestionRef)

	m, err := h.conv.Metadata()
	require.NoError(t, err)
	found, err := m.Get(model.MetaRetryCount, new(int))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngineSkillsCaptureListsMatches(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageSkillsCapture, "skills")
	h.jobs.jobs = []model.JobPosting{
		{ID: "job-1", Title: "Vendedor", Company: "Acme"},
		{ID: "job-2", Title: "Cajero", Company: "Tienda MX"},
	}

	reply := h.process(t, "ventas y atención al cliente")

	assert.Contains(t, reply.Text, "1. Vendedor — Acme")
	assert.Contains(t, reply.Text, "2. Cajero — Tienda MX")
	assert.Equal(t, model.StageJobSelection, h.conv.CurrentStage)
	assert.Equal(t, []string{"ventas y atención al cliente"}, h.profiles.skillUpdates)
	assert.Contains(t, h.gamification.activities, "skills_captured")
}

func TestEngineSkillsCaptureNoMatches(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageSkillsCapture, "skills")
	h.jobs.jobs = nil

	reply := h.process(t, "astronauta")

	assert.Equal(t, msgNoJobMatches, reply.Text)
	assert.Equal(t, model.StageSkillsCapture, h.conv.CurrentStage)
}

func TestEngineJobSelectionBounds(t *testing.T) {
	jobs := []model.JobPosting{
		{ID: "job-1", Title: "Vendedor", Company: "Acme"},
		{ID: "job-2", Title: "Cajero", Company: "Tienda MX"},
	}

	tests := []struct {
		name  string
		input string
	}{
		{name: "zero is out of range", input: "0"},
		{name: "past end is out of range", input: "3"},
		{name: "non numeric", input: "el segundo"},
		{name: "negative", input: "-1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newEngineHarness(t)
			h.setStage(t, model.StageJobSelection, "skills")
			h.setMetadata(t, model.MetaRecommendedJobs, jobs)

			reply := h.process(t, tc.input)

			assert.Contains(t, reply.Text, "entre 1 y 2")
			assert.Equal(t, model.StageJobSelection, h.conv.CurrentStage)
		})
	}
}

func TestEngineJobSelectionOffersSlots(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageJobSelection, "skills")
	h.setMetadata(t, model.MetaRecommendedJobs, []model.JobPosting{
		{ID: "job-1", Title: "Vendedor", Company: "Acme"},
		{ID: "job-2", Title: "Cajero", Company: "Tienda MX"},
	})
	h.slots.slots = []model.InterviewSlot{
		{ID: "slot-1", Label: "Lunes 10:00"},
		{ID: "slot-2", Label: "Martes 16:00"},
	}

	reply := h.process(t, "2")

	assert.Contains(t, reply.Text, "Cajero")
	assert.Contains(t, reply.Text, "1. Lunes 10:00")
	assert.Equal(t, model.StageConfirmInterviewSlot, h.conv.CurrentStage)

	m, err := h.conv.Metadata()
	require.NoError(t, err)
	var selected model.JobPosting
	found, err := m.Get(model.MetaSelectedJob, &selected)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "job-2", selected.ID)
}

func TestEngineJobSelectionNoSlots(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageJobSelection, "skills")
	h.setMetadata(t, model.MetaRecommendedJobs, []model.JobPosting{{ID: "job-1", Title: "Vendedor", Company: "Acme"}})
	h.slots.slots = nil

	reply := h.process(t, "1")

	assert.Equal(t, msgNoSlots, reply.Text)
}

func TestEngineConfirmSlotBooksAndShowsRecap(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageConfirmInterviewSlot, "skills")
	h.setMetadata(t, model.MetaSelectedJob, model.JobPosting{ID: "job-1", Title: "Vendedor", Company: "Acme"})
	h.setMetadata(t, model.MetaAvailableSlots, []model.InterviewSlot{
		{ID: "slot-1", Label: "Lunes 10:00"},
		{ID: "slot-2", Label: "Martes 16:00"},
	})
	h.slots.bookOK = true

	reply := h.process(t, "1")

	assert.Contains(t, reply.Text, msgSlotBooked)
	assert.Contains(t, reply.Text, "resumen de tu perfil")
	assert.Equal(t, model.StageConfirmRecap, h.conv.CurrentStage)
	require.NotNil(t, h.slots.bookedSlot)
	assert.Equal(t, "slot-1", h.slots.bookedSlot.ID)
	assert.Contains(t, h.gamification.activities, "interview_booked")
}

func TestEngineConfirmSlotBookingFails(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageConfirmInterviewSlot, "skills")
	h.setMetadata(t, model.MetaSelectedJob, model.JobPosting{ID: "job-1"})
	h.setMetadata(t, model.MetaAvailableSlots, []model.InterviewSlot{{ID: "slot-1", Label: "Lunes 10:00"}})
	h.slots.bookOK = false
	h.slots.bookErr = errors.New("slot taken")

	reply := h.process(t, "1")

	assert.Equal(t, msgBookingFailed, reply.Text)
	assert.Equal(t, model.StageConfirmInterviewSlot, h.conv.CurrentStage)
}

func TestEngineConfirmSlotWithoutSelectedJobRestartsScheduling(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageConfirmInterviewSlot, "skills")
	// Slots survived in metadata but the selected job did not.
	h.setMetadata(t, model.MetaAvailableSlots, []model.InterviewSlot{{ID: "slot-1", Label: "Lunes 10:00"}})
	h.slots.bookOK = true

	reply := h.process(t, "1")

	assert.Nil(t, h.slots.bookedSlot, "booking must not run against a zero-value job")
	assert.Equal(t, msgNoJobMatches, reply.Text)
}

func TestEngineRecapConfirmCompletesFlow(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageConfirmRecap, "recap")

	reply := h.process(t, "sí")

	assert.Equal(t, msgNoMoreQuestions, reply.Text)
	assert.Equal(t, model.StageCompleted, h.conv.CurrentStage)
	assert.Nil(t, h.conv.CurrentQuestionRef)
	assert.Contains(t, h.gamification.activities, "flow_completed")
}

func TestEngineProfileGateBlocksCompletion(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageConfirmRecap, "recap")
	h.profiles.profile.Email = ""
	h.profiles.profile.Location = ""

	reply := h.process(t, "sí")

	assert.Contains(t, reply.Text, "ubicación")
	assert.Contains(t, reply.Text, "email")
	assert.NotEqual(t, model.StageCompleted, h.conv.CurrentStage)
}

func TestEngineRecapCorrectionDialog(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageConfirmRecap, "recap")

	// "no" opens the correction dialog.
	reply := h.process(t, "no")
	assert.Equal(t, msgAskCorrection, reply.Text)

	// Unknown field name re-asks.
	reply = h.process(t, "signo zodiacal")
	assert.Equal(t, msgUnknownField, reply.Text)

	// Known field asks for the new value.
	reply = h.process(t, "correo")
	assert.Contains(t, reply.Text, "valor correcto")

	// The value is persisted and the recap re-shown.
	reply = h.process(t, "ana.nueva@example.com")
	assert.Equal(t, "ana.nueva@example.com", h.profiles.fieldUpdates["email"])
	assert.Contains(t, reply.Text, "resumen de tu perfil")
	assert.Equal(t, model.StageConfirmRecap, h.conv.CurrentStage)
}

func TestEngineActionQuestionDoesNotAdvance(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageAwaitingAnswer, "notify_hr")

	reply := h.process(t, "ok")

	assert.Equal(t, msgActionDone, reply.Text)
	assert.Equal(t, []string{"ana@example.com"}, h.email.sent)
	assert.Equal(t, "notify_hr", *h.conv.CurrentQuestionRef)
	assert.Equal(t, 0, h.conversations.saves)
}

func TestEngineActionFailureApologizes(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageAwaitingAnswer, "notify_hr")
	h.email.err = errors.New("smtp down")

	reply := h.process(t, "ok")

	assert.Equal(t, msgGenericError, reply.Text)
}

func TestEngineRecoversFromPanic(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageSkillsCapture, "skills")
	h.jobs.panic = true

	before := h.conv.CurrentStage
	reply := h.process(t, "ventas")

	assert.Equal(t, msgGenericError, reply.Text)
	assert.Equal(t, before, h.conv.CurrentStage)
	assert.Equal(t, 0, h.conversations.saves)
}

func TestEngineSaveFailureLeavesStateUntouched(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageAwaitingAnswer, "welcome")
	h.conversations.saveErr = errors.New("db down")

	reply := h.process(t, "si")

	assert.Equal(t, msgGenericError, reply.Text)
}

func TestEngineDanglingQuestionRefRestartsFlow(t *testing.T) {
	h := newEngineHarness(t)
	h.setStage(t, model.StageAwaitingAnswer, "deleted_question")

	reply := h.process(t, "hola")

	assert.True(t, strings.Contains(reply.Text, "Hola Ana"))
	assert.Equal(t, "welcome", *h.conv.CurrentQuestionRef)
}
