package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/huntred/chatflow/internal/config"
	"github.com/huntred/chatflow/internal/model"
	"github.com/huntred/chatflow/internal/repository"
)

// Reply is the engine's answer for one turn, ready for the dispatcher.
type Reply struct {
	Kind    model.MessageKind
	Text    string
	Options []model.ButtonOption
}

// Canned user-facing messages. Internal error detail never reaches the user.
const (
	msgGenericError    = "Ocurrió un error, por favor intenta de nuevo más tarde."
	msgActionDone      = "¡Listo! Hemos procesado tu solicitud."
	msgNoMoreQuestions = "No hay más preguntas por ahora. ¡Gracias por tu tiempo!"
	msgConversationEnd = "¡Hemos terminado! Gracias por completar el proceso."
	msgNoJobMatches    = "Lo sentimos, por el momento no encontramos vacantes que coincidan con tu perfil. Vuelve a intentarlo más adelante."
	msgNoSlots         = "Lo sentimos, no hay horarios de entrevista disponibles por ahora. Te avisaremos en cuanto se abran."
	msgSlotBooked      = "¡Tu entrevista ha sido agendada! Te enviaremos un recordatorio."
	msgBookingFailed   = "No pudimos agendar ese horario. Por favor elige otro."
	msgRetryHint       = "¿Necesitas ayuda? Escribe el texto exacto de una de las opciones."
	msgAskCorrection   = "¿Qué dato quieres corregir? (por ejemplo: nombre, email, ubicación)"
	msgUnknownField    = "No reconocimos ese campo. Indica cuál quieres corregir: nombre, apellido, email, ubicación, experiencia, salario..."
)

// Engine resolves conversation transitions. State is saved only after the
// full decision for a turn is computed; a failure mid-turn leaves the stored
// state untouched.
type Engine struct {
	conversations repository.ConversationRepository
	profiles      repository.ProfileRepository
	graphs        *GraphCache
	jobs          JobMatcher
	slots         SlotService
	gamification  Gamification
	email         EmailSender
}

func NewEngine(
	conversations repository.ConversationRepository,
	profiles repository.ProfileRepository,
	graphs *GraphCache,
	jobs JobMatcher,
	slots SlotService,
	gamification Gamification,
	email EmailSender,
) *Engine {
	return &Engine{
		conversations: conversations,
		profiles:      profiles,
		graphs:        graphs,
		jobs:          jobs,
		slots:         slots,
		gamification:  gamification,
		email:         email,
	}
}

// turn carries the working state of one transition. Mutations happen here
// and are persisted in a single Save at the end.
type turn struct {
	conv     *model.ConversationState
	msg      *model.InboundMessage
	graph    *Graph
	profile  *model.CandidateProfile
	metadata model.Metadata

	stage       model.ConversationStage
	questionRef *string
	reply       *Reply
	dirty       bool
}

// ProcessMessage runs one transition. It never returns an error to the
// caller: any internal failure yields the generic error reply and leaves
// persisted state untouched.
func (e *Engine) ProcessMessage(ctx context.Context, conv *model.ConversationState, msg *model.InboundMessage) (reply *Reply) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("conversationId", conv.ID).
				Msg("conversation engine recovered")
			reply = &Reply{Kind: model.KindText, Text: msgGenericError}
		}
	}()

	t, err := e.beginTurn(ctx, conv, msg)
	if err != nil {
		log.Error().Err(err).Str("conversationId", conv.ID).Msg("failed to begin turn")
		return &Reply{Kind: model.KindText, Text: msgGenericError}
	}

	if err := e.decide(ctx, t); err != nil {
		log.Error().Err(err).Str("conversationId", conv.ID).Msg("transition resolution failed")
		return &Reply{Kind: model.KindText, Text: msgGenericError}
	}

	if t.dirty {
		if err := e.saveTurn(ctx, t); err != nil {
			log.Error().Err(err).Str("conversationId", conv.ID).Msg("failed to persist transition")
			return &Reply{Kind: model.KindText, Text: msgGenericError}
		}
	}

	return t.reply
}

func (e *Engine) beginTurn(ctx context.Context, conv *model.ConversationState, msg *model.InboundMessage) (*turn, error) {
	graph, err := e.graphs.For(ctx, conv.BusinessUnitID)
	if err != nil {
		return nil, err
	}

	profile, err := e.profiles.FindOrCreate(ctx, conv.UserID, conv.BusinessUnitID)
	if err != nil {
		return nil, err
	}

	metadata, err := conv.Metadata()
	if err != nil {
		return nil, err
	}

	return &turn{
		conv:        conv,
		msg:         msg,
		graph:       graph,
		profile:     profile,
		metadata:    metadata,
		stage:       conv.CurrentStage,
		questionRef: conv.CurrentQuestionRef,
	}, nil
}

func (e *Engine) saveTurn(ctx context.Context, t *turn) error {
	if err := t.conv.SetMetadata(t.metadata); err != nil {
		return err
	}
	err := e.conversations.Save(ctx, model.SaveConversationParams{
		ID:                 t.conv.ID,
		CurrentStage:       t.stage,
		CurrentQuestionRef: t.questionRef,
		Metadata:           t.conv.MetadataRaw,
	})
	if err != nil {
		return err
	}
	t.conv.CurrentStage = t.stage
	t.conv.CurrentQuestionRef = t.questionRef
	return nil
}

func (e *Engine) decide(ctx context.Context, t *turn) error {
	// No active question: start (or restart) the flow from its entry.
	if t.questionRef == nil || !t.stage.AwaitsInput() {
		e.presentQuestion(t, t.graph.Entry())
		return nil
	}

	question, ok := t.graph.Question(*t.questionRef)
	if !ok {
		log.Warn().
			Str("questionRef", *t.questionRef).
			Str("conversationId", t.conv.ID).
			Msg("dangling question ref, restarting flow")
		e.presentQuestion(t, t.graph.Entry())
		return nil
	}

	// Side-effecting questions answer with a fixed acknowledgement and do
	// not advance the graph this turn.
	if question.ActionType != model.ActionNone {
		return e.runAction(ctx, t, question)
	}

	// Sub-flow stages entered by earlier handlers take priority over the
	// question node's own input type.
	switch t.stage {
	case model.StageJobSelection:
		return e.handleJobSelection(ctx, t, question)
	case model.StageScheduleInterview:
		return e.handleScheduleInterview(ctx, t, question)
	case model.StageConfirmInterviewSlot:
		return e.handleConfirmSlot(ctx, t, question)
	case model.StageConfirmRecap:
		return e.handleConfirmRecap(ctx, t, question)
	}

	if len(question.Options) > 0 {
		return e.handleButtons(ctx, t, question)
	}

	// Closed dispatch over the known input types. Adding an input type
	// without a branch here is a compile-visible change, not a silent
	// fallthrough.
	switch question.InputType {
	case model.InputSkills:
		return e.handleSkillsCapture(ctx, t, question)
	case model.InputJobSelect:
		return e.handleJobSelection(ctx, t, question)
	case model.InputSchedule:
		return e.handleScheduleInterview(ctx, t, question)
	case model.InputConfirmSlot:
		return e.handleConfirmSlot(ctx, t, question)
	case model.InputFinalize:
		return e.handleFinalizeProfile(ctx, t, question)
	case model.InputRecap:
		return e.handleConfirmRecap(ctx, t, question)
	case model.InputFreeText, model.InputButtons:
		return e.handleFreeText(ctx, t, question)
	default:
		return fmt.Errorf("unhandled input type %q", question.InputType)
	}
}

// presentQuestion renders a question and moves the conversation into the
// stage matching its input type.
func (e *Engine) presentQuestion(t *turn, q *model.Question) {
	t.reply = renderQuestion(q, t.profile)
	t.questionRef = &q.Ref
	t.stage = stageFor(q.InputType)
	t.dirty = true
}

func stageFor(input model.InputType) model.ConversationStage {
	switch input {
	case model.InputSkills:
		return model.StageSkillsCapture
	case model.InputJobSelect:
		return model.StageJobSelection
	case model.InputSchedule:
		return model.StageScheduleInterview
	case model.InputConfirmSlot:
		return model.StageConfirmInterviewSlot
	case model.InputFinalize:
		return model.StageFinalizeProfile
	case model.InputRecap:
		return model.StageConfirmRecap
	default:
		return model.StageAwaitingAnswer
	}
}

func renderQuestion(q *model.Question, profile *model.CandidateProfile) *Reply {
	text := renderContent(q.Content, profile)
	if len(q.Options) > 0 {
		return &Reply{Kind: model.KindButtons, Text: text, Options: q.Options}
	}
	return &Reply{Kind: model.KindText, Text: text}
}

// renderContent fills {nombre}-style placeholders from the profile.
func renderContent(content string, profile *model.CandidateProfile) string {
	replacer := strings.NewReplacer(
		"{nombre}", profile.Name,
		"{apellido}", profile.LastName,
		"{ubicacion}", profile.Location,
	)
	return replacer.Replace(content)
}

func (e *Engine) runAction(ctx context.Context, t *turn, q *model.Question) error {
	switch q.ActionType {
	case model.ActionSendEmail:
		body := renderContent(q.Content, t.profile)
		if err := e.email.SendEmail(ctx, t.conv.BusinessUnitID, "Actualización de tu proceso", t.profile.Email, body); err != nil {
			log.Error().Err(err).Str("conversationId", t.conv.ID).Msg("send email action failed")
			t.reply = &Reply{Kind: model.KindText, Text: msgGenericError}
			return nil
		}
	case model.ActionNotify:
		e.recordActivity(ctx, t, "team_notified", map[string]any{"questionRef": q.Ref})
	}

	t.reply = &Reply{Kind: model.KindText, Text: msgActionDone}
	return nil
}

// handleButtons validates the inbound text against the question's option
// payloads. A mismatch re-prompts with the same options; the user can retry
// indefinitely, with a help hint added past the soft cap.
func (e *Engine) handleButtons(ctx context.Context, t *turn, q *model.Question) error {
	input := strings.ToLower(strings.TrimSpace(t.msg.Text))

	var matched *model.ButtonOption
	for i := range q.Options {
		if strings.ToLower(q.Options[i].Payload) == input || strings.ToLower(q.Options[i].Title) == input {
			matched = &q.Options[i]
			break
		}
	}

	if matched == nil {
		reply := renderQuestion(q, t.profile)
		var retries int
		t.metadata.Get(model.MetaRetryCount, &retries)
		retries++
		if err := t.metadata.Set(model.MetaRetryCount, retries); err != nil {
			return err
		}
		if retries >= config.ButtonRetrySoftCap {
			reply.Text = reply.Text + "\n\n" + msgRetryHint
		}
		t.reply = reply
		t.dirty = true
		return nil
	}

	t.metadata.Delete(model.MetaRetryCount)
	if err := t.metadata.Set("answer_"+q.Ref, matched.Payload); err != nil {
		return err
	}
	t.dirty = true
	return e.advance(ctx, t, q, IsAffirmative(matched.Payload))
}

// handleFreeText walks the yes/no edge selected by a binary classification
// of the answer.
func (e *Engine) handleFreeText(ctx context.Context, t *turn, q *model.Question) error {
	if err := t.metadata.Set("answer_"+q.Ref, t.msg.Text); err != nil {
		return err
	}
	t.dirty = true
	return e.advance(ctx, t, q, IsAffirmative(t.msg.Text))
}

// advance follows a flow edge. A missing successor terminates the flow
// explicitly.
func (e *Engine) advance(ctx context.Context, t *turn, q *model.Question, affirmative bool) error {
	next := t.graph.Next(q, affirmative)
	if next == nil {
		e.finish(ctx, t, msgNoMoreQuestions)
		return nil
	}
	e.presentQuestion(t, next)
	return nil
}

// finish ends the flow, subject to the profile completeness gate: missing
// core fields override whatever the flow would have said.
func (e *Engine) finish(ctx context.Context, t *turn, farewell string) {
	if missing := t.profile.MissingCoreFields(); len(missing) > 0 {
		t.reply = &Reply{
			Kind: model.KindText,
			Text: "Antes de terminar necesitamos completar tu perfil. Nos falta: " +
				strings.Join(missing, ", ") + ". ¿Me ayudas con esos datos?",
		}
		// The gate takes priority over flow continuation: no advance.
		return
	}

	t.stage = model.StageCompleted
	t.questionRef = nil
	t.reply = &Reply{Kind: model.KindText, Text: farewell}
	t.dirty = true
	e.recordActivity(ctx, t, "flow_completed", nil)
}

func (e *Engine) handleSkillsCapture(ctx context.Context, t *turn, q *model.Question) error {
	skills := strings.TrimSpace(t.msg.Text)
	if skills == "" {
		t.reply = renderQuestion(q, t.profile)
		return nil
	}

	if err := e.profiles.UpdateSkills(ctx, t.profile.ID, skills); err != nil {
		return err
	}
	t.profile.Skills = skills
	e.recordActivity(ctx, t, "skills_captured", map[string]any{"skills": skills})

	jobs, err := e.jobs.Match(ctx, t.conv.BusinessUnitID, skills)
	if err != nil {
		log.Error().Err(err).Str("conversationId", t.conv.ID).Msg("job matching failed")
		t.reply = &Reply{Kind: model.KindText, Text: msgNoJobMatches}
		return nil
	}
	if len(jobs) == 0 {
		t.reply = &Reply{Kind: model.KindText, Text: msgNoJobMatches}
		return nil
	}

	if err := t.metadata.Set(model.MetaRecommendedJobs, jobs); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("Encontramos estas vacantes para ti:\n")
	for i, job := range jobs {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, job.Title, job.Company)
	}
	b.WriteString("Responde con el número de la vacante que te interesa.")

	t.reply = &Reply{Kind: model.KindText, Text: b.String()}
	t.stage = model.StageJobSelection
	t.dirty = true
	return nil
}

func (e *Engine) handleJobSelection(ctx context.Context, t *turn, q *model.Question) error {
	var jobs []model.JobPosting
	found, err := t.metadata.Get(model.MetaRecommendedJobs, &jobs)
	if err != nil {
		return err
	}
	if !found || len(jobs) == 0 {
		// Nothing to select from; run matching again.
		return e.handleSkillsCapture(ctx, t, q)
	}

	idx, selErr := ParseSelection(t.msg.Text, len(jobs))
	if selErr != nil {
		t.reply = &Reply{
			Kind: model.KindText,
			Text: fmt.Sprintf("Por favor responde con un número entre 1 y %d para elegir una vacante.", len(jobs)),
		}
		return nil
	}

	selected := jobs[idx]
	if err := t.metadata.Set(model.MetaSelectedJob, selected); err != nil {
		return err
	}
	t.stage = model.StageScheduleInterview
	t.dirty = true

	// Continue straight into slot lookup so the user sees available times
	// without having to send another message.
	return e.offerSlots(ctx, t, selected)
}

func (e *Engine) offerSlots(ctx context.Context, t *turn, job model.JobPosting) error {
	slots, err := e.slots.AvailableSlots(ctx, job)
	if err != nil {
		log.Error().Err(err).Str("conversationId", t.conv.ID).Msg("slot lookup failed")
		t.reply = &Reply{Kind: model.KindText, Text: msgNoSlots}
		return nil
	}
	if len(slots) == 0 {
		t.reply = &Reply{Kind: model.KindText, Text: msgNoSlots}
		return nil
	}

	if err := t.metadata.Set(model.MetaAvailableSlots, slots); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Horarios disponibles para %s:\n", job.Title)
	for i, slot := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, slot.Label)
	}
	b.WriteString("Responde con el número del horario que prefieras.")

	t.reply = &Reply{Kind: model.KindText, Text: b.String()}
	t.stage = model.StageConfirmInterviewSlot
	t.dirty = true
	return nil
}

func (e *Engine) handleScheduleInterview(ctx context.Context, t *turn, q *model.Question) error {
	var job model.JobPosting
	found, err := t.metadata.Get(model.MetaSelectedJob, &job)
	if err != nil {
		return err
	}
	if !found {
		// No job selected yet; fall back to selection.
		t.stage = model.StageJobSelection
		t.dirty = true
		return e.handleJobSelection(ctx, t, q)
	}
	return e.offerSlots(ctx, t, job)
}

func (e *Engine) handleConfirmSlot(ctx context.Context, t *turn, q *model.Question) error {
	var slots []model.InterviewSlot
	found, err := t.metadata.Get(model.MetaAvailableSlots, &slots)
	if err != nil {
		return err
	}
	if !found || len(slots) == 0 {
		return e.handleScheduleInterview(ctx, t, q)
	}

	idx, selErr := ParseSelection(t.msg.Text, len(slots))
	if selErr != nil {
		t.reply = &Reply{
			Kind: model.KindText,
			Text: fmt.Sprintf("Por favor responde con un número entre 1 y %d para confirmar tu horario.", len(slots)),
		}
		return nil
	}

	var job model.JobPosting
	found, err = t.metadata.Get(model.MetaSelectedJob, &job)
	if err != nil {
		return err
	}
	if !found {
		// The selected job vanished from metadata; restart scheduling
		// rather than booking against a zero-value job.
		return e.handleScheduleInterview(ctx, t, q)
	}

	booked, err := e.slots.BookSlot(ctx, job, slots[idx], t.profile)
	if err != nil || !booked {
		if err != nil {
			log.Error().Err(err).Str("conversationId", t.conv.ID).Msg("slot booking failed")
		}
		t.reply = &Reply{Kind: model.KindText, Text: msgBookingFailed}
		return nil
	}

	e.recordActivity(ctx, t, "interview_booked", map[string]any{"jobId": job.ID, "slotId": slots[idx].ID})
	t.metadata.Delete(model.MetaAvailableSlots)

	// Booking finalizes: show the profile recap for confirmation.
	reply := e.renderRecap(t)
	reply.Text = msgSlotBooked + "\n\n" + reply.Text
	t.reply = reply
	t.stage = model.StageConfirmRecap
	t.dirty = true
	return nil
}

func (e *Engine) handleFinalizeProfile(ctx context.Context, t *turn, q *model.Question) error {
	t.reply = e.renderRecap(t)
	t.stage = model.StageConfirmRecap
	t.dirty = true
	return nil
}

func (e *Engine) renderRecap(t *turn) *Reply {
	p := t.profile
	var b strings.Builder
	b.WriteString("Este es el resumen de tu perfil:\n")
	fmt.Fprintf(&b, "• Nombre: %s\n", orDash(p.Name))
	fmt.Fprintf(&b, "• Apellidos: %s\n", orDash(p.LastName))
	fmt.Fprintf(&b, "• Fecha de nacimiento: %s\n", orDash(p.DateOfBirth))
	fmt.Fprintf(&b, "• Nacionalidad: %s\n", orDash(p.Nationality))
	fmt.Fprintf(&b, "• Permiso de trabajo: %s\n", orDash(p.WorkPermit))
	fmt.Fprintf(&b, "• Documento: %s\n", orDash(p.NationalID))
	fmt.Fprintf(&b, "• Ubicación: %s\n", orDash(p.Location))
	fmt.Fprintf(&b, "• Experiencia: %s\n", orDash(p.Experience))
	fmt.Fprintf(&b, "• Expectativa salarial: %s\n", orDash(p.SalaryExpectation))
	b.WriteString("¿Es correcta esta información?")

	return &Reply{
		Kind: model.KindButtons,
		Text: b.String(),
		Options: []model.ButtonOption{
			{Title: "Sí", Payload: "si"},
			{Title: "No", Payload: "no"},
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

const metaCorrectionField = "correction_field"

// handleConfirmRecap processes the yes/no after a recap, including the
// free-form correction sub-dialog when the candidate says no.
func (e *Engine) handleConfirmRecap(ctx context.Context, t *turn, q *model.Question) error {
	// Mid-correction: this message is the new value for the chosen field.
	var field string
	found, err := t.metadata.Get(metaCorrectionField, &field)
	if err != nil {
		return err
	}
	if found && field != "" {
		if err := e.profiles.UpdateField(ctx, t.profile.ID, field, strings.TrimSpace(t.msg.Text)); err != nil {
			return err
		}
		applyProfileField(t.profile, field, strings.TrimSpace(t.msg.Text))
		t.metadata.Delete(metaCorrectionField)
		t.reply = e.renderRecap(t)
		t.dirty = true
		return nil
	}

	// Awaiting the name of the field to correct.
	var correcting bool
	if _, err := t.metadata.Get("awaiting_correction", &correcting); err != nil {
		return err
	}
	if correcting {
		name := strings.ToLower(strings.TrimSpace(t.msg.Text))
		column, ok := model.CorrectableFields[name]
		if !ok {
			t.reply = &Reply{Kind: model.KindText, Text: msgUnknownField}
			return nil
		}
		t.metadata.Delete("awaiting_correction")
		if err := t.metadata.Set(metaCorrectionField, column); err != nil {
			return err
		}
		t.reply = &Reply{Kind: model.KindText, Text: fmt.Sprintf("¿Cuál es el valor correcto de %s?", name)}
		t.dirty = true
		return nil
	}

	if IsAffirmative(t.msg.Text) {
		return e.advance(ctx, t, q, true)
	}

	if err := t.metadata.Set("awaiting_correction", true); err != nil {
		return err
	}
	t.reply = &Reply{Kind: model.KindText, Text: msgAskCorrection}
	t.dirty = true
	return nil
}

func applyProfileField(p *model.CandidateProfile, column, value string) {
	switch column {
	case "name":
		p.Name = value
	case "last_name":
		p.LastName = value
	case "email":
		p.Email = value
	case "date_of_birth":
		p.DateOfBirth = value
	case "nationality":
		p.Nationality = value
	case "work_permit":
		p.WorkPermit = value
	case "national_id":
		p.NationalID = value
	case "location":
		p.Location = value
	case "experience":
		p.Experience = value
	case "salary_expectation":
		p.SalaryExpectation = value
	case "skills":
		p.Skills = value
	}
}

func (e *Engine) recordActivity(ctx context.Context, t *turn, activityType string, metadata map[string]any) {
	if e.gamification == nil {
		return
	}
	if err := e.gamification.RecordActivity(ctx, t.conv.UserID, activityType, metadata); err != nil {
		log.Warn().Err(err).Str("activity", activityType).Msg("gamification record failed")
	}
}
