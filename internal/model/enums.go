package model

type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelTelegram  Channel = "telegram"
	ChannelMessenger Channel = "messenger"
	ChannelInstagram Channel = "instagram"
)

// KnownChannels lists every channel the dispatcher can be configured with.
var KnownChannels = []Channel{
	ChannelWhatsApp, ChannelTelegram, ChannelMessenger, ChannelInstagram,
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelTelegram, ChannelMessenger, ChannelInstagram:
		return true
	}
	return false
}

type ConversationStage string

const (
	StageIdle                 ConversationStage = "idle"
	StageAwaitingFirst        ConversationStage = "awaiting_first_question"
	StageAwaitingAnswer       ConversationStage = "awaiting_answer"
	StageSkillsCapture        ConversationStage = "skills_capture"
	StageJobSelection         ConversationStage = "job_selection"
	StageScheduleInterview    ConversationStage = "schedule_interview"
	StageConfirmInterviewSlot ConversationStage = "confirm_interview_slot"
	StageFinalizeProfile      ConversationStage = "finalize_profile"
	StageConfirmRecap         ConversationStage = "confirm_recap"
	StageServiceNotification  ConversationStage = "service_notification"
	StageCompleted            ConversationStage = "completed"
)

// AwaitsInput reports whether the stage expects the user to answer an active
// question. ConversationState.CurrentQuestionRef must be non-nil exactly for
// these stages.
func (s ConversationStage) AwaitsInput() bool {
	switch s {
	case StageAwaitingFirst, StageAwaitingAnswer, StageSkillsCapture,
		StageJobSelection, StageScheduleInterview, StageConfirmInterviewSlot,
		StageFinalizeProfile, StageConfirmRecap:
		return true
	}
	return false
}

type InputType string

const (
	InputFreeText    InputType = "free_text"
	InputButtons     InputType = "buttons"
	InputSkills      InputType = "skills_capture"
	InputJobSelect   InputType = "job_selection"
	InputSchedule    InputType = "schedule_slot"
	InputConfirmSlot InputType = "confirm_slot"
	InputFinalize    InputType = "finalize_profile"
	InputRecap       InputType = "confirm_recap"
)

type ActionType string

const (
	ActionNone      ActionType = ""
	ActionSendEmail ActionType = "send_email"
	ActionNotify    ActionType = "notify_team"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindButtons  MessageKind = "buttons"
	KindTemplate MessageKind = "template"
	KindDocument MessageKind = "document"
	KindImage    MessageKind = "image"
)

type PricingCategory string

const (
	CategoryService   PricingCategory = "service"
	CategoryUtility   PricingCategory = "utility"
	CategoryMarketing PricingCategory = "marketing"
)

type DeliveryStatus string

const (
	DeliverySent     DeliveryStatus = "sent"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)
