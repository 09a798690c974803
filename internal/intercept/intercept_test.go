package intercept

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntred/chatflow/internal/model"
)

type fakeConversationRepo struct {
	conv  *model.ConversationState
	saves []model.SaveConversationParams
}

func (f *fakeConversationRepo) Find(ctx context.Context, userID string, channel model.Channel, businessUnitID string) (*model.ConversationState, error) {
	return f.conv, nil
}

func (f *fakeConversationRepo) FindOrCreate(ctx context.Context, params model.UpsertConversationParams) (*model.ConversationState, error) {
	return f.conv, nil
}

func (f *fakeConversationRepo) Save(ctx context.Context, params model.SaveConversationParams) error {
	f.saves = append(f.saves, params)
	if f.conv != nil && f.conv.ID == params.ID {
		f.conv.CurrentStage = params.CurrentStage
		f.conv.CurrentQuestionRef = params.CurrentQuestionRef
		f.conv.MetadataRaw = params.Metadata
	}
	return nil
}

func (f *fakeConversationRepo) TouchInteraction(ctx context.Context, id string) error { return nil }
func (f *fakeConversationRepo) Reset(ctx context.Context, id string) error            { return nil }

func (f *fakeConversationRepo) FindStaleActive(ctx context.Context, limit int) ([]model.ConversationState, error) {
	return nil, nil
}

func (f *fakeConversationRepo) ResetStale(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeConversationRepo) CountByStage(ctx context.Context, stage model.ConversationStage) (int, error) {
	return 0, nil
}

func notifyingConversation(t *testing.T, sentAt time.Time, graceSeconds int, previous model.ConversationStage) *model.ConversationState {
	t.Helper()
	record := model.ServiceNotificationRecord{
		SentAt:             sentAt.Format(time.RFC3339),
		GracePeriodSeconds: graceSeconds,
		PreviousState:      previous,
	}
	raw, err := json.Marshal(map[string]any{model.MetaServiceNotification: record})
	require.NoError(t, err)

	return &model.ConversationState{
		ID:             "conv-1",
		UserID:         "user-1",
		Channel:        model.ChannelWhatsApp,
		BusinessUnitID: "bu-1",
		CurrentStage:   model.StageServiceNotification,
		MetadataRaw:    raw,
	}
}

func TestShouldIntercept_GracePeriod(t *testing.T) {
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		now       time.Time
		intercept bool
	}{
		{"reply shortly after notification", sentAt.Add(60 * time.Second), true},
		{"reply at sent time", sentAt, true},
		{"reply exactly at grace end is inclusive", sentAt.Add(300 * time.Second), true},
		{"reply one second past grace end", sentAt.Add(301 * time.Second), false},
		{"reply well past grace end", sentAt.Add(400 * time.Second), false},
		{"reply before sent time", sentAt.Add(-10 * time.Second), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeConversationRepo{conv: notifyingConversation(t, sentAt, 300, model.StageAwaitingAnswer)}
			mw := NewMiddleware(repo)
			mw.now = func() time.Time { return tc.now }

			intercepted, data := mw.ShouldIntercept(context.Background(), repo.conv)
			assert.Equal(t, tc.intercept, intercepted)
			if tc.intercept {
				require.NotNil(t, data)
				assert.Equal(t, 300, data.Record.GracePeriodSeconds)
			} else {
				assert.Nil(t, data)
			}
		})
	}
}

func TestShouldIntercept_RestoresStateAfterExpiry(t *testing.T) {
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeConversationRepo{conv: notifyingConversation(t, sentAt, 300, model.StageJobSelection)}
	mw := NewMiddleware(repo)
	mw.now = func() time.Time { return sentAt.Add(400 * time.Second) }

	intercepted, data := mw.ShouldIntercept(context.Background(), repo.conv)
	assert.False(t, intercepted)
	assert.Nil(t, data)

	require.Len(t, repo.saves, 1)
	assert.Equal(t, model.StageJobSelection, repo.saves[0].CurrentStage)
	assert.Equal(t, model.StageJobSelection, repo.conv.CurrentStage, "restore must update the caller's row in place")

	var metadata model.Metadata
	require.NoError(t, json.Unmarshal(repo.saves[0].Metadata, &metadata))
	_, hasRecord := metadata[model.MetaServiceNotification]
	assert.False(t, hasRecord, "record must be stripped on restore")
}

func TestShouldIntercept_RestoreIsIdempotent(t *testing.T) {
	sentAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeConversationRepo{conv: notifyingConversation(t, sentAt, 300, model.StageAwaitingAnswer)}
	mw := NewMiddleware(repo)
	mw.now = func() time.Time { return sentAt.Add(400 * time.Second) }

	intercepted, _ := mw.ShouldIntercept(context.Background(), repo.conv)
	assert.False(t, intercepted)

	// Second call sees no record and returns cleanly without another save.
	intercepted, data := mw.ShouldIntercept(context.Background(), repo.conv)
	assert.False(t, intercepted)
	assert.Nil(t, data)
	assert.Len(t, repo.saves, 1, "state restored exactly once")
}

func TestShouldIntercept_FailOpen(t *testing.T) {
	sentAt := time.Now()

	t.Run("channel outside allow-list", func(t *testing.T) {
		conv := notifyingConversation(t, sentAt, 300, model.StageIdle)
		conv.Channel = model.ChannelMessenger
		repo := &fakeConversationRepo{conv: conv}
		mw := NewMiddleware(repo)

		intercepted, _ := mw.ShouldIntercept(context.Background(), conv)
		assert.False(t, intercepted)
	})

	t.Run("nil conversation", func(t *testing.T) {
		mw := NewMiddleware(&fakeConversationRepo{})

		intercepted, _ := mw.ShouldIntercept(context.Background(), nil)
		assert.False(t, intercepted)
	})

	t.Run("conversation not in notification stage", func(t *testing.T) {
		conv := notifyingConversation(t, sentAt, 300, model.StageIdle)
		conv.CurrentStage = model.StageAwaitingAnswer
		repo := &fakeConversationRepo{conv: conv}
		mw := NewMiddleware(repo)

		intercepted, _ := mw.ShouldIntercept(context.Background(), conv)
		assert.False(t, intercepted)
	})

	t.Run("unparsable sent_at", func(t *testing.T) {
		conv := notifyingConversation(t, sentAt, 300, model.StageIdle)
		raw, err := json.Marshal(map[string]any{
			model.MetaServiceNotification: map[string]any{
				"sent_at":              "not-a-timestamp",
				"grace_period_seconds": 300,
				"previous_state":       "idle",
			},
		})
		require.NoError(t, err)
		conv.MetadataRaw = raw
		repo := &fakeConversationRepo{conv: conv}
		mw := NewMiddleware(repo)

		intercepted, _ := mw.ShouldIntercept(context.Background(), conv)
		assert.False(t, intercepted)
		assert.Empty(t, repo.saves, "parse failure must not mutate state")
	})

	t.Run("missing record in metadata", func(t *testing.T) {
		conv := notifyingConversation(t, sentAt, 300, model.StageIdle)
		conv.MetadataRaw = []byte(`{}`)
		repo := &fakeConversationRepo{conv: conv}
		mw := NewMiddleware(repo)

		intercepted, _ := mw.ShouldIntercept(context.Background(), conv)
		assert.False(t, intercepted)
	})
}

func TestMarkNotificationSent(t *testing.T) {
	conv := &model.ConversationState{
		ID:           "conv-2",
		CurrentStage: model.StageAwaitingAnswer,
		MetadataRaw:  []byte(`{}`),
	}
	repo := &fakeConversationRepo{conv: conv}
	mw := NewMiddleware(repo)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mw.now = func() time.Time { return fixed }

	require.NoError(t, mw.MarkNotificationSent(context.Background(), conv, 300*time.Second))

	assert.Equal(t, model.StageServiceNotification, conv.CurrentStage)
	require.Len(t, repo.saves, 1)

	metadata, err := conv.Metadata()
	require.NoError(t, err)
	var record model.ServiceNotificationRecord
	found, err := metadata.Get(model.MetaServiceNotification, &record)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fixed.Format(time.RFC3339), record.SentAt)
	assert.Equal(t, 300, record.GracePeriodSeconds)
	assert.Equal(t, model.StageAwaitingAnswer, record.PreviousState)
}

func TestHandleNotificationResponse(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"gracias is acknowledged", "gracias", ackResponse},
		{"uppercase OK is acknowledged", "OK", ackResponse},
		{"embedded thanks is acknowledged", "muchas GRACIAS por avisar", ackResponse},
		{"entendido is acknowledged", "Entendido", ackResponse},
		{"question gets informational reply", "¿puedo cambiar mi cita?", infoResponse},
		{"empty message gets informational reply", "", infoResponse},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := HandleNotificationResponse(tc.text, &NotificationData{})
			assert.Equal(t, tc.expected, got)
		})
	}

	t.Run("nil data does not panic", func(t *testing.T) {
		assert.NotPanics(t, func() {
			HandleNotificationResponse("gracias", nil)
		})
	})
}
