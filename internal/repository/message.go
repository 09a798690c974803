package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/huntred/chatflow/internal/model"
)

type OutboundMessageRepository interface {
	Create(ctx context.Context, msg *model.OutboundMessage) (*model.OutboundMessage, error)
	FindByID(ctx context.Context, id string) (*model.OutboundMessage, error)
	FindByRecipient(ctx context.Context, channel model.Channel, recipientID string, limit, offset int) ([]model.OutboundMessage, error)
	CountByBusinessUnitSince(ctx context.Context, businessUnitID string, since time.Time) (int, error)
}

type outboundMessageRepo struct {
	db *sqlx.DB
}

func NewOutboundMessageRepository(db *sqlx.DB) OutboundMessageRepository {
	return &outboundMessageRepo{db: db}
}

// Create logs the outbound message before delivery is attempted so the audit
// trail exists regardless of success or failure.
func (r *outboundMessageRepo) Create(ctx context.Context, msg *model.OutboundMessage) (*model.OutboundMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := msg.EncodeOptions(); err != nil {
		return nil, err
	}

	var saved model.OutboundMessage
	err := r.db.GetContext(ctx, &saved, `
		INSERT INTO outbound_messages
			(id, channel, recipient_id, kind, body, options, template_name,
			 media_url, pricing_category, within_24h_window, business_unit_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *
	`, msg.ID, msg.Channel, msg.RecipientID, msg.Kind, msg.Body, msg.OptionsRaw,
		msg.TemplateName, msg.MediaURL, msg.PricingCategory, msg.Within24hWindow,
		msg.BusinessUnitID)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (r *outboundMessageRepo) FindByID(ctx context.Context, id string) (*model.OutboundMessage, error) {
	var msg model.OutboundMessage
	err := r.db.GetContext(ctx, &msg, `
		SELECT * FROM outbound_messages WHERE id = $1
	`, id)
	return HandleNotFound(&msg, err)
}

func (r *outboundMessageRepo) FindByRecipient(ctx context.Context, channel model.Channel, recipientID string, limit, offset int) ([]model.OutboundMessage, error) {
	var msgs []model.OutboundMessage
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM outbound_messages
		WHERE channel = $1 AND recipient_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, channel, recipientID, limit, offset)
	return msgs, err
}

func (r *outboundMessageRepo) CountByBusinessUnitSince(ctx context.Context, businessUnitID string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM outbound_messages
		WHERE business_unit_id = $1 AND created_at >= $2
	`, businessUnitID, since)
	return count, err
}

type DeliveryAttemptRepository interface {
	Create(ctx context.Context, params model.CreateDeliveryAttemptParams) (*model.DeliveryAttempt, error)
	FindByMessageRef(ctx context.Context, messageRef string) ([]model.DeliveryAttempt, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, status model.DeliveryStatus) (int, error)
}

type deliveryAttemptRepo struct {
	db *sqlx.DB
}

func NewDeliveryAttemptRepository(db *sqlx.DB) DeliveryAttemptRepository {
	return &deliveryAttemptRepo{db: db}
}

// Create writes one immutable audit row per physical provider call. There is
// no update path.
func (r *deliveryAttemptRepo) Create(ctx context.Context, params model.CreateDeliveryAttemptParams) (*model.DeliveryAttempt, error) {
	var attempt model.DeliveryAttempt
	err := r.db.GetContext(ctx, &attempt, `
		INSERT INTO delivery_attempts
			(id, message_ref, attempt_number, status, provider_response)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *
	`, uuid.NewString(), params.MessageRef, params.AttemptNumber, params.Status,
		params.ProviderResponse)
	if err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *deliveryAttemptRepo) FindByMessageRef(ctx context.Context, messageRef string) ([]model.DeliveryAttempt, error) {
	var attempts []model.DeliveryAttempt
	err := r.db.SelectContext(ctx, &attempts, `
		SELECT * FROM delivery_attempts
		WHERE message_ref = $1
		ORDER BY attempt_number ASC
	`, messageRef)
	return attempts, err
}

func (r *deliveryAttemptRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM delivery_attempts WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *deliveryAttemptRepo) CountByStatus(ctx context.Context, status model.DeliveryStatus) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM delivery_attempts WHERE status = $1
	`, status)
	return count, err
}
