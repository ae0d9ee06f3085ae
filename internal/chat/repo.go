package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repo is the conversation + message store. Messages are append-only.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateConversation(ctx context.Context, c *Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// RecordTurn bumps the running counters with column arithmetic so
// concurrent turns do not lose updates. It also clears the archived flag.
func (r *Repo) RecordTurn(ctx context.Context, conversationID string, messages int64, credits int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("conversation_id = ?", conversationID).
		UpdateColumns(map[string]any{
			"message_count":    gorm.Expr("message_count + ?", messages),
			"credits_used":     gorm.Expr("credits_used + ?", credits),
			"last_activity_at": at,
			"archived":         false,
			"updated_at":       at,
		}).Error
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, conversationID string, limit int, beforeID uint64) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessagesDesc returns the most recent messages, newest first.
// Creation time orders them; id breaks ties within one clock tick.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// SetFlag is the only mutation allowed on a stored message besides edits.
// It returns gorm.ErrRecordNotFound for an unknown message.
func (r *Repo) SetFlag(ctx context.Context, messageID uint64, flagged bool, reason *string) error {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageID).
		UpdateColumns(map[string]any{"is_flagged": flagged, "flag_reason": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when the values did not change
	var n int64
	if err := r.db.WithContext(ctx).Model(&Message{}).Where("id = ?", messageID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
