package chat

import "time"

// Conversation is a thread between one user (or an anonymous caller) and one
// assistant.
type Conversation struct {
	ID             uint64  `gorm:"primaryKey;autoIncrement" json:"-"`
	ConversationID string  `gorm:"type:varchar(26);uniqueIndex;not null" json:"conversation_id"`
	UserID         *uint64 `gorm:"index" json:"user_id,omitempty"`
	AssistantID    uint64  `gorm:"index;not null" json:"assistant_id"`

	Language    string `gorm:"type:varchar(32)" json:"language,omitempty"`
	Tone        string `gorm:"type:varchar(32)" json:"tone,omitempty"`
	Style       string `gorm:"type:varchar(32)" json:"style,omitempty"`
	MemoryLimit *int   `json:"memory_limit,omitempty"`

	MessageCount   int64     `gorm:"not null;default:0" json:"message_count"`
	CreditsUsed    int64     `gorm:"not null;default:0" json:"credits_used"`
	Archived       bool      `gorm:"not null;default:false" json:"archived"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// MessageMeta is descriptive metadata. TokensUsed is never a billing input.
type MessageMeta struct {
	TokensUsed       *int    `json:"tokens_used,omitempty"`
	Model            string  `json:"model,omitempty"`
	ProcessingTimeMs int64   `json:"processing_time_ms,omitempty"`
	Params           *Params `json:"params,omitempty"`
	Fallback         bool    `json:"fallback,omitempty"`
}

// Params mirrors the generation parameters applied to a reply.
type Params struct {
	Model            string   `json:"model"`
	Temperature      *float32 `json:"temperature,omitempty"`
	FrequencyPenalty float32  `json:"frequency_penalty"`
	PresencePenalty  float32  `json:"presence_penalty"`
	MaxTokens        int      `json:"max_tokens"`
}

type Message struct {
	ID              uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID  string      `gorm:"type:varchar(26);not null;index:idx_msg_conv_id,priority:1" json:"conversation_id"`
	UserID          *uint64     `gorm:"index" json:"-"`
	Role            string      `gorm:"type:varchar(16);not null" json:"role"`
	Content         string      `gorm:"type:text;not null" json:"content"`
	Meta            MessageMeta `gorm:"column:metadata;type:text;serializer:json" json:"metadata"`
	CreditsConsumed int64       `gorm:"not null;default:0" json:"credits_consumed"`
	IsEdited        bool        `gorm:"not null;default:false" json:"is_edited"`
	IsFlagged       bool        `gorm:"not null;default:false" json:"is_flagged"`
	FlagReason      *string     `gorm:"type:varchar(255)" json:"flag_reason,omitempty"`
	CreatedAt       time.Time   `gorm:"index:idx_msg_conv_id,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }
