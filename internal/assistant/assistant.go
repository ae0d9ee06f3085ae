package assistant

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Config is the generation bundle of an assistant. It is stored as one JSON
// column and decoded once when the row is loaded.
type Config struct {
	Model            string   `json:"model"`
	Temperature      *float32 `json:"temperature,omitempty"`
	FrequencyPenalty float32  `json:"frequency_penalty"`
	PresencePenalty  float32  `json:"presence_penalty"`
	MaxTokens        int      `json:"max_tokens"`
	MemoryLimit      int      `json:"memory_limit"`
	MinMessageLength int      `json:"min_message_length"`
	MaxMessageLength int      `json:"max_message_length"`
	Languages        []string `json:"languages,omitempty"`
	Tones            []string `json:"tones,omitempty"`
	Styles           []string `json:"styles,omitempty"`
	ContentFilter    bool     `json:"content_filter_enabled"`
	BlockedWords     []string `json:"blocked_words,omitempty"`
}

type Assistant struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	Slug      string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"slug"`
	Training  string    `gorm:"type:text" json:"-"`
	Config    Config    `gorm:"type:text;serializer:json" json:"config"`
	MinTier   string    `gorm:"type:varchar(32);not null;default:free" json:"min_tier"`
	CreatorID uint64    `gorm:"index" json:"creator_id"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Assistant) TableName() string { return "assistants" }

// Supports reports whether v is allowed by the option list. An empty list
// allows anything.
func Supports(options []string, v string) bool {
	if len(options) == 0 {
		return true
	}
	for _, o := range options {
		if strings.EqualFold(o, v) {
			return true
		}
	}
	return false
}

var ErrNotFound = errors.New("assistant not found")

// Repo is read-only: assistant rows are written by the admin collaborator.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetBySlug(ctx context.Context, slug string) (*Assistant, error) {
	var a Assistant
	err := r.db.WithContext(ctx).
		Where("slug = ? AND active = ?", strings.TrimSpace(slug), true).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
