package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleClient    = "client"
)

// Message kinds.
const (
	KindText  = "text"
	KindAudio = "audio"
)

// Session statuses.
const (
	SessionActive = "active"
	SessionClosed = "closed"
)

// ConversationSession is a realtime translation conversation between a
// company user (the owner) and a client.
type ConversationSession struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID      uint      `gorm:"not null;index" json:"companyId"`
	OwnerID        uint      `gorm:"not null;index" json:"ownerId"`
	Title          string    `gorm:"size:255" json:"title"`
	ClientName     string    `gorm:"size:255" json:"clientName,omitempty"`
	SourceLanguage string    `gorm:"size:32" json:"sourceLanguage"`
	TargetLanguage string    `gorm:"size:32" json:"targetLanguage"`
	Status         string    `gorm:"size:16;default:active;index" json:"status"` // active, closed
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ConversationMessage stores one translated utterance. Rows are never
// updated after insert; history is read back in ID order.
type ConversationMessage struct {
	ID                uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID         uint      `gorm:"not null;index" json:"session_id"`
	SenderID          uint      `gorm:"not null" json:"sender_id"`
	Role              string    `gorm:"size:16;not null" json:"sender_role"`  // user, assistant, client
	Kind              string    `gorm:"size:16;not null" json:"message_type"` // text, audio
	OriginalContent   string    `gorm:"type:text" json:"original_content"`
	TranslatedContent string    `gorm:"type:text" json:"translated_content"`
	SourceLanguage    string    `gorm:"size:32" json:"source_language"`
	TargetLanguage    string    `gorm:"size:32" json:"target_language"`
	AudioPath         string    `gorm:"size:512" json:"audio_path,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
