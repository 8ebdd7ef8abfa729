package models

import "time"

type ChatMessageRole string

const (
	ChatRoleUser      ChatMessageRole = "user"
	ChatRoleAssistant ChatMessageRole = "assistant"
)

// ChatSession binds a conversation to exactly one of a completed training
// job (fine-tuned model) or a remote model name. The binding is immutable
// after creation.
type ChatSession struct {
	ID        uint    `json:"id" gorm:"primaryKey"`
	Name      string  `json:"name" gorm:"not null"`
	JobID     *uint   `json:"jobId" gorm:"index"`
	ModelName *string `json:"modelName"`
	ModelPath *string `json:"modelPath" gorm:"size:500"`
	Settings  JSONB   `json:"settings" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

type ChatMessage struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	SessionID uint            `json:"sessionId" gorm:"not null;index"`
	Role      ChatMessageRole `json:"role" gorm:"not null"`
	Content   string          `json:"content" gorm:"type:text;not null"`
	Timestamp time.Time       `json:"timestamp" gorm:"autoCreateTime"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
