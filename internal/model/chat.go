// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息角色常量。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Chat 定义了 chats 表的 ORM 模型，代表一个对话。
type Chat struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	Title      string    `gorm:"type:varchar(255);not null;default:'New Chat'" json:"title"`
	Model      string    `gorm:"type:varchar(100);not null" json:"model"`
	ProjectID  *string   `gorm:"type:char(36);index" json:"projectId"`
	ServerID   *string   `gorm:"type:char(36)" json:"serverId"` // 固定的推理服务器，可为空
	IsArchived bool      `gorm:"not null;default:false" json:"isArchived"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Messages []Message `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"messages,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chat) TableName() string {
	return "chats"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (c *Chat) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// Message 定义了 messages 表的 ORM 模型，代表对话中的一条消息。
// 消息一旦写入即不可变；Error 字段仅在生成被中断时由持久化协调器填写。
type Message struct {
	ID         string    `gorm:"type:char(36);primaryKey" json:"id"`
	ChatID     string    `gorm:"type:char(36);not null;index" json:"chatId"`
	Role       string    `gorm:"type:varchar(20);not null" json:"role"`
	Content    string    `gorm:"type:longtext;not null" json:"content"`
	TokensUsed *int      `gorm:"default:null" json:"tokensUsed"`
	Error      *string   `gorm:"type:text;default:null" json:"error,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`

	AttachedFiles []ProjectFile `gorm:"many2many:message_files" json:"attachedFiles,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
