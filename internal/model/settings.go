package model

import "time"

// Settings 定义了全局设置的单行表（id 固定为 1）。
type Settings struct {
	ID                 int       `gorm:"primaryKey;default:1" json:"id"`
	DefaultModel       string    `gorm:"type:varchar(100);not null" json:"defaultModel"`
	TitleModel         string    `gorm:"type:varchar(100);not null" json:"titleModel"`
	DefaultTemperature float64   `gorm:"not null;default:0.7" json:"defaultTemperature"`
	DefaultMaxTokens   int       `gorm:"not null;default:2048" json:"defaultMaxTokens"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Settings) TableName() string {
	return "settings"
}

// ChatSettings 定义了 chat_settings 表的 ORM 模型，与 Chat 一对一。
// 所有字段均可为空，缺失时按 对话 → 项目 → 全局 的顺序回退。
type ChatSettings struct {
	ChatID       string    `gorm:"type:char(36);primaryKey" json:"chatId"`
	Temperature  *float64  `json:"temperature"`
	MaxTokens    *int      `json:"maxTokens"`
	SystemPrompt *string   `gorm:"type:text" json:"systemPrompt"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatSettings) TableName() string {
	return "chat_settings"
}
