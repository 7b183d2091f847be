package model

import "time"

// MessageDocument 是写入 Elasticsearch 消息索引的文档结构。
// 以消息 ID 作为文档 ID，随持久化协调器写入，随所属对话删除而清理。
type MessageDocument struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageHit 是一次全文检索的命中结果：原始文档加命中片段。
// Highlights 中的片段用 <em> 标签包裹命中的关键词。
type MessageHit struct {
	MessageDocument
	Highlights []string `json:"highlights"`
}
