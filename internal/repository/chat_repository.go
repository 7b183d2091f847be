// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"ollama-chat-go/internal/model"

	"gorm.io/gorm"
)

// ChatRepository 接口定义了对话数据的持久化操作。
type ChatRepository interface {
	Create(chat *model.Chat) error
	FindByID(chatID string) (*model.Chat, error)
	FindByIDWithMessages(chatID string) (*model.Chat, error)
	FindWithPagination(projectID *string, archived *bool, offset, limit int) ([]model.Chat, int64, error)
	Update(chat *model.Chat) error
	Delete(chatID string) error
}

// chatRepository 是 ChatRepository 接口的 GORM 实现。
type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

// Create 在数据库中创建一个新的对话记录。
func (r *chatRepository) Create(chat *model.Chat) error {
	return r.db.Create(chat).Error
}

// FindByID 根据 ID 查找一个对话。
func (r *chatRepository) FindByID(chatID string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.First(&chat, "id = ?", chatID).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindByIDWithMessages 根据 ID 查找对话并按创建时间预加载全部消息。
func (r *chatRepository) FindByIDWithMessages(chatID string) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.Preload("Messages", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	}).First(&chat, "id = ?", chatID).Error
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// FindWithPagination 分页检索对话，可按项目和归档状态过滤。
// 返回对话列表、总记录数和可能发生的错误。
func (r *chatRepository) FindWithPagination(projectID *string, archived *bool, offset, limit int) ([]model.Chat, int64, error) {
	var chats []model.Chat
	var total int64

	db := r.db.Model(&model.Chat{})
	if projectID != nil {
		db = db.Where("project_id = ?", *projectID)
	}
	if archived != nil {
		db = db.Where("is_archived = ?", *archived)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&chats).Error
	if err != nil {
		return nil, 0, err
	}

	return chats, total, nil
}

// Update 更新数据库中一个已存在的对话记录。
func (r *chatRepository) Update(chat *model.Chat) error {
	return r.db.Save(chat).Error
}

// Delete 删除一个对话及其关联的消息（由外键级联完成）。
func (r *chatRepository) Delete(chatID string) error {
	return r.db.Delete(&model.Chat{}, "id = ?", chatID).Error
}
