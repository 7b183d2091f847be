package repository

import (
	"ollama-chat-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 接口定义了消息数据的持久化操作。
type MessageRepository interface {
	Create(message *model.Message) error
	FindByChatID(chatID string, offset, limit int) ([]model.Message, int64, error)
	FindAllByChatID(chatID string) ([]model.Message, error)
	CountByRole(chatID, role string) (int64, error)
	FirstByRole(chatID, role string) (*model.Message, error)
	DeleteByChatID(chatID string) error
}

// messageRepository 是 MessageRepository 接口的 GORM 实现。
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create 在数据库中创建一条消息记录，附件关联由 gorm 的 many2many 一并写入。
func (r *messageRepository) Create(message *model.Message) error {
	return r.db.Create(message).Error
}

// FindByChatID 分页检索某个对话的消息，按创建时间升序。
func (r *messageRepository) FindByChatID(chatID string, offset, limit int) ([]model.Message, int64, error) {
	var messages []model.Message
	var total int64

	db := r.db.Model(&model.Message{}).Where("chat_id = ?", chatID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("created_at ASC").Offset(offset).Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// FindAllByChatID 检索某个对话的全部消息，按创建时间升序。
func (r *messageRepository) FindAllByChatID(chatID string) ([]model.Message, error) {
	var messages []model.Message
	err := r.db.Where("chat_id = ?", chatID).Order("created_at ASC").Find(&messages).Error
	return messages, err
}

// CountByRole 统计某个对话中指定角色的消息数量。
func (r *messageRepository) CountByRole(chatID, role string) (int64, error) {
	var count int64
	err := r.db.Model(&model.Message{}).
		Where("chat_id = ? AND role = ?", chatID, role).
		Count(&count).Error
	return count, err
}

// FirstByRole 返回某个对话中指定角色的最早一条消息。
func (r *messageRepository) FirstByRole(chatID, role string) (*model.Message, error) {
	var message model.Message
	err := r.db.Where("chat_id = ? AND role = ?", chatID, role).
		Order("created_at ASC").First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// DeleteByChatID 删除某个对话的全部消息。
func (r *messageRepository) DeleteByChatID(chatID string) error {
	return r.db.Delete(&model.Message{}, "chat_id = ?", chatID).Error
}
