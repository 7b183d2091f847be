package repository

import (
	"errors"

	"ollama-chat-go/internal/model"

	"gorm.io/gorm"
)

// SettingsRepository 接口定义了全局设置与对话级设置的持久化操作。
type SettingsRepository interface {
	GetGlobal() (*model.Settings, error)
	UpdateGlobal(settings *model.Settings) error
	GetChatSettings(chatID string) (*model.ChatSettings, error)
	UpsertChatSettings(settings *model.ChatSettings) error
}

// settingsRepository 是 SettingsRepository 接口的 GORM 实现。
type settingsRepository struct {
	db       *gorm.DB
	defaults model.Settings
}

// NewSettingsRepository 创建一个新的 SettingsRepository 实例。
// defaults 提供单行设置首次创建时的初始值（来自配置文件）。
func NewSettingsRepository(db *gorm.DB, defaults model.Settings) SettingsRepository {
	return &settingsRepository{db: db, defaults: defaults}
}

// GetGlobal 获取全局设置单行记录，不存在时用配置默认值创建。
func (r *settingsRepository) GetGlobal() (*model.Settings, error) {
	var settings model.Settings
	err := r.db.First(&settings, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = r.defaults
		settings.ID = 1
		if cerr := r.db.Create(&settings).Error; cerr != nil {
			return nil, cerr
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpdateGlobal 更新全局设置单行记录。
func (r *settingsRepository) UpdateGlobal(settings *model.Settings) error {
	settings.ID = 1
	return r.db.Save(settings).Error
}

// GetChatSettings 获取某个对话的设置，未配置时返回 nil 而非错误。
func (r *settingsRepository) GetChatSettings(chatID string) (*model.ChatSettings, error) {
	var settings model.ChatSettings
	err := r.db.First(&settings, "chat_id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

// UpsertChatSettings 创建或更新某个对话的设置。
func (r *settingsRepository) UpsertChatSettings(settings *model.ChatSettings) error {
	return r.db.Save(settings).Error
}
