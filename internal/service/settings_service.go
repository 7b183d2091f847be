package service

import (
	"fmt"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
)

// UpdateGlobalSettingsInput 更新全局设置的入参，nil 字段保持不变。
type UpdateGlobalSettingsInput struct {
	DefaultModel       *string
	TitleModel         *string
	DefaultTemperature *float64
	DefaultMaxTokens   *int
}

// UpdateChatSettingsInput 更新对话级设置的入参。
// 与全局设置不同，这里的 nil 字段会写回为空，表示“回退到上一级”。
type UpdateChatSettingsInput struct {
	Temperature  *float64
	MaxTokens    *int
	SystemPrompt *string
}

// SettingsService 提供全局与对话级生成设置的管理。
type SettingsService interface {
	GetGlobal() (*model.Settings, error)
	UpdateGlobal(in UpdateGlobalSettingsInput) (*model.Settings, error)
	GetChatSettings(chatID string) (*model.ChatSettings, error)
	UpdateChatSettings(chatID string, in UpdateChatSettingsInput) (*model.ChatSettings, error)
}

type settingsService struct {
	settingsRepo repository.SettingsRepository
	chatRepo     repository.ChatRepository
}

// NewSettingsService 创建一个新的 SettingsService 实例。
func NewSettingsService(settingsRepo repository.SettingsRepository, chatRepo repository.ChatRepository) SettingsService {
	return &settingsService{settingsRepo: settingsRepo, chatRepo: chatRepo}
}

func (s *settingsService) GetGlobal() (*model.Settings, error) {
	return s.settingsRepo.GetGlobal()
}

func (s *settingsService) UpdateGlobal(in UpdateGlobalSettingsInput) (*model.Settings, error) {
	settings, err := s.settingsRepo.GetGlobal()
	if err != nil {
		return nil, err
	}
	if in.DefaultModel != nil {
		settings.DefaultModel = *in.DefaultModel
	}
	if in.TitleModel != nil {
		settings.TitleModel = *in.TitleModel
	}
	if in.DefaultTemperature != nil {
		settings.DefaultTemperature = *in.DefaultTemperature
	}
	if in.DefaultMaxTokens != nil {
		settings.DefaultMaxTokens = *in.DefaultMaxTokens
	}
	if err := s.settingsRepo.UpdateGlobal(settings); err != nil {
		return nil, fmt.Errorf("failed to update global settings: %w", err)
	}
	return settings, nil
}

// GetChatSettings 返回对话级覆盖；对话从未配置过时返回 nil。
func (s *settingsService) GetChatSettings(chatID string) (*model.ChatSettings, error) {
	if err := s.ensureChat(chatID); err != nil {
		return nil, err
	}
	return s.settingsRepo.GetChatSettings(chatID)
}

// UpdateChatSettings 整体覆写对话级设置：入参即新的覆盖状态。
func (s *settingsService) UpdateChatSettings(chatID string, in UpdateChatSettingsInput) (*model.ChatSettings, error) {
	if err := s.ensureChat(chatID); err != nil {
		return nil, err
	}
	settings := &model.ChatSettings{
		ChatID:       chatID,
		Temperature:  in.Temperature,
		MaxTokens:    in.MaxTokens,
		SystemPrompt: in.SystemPrompt,
	}
	if err := s.settingsRepo.UpsertChatSettings(settings); err != nil {
		return nil, fmt.Errorf("failed to update chat settings: %w", err)
	}
	return settings, nil
}

func (s *settingsService) ensureChat(chatID string) error {
	if _, err := s.chatRepo.FindByID(chatID); err != nil {
		return ErrChatNotFound
	}
	return nil
}
