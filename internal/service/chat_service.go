package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/es"
	"ollama-chat-go/pkg/log"

	"gorm.io/gorm"
)

// CreateChatInput 创建对话的入参。
type CreateChatInput struct {
	Title     string
	Model     string
	ProjectID *string
	ServerID  *string
}

// UpdateChatInput 更新对话的入参，nil 字段保持不变。
type UpdateChatInput struct {
	Title      *string
	Model      *string
	ServerID   *string
	IsArchived *bool
}

// ChatService 提供对话的增删改查。
type ChatService interface {
	CreateChat(in CreateChatInput) (*model.Chat, error)
	GetChat(chatID string) (*model.Chat, error)
	GetChatWithMessages(chatID string) (*model.Chat, error)
	ListChats(projectID *string, archived *bool, offset, limit int) ([]model.Chat, int64, error)
	ListMessages(chatID string, offset, limit int) ([]model.Message, int64, error)
	UpdateChat(chatID string, in UpdateChatInput) (*model.Chat, error)
	DeleteChat(chatID string) error
}

type chatService struct {
	chatRepo     repository.ChatRepository
	messageRepo  repository.MessageRepository
	projectRepo  repository.ProjectRepository
	settingsRepo repository.SettingsRepository
	esIndex      string // 为空时禁用搜索文档清理
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	projectRepo repository.ProjectRepository,
	settingsRepo repository.SettingsRepository,
	esIndex string,
) ChatService {
	return &chatService{
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		projectRepo:  projectRepo,
		settingsRepo: settingsRepo,
		esIndex:      esIndex,
	}
}

// CreateChat 创建对话。模型缺省时回退到全局默认模型。
func (s *chatService) CreateChat(in CreateChatInput) (*model.Chat, error) {
	if in.ProjectID != nil {
		if _, err := s.projectRepo.FindByID(*in.ProjectID); errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		} else if err != nil {
			return nil, fmt.Errorf("failed to load project: %w", err)
		}
	}

	modelName := strings.TrimSpace(in.Model)
	if modelName == "" {
		global, err := s.settingsRepo.GetGlobal()
		if err != nil {
			return nil, fmt.Errorf("failed to load global settings: %w", err)
		}
		modelName = global.DefaultModel
	}

	chat := &model.Chat{
		Title:     strings.TrimSpace(in.Title),
		Model:     modelName,
		ProjectID: in.ProjectID,
		ServerID:  in.ServerID,
	}
	if chat.Title == "" {
		chat.Title = defaultChatTitle
	}
	if err := s.chatRepo.Create(chat); err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

func (s *chatService) GetChat(chatID string) (*model.Chat, error) {
	chat, err := s.chatRepo.FindByID(chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	return chat, nil
}

func (s *chatService) GetChatWithMessages(chatID string) (*model.Chat, error) {
	chat, err := s.chatRepo.FindByIDWithMessages(chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	return chat, nil
}

func (s *chatService) ListChats(projectID *string, archived *bool, offset, limit int) ([]model.Chat, int64, error) {
	return s.chatRepo.FindWithPagination(projectID, archived, offset, limit)
}

func (s *chatService) ListMessages(chatID string, offset, limit int) ([]model.Message, int64, error) {
	if _, err := s.GetChat(chatID); err != nil {
		return nil, 0, err
	}
	return s.messageRepo.FindByChatID(chatID, offset, limit)
}

// UpdateChat 更新对话元数据，nil 字段不动。
func (s *chatService) UpdateChat(chatID string, in UpdateChatInput) (*model.Chat, error) {
	chat, err := s.GetChat(chatID)
	if err != nil {
		return nil, err
	}
	if in.Title != nil {
		chat.Title = strings.TrimSpace(*in.Title)
	}
	if in.Model != nil {
		chat.Model = strings.TrimSpace(*in.Model)
	}
	if in.ServerID != nil {
		if *in.ServerID == "" {
			chat.ServerID = nil
		} else {
			chat.ServerID = in.ServerID
		}
	}
	if in.IsArchived != nil {
		chat.IsArchived = *in.IsArchived
	}
	if err := s.chatRepo.Update(chat); err != nil {
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}
	return chat, nil
}

// DeleteChat 删除对话及其全部消息，并清理搜索索引中的对应文档。
func (s *chatService) DeleteChat(chatID string) error {
	if _, err := s.GetChat(chatID); err != nil {
		return err
	}
	if err := s.messageRepo.DeleteByChatID(chatID); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	if err := s.chatRepo.Delete(chatID); err != nil {
		return err
	}

	// 搜索文档清理失败只记录日志，不影响删除结果
	if s.esIndex != "" {
		if err := es.DeleteByChatID(context.Background(), s.esIndex, chatID); err != nil {
			log.Errorf("清理对话的搜索文档失败: chat=%s, err=%v", chatID, err)
		}
	}
	return nil
}
