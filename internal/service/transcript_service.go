package service

import (
	"context"
	"strings"
	"time"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/es"
	"ollama-chat-go/pkg/kafka"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/ollama"
	"ollama-chat-go/pkg/tasks"
)

// TurnStatus 是一次生成回合的终止状态。
type TurnStatus string

const (
	TurnCompleted TurnStatus = "completed"
	TurnCancelled TurnStatus = "cancelled"
	TurnFailed    TurnStatus = "failed"
)

// 默认标题与标题生成的兜底提示词。
const (
	defaultChatTitle    = "New Chat"
	fallbackTitlePrompt = "Summarize the content from this chat in 3 to 5 words."
	maxTitleLength      = 50
)

// TranscriptService 是消息持久化协调器：
// 保证用户消息先于流开始落库、每个终止的回合恰好产生一条助手消息、
// token 用量与中断标注被记录，并负责搜索索引写入、回合事件上报和
// 首轮回复后的标题生成。
type TranscriptService interface {
	// RecordUserMessage 在上游调用开始前持久化用户消息。
	RecordUserMessage(chat *model.Chat, text string, files []model.ProjectFile) (*model.Message, error)
	// RecordAssistantTurn 在回合到达终止状态后持久化助手消息。
	// 零内容的失败回合不产生消息记录（策略见 DESIGN.md），
	// 有部分内容时必定落库并附带中断标注。
	RecordAssistantTurn(sess *StreamSession, status TurnStatus, errText *string)
}

type transcriptService struct {
	chatRepo     repository.ChatRepository
	messageRepo  repository.MessageRepository
	settingsRepo repository.SettingsRepository
	ollamaClient ollama.Client
	esIndex      string // 为空时禁用搜索索引
}

// NewTranscriptService 创建一个新的 TranscriptService 实例。
func NewTranscriptService(
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	settingsRepo repository.SettingsRepository,
	ollamaClient ollama.Client,
	esIndex string,
) TranscriptService {
	return &transcriptService{
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		settingsRepo: settingsRepo,
		ollamaClient: ollamaClient,
		esIndex:      esIndex,
	}
}

// RecordUserMessage 持久化用户消息及本轮附件关联。
// 必须在上游流开始前完成，保证客户端中途刷新也能看到已发出的提问。
func (s *transcriptService) RecordUserMessage(chat *model.Chat, text string, files []model.ProjectFile) (*model.Message, error) {
	message := &model.Message{
		ChatID:        chat.ID,
		Role:          model.RoleUser,
		Content:       text,
		AttachedFiles: files,
	}
	if err := s.messageRepo.Create(message); err != nil {
		return nil, err
	}
	s.indexMessage(message)
	return message, nil
}

// RecordAssistantTurn 根据终止状态持久化助手消息并触发后置动作。
// 使用后台上下文：即使原始请求已被取消，也要保存已经生成的内容。
func (s *transcriptService) RecordAssistantTurn(sess *StreamSession, status TurnStatus, errText *string) {
	content := sess.Content()
	persisted := false

	if content != "" || status == TurnCompleted {
		message := &model.Message{
			ChatID:     sess.ChatID,
			Role:       model.RoleAssistant,
			Content:    content,
			TokensUsed: sess.TokensUsed,
			Error:      errText,
		}
		if err := s.messageRepo.Create(message); err != nil {
			// 只记录错误：流式响应已经送达，不再向客户端报错
			log.Errorf("保存助手消息失败: chat=%s, err=%v", sess.ChatID, err)
		} else {
			persisted = true
			s.indexMessage(message)
		}
	} else {
		log.Infof("回合零内容终止，不写入助手消息: chat=%s, status=%s", sess.ChatID, status)
	}

	s.produceTurnEvent(sess, status)

	if persisted && status == TurnCompleted {
		s.maybeGenerateTitle(sess)
	}
}

// indexMessage 将消息写入搜索索引，失败只记录日志。
func (s *transcriptService) indexMessage(message *model.Message) {
	if s.esIndex == "" {
		return
	}
	doc := model.MessageDocument{
		MessageID: message.ID,
		ChatID:    message.ChatID,
		Role:      message.Role,
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	}
	if err := es.IndexMessage(context.Background(), s.esIndex, doc); err != nil {
		log.Errorf("索引消息到 Elasticsearch 失败: message=%s, err=%v", message.ID, err)
	}
}

// produceTurnEvent 上报回合完成事件，fire-and-forget。
func (s *transcriptService) produceTurnEvent(sess *StreamSession, status TurnStatus) {
	tokens := 0
	if sess.TokensUsed != nil {
		tokens = *sess.TokensUsed
	}
	kafka.ProduceTurnEvent(context.Background(), tasks.TurnCompletedEvent{
		ChatID:     sess.ChatID,
		ServerID:   sess.Server.ID,
		Model:      sess.Model,
		Status:     string(status),
		TokensUsed: tokens,
		DurationMs: time.Since(sess.StartedAt).Milliseconds(),
		FinishedAt: time.Now(),
	})
}

// maybeGenerateTitle 在对话的第一条助手回复完成后生成标题。
// 生成失败重试一次；任何失败都不影响已完成的回合。
func (s *transcriptService) maybeGenerateTitle(sess *StreamSession) {
	if !config.Conf.Ollama.EnableAutoTitle {
		return
	}

	chat, err := s.chatRepo.FindByID(sess.ChatID)
	if err != nil {
		log.Errorf("标题生成读取对话失败: chat=%s, err=%v", sess.ChatID, err)
		return
	}
	// 已有自定义标题则跳过
	if chat.Title != defaultChatTitle {
		return
	}

	count, err := s.messageRepo.CountByRole(chat.ID, model.RoleAssistant)
	if err != nil || count != 1 {
		return
	}

	firstUser, uerr := s.messageRepo.FirstByRole(chat.ID, model.RoleUser)
	firstAssistant, aerr := s.messageRepo.FirstByRole(chat.ID, model.RoleAssistant)
	if uerr != nil || aerr != nil {
		log.Warnf("标题生成缺少消息上下文: chat=%s", chat.ID)
		return
	}

	titleModel := config.Conf.Ollama.TitleModel
	if global, gerr := s.settingsRepo.GetGlobal(); gerr == nil && global.TitleModel != "" {
		titleModel = global.TitleModel
	}
	if titleModel == "" {
		return
	}

	prompt := config.Conf.Ollama.TitlePrompt
	if prompt == "" {
		prompt = fallbackTitlePrompt
	}

	messages := []ollama.Message{
		{Role: model.RoleSystem, Content: prompt},
		{Role: model.RoleUser, Content: firstUser.Content},
		{Role: model.RoleAssistant, Content: firstAssistant.Content},
		{Role: model.RoleUser, Content: "Generate a short title for this conversation."},
	}

	temperature := 0.2
	maxTokens := 50
	opts := &ollama.Options{Temperature: &temperature, MaxTokens: &maxTokens}

	var title string
	for attempt := 1; attempt <= 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		title, err = s.ollamaClient.Chat(ctx, sess.Server.BaseURL, titleModel, messages, opts)
		cancel()
		if err == nil {
			break
		}
		log.Warnf("标题生成失败 (第 %d 次): chat=%s, err=%v", attempt, chat.ID, err)
		if attempt == 1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return
	}

	title = sanitizeTitle(title)
	if title == "" || title == defaultChatTitle {
		return
	}

	chat.Title = title
	if err := s.chatRepo.Update(chat); err != nil {
		log.Errorf("更新对话标题失败: chat=%s, err=%v", chat.ID, err)
		return
	}
	log.Infof("对话标题已生成: chat=%s, title=%q", chat.ID, title)
}

// sanitizeTitle 清理模型输出：去除引号与换行，并按字符数截断。
// 截断以 rune 为单位，多字节字符不会被从中间切开。
func sanitizeTitle(title string) string {
	title = strings.NewReplacer("\"", "", "'", "", "\n", " ").Replace(title)
	title = strings.TrimSpace(title)
	if runes := []rune(title); len(runes) > maxTitleLength {
		title = strings.TrimSpace(string(runes[:maxTitleLength]))
	}
	return title
}
