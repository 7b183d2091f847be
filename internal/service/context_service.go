package service

import (
	"fmt"
	"strings"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/ollama"
)

// AssembleInput 是一次提示词组装所需的全部快照数据。
// 全部字段为只读输入，组装过程不访问数据库。
type AssembleInput struct {
	Project      *model.Project      // 可为 nil
	Files        []model.ProjectFile // 参与上下文的文件，已按创建时间排序
	ChatSettings *model.ChatSettings // 可为 nil
	History      []model.Message     // 既有消息，按创建时间升序
	UserText     string              // 本轮新的用户消息
}

// ContextService 负责把对话的各项独立可编辑来源组装成完整的提示词序列，
// 以及解析生成参数的回退链。所有方法均为纯函数：相同输入必然产生相同输出。
type ContextService interface {
	Assemble(in AssembleInput) []ollama.Message
	ResolveGeneration(chatSettings *model.ChatSettings, project *model.Project, global *model.Settings) *ollama.Options
}

type contextService struct{}

// NewContextService 创建一个新的 ContextService 实例。
func NewContextService() ContextService {
	return &contextService{}
}

// Assemble 按固定顺序组装提示词：
//  1. system 段：项目自定义指令 → 各参考文件（带分隔头的完整内容）→ 对话级系统提示；
//     三者皆空时不产生 system 段；
//  2. 既有历史消息，按创建顺序原样保留；
//  3. 本轮新的用户消息。
func (s *contextService) Assemble(in AssembleInput) []ollama.Message {
	messages := make([]ollama.Message, 0, len(in.History)+2)

	if system := s.buildSystemSegment(in); system != "" {
		messages = append(messages, ollama.Message{Role: model.RoleSystem, Content: system})
	}

	for _, msg := range in.History {
		messages = append(messages, ollama.Message{Role: msg.Role, Content: msg.Content})
	}

	messages = append(messages, ollama.Message{Role: model.RoleUser, Content: in.UserText})
	return messages
}

// buildSystemSegment 组装 system 段文本。各来源彼此追加，后者从不覆盖前者。
func (s *contextService) buildSystemSegment(in AssembleInput) string {
	var parts []string

	if in.Project != nil && in.Project.CustomInstructions != "" {
		parts = append(parts, in.Project.CustomInstructions)
	}

	// 文件内容完整注入，不做摘要；这是上游提示词体积的直接来源
	for _, file := range in.Files {
		parts = append(parts, fmt.Sprintf("--- %s ---\n%s", file.Filename, file.Content))
	}

	if in.ChatSettings != nil && in.ChatSettings.SystemPrompt != nil && *in.ChatSettings.SystemPrompt != "" {
		parts = append(parts, *in.ChatSettings.SystemPrompt)
	}

	return strings.Join(parts, "\n\n")
}

// ResolveGeneration 按 对话 → 项目 → 全局 → 配置兜底 的顺序解析生成参数。
func (s *contextService) ResolveGeneration(chatSettings *model.ChatSettings, project *model.Project, global *model.Settings) *ollama.Options {
	temperature := config.Conf.Chat.DefaultTemperature
	maxTokens := config.Conf.Chat.DefaultMaxTokens

	if global != nil {
		temperature = global.DefaultTemperature
		maxTokens = global.DefaultMaxTokens
	}
	if project != nil {
		if project.Temperature != nil {
			temperature = *project.Temperature
		}
		if project.MaxTokens != nil {
			maxTokens = *project.MaxTokens
		}
	}
	if chatSettings != nil {
		if chatSettings.Temperature != nil {
			temperature = *chatSettings.Temperature
		}
		if chatSettings.MaxTokens != nil {
			maxTokens = *chatSettings.MaxTokens
		}
	}

	return &ollama.Options{
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
}
