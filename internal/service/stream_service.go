package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/ollama"

	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// StreamSink 是生成增量的下游出口，由传输层（SSE、WebSocket）实现。
// SendContent 对应 {content, done:false}，SendDone 对应 {content:"", done:true}，
// SendError 对应 {error, detail}，三者在线上必须可被调用方无歧义区分。
type StreamSink interface {
	SendContent(content string) error
	SendDone() error
	SendError(message, detail string) error
}

// StreamSession 是一次进行中回合的临时运行状态，不持久化。
// 随回合开始创建，到达终止状态（完成、取消、失败）后销毁。
type StreamSession struct {
	ChatID     string
	Server     model.InferenceServer
	Model      string
	StartedAt  time.Time
	TokensUsed *int

	buf strings.Builder
}

// append 追加一个内容分块到累积缓冲。
func (s *StreamSession) append(content string) {
	s.buf.WriteString(content)
}

// Content 返回到目前为止累积的完整文本。
func (s *StreamSession) Content() string {
	return s.buf.String()
}

// 流内部的控制哨兵：都归类为取消，不是上游故障。
var (
	errStopRequested = errors.New("stop requested by caller")
	errSinkClosed    = errors.New("downstream sink closed")
)

// ServerSelector 从可用集合中挑选一台服务器。默认实现取第一台
//（仓库已按平均延迟升序返回），选择策略可整体替换。
type ServerSelector func(usable []model.InferenceServer) *model.InferenceServer

// LowestLatencySelector 选择平均延迟最低的服务器。
func LowestLatencySelector(usable []model.InferenceServer) *model.InferenceServer {
	if len(usable) == 0 {
		return nil
	}
	return &usable[0]
}

// StreamService 是流路由器：对一次回合请求完成校验、单飞保护、
// 服务器选择、上游流中继和终止状态分类。
type StreamService interface {
	// StreamTurn 执行一次完整的生成回合，把内容增量写入 sink。
	// 流开始前的失败（校验、选择、落库）通过返回值报告；
	// 流开始后的任何结局都转化为 sink 上的终止标记，返回 nil。
	StreamTurn(ctx context.Context, chatID, userText string, fileIDs []string, serverID string, sink StreamSink) error
	// StopStream 置位停止标志，请求中断该对话当前的生成。
	StopStream(ctx context.Context, chatID string) error
}

type streamService struct {
	chatRepo     repository.ChatRepository
	messageRepo  repository.MessageRepository
	projectRepo  repository.ProjectRepository
	settingsRepo repository.SettingsRepository
	stopRepo     repository.StreamStopRepository
	contextSvc   ContextService
	transcript   TranscriptService
	registry     RegistryService
	ollamaClient ollama.Client
	selector     ServerSelector
	stallGrace   time.Duration

	// flights 按对话 ID 维护单飞信号量：TryAcquire 失败即有回合在进行中。
	// 许可从获取到回合终止一直持有，所有退出路径都必须释放。
	mu      sync.Mutex
	flights map[string]*semaphore.Weighted
}

// NewStreamService 创建一个新的 StreamService 实例。
func NewStreamService(
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	projectRepo repository.ProjectRepository,
	settingsRepo repository.SettingsRepository,
	stopRepo repository.StreamStopRepository,
	contextSvc ContextService,
	transcript TranscriptService,
	registry RegistryService,
	ollamaClient ollama.Client,
	stallGrace time.Duration,
) StreamService {
	return &streamService{
		chatRepo:     chatRepo,
		messageRepo:  messageRepo,
		projectRepo:  projectRepo,
		settingsRepo: settingsRepo,
		stopRepo:     stopRepo,
		contextSvc:   contextSvc,
		transcript:   transcript,
		registry:     registry,
		ollamaClient: ollamaClient,
		selector:     LowestLatencySelector,
		stallGrace:   stallGrace,
		flights:      make(map[string]*semaphore.Weighted),
	}
}

// StreamTurn 执行一次完整的生成回合。
func (s *streamService) StreamTurn(ctx context.Context, chatID, userText string, fileIDs []string, serverID string, sink StreamSink) error {
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return ErrEmptyMessage
	}

	chat, err := s.chatRepo.FindByID(chatID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrChatNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}

	// 单飞保护：许可覆盖从这里到回合终止的全程，
	// 避免“检查无会话”与“创建会话”之间出现竞态
	if !s.acquireFlight(chatID) {
		return ErrStreamInProgress
	}
	defer s.releaseFlight(chatID)

	// 清除上一轮残留的停止标志
	if err := s.stopRepo.ClearStopFlag(ctx, chatID); err != nil {
		log.Warnf("清除停止标志失败: chat=%s, err=%v", chatID, err)
	}

	// 服务器选择先于用户消息落库：选择失败不留任何转录痕迹
	server, err := s.selectServer(chat, serverID)
	if err != nil {
		return err
	}

	snapshot, err := s.loadSnapshot(chat, fileIDs)
	if err != nil {
		return err
	}

	userMessage, err := s.transcript.RecordUserMessage(chat, userText, snapshot.turnFiles)
	if err != nil {
		return fmt.Errorf("failed to persist user message: %w", err)
	}
	log.Infof("回合开始: chat=%s, server=%s, model=%s, message=%s", chatID, server.Name, chat.Model, userMessage.ID)

	messages := s.contextSvc.Assemble(AssembleInput{
		Project:      snapshot.project,
		Files:        snapshot.contextFiles,
		ChatSettings: snapshot.chatSettings,
		History:      snapshot.history,
		UserText:     userText,
	})
	opts := s.contextSvc.ResolveGeneration(snapshot.chatSettings, snapshot.project, snapshot.global)

	s.runStream(ctx, chat, server, messages, opts, sink)
	return nil
}

// StopStream 置位该对话的停止标志。
func (s *streamService) StopStream(ctx context.Context, chatID string) error {
	if _, err := s.chatRepo.FindByID(chatID); errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrChatNotFound
	} else if err != nil {
		return fmt.Errorf("failed to load chat: %w", err)
	}
	return s.stopRepo.SetStopFlag(ctx, chatID)
}

// runStream 驱动上游流直到终止状态，并完成分类与持久化。
func (s *streamService) runStream(ctx context.Context, chat *model.Chat, server *model.InferenceServer, messages []ollama.Message, opts *ollama.Options, sink StreamSink) {
	sess := &StreamSession{
		ChatID:    chat.ID,
		Server:    *server,
		Model:     chat.Model,
		StartedAt: time.Now(),
	}

	// 上游调用整体不设超时（生成可以合法地长时间运行），
	// 只有超过宽限期毫无进展才视为停滞
	uctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stalled bool
	var stalledMu sync.Mutex
	watchdog := time.AfterFunc(s.stallGrace, func() {
		stalledMu.Lock()
		stalled = true
		stalledMu.Unlock()
		cancel()
	})
	defer watchdog.Stop()

	stats, streamErr := s.ollamaClient.StreamChat(uctx, server.BaseURL, chat.Model, messages, opts, func(content string) error {
		if s.stopRepo.IsStopped(ctx, chat.ID) {
			return errStopRequested
		}
		watchdog.Reset(s.stallGrace)
		sess.append(content)
		if err := sink.SendContent(content); err != nil {
			return errSinkClosed
		}
		return nil
	})
	watchdog.Stop()

	if stats != nil {
		tokens := stats.EvalCount
		sess.TokensUsed = &tokens
	}

	stalledMu.Lock()
	wasStalled := stalled
	stalledMu.Unlock()

	switch {
	case streamErr == nil:
		s.transcript.RecordAssistantTurn(sess, TurnCompleted, nil)
		if err := sink.SendDone(); err != nil {
			log.Warnf("发送完成标记失败: chat=%s, err=%v", chat.ID, err)
		}
		log.Infof("回合完成: chat=%s, %d 字符", chat.ID, len(sess.Content()))

	case errors.Is(streamErr, errStopRequested), errors.Is(streamErr, errSinkClosed), ctx.Err() != nil:
		// 调用方取消：已送达的分块原样落库，不多也不少
		annotation := "生成已被用户停止"
		s.transcript.RecordAssistantTurn(sess, TurnCancelled, &annotation)
		_ = sink.SendDone()
		log.Infof("回合已取消: chat=%s, 已保留 %d 字符", chat.ID, len(sess.Content()))

	case wasStalled:
		annotation := fmt.Sprintf("上游在 %s 内无任何进展，生成被中断", s.stallGrace)
		s.transcript.RecordAssistantTurn(sess, TurnFailed, &annotation)
		_ = sink.SendError("推理服务器响应停滞", annotation)
		log.Errorf("回合停滞: chat=%s, server=%s", chat.ID, server.Name)

	default:
		// 上游故障：部分输出绝不丢弃
		annotation := fmt.Sprintf("生成中断: %v", streamErr)
		s.transcript.RecordAssistantTurn(sess, TurnFailed, &annotation)
		_ = sink.SendError("推理服务器生成失败", streamErr.Error())
		log.Errorf("回合失败: chat=%s, server=%s, err=%v", chat.ID, server.Name, streamErr)
	}
}

// turnSnapshot 是一次回合开始时读取的全部快照数据。
type turnSnapshot struct {
	project      *model.Project
	contextFiles []model.ProjectFile
	turnFiles    []model.ProjectFile
	chatSettings *model.ChatSettings
	global       *model.Settings
	history      []model.Message
}

// loadSnapshot 读取组装上下文所需的全部数据。
// 项目文件自动全量纳入上下文；本轮显式附件记录在用户消息上，
// 不在项目文件中的附件同样纳入上下文。
func (s *streamService) loadSnapshot(chat *model.Chat, fileIDs []string) (*turnSnapshot, error) {
	snap := &turnSnapshot{}

	if chat.ProjectID != nil {
		project, err := s.projectRepo.FindByID(*chat.ProjectID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load project: %w", err)
		}
		if project != nil {
			snap.project = project
			files, ferr := s.projectRepo.FindFilesByProjectID(project.ID)
			if ferr != nil {
				return nil, fmt.Errorf("failed to load project files: %w", ferr)
			}
			snap.contextFiles = files
		}
	}

	if len(fileIDs) > 0 {
		turnFiles, err := s.projectRepo.FindFilesByIDs(fileIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load attached files: %w", err)
		}
		snap.turnFiles = turnFiles
		snap.contextFiles = mergeFiles(snap.contextFiles, turnFiles)
	}

	chatSettings, err := s.settingsRepo.GetChatSettings(chat.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat settings: %w", err)
	}
	snap.chatSettings = chatSettings

	global, err := s.settingsRepo.GetGlobal()
	if err != nil {
		return nil, fmt.Errorf("failed to load global settings: %w", err)
	}
	snap.global = global

	history, err := s.messageRepo.FindAllByChatID(chat.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	snap.history = history

	return snap, nil
}

// selectServer 按策略选择本次回合的目标服务器：
// 显式指定 > 对话固定 > 可用集合中的策略选择。
// 选定的服务器在选择时刻必须 启用且在线；流中途的故障由生成调用自身暴露。
func (s *streamService) selectServer(chat *model.Chat, serverID string) (*model.InferenceServer, error) {
	// 显式指定的服务器
	if serverID != "" {
		server, err := s.registry.GetServer(serverID)
		if err != nil {
			return nil, err
		}
		if !server.IsUsable() {
			return nil, ErrNoAvailableServer
		}
		return server, nil
	}

	usable, err := s.registry.UsableServers()
	if err != nil {
		return nil, fmt.Errorf("failed to query usable servers: %w", err)
	}

	// 对话固定的服务器仅在可用时优先
	if chat.ServerID != nil {
		for i := range usable {
			if usable[i].ID == *chat.ServerID {
				return &usable[i], nil
			}
		}
	}

	selected := s.selector(usable)
	if selected == nil {
		return nil, ErrNoAvailableServer
	}
	return selected, nil
}

// acquireFlight 尝试获取某对话的单飞许可。
// 获取动作始终在 s.mu 内完成，releaseFlight 据此可以安全回收表项。
func (s *streamService) acquireFlight(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.flights[chatID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.flights[chatID] = sem
	}
	return sem.TryAcquire(1)
}

// releaseFlight 释放某对话的单飞许可并回收表项，
// 避免每个曾经对话过的 ID 永久占用一个信号量。
func (s *streamService) releaseFlight(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem := s.flights[chatID]
	if sem == nil {
		return
	}
	sem.Release(1)
	delete(s.flights, chatID)
}

// mergeFiles 合并两组文件并按 ID 去重，保持先到顺序。
func mergeFiles(base, extra []model.ProjectFile) []model.ProjectFile {
	seen := make(map[string]bool, len(base))
	for _, f := range base {
		seen[f.ID] = true
	}
	merged := base
	for _, f := range extra {
		if !seen[f.ID] {
			merged = append(merged, f)
			seen[f.ID] = true
		}
	}
	return merged
}
