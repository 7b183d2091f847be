package service

import (
	"context"
	"sync"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/ollama"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 内存版仓库实现，供服务层测试使用。

type fakeChatRepo struct {
	mu    sync.Mutex
	chats map[string]*model.Chat
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{chats: make(map[string]*model.Chat)}
}

func (r *fakeChatRepo) Create(chat *model.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	cp := *chat
	r.chats[chat.ID] = &cp
	return nil
}

func (r *fakeChatRepo) FindByID(chatID string) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[chatID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *chat
	return &cp, nil
}

func (r *fakeChatRepo) FindByIDWithMessages(chatID string) (*model.Chat, error) {
	return r.FindByID(chatID)
}

func (r *fakeChatRepo) FindWithPagination(projectID *string, archived *bool, offset, limit int) ([]model.Chat, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Chat
	for _, chat := range r.chats {
		if projectID != nil && (chat.ProjectID == nil || *chat.ProjectID != *projectID) {
			continue
		}
		if archived != nil && chat.IsArchived != *archived {
			continue
		}
		out = append(out, *chat)
	}
	return out, int64(len(out)), nil
}

func (r *fakeChatRepo) Update(chat *model.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[chat.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	cp := *chat
	r.chats[chat.ID] = &cp
	return nil
}

func (r *fakeChatRepo) Delete(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chats, chatID)
	return nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages []model.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{}
}

func (r *fakeMessageRepo) Create(message *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	r.messages = append(r.messages, *message)
	return nil
}

func (r *fakeMessageRepo) FindByChatID(chatID string, offset, limit int) ([]model.Message, int64, error) {
	all, _ := r.FindAllByChatID(chatID)
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *fakeMessageRepo) FindAllByChatID(chatID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, m := range r.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMessageRepo) CountByRole(chatID, role string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, m := range r.messages {
		if m.ChatID == chatID && m.Role == role {
			count++
		}
	}
	return count, nil
}

func (r *fakeMessageRepo) FirstByRole(chatID, role string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ChatID == chatID && m.Role == role {
			cp := m
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeMessageRepo) DeleteByChatID(chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []model.Message
	for _, m := range r.messages {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	r.messages = kept
	return nil
}

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[string]*model.Project
	files    map[string]*model.ProjectFile
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{
		projects: make(map[string]*model.Project),
		files:    make(map[string]*model.ProjectFile),
	}
}

func (r *fakeProjectRepo) Create(project *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	cp := *project
	r.projects[project.ID] = &cp
	return nil
}

func (r *fakeProjectRepo) FindByID(projectID string) (*model.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[projectID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *project
	return &cp, nil
}

func (r *fakeProjectRepo) FindByIDWithDetails(projectID string) (*model.Project, error) {
	return r.FindByID(projectID)
}

func (r *fakeProjectRepo) FindWithPagination(archived *bool, offset, limit int) ([]model.Project, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Project
	for _, p := range r.projects {
		if archived != nil && p.IsArchived != *archived {
			continue
		}
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (r *fakeProjectRepo) Update(project *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *project
	r.projects[project.ID] = &cp
	return nil
}

func (r *fakeProjectRepo) Delete(projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, projectID)
	return nil
}

func (r *fakeProjectRepo) CreateFile(file *model.ProjectFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if file.ID == "" {
		file.ID = uuid.NewString()
	}
	cp := *file
	r.files[file.ID] = &cp
	return nil
}

func (r *fakeProjectRepo) FindFileByID(fileID string) (*model.ProjectFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[fileID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *file
	return &cp, nil
}

func (r *fakeProjectRepo) FindFilesByProjectID(projectID string) ([]model.ProjectFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ProjectFile
	for _, f := range r.files {
		if f.ProjectID == projectID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) FindFilesByIDs(fileIDs []string) ([]model.ProjectFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ProjectFile
	for _, id := range fileIDs {
		if f, ok := r.files[id]; ok {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *fakeProjectRepo) DeleteFile(fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, fileID)
	return nil
}

type fakeSettingsRepo struct {
	mu           sync.Mutex
	global       model.Settings
	chatSettings map[string]*model.ChatSettings
}

func newFakeSettingsRepo(global model.Settings) *fakeSettingsRepo {
	return &fakeSettingsRepo{
		global:       global,
		chatSettings: make(map[string]*model.ChatSettings),
	}
}

func (r *fakeSettingsRepo) GetGlobal() (*model.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := r.global
	return &cp, nil
}

func (r *fakeSettingsRepo) UpdateGlobal(settings *model.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = *settings
	return nil
}

func (r *fakeSettingsRepo) GetChatSettings(chatID string) (*model.ChatSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	settings, ok := r.chatSettings[chatID]
	if !ok {
		return nil, nil
	}
	cp := *settings
	return &cp, nil
}

func (r *fakeSettingsRepo) UpsertChatSettings(settings *model.ChatSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *settings
	r.chatSettings[settings.ChatID] = &cp
	return nil
}

type fakeServerRepo struct {
	mu      sync.Mutex
	servers map[string]*model.InferenceServer
}

func newFakeServerRepo() *fakeServerRepo {
	return &fakeServerRepo{servers: make(map[string]*model.InferenceServer)}
}

func (r *fakeServerRepo) Create(server *model.InferenceServer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	cp := *server
	r.servers[server.ID] = &cp
	return nil
}

func (r *fakeServerRepo) FindByID(serverID string) (*model.InferenceServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.servers[serverID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *server
	return &cp, nil
}

func (r *fakeServerRepo) FindAll() ([]model.InferenceServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.InferenceServer
	for _, s := range r.servers {
		out = append(out, *s)
	}
	return out, nil
}

func (r *fakeServerRepo) FindActive() ([]model.InferenceServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.InferenceServer
	for _, s := range r.servers {
		if s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeServerRepo) FindUsable() ([]model.InferenceServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.InferenceServer
	for _, s := range r.servers {
		if s.IsUsable() {
			out = append(out, *s)
		}
	}
	// 延迟升序，未测量的排最后
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if latencyLess(out[j], out[i]) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func latencyLess(a, b model.InferenceServer) bool {
	if a.AvgLatencyMs == nil {
		return false
	}
	if b.AvgLatencyMs == nil {
		return true
	}
	return *a.AvgLatencyMs < *b.AvgLatencyMs
}

// Update 与真实实现一致，只写管理接口负责的身份列。
func (r *fakeServerRepo) Update(server *model.InferenceServer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.servers[server.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.Name = server.Name
	stored.BaseURL = server.BaseURL
	stored.Description = server.Description
	stored.IsActive = server.IsActive
	return nil
}

func (r *fakeServerRepo) UpdateHealth(server *model.InferenceServer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.servers[server.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.Status = server.Status
	stored.LastCheckedAt = server.LastCheckedAt
	stored.LastError = server.LastError
	stored.ModelsCount = server.ModelsCount
	stored.AvgLatencyMs = server.AvgLatencyMs
	return nil
}

func (r *fakeServerRepo) ResetHealth(serverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.servers[serverID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.Status = model.ServerStatusUnknown
	stored.LastCheckedAt = nil
	stored.LastError = nil
	stored.ModelsCount = 0
	stored.AvgLatencyMs = nil
	return nil
}

func (r *fakeServerRepo) Delete(serverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, serverID)
	return nil
}

type fakeStopRepo struct {
	mu    sync.Mutex
	flags map[string]bool
}

func newFakeStopRepo() *fakeStopRepo {
	return &fakeStopRepo{flags: make(map[string]bool)}
}

func (r *fakeStopRepo) SetStopFlag(ctx context.Context, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[chatID] = true
	return nil
}

func (r *fakeStopRepo) IsStopped(ctx context.Context, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags[chatID]
}

func (r *fakeStopRepo) ClearStopFlag(ctx context.Context, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, chatID)
	return nil
}

// scriptedOllama 按脚本回放分块的 Client 实现。
type scriptedOllama struct {
	mu      sync.Mutex
	chunks  []string
	stats   *ollama.StreamStats
	loadErr error // StreamChat 整体失败
	tailErr error // 分块送完后的失败

	chatReply string
	chatErr   error

	models    []ollama.ModelInfo
	modelsErr error

	// afterChunk 在第 i 个分块送达后调用，用于在流中途注入外部动作
	afterChunk func(i int)

	streamCalls int
	lastOpts    *ollama.Options
	lastBaseURL string
}

func (c *scriptedOllama) ListModels(ctx context.Context, baseURL string) ([]ollama.ModelInfo, error) {
	if c.modelsErr != nil {
		return nil, c.modelsErr
	}
	return c.models, nil
}

func (c *scriptedOllama) Chat(ctx context.Context, baseURL, model string, messages []ollama.Message, opts *ollama.Options) (string, error) {
	return c.chatReply, c.chatErr
}

func (c *scriptedOllama) StreamChat(ctx context.Context, baseURL, model string, messages []ollama.Message, opts *ollama.Options, onChunk func(string) error) (*ollama.StreamStats, error) {
	c.mu.Lock()
	c.streamCalls++
	c.lastOpts = opts
	c.lastBaseURL = baseURL
	c.mu.Unlock()

	if c.loadErr != nil {
		return nil, c.loadErr
	}
	for i, chunk := range c.chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := onChunk(chunk); err != nil {
			return nil, err
		}
		if c.afterChunk != nil {
			c.afterChunk(i)
		}
	}
	if c.tailErr != nil {
		return nil, c.tailErr
	}
	if c.stats != nil {
		return c.stats, nil
	}
	return &ollama.StreamStats{}, nil
}

// captureSink 记录全部下行事件的 StreamSink 实现。
type captureSink struct {
	mu        sync.Mutex
	contents  []string
	done      bool
	errMsg    string
	errDetail string
	failAfter int // 收到该数量的分块后 SendContent 开始报错；0 表示从不报错
}

func (s *captureSink) SendContent(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.contents) >= s.failAfter {
		return context.Canceled
	}
	s.contents = append(s.contents, content)
	return nil
}

func (s *captureSink) SendDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	return nil
}

func (s *captureSink) SendError(message, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = message
	s.errDetail = detail
	return nil
}
