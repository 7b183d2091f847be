package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/ollama"

	"gorm.io/gorm"
)

// 延迟指数滑动平均的权重：新样本占 30%，保证均值有界且偏向近期表现。
const latencyEMAWeight = 0.3

// RegistryService 维护推理服务器清单及其实时健康状态。
// 管理员通过它增删改服务器记录，健康监控通过它刷新观测字段，
// 流路由通过 UsableServers 查询当前可选的服务器集合。
type RegistryService interface {
	CreateServer(server *model.InferenceServer) error
	GetServer(serverID string) (*model.InferenceServer, error)
	ListServers() ([]model.InferenceServer, error)
	// UpdateServer 更新管理员字段。resetHealth 为真时同时将健康结论重置为
	// unknown，用于地址变更后作废旧地址的探测结果。
	UpdateServer(server *model.InferenceServer, resetHealth bool) error
	DeleteServer(serverID string) error

	// UsableServers 返回 启用且在线 的服务器，按平均延迟升序。
	UsableServers() ([]model.InferenceServer, error)
	// CheckServer 对单台服务器执行一次带超时的探测并落库，返回刷新后的记录。
	CheckServer(ctx context.Context, serverID string) (*model.InferenceServer, error)
	// ListServerModels 返回单台服务器的实时模型清单。
	ListServerModels(ctx context.Context, serverID string) ([]ollama.ModelInfo, error)
	// StartMonitor 阻塞运行周期探测循环，直到 ctx 被取消。应在独立 goroutine 中调用。
	StartMonitor(ctx context.Context, interval time.Duration)
}

type registryService struct {
	serverRepo   repository.ServerRepository
	ollamaClient ollama.Client
	probeTimeout time.Duration

	// probeLocks 按服务器 ID 串行化探测落库，周期探测与手动探测可能并发到达
	mu         sync.Mutex
	probeLocks map[string]*sync.Mutex
}

// NewRegistryService 创建一个新的 RegistryService 实例。
func NewRegistryService(serverRepo repository.ServerRepository, ollamaClient ollama.Client, probeTimeout time.Duration) RegistryService {
	return &registryService{
		serverRepo:   serverRepo,
		ollamaClient: ollamaClient,
		probeTimeout: probeTimeout,
		probeLocks:   make(map[string]*sync.Mutex),
	}
}

// CreateServer 创建一条服务器记录，初始状态为 unknown，等待首次探测。
func (s *registryService) CreateServer(server *model.InferenceServer) error {
	server.Status = model.ServerStatusUnknown
	return s.serverRepo.Create(server)
}

// GetServer 根据 ID 获取一台服务器。
func (s *registryService) GetServer(serverID string) (*model.InferenceServer, error) {
	server, err := s.serverRepo.FindByID(serverID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrServerNotFound
	}
	return server, err
}

// ListServers 返回全部服务器及其当前健康字段。
func (s *registryService) ListServers() ([]model.InferenceServer, error) {
	return s.serverRepo.FindAll()
}

// UpdateServer 更新服务器的管理员字段，只写身份列，不触碰健康列。
// 重置健康状态时持有该服务器的探测锁，保证进行中的探测不会把
// 旧地址的结论写在重置之后。
func (s *registryService) UpdateServer(server *model.InferenceServer, resetHealth bool) error {
	if !resetHealth {
		return s.serverRepo.Update(server)
	}

	lock := s.probeLock(server.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.serverRepo.Update(server); err != nil {
		return err
	}
	return s.serverRepo.ResetHealth(server.ID)
}

// DeleteServer 删除一条服务器记录。
func (s *registryService) DeleteServer(serverID string) error {
	if _, err := s.GetServer(serverID); err != nil {
		return err
	}
	return s.serverRepo.Delete(serverID)
}

// UsableServers 返回当前可被路由选择的服务器集合。
func (s *registryService) UsableServers() ([]model.InferenceServer, error) {
	return s.serverRepo.FindUsable()
}

// CheckServer 手动触发一次探测。不论服务器是否被启用都会执行。
func (s *registryService) CheckServer(ctx context.Context, serverID string) (*model.InferenceServer, error) {
	server, err := s.GetServer(serverID)
	if err != nil {
		return nil, err
	}
	s.probeServer(ctx, server)
	return s.GetServer(serverID)
}

// ListServerModels 查询单台服务器的实时模型清单。
func (s *registryService) ListServerModels(ctx context.Context, serverID string) ([]ollama.ModelInfo, error) {
	server, err := s.GetServer(serverID)
	if err != nil {
		return nil, err
	}
	tctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return s.ollamaClient.ListModels(tctx, server.BaseURL)
}

// StartMonitor 周期性地对全部启用的服务器执行并发探测。
// 循环内的扫描是同步执行的，因此一次扫描未结束前不会开始下一次；
// ctx 取消后立即退出。
func (s *registryService) StartMonitor(ctx context.Context, interval time.Duration) {
	log.Infof("健康监控已启动，探测间隔 %s", interval)

	// 启动时先做一轮，避免等满一个周期才有状态
	s.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("健康监控已停止")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep 对全部启用的服务器并发探测，每台服务器独立超时。
// 单台服务器不可达不会拖慢其它服务器状态的刷新。
func (s *registryService) sweep(ctx context.Context) {
	servers, err := s.serverRepo.FindActive()
	if err != nil {
		log.Errorf("健康监控读取服务器列表失败: %v", err)
		return
	}
	if len(servers) == 0 {
		log.Debugf("没有启用的服务器，跳过本轮探测")
		return
	}

	var wg sync.WaitGroup
	for i := range servers {
		server := servers[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.probeServer(ctx, &server)
		}()
	}
	wg.Wait()
}

// probeServer 对单台服务器执行一次探测并更新健康字段。
// 状态迁移：探测成功 → online；网络失败 → offline；响应异常 → error。
// 任何异常都完全消化在这里，不会向监控循环或其它探测传播。
func (s *registryService) probeServer(ctx context.Context, server *model.InferenceServer) {
	lock := s.probeLock(server.ID)
	lock.Lock()
	defer lock.Unlock()

	tctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	start := time.Now()
	models, err := s.ollamaClient.ListModels(tctx, server.BaseURL)
	now := time.Now()
	server.LastCheckedAt = &now

	if err != nil {
		var unexpected *ollama.UnexpectedResponseError
		if errors.As(err, &unexpected) {
			server.Status = model.ServerStatusError
		} else {
			server.Status = model.ServerStatusOffline
		}
		errText := err.Error()
		server.LastError = &errText
		log.Warnf("✗ %s: %s - %v", server.Name, server.Status, err)
	} else {
		elapsed := now.Sub(start).Milliseconds()
		server.Status = model.ServerStatusOnline
		server.LastError = nil
		server.ModelsCount = len(models)
		server.AvgLatencyMs = updateLatencyEMA(server.AvgLatencyMs, elapsed)
		log.Infof("✓ %s: online (%d models, %dms)", server.Name, len(models), elapsed)
	}

	if uerr := s.serverRepo.UpdateHealth(server); uerr != nil {
		log.Errorf("更新服务器 %s 的健康状态失败: %v", server.Name, uerr)
	}
}

// probeLock 获取某台服务器的探测互斥锁，首次访问时创建。
func (s *registryService) probeLock(serverID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.probeLocks[serverID]
	if !ok {
		lock = &sync.Mutex{}
		s.probeLocks[serverID] = lock
	}
	return lock
}

// updateLatencyEMA 计算新的延迟指数滑动平均值。
func updateLatencyEMA(current *int64, sample int64) *int64 {
	if current == nil {
		return &sample
	}
	next := int64(float64(*current)*(1-latencyEMAWeight) + float64(sample)*latencyEMAWeight)
	return &next
}
