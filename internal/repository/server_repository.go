package repository

import (
	"ollama-chat-go/internal/model"

	"gorm.io/gorm"
)

// ServerRepository 接口定义了推理服务器记录的持久化操作。
// 身份字段（名称、地址）的写入属于管理接口，健康字段的写入属于健康监控。
type ServerRepository interface {
	Create(server *model.InferenceServer) error
	FindByID(serverID string) (*model.InferenceServer, error)
	FindAll() ([]model.InferenceServer, error)
	FindActive() ([]model.InferenceServer, error)
	FindUsable() ([]model.InferenceServer, error)
	Update(server *model.InferenceServer) error
	UpdateHealth(server *model.InferenceServer) error
	ResetHealth(serverID string) error
	Delete(serverID string) error
}

// serverRepository 是 ServerRepository 接口的 GORM 实现。
type serverRepository struct {
	db *gorm.DB
}

// NewServerRepository 创建一个新的 ServerRepository 实例。
func NewServerRepository(db *gorm.DB) ServerRepository {
	return &serverRepository{db: db}
}

// Create 在数据库中创建一条推理服务器记录。
func (r *serverRepository) Create(server *model.InferenceServer) error {
	return r.db.Create(server).Error
}

// FindByID 根据 ID 查找一台推理服务器。
func (r *serverRepository) FindByID(serverID string) (*model.InferenceServer, error) {
	var server model.InferenceServer
	err := r.db.First(&server, "id = ?", serverID).Error
	if err != nil {
		return nil, err
	}
	return &server, nil
}

// FindAll 检索全部推理服务器记录。
func (r *serverRepository) FindAll() ([]model.InferenceServer, error) {
	var servers []model.InferenceServer
	err := r.db.Order("created_at ASC").Find(&servers).Error
	return servers, err
}

// FindActive 检索管理员启用的全部服务器（不论探测状态）。
func (r *serverRepository) FindActive() ([]model.InferenceServer, error) {
	var servers []model.InferenceServer
	err := r.db.Where("is_active = ?", true).Order("created_at ASC").Find(&servers).Error
	return servers, err
}

// FindUsable 检索当前可被路由选择的服务器：启用且在线。
// 按平均延迟升序排列，从未测量过延迟的排在最后。
func (r *serverRepository) FindUsable() ([]model.InferenceServer, error) {
	var servers []model.InferenceServer
	err := r.db.Where("is_active = ? AND status = ?", true, model.ServerStatusOnline).
		Order("avg_latency_ms IS NULL, avg_latency_ms ASC, created_at ASC").
		Find(&servers).Error
	return servers, err
}

// Update 只更新管理接口负责的身份字段。健康字段的写入走 UpdateHealth，
// 带着旧健康快照的整行写回会覆盖监控的并发更新。
func (r *serverRepository) Update(server *model.InferenceServer) error {
	return r.db.Model(&model.InferenceServer{}).
		Where("id = ?", server.ID).
		Select("name", "base_url", "description", "is_active").
		Updates(map[string]interface{}{
			"name":        server.Name,
			"base_url":    server.BaseURL,
			"description": server.Description,
			"is_active":   server.IsActive,
		}).Error
}

// UpdateHealth 只更新健康监控负责的字段，避免覆盖管理员并发修改的身份字段。
func (r *serverRepository) UpdateHealth(server *model.InferenceServer) error {
	return r.db.Model(&model.InferenceServer{}).
		Where("id = ?", server.ID).
		Select("status", "last_checked_at", "last_error", "models_count", "avg_latency_ms").
		Updates(map[string]interface{}{
			"status":          server.Status,
			"last_checked_at": server.LastCheckedAt,
			"last_error":      server.LastError,
			"models_count":    server.ModelsCount,
			"avg_latency_ms":  server.AvgLatencyMs,
		}).Error
}

// ResetHealth 将健康字段重置为未探测状态。地址变更后旧的健康结论不再成立。
func (r *serverRepository) ResetHealth(serverID string) error {
	return r.db.Model(&model.InferenceServer{}).
		Where("id = ?", serverID).
		Select("status", "last_checked_at", "last_error", "models_count", "avg_latency_ms").
		Updates(map[string]interface{}{
			"status":          model.ServerStatusUnknown,
			"last_checked_at": nil,
			"last_error":      nil,
			"models_count":    0,
			"avg_latency_ms":  nil,
		}).Error
}

// Delete 删除一条推理服务器记录。
func (r *serverRepository) Delete(serverID string) error {
	return r.db.Delete(&model.InferenceServer{}, "id = ?", serverID).Error
}
