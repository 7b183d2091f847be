// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strings"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ServerHandler 负责推理服务器的管理接口。
type ServerHandler struct {
	registry service.RegistryService
}

// NewServerHandler 创建一个新的 ServerHandler 实例。
func NewServerHandler(registry service.RegistryService) *ServerHandler {
	return &ServerHandler{registry: registry}
}

type createServerRequest struct {
	Name        string `json:"name" binding:"required"`
	BaseURL     string `json:"base_url" binding:"required"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

type updateServerRequest struct {
	Name        *string `json:"name"`
	BaseURL     *string `json:"base_url"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// CreateServer 处理注册推理服务器的请求。
func (h *ServerHandler) CreateServer(c *gin.Context) {
	var req createServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	server := &model.InferenceServer{
		Name:        strings.TrimSpace(req.Name),
		BaseURL:     strings.TrimRight(strings.TrimSpace(req.BaseURL), "/"),
		Description: req.Description,
		IsActive:    true,
		Status:      model.ServerStatusUnknown,
	}
	if req.IsActive != nil {
		server.IsActive = *req.IsActive
	}
	if err := h.registry.CreateServer(server); err != nil {
		log.Error("CreateServer: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "注册服务器失败", "data": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "服务器注册成功", "data": server})
}

// ListServers 处理获取服务器列表的请求。
func (h *ServerHandler) ListServers(c *gin.Context) {
	servers, err := h.registry.ListServers()
	if err != nil {
		log.Error("ListServers: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取服务器列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": servers})
}

// GetServer 处理获取单个服务器详情的请求。
func (h *ServerHandler) GetServer(c *gin.Context) {
	server, err := h.registry.GetServer(c.Param("serverId"))
	if errors.Is(err, service.ErrServerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "服务器不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("GetServer: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取服务器失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": server})
}

// UpdateServer 处理更新服务器配置的请求。
func (h *ServerHandler) UpdateServer(c *gin.Context) {
	var req updateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	server, err := h.registry.GetServer(c.Param("serverId"))
	if errors.Is(err, service.ErrServerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "服务器不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("UpdateServer: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取服务器失败", "data": nil})
		return
	}

	if req.Name != nil {
		server.Name = strings.TrimSpace(*req.Name)
	}
	// 地址变更后旧的健康结论不再成立，交给服务层一并重置
	resetHealth := false
	if req.BaseURL != nil {
		server.BaseURL = strings.TrimRight(strings.TrimSpace(*req.BaseURL), "/")
		resetHealth = true
	}
	if req.Description != nil {
		server.Description = *req.Description
	}
	if req.IsActive != nil {
		server.IsActive = *req.IsActive
	}
	if err := h.registry.UpdateServer(server, resetHealth); err != nil {
		log.Error("UpdateServer: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "更新服务器失败", "data": nil})
		return
	}

	updated, err := h.registry.GetServer(server.ID)
	if err != nil {
		log.Error("UpdateServer: reload failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取服务器失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "服务器更新成功", "data": updated})
}

// DeleteServer 处理移除服务器的请求。
func (h *ServerHandler) DeleteServer(c *gin.Context) {
	err := h.registry.DeleteServer(c.Param("serverId"))
	if errors.Is(err, service.ErrServerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "服务器不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("DeleteServer: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "移除服务器失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "服务器已移除", "data": nil})
}

// CheckHealth 处理按需健康检查的请求，同步探测并返回最新状态。
func (h *ServerHandler) CheckHealth(c *gin.Context) {
	server, err := h.registry.CheckServer(c.Request.Context(), c.Param("serverId"))
	if errors.Is(err, service.ErrServerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "服务器不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("CheckHealth: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "健康检查失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": server})
}

// ListServerModels 处理获取单台服务器模型清单的请求。
func (h *ServerHandler) ListServerModels(c *gin.Context) {
	models, err := h.registry.ListServerModels(c.Request.Context(), c.Param("serverId"))
	if errors.Is(err, service.ErrServerNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "服务器不存在", "data": nil})
		return
	}
	if err != nil {
		log.Warnf("ListServerModels: failed for server %s: %v", c.Param("serverId"), err)
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "获取模型清单失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": models})
}
