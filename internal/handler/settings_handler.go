// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SettingsHandler 负责全局与对话级生成设置的接口。
type SettingsHandler struct {
	settingsService service.SettingsService
}

// NewSettingsHandler 创建一个新的 SettingsHandler 实例。
func NewSettingsHandler(settingsService service.SettingsService) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService}
}

type updateGlobalSettingsRequest struct {
	DefaultModel       *string  `json:"default_model"`
	TitleModel         *string  `json:"title_model"`
	DefaultTemperature *float64 `json:"default_temperature"`
	DefaultMaxTokens   *int     `json:"default_max_tokens"`
}

type updateChatSettingsRequest struct {
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"max_tokens"`
	SystemPrompt *string  `json:"system_prompt"`
}

// GetGlobal 处理获取全局设置的请求。
func (h *SettingsHandler) GetGlobal(c *gin.Context) {
	settings, err := h.settingsService.GetGlobal()
	if err != nil {
		log.Error("GetGlobal: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取全局设置失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": settings})
}

// UpdateGlobal 处理更新全局设置的请求。
func (h *SettingsHandler) UpdateGlobal(c *gin.Context) {
	var req updateGlobalSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	settings, err := h.settingsService.UpdateGlobal(service.UpdateGlobalSettingsInput{
		DefaultModel:       req.DefaultModel,
		TitleModel:         req.TitleModel,
		DefaultTemperature: req.DefaultTemperature,
		DefaultMaxTokens:   req.DefaultMaxTokens,
	})
	if err != nil {
		log.Error("UpdateGlobal: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "更新全局设置失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "全局设置已更新", "data": settings})
}

// GetChatSettings 处理获取对话级设置的请求。
// 对话从未配置过覆盖时 data 为 null。
func (h *SettingsHandler) GetChatSettings(c *gin.Context) {
	settings, err := h.settingsService.GetChatSettings(c.Param("chatId"))
	if errors.Is(err, service.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("GetChatSettings: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取对话设置失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": settings})
}

// UpdateChatSettings 处理更新对话级设置的请求。
func (h *SettingsHandler) UpdateChatSettings(c *gin.Context) {
	var req updateChatSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	settings, err := h.settingsService.UpdateChatSettings(c.Param("chatId"), service.UpdateChatSettingsInput{
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		SystemPrompt: req.SystemPrompt,
	})
	if errors.Is(err, service.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("UpdateChatSettings: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "更新对话设置失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "对话设置已更新", "data": settings})
}
