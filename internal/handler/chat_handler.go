// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ChatHandler 负责处理对话与消息相关的 API 请求。
type ChatHandler struct {
	chatService   service.ChatService
	streamService service.StreamService
}

// NewChatHandler 创建一个新的 ChatHandler 实例。
func NewChatHandler(chatService service.ChatService, streamService service.StreamService) *ChatHandler {
	return &ChatHandler{
		chatService:   chatService,
		streamService: streamService,
	}
}

type createChatRequest struct {
	Title     string  `json:"title"`
	Model     string  `json:"model"`
	ProjectID *string `json:"project_id"`
	ServerID  *string `json:"server_id"`
}

type updateChatRequest struct {
	Title      *string `json:"title"`
	Model      *string `json:"model"`
	ServerID   *string `json:"server_id"`
	IsArchived *bool   `json:"is_archived"`
}

// CreateChat 处理创建对话的请求。
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	chat, err := h.chatService.CreateChat(service.CreateChatInput{
		Title:     req.Title,
		Model:     req.Model,
		ProjectID: req.ProjectID,
		ServerID:  req.ServerID,
	})
	if errors.Is(err, service.ErrProjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "项目不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("CreateChat: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建对话失败", "data": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "对话创建成功", "data": chat})
}

// ListChats 处理获取对话列表的请求。
func (h *ChatHandler) ListChats(c *gin.Context) {
	offset, limit := pagination(c)

	var projectID *string
	if pid := c.Query("project_id"); pid != "" {
		projectID = &pid
	}
	archived := boolFilter(c, "archived")

	chats, total, err := h.chatService.ListChats(projectID, archived, offset, limit)
	if err != nil {
		log.Error("ListChats: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取对话列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"items": chats, "total": total},
	})
}

// GetChat 处理获取单个对话详情的请求，包含消息列表。
func (h *ChatHandler) GetChat(c *gin.Context) {
	chat, err := h.chatService.GetChatWithMessages(c.Param("chatId"))
	if errors.Is(err, service.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("GetChat: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取对话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": chat})
}

// UpdateChat 处理更新对话元数据的请求。
func (h *ChatHandler) UpdateChat(c *gin.Context) {
	var req updateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	chat, err := h.chatService.UpdateChat(c.Param("chatId"), service.UpdateChatInput{
		Title:      req.Title,
		Model:      req.Model,
		ServerID:   req.ServerID,
		IsArchived: req.IsArchived,
	})
	if errors.Is(err, service.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("UpdateChat: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "更新对话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "对话更新成功", "data": chat})
}

// ArchiveChat 处理归档对话的请求。
func (h *ChatHandler) ArchiveChat(c *gin.Context) {
	archived := true
	chat, err := h.chatService.UpdateChat(c.Param("chatId"), service.UpdateChatInput{IsArchived: &archived})
	if errors.Is(err, service.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("ArchiveChat: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "归档对话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "对话已归档", "data": chat})
}

// DeleteChat 处理删除对话的请求。
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	err := h.chatService.DeleteChat(c.Param("chatId"))
	if errors.Is(err, service.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("DeleteChat: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除对话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "对话删除成功", "data": nil})
}

// ListMessages 处理获取对话消息列表的请求。
func (h *ChatHandler) ListMessages(c *gin.Context) {
	offset, limit := pagination(c)

	messages, total, err := h.chatService.ListMessages(c.Param("chatId"), offset, limit)
	if errors.Is(err, service.ErrChatNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "对话不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("ListMessages: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取消息列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"items": messages, "total": total},
	})
}

type sendMessageRequest struct {
	Message  string   `json:"message" binding:"required"`
	ServerID string   `json:"server_id"`
	FileIDs  []string `json:"file_ids"`
}

// SendMessage 处理非流式的消息发送请求：完整执行一个回合，
// 把累积好的完整回复一次性返回。
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	sink := &bufferSink{}
	err := h.streamService.StreamTurn(c.Request.Context(), c.Param("chatId"), req.Message, req.FileIDs, req.ServerID, sink)
	if err != nil {
		status, message := mapTurnError(err)
		c.JSON(status, gin.H{"code": status, "message": message, "data": nil})
		return
	}
	if sink.errMessage != "" {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":    http.StatusBadGateway,
			"message": sink.errMessage,
			"data":    gin.H{"detail": sink.errDetail, "partial": sink.content.String()},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"content": sink.content.String()},
	})
}

// mapTurnError 把流开始前的业务错误映射为 HTTP 状态码。
func mapTurnError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrChatNotFound):
		return http.StatusNotFound, "对话不存在"
	case errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest, "消息内容不能为空"
	case errors.Is(err, service.ErrStreamInProgress):
		return http.StatusConflict, "该对话已有回合在进行中"
	case errors.Is(err, service.ErrNoAvailableServer):
		return http.StatusServiceUnavailable, "没有可用的推理服务器"
	case errors.Is(err, service.ErrServerNotFound):
		return http.StatusNotFound, "推理服务器不存在"
	default:
		return http.StatusInternalServerError, "回合执行失败"
	}
}

// pagination 从查询参数解析 offset/limit，带默认值和上限。
func pagination(c *gin.Context) (int, int) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return offset, limit
}

// boolFilter 解析可选的布尔查询参数，缺省返回 nil（不过滤）。
func boolFilter(c *gin.Context, key string) *bool {
	raw, ok := c.GetQuery(key)
	if !ok {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
