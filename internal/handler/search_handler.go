// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"strconv"

	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 负责消息全文检索接口。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// SearchMessages 处理消息检索请求。
func (h *SearchHandler) SearchMessages(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少检索关键词", "data": nil})
		return
	}
	chatID := c.Query("chat_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	results, err := h.searchService.SearchMessages(c.Request.Context(), query, chatID, limit)
	if err != nil {
		log.Error("SearchMessages: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "检索失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": results})
}
