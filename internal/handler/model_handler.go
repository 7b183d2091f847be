// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"sort"
	"sync"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/ollama"

	"github.com/gin-gonic/gin"
)

// ModelHandler 负责跨服务器的模型清单聚合接口。
type ModelHandler struct {
	registry service.RegistryService
}

// NewModelHandler 创建一个新的 ModelHandler 实例。
func NewModelHandler(registry service.RegistryService) *ModelHandler {
	return &ModelHandler{registry: registry}
}

// serverModels 是一台服务器的模型查询结果。
type serverModels struct {
	server model.InferenceServer
	models []ollama.ModelInfo
	err    error
}

// collect 并发查询全部可用服务器的模型清单。
func (h *ModelHandler) collect(c *gin.Context, servers []model.InferenceServer) []serverModels {
	results := make([]serverModels, len(servers))
	var wg sync.WaitGroup
	for i := range servers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			models, err := h.registry.ListServerModels(c.Request.Context(), servers[i].ID)
			results[i] = serverModels{server: servers[i], models: models, err: err}
		}(i)
	}
	wg.Wait()
	return results
}

// ListModels 处理聚合模型清单的请求：合并全部可用服务器的模型并按名称去重。
// 单台服务器查询失败只记日志，不影响其余服务器的结果。
func (h *ModelHandler) ListModels(c *gin.Context) {
	servers, err := h.registry.UsableServers()
	if err != nil {
		log.Error("ListModels: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取服务器列表失败", "data": nil})
		return
	}

	seen := make(map[string][]string) // 模型名 -> 提供它的服务器名
	for _, r := range h.collect(c, servers) {
		if r.err != nil {
			log.Warnf("ListModels: server %s unreachable: %v", r.server.Name, r.err)
			continue
		}
		for _, m := range r.models {
			seen[m.Name] = append(seen[m.Name], r.server.Name)
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]gin.H, 0, len(names))
	for _, name := range names {
		items = append(items, gin.H{"name": name, "servers": seen[name]})
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": items})
}

// ModelsStatus 处理模型可用性总览的请求：逐台服务器列出状态与模型清单。
func (h *ModelHandler) ModelsStatus(c *gin.Context) {
	servers, err := h.registry.ListServers()
	if err != nil {
		log.Error("ModelsStatus: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取服务器列表失败", "data": nil})
		return
	}

	items := make([]gin.H, 0, len(servers))
	for _, s := range servers {
		item := gin.H{
			"server_id":    s.ID,
			"server_name":  s.Name,
			"status":       s.Status,
			"is_active":    s.IsActive,
			"models_count": s.ModelsCount,
		}
		if s.LastCheckedAt != nil {
			item["last_checked_at"] = s.LastCheckedAt
		}
		if s.AvgLatencyMs != nil {
			item["avg_latency_ms"] = *s.AvgLatencyMs
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": items})
}
