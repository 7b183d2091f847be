// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ProjectHandler 负责项目与项目文件的管理接口。
type ProjectHandler struct {
	projectService service.ProjectService
	chatService    service.ChatService
}

// NewProjectHandler 创建一个新的 ProjectHandler 实例。
func NewProjectHandler(projectService service.ProjectService, chatService service.ChatService) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		chatService:    chatService,
	}
}

type createProjectRequest struct {
	Name               string   `json:"name" binding:"required"`
	Description        string   `json:"description"`
	CustomInstructions string   `json:"custom_instructions"`
	DefaultModel       *string  `json:"default_model"`
	Temperature        *float64 `json:"temperature"`
	MaxTokens          *int     `json:"max_tokens"`
}

type updateProjectRequest struct {
	Name               *string  `json:"name"`
	Description        *string  `json:"description"`
	CustomInstructions *string  `json:"custom_instructions"`
	DefaultModel       *string  `json:"default_model"`
	Temperature        *float64 `json:"temperature"`
	MaxTokens          *int     `json:"max_tokens"`
	IsArchived         *bool    `json:"is_archived"`
}

type addFileRequest struct {
	Filename string `json:"filename" binding:"required"`
	FileType string `json:"file_type"`
	Content  string `json:"content"`
}

// CreateProject 处理创建项目的请求。
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	project, err := h.projectService.CreateProject(service.CreateProjectInput{
		Name:               req.Name,
		Description:        req.Description,
		CustomInstructions: req.CustomInstructions,
		DefaultModel:       req.DefaultModel,
		Temperature:        req.Temperature,
		MaxTokens:          req.MaxTokens,
	})
	if err != nil {
		log.Error("CreateProject: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建项目失败", "data": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "项目创建成功", "data": project})
}

// ListProjects 处理获取项目列表的请求。
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	offset, limit := pagination(c)
	archived := boolFilter(c, "archived")

	projects, total, err := h.projectService.ListProjects(archived, offset, limit)
	if err != nil {
		log.Error("ListProjects: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取项目列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"items": projects, "total": total},
	})
}

// GetProject 处理获取项目详情的请求。
func (h *ProjectHandler) GetProject(c *gin.Context) {
	project, err := h.projectService.GetProject(c.Param("projectId"))
	if errors.Is(err, service.ErrProjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "项目不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("GetProject: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取项目失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": project})
}

// UpdateProject 处理更新项目的请求。
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	project, err := h.projectService.UpdateProject(c.Param("projectId"), service.UpdateProjectInput{
		Name:               req.Name,
		Description:        req.Description,
		CustomInstructions: req.CustomInstructions,
		DefaultModel:       req.DefaultModel,
		Temperature:        req.Temperature,
		MaxTokens:          req.MaxTokens,
		IsArchived:         req.IsArchived,
	})
	if errors.Is(err, service.ErrProjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "项目不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("UpdateProject: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "更新项目失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "项目更新成功", "data": project})
}

// DeleteProject 处理删除项目的请求。
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	err := h.projectService.DeleteProject(c.Param("projectId"))
	if errors.Is(err, service.ErrProjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "项目不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("DeleteProject: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除项目失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "项目删除成功", "data": nil})
}

// ListProjectChats 处理获取项目下对话列表的请求。
func (h *ProjectHandler) ListProjectChats(c *gin.Context) {
	projectID := c.Param("projectId")
	if _, err := h.projectService.GetProject(projectID); errors.Is(err, service.ErrProjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "项目不存在", "data": nil})
		return
	} else if err != nil {
		log.Error("ListProjectChats: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取项目失败", "data": nil})
		return
	}

	offset, limit := pagination(c)
	archived := boolFilter(c, "archived")
	chats, total, err := h.chatService.ListChats(&projectID, archived, offset, limit)
	if err != nil {
		log.Error("ListProjectChats: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取对话列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"items": chats, "total": total},
	})
}

// AddFile 处理向项目添加文本文件的请求。
func (h *ProjectHandler) AddFile(c *gin.Context) {
	var req addFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求参数", "data": nil})
		return
	}

	file, err := h.projectService.AddFile(c.Param("projectId"), service.AddFileInput{
		Filename: req.Filename,
		FileType: req.FileType,
		Content:  req.Content,
	})
	if errors.Is(err, service.ErrProjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "项目不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("AddFile: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "添加文件失败", "data": nil})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "文件添加成功", "data": file})
}

// ListFiles 处理获取项目文件列表的请求。
func (h *ProjectHandler) ListFiles(c *gin.Context) {
	files, err := h.projectService.ListFiles(c.Param("projectId"))
	if errors.Is(err, service.ErrProjectNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "项目不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("ListFiles: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取文件列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": files})
}

// GetFile 处理获取单个项目文件的请求。
func (h *ProjectHandler) GetFile(c *gin.Context) {
	file, err := h.projectService.GetFile(c.Param("projectId"), c.Param("fileId"))
	if errors.Is(err, service.ErrFileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文件不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("GetFile: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取文件失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": file})
}

// DeleteFile 处理删除项目文件的请求。
func (h *ProjectHandler) DeleteFile(c *gin.Context) {
	err := h.projectService.DeleteFile(c.Param("projectId"), c.Param("fileId"))
	if errors.Is(err, service.ErrFileNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "文件不存在", "data": nil})
		return
	}
	if err != nil {
		log.Error("DeleteFile: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除文件失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "文件删除成功", "data": nil})
}
