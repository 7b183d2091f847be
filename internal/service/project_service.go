package service

import (
	"errors"
	"fmt"
	"strings"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"

	"gorm.io/gorm"
)

// CreateProjectInput 创建项目的入参。
type CreateProjectInput struct {
	Name               string
	Description        string
	CustomInstructions string
	DefaultModel       *string
	Temperature        *float64
	MaxTokens          *int
}

// UpdateProjectInput 更新项目的入参，nil 字段保持不变。
type UpdateProjectInput struct {
	Name               *string
	Description        *string
	CustomInstructions *string
	DefaultModel       *string
	Temperature        *float64
	MaxTokens          *int
	IsArchived         *bool
}

// AddFileInput 向项目添加文本文件的入参。
type AddFileInput struct {
	Filename string
	FileType string
	Content  string
}

// ProjectService 提供项目与项目文件的管理。
type ProjectService interface {
	CreateProject(in CreateProjectInput) (*model.Project, error)
	GetProject(projectID string) (*model.Project, error)
	ListProjects(archived *bool, offset, limit int) ([]model.Project, int64, error)
	UpdateProject(projectID string, in UpdateProjectInput) (*model.Project, error)
	DeleteProject(projectID string) error

	AddFile(projectID string, in AddFileInput) (*model.ProjectFile, error)
	ListFiles(projectID string) ([]model.ProjectFile, error)
	GetFile(projectID, fileID string) (*model.ProjectFile, error)
	DeleteFile(projectID, fileID string) error
}

type projectService struct {
	projectRepo repository.ProjectRepository
}

// NewProjectService 创建一个新的 ProjectService 实例。
func NewProjectService(projectRepo repository.ProjectRepository) ProjectService {
	return &projectService{projectRepo: projectRepo}
}

func (s *projectService) CreateProject(in CreateProjectInput) (*model.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errors.New("project name is required")
	}
	project := &model.Project{
		Name:               name,
		Description:        in.Description,
		CustomInstructions: in.CustomInstructions,
		DefaultModel:       in.DefaultModel,
		Temperature:        in.Temperature,
		MaxTokens:          in.MaxTokens,
	}
	if err := s.projectRepo.Create(project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

func (s *projectService) GetProject(projectID string) (*model.Project, error) {
	project, err := s.projectRepo.FindByID(projectID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return project, nil
}

func (s *projectService) ListProjects(archived *bool, offset, limit int) ([]model.Project, int64, error) {
	return s.projectRepo.FindWithPagination(archived, offset, limit)
}

func (s *projectService) UpdateProject(projectID string, in UpdateProjectInput) (*model.Project, error) {
	project, err := s.GetProject(projectID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		project.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		project.Description = *in.Description
	}
	if in.CustomInstructions != nil {
		project.CustomInstructions = *in.CustomInstructions
	}
	if in.DefaultModel != nil {
		project.DefaultModel = in.DefaultModel
	}
	if in.Temperature != nil {
		project.Temperature = in.Temperature
	}
	if in.MaxTokens != nil {
		project.MaxTokens = in.MaxTokens
	}
	if in.IsArchived != nil {
		project.IsArchived = *in.IsArchived
	}
	if err := s.projectRepo.Update(project); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return project, nil
}

func (s *projectService) DeleteProject(projectID string) error {
	if _, err := s.GetProject(projectID); err != nil {
		return err
	}
	return s.projectRepo.Delete(projectID)
}

// AddFile 向项目添加一个文本文件，内容全文入库。
func (s *projectService) AddFile(projectID string, in AddFileInput) (*model.ProjectFile, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	filename := strings.TrimSpace(in.Filename)
	if filename == "" {
		return nil, errors.New("filename is required")
	}
	file := &model.ProjectFile{
		ProjectID: projectID,
		Filename:  filename,
		FileType:  in.FileType,
		Content:   in.Content,
		FileSize:  len(in.Content),
	}
	if err := s.projectRepo.CreateFile(file); err != nil {
		return nil, fmt.Errorf("failed to create project file: %w", err)
	}
	return file, nil
}

func (s *projectService) ListFiles(projectID string) ([]model.ProjectFile, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	return s.projectRepo.FindFilesByProjectID(projectID)
}

func (s *projectService) GetFile(projectID, fileID string) (*model.ProjectFile, error) {
	file, err := s.projectRepo.FindFileByID(fileID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project file: %w", err)
	}
	if file.ProjectID != projectID {
		return nil, ErrFileNotFound
	}
	return file, nil
}

func (s *projectService) DeleteFile(projectID, fileID string) error {
	if _, err := s.GetFile(projectID, fileID); err != nil {
		return err
	}
	return s.projectRepo.DeleteFile(fileID)
}
