package repository

import (
	"ollama-chat-go/internal/model"

	"gorm.io/gorm"
)

// ProjectRepository 接口定义了项目及项目文件的持久化操作。
type ProjectRepository interface {
	Create(project *model.Project) error
	FindByID(projectID string) (*model.Project, error)
	FindByIDWithDetails(projectID string) (*model.Project, error)
	FindWithPagination(archived *bool, offset, limit int) ([]model.Project, int64, error)
	Update(project *model.Project) error
	Delete(projectID string) error

	CreateFile(file *model.ProjectFile) error
	FindFileByID(fileID string) (*model.ProjectFile, error)
	FindFilesByProjectID(projectID string) ([]model.ProjectFile, error)
	FindFilesByIDs(fileIDs []string) ([]model.ProjectFile, error)
	DeleteFile(fileID string) error
}

// projectRepository 是 ProjectRepository 接口的 GORM 实现。
type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建一个新的 ProjectRepository 实例。
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

// Create 在数据库中创建一个新的项目记录。
func (r *projectRepository) Create(project *model.Project) error {
	return r.db.Create(project).Error
}

// FindByID 根据 ID 查找一个项目。
func (r *projectRepository) FindByID(projectID string) (*model.Project, error) {
	var project model.Project
	err := r.db.First(&project, "id = ?", projectID).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// FindByIDWithDetails 根据 ID 查找项目并预加载文件与对话。
func (r *projectRepository) FindByIDWithDetails(projectID string) (*model.Project, error) {
	var project model.Project
	err := r.db.Preload("Files", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	}).Preload("Chats").First(&project, "id = ?", projectID).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// FindWithPagination 分页检索项目，可按归档状态过滤。
func (r *projectRepository) FindWithPagination(archived *bool, offset, limit int) ([]model.Project, int64, error) {
	var projects []model.Project
	var total int64

	db := r.db.Model(&model.Project{})
	if archived != nil {
		db = db.Where("is_archived = ?", *archived)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := db.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&projects).Error
	if err != nil {
		return nil, 0, err
	}

	return projects, total, nil
}

// Update 更新数据库中一个已存在的项目记录。
func (r *projectRepository) Update(project *model.Project) error {
	return r.db.Save(project).Error
}

// Delete 删除一个项目及其文件和对话（由外键级联完成）。
func (r *projectRepository) Delete(projectID string) error {
	return r.db.Delete(&model.Project{}, "id = ?", projectID).Error
}

// CreateFile 在数据库中创建一条项目文件记录。
func (r *projectRepository) CreateFile(file *model.ProjectFile) error {
	return r.db.Create(file).Error
}

// FindFileByID 根据 ID 查找一个项目文件。
func (r *projectRepository) FindFileByID(fileID string) (*model.ProjectFile, error) {
	var file model.ProjectFile
	err := r.db.First(&file, "id = ?", fileID).Error
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// FindFilesByProjectID 按创建时间升序检索某个项目的全部文件。
func (r *projectRepository) FindFilesByProjectID(projectID string) ([]model.ProjectFile, error) {
	var files []model.ProjectFile
	err := r.db.Where("project_id = ?", projectID).Order("created_at ASC").Find(&files).Error
	return files, err
}

// FindFilesByIDs 按 ID 列表检索项目文件，保持创建时间升序。
func (r *projectRepository) FindFilesByIDs(fileIDs []string) ([]model.ProjectFile, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	var files []model.ProjectFile
	err := r.db.Where("id IN ?", fileIDs).Order("created_at ASC").Find(&files).Error
	return files, err
}

// DeleteFile 删除一条项目文件记录。
func (r *projectRepository) DeleteFile(fileID string) error {
	return r.db.Delete(&model.ProjectFile{}, "id = ?", fileID).Error
}
