package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project 定义了 projects 表的 ORM 模型，代表一组相关对话及其共享上下文。
type Project struct {
	ID                 string    `gorm:"type:char(36);primaryKey" json:"id"`
	Name               string    `gorm:"type:varchar(255);not null" json:"name"`
	Description        string    `gorm:"type:text" json:"description"`
	CustomInstructions string    `gorm:"type:text" json:"customInstructions"`
	DefaultModel       *string   `gorm:"type:varchar(100)" json:"defaultModel"`
	Temperature        *float64  `json:"temperature"`
	MaxTokens          *int      `json:"maxTokens"`
	IsArchived         bool      `gorm:"not null;default:false" json:"isArchived"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updatedAt"`

	Chats []Chat        `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"chats,omitempty"`
	Files []ProjectFile `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"files,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Project) TableName() string {
	return "projects"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ProjectFile 定义了 project_files 表的 ORM 模型。
// 文件内容为纯文本并随行存储，创建后除删除外不可变。
type ProjectFile struct {
	ID        string    `gorm:"type:char(36);primaryKey" json:"id"`
	ProjectID string    `gorm:"type:char(36);not null;index" json:"projectId"`
	Filename  string    `gorm:"type:varchar(255);not null" json:"filename"`
	FileType  string    `gorm:"type:varchar(20);not null" json:"fileType"`
	Content   string    `gorm:"type:longtext" json:"content"`
	FileSize  int       `gorm:"not null" json:"fileSize"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ProjectFile) TableName() string {
	return "project_files"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (f *ProjectFile) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
