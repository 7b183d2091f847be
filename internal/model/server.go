package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 推理服务器的观测状态常量。
// IsActive 表达管理员意图，Status 表达探测到的现实，两者相互独立。
const (
	ServerStatusUnknown = "unknown"
	ServerStatusOnline  = "online"
	ServerStatusOffline = "offline"
	ServerStatusError   = "error"
)

// InferenceServer 定义了 inference_servers 表的 ORM 模型。
// 身份字段（名称、地址）由管理员维护，健康字段由健康监控持续刷新。
type InferenceServer struct {
	ID            string     `gorm:"type:char(36);primaryKey" json:"id"`
	Name          string     `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	BaseURL       string     `gorm:"type:varchar(512);not null" json:"baseUrl"`
	Description   string     `gorm:"type:text" json:"description"`
	IsActive      bool       `gorm:"not null;default:true" json:"isActive"`
	Status        string     `gorm:"type:varchar(20);not null;default:'unknown'" json:"status"`
	LastCheckedAt *time.Time `gorm:"default:null" json:"lastCheckedAt"`
	LastError     *string    `gorm:"type:text;default:null" json:"lastError"`
	ModelsCount   int        `gorm:"not null;default:0" json:"modelsCount"`
	AvgLatencyMs  *int64     `gorm:"default:null" json:"avgLatencyMs"` // 指数滑动平均
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (InferenceServer) TableName() string {
	return "inference_servers"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (s *InferenceServer) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// IsUsable 返回该服务器当前是否可被路由选择（管理员启用且探测在线）。
func (s *InferenceServer) IsUsable() bool {
	return s.IsActive && s.Status == ServerStatusOnline
}
