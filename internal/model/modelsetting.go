package model

import "time"

// ModelRole 模型在流水线中的用途。
type ModelRole string

const (
	RoleEmbedding ModelRole = "embedding"
	RoleTagging   ModelRole = "tagging"
	RoleMetadata  ModelRole = "metadata"
	RoleOCR       ModelRole = "ocr"
	RoleRerank    ModelRole = "rerank"
	RoleStructure ModelRole = "structure"
)

// ModelSetting 按租户/知识库配置某个角色使用的模型。
// 解析顺序：知识库级 → 租户级 → 默认租户。
type ModelSetting struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	TenantID  string    `json:"tenantId" gorm:"type:varchar(64);index:idx_ms_scope;not null"`
	LibraryID string    `json:"libraryId" gorm:"type:varchar(64);index:idx_ms_scope"` // 空表示租户级默认
	Role      ModelRole `json:"role" gorm:"type:varchar(16);index:idx_ms_scope;not null"`
	Provider  string    `json:"provider" gorm:"type:varchar(32);not null"` // ollama, openai, local, remote
	ModelName string    `json:"modelName" gorm:"type:varchar(128);not null"`
	Endpoint  string    `json:"endpoint,omitempty" gorm:"type:varchar(512)"`
	APIKey    string    `json:"-" gorm:"type:varchar(256)"`
	Dim       int       `json:"dim,omitempty"`
	Enabled   bool      `json:"enabled" gorm:"default:true"`
	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ModelSetting.
func (ModelSetting) TableName() string {
	return "kb_model_settings"
}
