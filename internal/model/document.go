// Package model provides data models for the KnowBase platform.
package model

import (
	"time"
)

// DocumentStatus 文档摄取状态。只允许单向推进：
// uploaded → parsed → indexed，任意非终态可进入 failed。
// 阶段级时间线记录在 StatusMeta 中。
type DocumentStatus string

const (
	StatusUploaded DocumentStatus = "uploaded"
	StatusParsed   DocumentStatus = "parsed"
	StatusIndexed  DocumentStatus = "indexed"
	StatusFailed   DocumentStatus = "failed"
)

// Document represents a document in the knowledge base.
type Document struct {
	DocID        string         `json:"docId" gorm:"primaryKey;type:varchar(64)"`
	TenantID     string         `json:"tenantId" gorm:"type:varchar(64);not null;index;default:'default'"`
	LibraryID    string         `json:"libraryId,omitempty" gorm:"type:varchar(64);index"`
	Title        string         `json:"title" gorm:"type:varchar(512);not null"`
	SourceURI    string         `json:"sourceUri,omitempty" gorm:"type:varchar(1024)"`
	MimeType     string         `json:"mimeType,omitempty" gorm:"type:varchar(128)"`
	Language     string         `json:"language,omitempty" gorm:"type:varchar(16)"`
	Checksum     string         `json:"checksum,omitempty" gorm:"type:varchar(128);index"` // Content hash for deduplication
	SizeBytes    int64          `json:"sizeBytes,omitempty"`
	IngestStatus DocumentStatus `json:"ingestStatus" gorm:"type:varchar(32);not null;default:'uploaded';index"`
	ErrorMessage string         `json:"errorMessage,omitempty" gorm:"type:text"`
	StatusMeta   JSONMap        `json:"statusMeta,omitempty" gorm:"type:text"` // 阶段时间线
	Tags         StringSlice    `json:"tags,omitempty" gorm:"type:text"`
	CreatedAt    time.Time      `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt    time.Time      `json:"updatedAt" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Document.
func (Document) TableName() string {
	return "kb_documents"
}

// IngestionTask 摄取队列消息。
type IngestionTask struct {
	JobID      string `json:"jobId"`
	DocID      string `json:"docId"`
	TenantID   string `json:"tenantId"`
	LibraryID  string `json:"libraryId,omitempty"`
	Priority   int    `json:"priority"`
	RetryCount int    `json:"retryCount"`
	TraceID    string `json:"traceId,omitempty"`
}
