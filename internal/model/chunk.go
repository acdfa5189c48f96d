package model

import "time"

// ContentType 分块内容类型。
type ContentType string

const (
	ContentTypeText    ContentType = "text"
	ContentTypeTable   ContentType = "table"
	ContentTypeImage   ContentType = "image"
	ContentTypeCaption ContentType = "caption"
)

// Modality 向量模态。
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityTable Modality = "table"
)

// Chunk represents an indexed fragment of a document.
// 创建后 ChunkID 与 HierPath 不再变更；富化阶段只追加字段。
type Chunk struct {
	ChunkID           string       `json:"chunkId" gorm:"primaryKey;type:varchar(64)"`
	DocID             string       `json:"docId" gorm:"type:varchar(64);index;not null"`
	HierPath          StringSlice  `json:"hierPath" gorm:"type:text;not null"` // 层级路径，始终非空
	SectionTitle      string       `json:"sectionTitle,omitempty" gorm:"type:varchar(512)"`
	SemanticTitle     string       `json:"semanticTitle,omitempty" gorm:"type:varchar(512)"`
	ContentText       string       `json:"contentText,omitempty" gorm:"type:text"`
	ContentType       ContentType  `json:"contentType" gorm:"type:varchar(16);not null"`
	PageNo            int          `json:"pageNo,omitempty"`
	OffsetStart       int          `json:"offsetStart,omitempty"`
	OffsetEnd         int          `json:"offsetEnd,omitempty"`
	Bbox              Float64Slice `json:"bbox,omitempty" gorm:"type:text"`
	TopicLabels       StringSlice  `json:"topicLabels,omitempty" gorm:"type:text"`
	Topics            StringSlice  `json:"topics,omitempty" gorm:"type:text"`
	SemanticTags      StringSlice  `json:"semanticTags,omitempty" gorm:"type:text"`
	Keywords          StringSlice  `json:"keywords,omitempty" gorm:"type:text"`
	EnvLabels         StringSlice  `json:"envLabels,omitempty" gorm:"type:text"`
	BizEntities       StringSlice  `json:"bizEntities,omitempty" gorm:"type:text"`
	NerEntities       EntityList   `json:"nerEntities,omitempty" gorm:"type:text"`
	ParentSectionID   string       `json:"parentSectionId,omitempty" gorm:"type:varchar(64);index"`
	ParentSectionPath StringSlice  `json:"parentSectionPath,omitempty" gorm:"type:text"`
	ContextSummary    string       `json:"contextSummary,omitempty" gorm:"type:text"`
	QualityScore      float64      `json:"qualityScore,omitempty"`
	CreatedAt         time.Time    `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName specifies the table name for Chunk.
func (Chunk) TableName() string {
	return "kb_chunks"
}

// DocumentSection 文档结构化大纲节点。
type DocumentSection struct {
	SectionID       string      `json:"sectionId" gorm:"primaryKey;type:varchar(64)"`
	DocID           string      `json:"docId" gorm:"type:varchar(64);index;not null"`
	ParentSectionID string      `json:"parentSectionId,omitempty" gorm:"type:varchar(64);index"`
	Title           string      `json:"title" gorm:"type:varchar(512)"`
	Summary         string      `json:"summary,omitempty" gorm:"type:text"`
	Level           int         `json:"level"`
	Path            StringSlice `json:"path,omitempty" gorm:"type:text"`
	OrderNo         int         `json:"order"`
	Tags            StringSlice `json:"tags,omitempty" gorm:"type:text"`
	Keywords        StringSlice `json:"keywords,omitempty" gorm:"type:text"`
	CreatedAt       time.Time   `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName specifies the table name for DocumentSection.
func (DocumentSection) TableName() string {
	return "kb_sections"
}

// Embedding stores the vector for a chunk. Immutable once created.
type Embedding struct {
	EmbID     string       `json:"embId" gorm:"primaryKey;type:varchar(64)"`
	ChunkID   string       `json:"chunkId" gorm:"type:varchar(64);index;not null"`
	DocID     string       `json:"docId" gorm:"type:varchar(64);index;not null"`
	Modality  Modality     `json:"modality" gorm:"type:varchar(16);not null"`
	ModelName string       `json:"modelName" gorm:"type:varchar(128);not null"`
	Vector    Float64Slice `json:"vector" gorm:"type:text;not null"`
	Dim       int          `json:"dim" gorm:"not null"`
	CreatedAt time.Time    `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName specifies the table name for Embedding.
func (Embedding) TableName() string {
	return "kb_embeddings"
}

// AttachmentType 附件类型。
type AttachmentType string

const (
	AttachmentImage      AttachmentType = "image"
	AttachmentTable      AttachmentType = "table"
	AttachmentExcelSheet AttachmentType = "excel_sheet"
	AttachmentSlide      AttachmentType = "slide"
)

// Attachment 文档附属产物（图片预览、表格 JSON 等）。
type Attachment struct {
	AssetID   string         `json:"assetId" gorm:"primaryKey;type:varchar(64)"`
	DocID     string         `json:"docId,omitempty" gorm:"type:varchar(64);index"`
	ChunkID   string         `json:"chunkId,omitempty" gorm:"type:varchar(64);index"`
	AssetType AttachmentType `json:"assetType" gorm:"type:varchar(16);not null"`
	ObjectKey string         `json:"objectKey" gorm:"type:varchar(512);not null"`
	MimeType  string         `json:"mimeType" gorm:"type:varchar(128);not null"`
	PageNo    int            `json:"pageNo,omitempty"`
	Bbox      Float64Slice   `json:"bbox,omitempty" gorm:"type:text"`
	CreatedAt time.Time      `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName specifies the table name for Attachment.
func (Attachment) TableName() string {
	return "kb_attachments"
}

// VectorLogEntry 记录一次向量化/打标调用的审计信息，失败批次也会补记。
// 流水线只写不读。
type VectorLogEntry struct {
	LogID        string    `json:"logId" gorm:"primaryKey;type:varchar(64)"`
	DocID        string    `json:"docId" gorm:"type:varchar(64);index;not null"`
	ChunkID      string    `json:"chunkId,omitempty" gorm:"type:varchar(64);index"`
	ModelRole    ModelRole `json:"modelRole" gorm:"type:varchar(16);not null"`
	Provider     string    `json:"provider,omitempty" gorm:"type:varchar(32)"`
	ModelName    string    `json:"modelName,omitempty" gorm:"type:varchar(128)"`
	Driver       string    `json:"driver,omitempty" gorm:"type:varchar(32)"`
	Status       string    `json:"status" gorm:"type:varchar(16);not null"` // success, failed
	DurationMs   int64     `json:"durationMs,omitempty"`
	VectorDim    int       `json:"vectorDim,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty" gorm:"type:text"`
	CreatedAt    time.Time `json:"createdAt" gorm:"autoCreateTime"`
}

// TableName specifies the table name for VectorLogEntry.
func (VectorLogEntry) TableName() string {
	return "kb_vector_logs"
}

// SemanticMetadata 单个分块的富化载荷，合并进 Chunk。
type SemanticMetadata struct {
	Title             string       `json:"title,omitempty"`
	ContextSummary    string       `json:"contextSummary,omitempty"`
	SemanticTags      []string     `json:"semanticTags,omitempty"`
	Topics            []string     `json:"topics,omitempty"`
	Keywords          []string     `json:"keywords,omitempty"`
	EnvLabels         []string     `json:"envLabels,omitempty"`
	BizEntities       []string     `json:"bizEntities,omitempty"`
	Entities          []Entity     `json:"entities,omitempty"`
	ParentSectionPath []string     `json:"parentSectionPath,omitempty"`
	Confidence        float64      `json:"confidence,omitempty"`
	Source            string       `json:"source,omitempty"` // llm, heuristic, ocr
}

// KnowledgeBundle 一次摄取产出的完整持久化单元。
type KnowledgeBundle struct {
	Document    *Document          `json:"document"`
	Chunks      []*Chunk           `json:"chunks"`
	Sections    []*DocumentSection `json:"sections,omitempty"`
	Embeddings  []*Embedding       `json:"embeddings,omitempty"`
	Attachments []*Attachment      `json:"attachments,omitempty"`
	VectorLogs  []*VectorLogEntry  `json:"vectorLogs,omitempty"`
}
