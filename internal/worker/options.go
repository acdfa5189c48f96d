// Package worker provides the ingestion worker application.
package worker

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	pgopts "github.com/kart-io/knowbase/pkg/component/postgres"
	logopts "github.com/kart-io/knowbase/pkg/options/logger"
	milvusopts "github.com/kart-io/knowbase/pkg/options/milvus"
	redisopts "github.com/kart-io/knowbase/pkg/options/redis"
)

// Options contains all ingestion worker options.
type Options struct {
	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Postgres contains relational database configuration.
	Postgres *pgopts.Options `json:"postgres" mapstructure:"postgres"`

	// Redis contains queue/cache backend configuration.
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`

	// Milvus contains vector index configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// Ingest contains pipeline-specific configuration.
	Ingest *IngestOptions `json:"ingest" mapstructure:"ingest"`
}

// IngestOptions 摄取流水线配置。
type IngestOptions struct {
	// Queue 队列实现（redis, memory）。
	Queue string `json:"queue" mapstructure:"queue"`

	// Consumer 当前 worker 在消费组中的标识。
	Consumer string `json:"consumer" mapstructure:"consumer"`

	// MaxRetries 任务重投上限。
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// DataDir 对象存储根目录。
	DataDir string `json:"data-dir" mapstructure:"data-dir"`

	// Collection 向量索引集合名。
	Collection string `json:"collection" mapstructure:"collection"`

	// ChunkMaxTokens 分块 token 上限。
	ChunkMaxTokens int `json:"chunk-max-tokens" mapstructure:"chunk-max-tokens"`

	// MetadataLimit 单文档参与元数据富化的分块数上限，0 表示不限。
	MetadataLimit int `json:"metadata-limit" mapstructure:"metadata-limit"`

	// OCREnabled 是否允许 PDF 的 OCR 回退。
	OCREnabled bool `json:"ocr-enabled" mapstructure:"ocr-enabled"`

	// OCREndpoint 外部 OCR 服务地址，空则禁用 OCR。
	OCREndpoint string `json:"ocr-endpoint" mapstructure:"ocr-endpoint"`

	// OCRTimeout OCR 请求超时。
	OCRTimeout time.Duration `json:"ocr-timeout" mapstructure:"ocr-timeout"`

	// EmbedCacheEnabled 是否启用向量结果缓存（依赖 Redis）。
	EmbedCacheEnabled bool `json:"embed-cache-enabled" mapstructure:"embed-cache-enabled"`

	// EmbedCacheTTL 向量缓存过期时间。
	EmbedCacheTTL time.Duration `json:"embed-cache-ttl" mapstructure:"embed-cache-ttl"`
}

// NewIngestOptions 创建默认摄取配置。
func NewIngestOptions() *IngestOptions {
	return &IngestOptions{
		Queue:             "redis",
		Consumer:          "worker-1",
		MaxRetries:        3,
		DataDir:           "_output/kb-data",
		Collection:        "kb_chunk_vectors",
		ChunkMaxTokens:    512,
		OCREnabled:        true,
		OCRTimeout:        60 * time.Second,
		EmbedCacheEnabled: true,
		EmbedCacheTTL:     24 * time.Hour,
	}
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Log:      logopts.NewOptions(),
		Postgres: pgopts.NewOptions(),
		Redis:    redisopts.NewOptions(),
		Milvus:   milvusopts.NewOptions(),
		Ingest:   NewIngestOptions(),
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.Postgres.AddFlags(fs, "")
	o.Redis.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.addIngestFlags(fs)
}

func (o *Options) addIngestFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Ingest.Queue, "ingest.queue", o.Ingest.Queue, "Task queue backend (redis, memory)")
	fs.StringVar(&o.Ingest.Consumer, "ingest.consumer", o.Ingest.Consumer, "Consumer name within the queue group")
	fs.IntVar(&o.Ingest.MaxRetries, "ingest.max-retries", o.Ingest.MaxRetries, "Task redelivery limit")
	fs.StringVar(&o.Ingest.DataDir, "ingest.data-dir", o.Ingest.DataDir, "Object storage root directory")
	fs.StringVar(&o.Ingest.Collection, "ingest.collection", o.Ingest.Collection, "Vector index collection name")
	fs.IntVar(&o.Ingest.ChunkMaxTokens, "ingest.chunk-max-tokens", o.Ingest.ChunkMaxTokens, "Token budget per chunk")
	fs.IntVar(&o.Ingest.MetadataLimit, "ingest.metadata-limit", o.Ingest.MetadataLimit, "Max chunks enriched with metadata per document (0 = unlimited)")
	fs.BoolVar(&o.Ingest.OCREnabled, "ingest.ocr-enabled", o.Ingest.OCREnabled, "Enable OCR fallback for PDF documents")
	fs.StringVar(&o.Ingest.OCREndpoint, "ingest.ocr-endpoint", o.Ingest.OCREndpoint, "External OCR service endpoint")
	fs.DurationVar(&o.Ingest.OCRTimeout, "ingest.ocr-timeout", o.Ingest.OCRTimeout, "OCR request timeout")
	fs.BoolVar(&o.Ingest.EmbedCacheEnabled, "ingest.embed-cache-enabled", o.Ingest.EmbedCacheEnabled, "Cache embedding results in Redis")
	fs.DurationVar(&o.Ingest.EmbedCacheTTL, "ingest.embed-cache-ttl", o.Ingest.EmbedCacheTTL, "Embedding cache TTL")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if err := o.Postgres.Validate(); err != nil {
		return err
	}
	if err := o.Redis.Validate(); err != nil {
		return err
	}
	if errs := o.Milvus.Validate(); len(errs) > 0 {
		return errs[0]
	}
	switch o.Ingest.Queue {
	case "redis", "memory":
	default:
		return fmt.Errorf("ingest.queue must be redis or memory, got %q", o.Ingest.Queue)
	}
	if o.Ingest.MaxRetries < 0 {
		return fmt.Errorf("ingest.max-retries must not be negative")
	}
	if o.Ingest.ChunkMaxTokens <= 0 {
		return fmt.Errorf("ingest.chunk-max-tokens must be positive")
	}
	if o.Ingest.MetadataLimit < 0 {
		return fmt.Errorf("ingest.metadata-limit must not be negative")
	}
	if o.Ingest.DataDir == "" {
		return fmt.Errorf("ingest.data-dir is required")
	}
	return nil
}

// Complete completes the options.
func (o *Options) Complete() error {
	return o.Postgres.Complete()
}
