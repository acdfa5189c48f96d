package worker

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowbase/internal/pkg/kb/modelrole"
	"github.com/kart-io/knowbase/internal/pkg/kb/parsing"
	"github.com/kart-io/knowbase/internal/worker/biz"
	"github.com/kart-io/knowbase/internal/worker/store"
	"github.com/kart-io/knowbase/pkg/app"
	"github.com/kart-io/knowbase/pkg/component/milvus"
	"github.com/kart-io/knowbase/pkg/component/postgres"
	"github.com/kart-io/knowbase/pkg/component/redis"
	"github.com/kart-io/knowbase/pkg/llm"

	// 注册模型供应商工厂
	_ "github.com/kart-io/knowbase/pkg/llm/deepseek"
	_ "github.com/kart-io/knowbase/pkg/llm/gemini"
	_ "github.com/kart-io/knowbase/pkg/llm/huggingface"
	_ "github.com/kart-io/knowbase/pkg/llm/ollama"
	_ "github.com/kart-io/knowbase/pkg/llm/openai"
	_ "github.com/kart-io/knowbase/pkg/llm/siliconflow"
)

const (
	appName        = "knowbase-worker"
	appDescription = `KnowBase Ingestion Worker

The document ingestion worker for the KnowBase knowledge platform.

This worker consumes ingestion tasks from the queue and runs the staged
pipeline: parsing (with OCR fallback), preprocessing, hierarchical
chunking, tagging and metadata enrichment, embedding, and persisting
into the relational store and the vector index.`
)

// NewApp creates a new worker application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithShortDescription("KnowBase ingestion worker"),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts)
		}),
	)
}

// Run runs the ingestion worker with the given options.
func Run(opts *Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 初始化日志
	opts.Log.AddInitialField("service.name", appName)
	opts.Log.AddInitialField("service.version", app.GetVersion())
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting ingestion worker...")

	// 2. 关系库
	pg, err := postgres.New(opts.Postgres)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}
	defer pg.Close()
	if err := store.AutoMigrate(pg.DB()); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	factory := store.NewFactory(pg.DB())
	logger.Info("Postgres initialized")

	// 3. 向量索引
	milvusClient, err := milvus.New(opts.Milvus)
	if err != nil {
		return fmt.Errorf("failed to initialize milvus: %w", err)
	}
	defer milvusClient.Close(context.Background())
	index := store.NewMilvusIndex(milvusClient, opts.Ingest.Collection)
	logger.Info("Milvus initialized")

	// 4. 队列
	var queue store.Queue
	var redisClient *redis.Client
	if opts.Ingest.Queue == "redis" || opts.Ingest.EmbedCacheEnabled {
		redisClient, err = redis.New(opts.Redis)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisClient.Close()
	}
	if opts.Ingest.Queue == "redis" {
		queue = store.NewRedisQueue(redisClient.Client(), opts.Ingest.Consumer, opts.Ingest.MaxRetries)
	} else {
		queue = store.NewMemoryQueue(0, opts.Ingest.MaxRetries)
	}
	defer queue.Close()
	logger.Infow("Queue initialized", "backend", opts.Ingest.Queue)

	// 5. 对象存储
	objects, err := store.NewFSObjectStore(opts.Ingest.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	// 6. 解析编排：OCR 仅在配置了外部服务时可用
	var ocr parsing.OCRClient
	if opts.Ingest.OCREndpoint != "" {
		ocr = parsing.NewHTTPOCRClient(opts.Ingest.OCREndpoint, opts.Ingest.OCRTimeout)
	}
	extractor := parsing.NewExtractor(nil, ocr, opts.Ingest.OCREnabled && ocr != nil)

	// 7. 流水线
	cfg := biz.PipelineConfig{
		OCREnabled:     opts.Ingest.OCREnabled,
		ChunkMaxTokens: opts.Ingest.ChunkMaxTokens,
		MetadataLimit:  opts.Ingest.MetadataLimit,
	}
	if opts.Ingest.EmbedCacheEnabled && redisClient != nil {
		cacheCfg := llm.DefaultEmbeddingCacheConfig()
		cacheCfg.TTL = opts.Ingest.EmbedCacheTTL
		rdb := redisClient.Client()
		cfg.EmbedCache = func(p llm.EmbeddingProvider) llm.EmbeddingProvider {
			return llm.NewCachedEmbeddingProvider(p, rdb, cacheCfg)
		}
	}
	resolver := modelrole.NewResolver(modelrole.NewGormStore(pg.DB()))
	pipeline := biz.NewPipeline(factory, index, objects, resolver, extractor, cfg)
	logger.Info("Ingestion pipeline initialized")

	// 8. 消费任务直到收到退出信号
	logger.Info("Ingestion worker is ready")
	if err := queue.Consume(ctx, pipeline.HandleTask); err != nil && ctx.Err() == nil {
		return fmt.Errorf("queue consumption stopped: %w", err)
	}
	logger.Info("Ingestion worker stopped")
	return nil
}
