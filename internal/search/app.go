package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/kart-io/logger"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/internal/pkg/kb/modelrole"
	"github.com/kart-io/knowbase/internal/search/biz"
	"github.com/kart-io/knowbase/internal/search/handler"
	"github.com/kart-io/knowbase/internal/search/router"
	searchstore "github.com/kart-io/knowbase/internal/search/store"
	wstore "github.com/kart-io/knowbase/internal/worker/store"
	"github.com/kart-io/knowbase/pkg/app"
	"github.com/kart-io/knowbase/pkg/component/milvus"
	"github.com/kart-io/knowbase/pkg/component/postgres"
	"github.com/kart-io/knowbase/pkg/llm"
	"github.com/kart-io/knowbase/pkg/vector"

	// 注册模型供应商工厂
	_ "github.com/kart-io/knowbase/pkg/llm/deepseek"
	_ "github.com/kart-io/knowbase/pkg/llm/gemini"
	_ "github.com/kart-io/knowbase/pkg/llm/huggingface"
	_ "github.com/kart-io/knowbase/pkg/llm/ollama"
	_ "github.com/kart-io/knowbase/pkg/llm/openai"
	_ "github.com/kart-io/knowbase/pkg/llm/siliconflow"
)

const (
	appName        = "knowbase-apiserver"
	appDescription = `KnowBase Search API Server

The retrieval API server for the KnowBase knowledge platform.

It serves hybrid (vector + lexical + structural) search over indexed
chunks, document ingestion status, vector call logs, and chunk
topic-label / metadata patch operations.`
)

// NewApp creates a new API server application instance.
func NewApp() *app.App {
	opts := NewOptions()

	return app.NewApp(
		app.WithName(appName),
		app.WithShortDescription("KnowBase search API server"),
		app.WithDescription(appDescription),
		app.WithOptions(opts),
		app.WithRunFunc(func() error {
			return Run(opts)
		}),
	)
}

// Run runs the API server with the given options.
func Run(opts *Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 初始化日志
	opts.Log.AddInitialField("service.name", appName)
	opts.Log.AddInitialField("service.version", app.GetVersion())
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Starting search API server...")

	// 2. 关系库
	pg, err := postgres.New(opts.Postgres)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}
	defer pg.Close()
	factory := wstore.NewFactory(pg.DB())
	logger.Info("Postgres initialized")

	// 3. 向量索引
	milvusClient, err := milvus.New(opts.Milvus)
	if err != nil {
		return fmt.Errorf("failed to initialize milvus: %w", err)
	}
	defer milvusClient.Close(context.Background())
	index := wstore.NewMilvusIndex(milvusClient, opts.Search.Collection)
	logger.Info("Milvus initialized")

	// 4. 模型角色解析，未配置的角色走本地降级
	resolver := modelrole.NewResolver(modelrole.NewGormStore(pg.DB()))
	embedder := resolveEmbedder(ctx, resolver)
	transformer, semantic := resolveRerankers(ctx, resolver, opts.Search.SemanticBlend)

	// 5. 检索器
	source := searchstore.NewGormCandidateSource(pg.DB(), index)
	retriever := biz.NewRetriever(source, embedder, vector.NewFallbackClient(0), transformer, semantic, biz.RetrieverConfig{
		Weights:       biz.DefaultScoreWeights(),
		SemanticBlend: opts.Search.SemanticBlend,
	})
	logger.Info("Hybrid retriever initialized")

	// 6. HTTP 服务
	searchHandler := handler.NewSearchHandler(retriever, factory)
	srv := &http.Server{
		Addr:         opts.HTTP.Addr,
		Handler:      router.New(searchHandler),
		ReadTimeout:  opts.HTTP.ReadTimeout,
		WriteTimeout: opts.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", opts.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	// 7. 优雅退出
	logger.Info("Shutting down search API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	logger.Info("Search API server stopped")
	return nil
}

// resolveEmbedder 解析查询侧向量化模型，未配置或 local 时使用确定性降级实现。
func resolveEmbedder(ctx context.Context, resolver *modelrole.Resolver) llm.EmbeddingProvider {
	provider, setting, err := resolver.EmbeddingProvider(ctx, "", "", model.RoleEmbedding)
	switch {
	case errors.Is(err, modelrole.ErrNotConfigured):
		logger.Info("Embedding role not configured, using local fallback")
	case err != nil:
		logger.Warnw("Embedding role resolution failed, using local fallback", "error", err.Error())
	case provider == nil:
		logger.Infow("Embedding role is local, using local fallback", "model", setting.ModelName)
	default:
		logger.Infow("Embedding provider resolved", "provider", setting.Provider, "model", setting.ModelName)
		return provider
	}
	return localEmbedder{client: vector.NewFallbackClient(0)}
}

// resolveRerankers 解析重排角色模型，返回查询改写器与语义重排器，未配置时均为 nil。
func resolveRerankers(ctx context.Context, resolver *modelrole.Resolver, blend float64) (*biz.QueryTransformer, *biz.SemanticReranker) {
	provider, setting, err := resolver.ChatProvider(ctx, "", "", model.RoleRerank)
	switch {
	case errors.Is(err, modelrole.ErrNotConfigured):
		logger.Info("Rerank role not configured, semantic rerank disabled")
		return nil, nil
	case err != nil:
		logger.Warnw("Rerank role resolution failed, semantic rerank disabled", "error", err.Error())
		return nil, nil
	case provider == nil:
		logger.Info("Rerank role is local, semantic rerank disabled")
		return nil, nil
	}
	logger.Infow("Rerank provider resolved", "provider", setting.Provider, "model", setting.ModelName)
	return biz.NewQueryTransformer(provider), biz.NewSemanticReranker(provider, blend)
}

// localEmbedder 将确定性降级向量客户端适配为 EmbeddingProvider。
type localEmbedder struct {
	client *vector.FallbackClient
}

func (e localEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	raw, err := e.client.EmbedText(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(raw))
	for i, vec := range raw {
		out[i] = toFloat32(vec)
	}
	return out, nil
}

func (e localEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	raw, err := e.client.EmbedText(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("本地向量化未返回结果")
	}
	return toFloat32(raw[0]), nil
}

func (e localEmbedder) Name() string { return "local" }

var _ llm.EmbeddingProvider = localEmbedder{}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
