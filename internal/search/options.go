// Package search provides the retrieval API server application.
package search

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	pgopts "github.com/kart-io/knowbase/pkg/component/postgres"
	logopts "github.com/kart-io/knowbase/pkg/options/logger"
	milvusopts "github.com/kart-io/knowbase/pkg/options/milvus"
)

// Options contains all search API server options.
type Options struct {
	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Postgres contains relational database configuration.
	Postgres *pgopts.Options `json:"postgres" mapstructure:"postgres"`

	// Milvus contains vector index configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// HTTP contains HTTP server configuration.
	HTTP *HTTPOptions `json:"http" mapstructure:"http"`

	// Search contains retrieval configuration.
	Search *SearchOptions `json:"search" mapstructure:"search"`
}

// HTTPOptions HTTP 服务配置。
type HTTPOptions struct {
	// Addr 监听地址。
	Addr string `json:"addr" mapstructure:"addr"`

	// ReadTimeout 请求读超时。
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`

	// WriteTimeout 响应写超时。
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`

	// ShutdownTimeout 优雅退出等待时间。
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// SearchOptions 检索配置。
type SearchOptions struct {
	// Collection 向量索引集合名。
	Collection string `json:"collection" mapstructure:"collection"`

	// SemanticBlend 语义重排混合权重，0 关闭语义重排。
	SemanticBlend float64 `json:"semantic-blend" mapstructure:"semantic-blend"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Log:      logopts.NewOptions(),
		Postgres: pgopts.NewOptions(),
		Milvus:   milvusopts.NewOptions(),
		HTTP: &HTTPOptions{
			Addr:            ":8081",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Search: &SearchOptions{
			Collection:    "kb_chunk_vectors",
			SemanticBlend: 0.3,
		},
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.Postgres.AddFlags(fs, "")
	o.Milvus.AddFlags(fs)

	fs.StringVar(&o.HTTP.Addr, "http.addr", o.HTTP.Addr, "HTTP listen address")
	fs.DurationVar(&o.HTTP.ReadTimeout, "http.read-timeout", o.HTTP.ReadTimeout, "HTTP read timeout")
	fs.DurationVar(&o.HTTP.WriteTimeout, "http.write-timeout", o.HTTP.WriteTimeout, "HTTP write timeout")
	fs.DurationVar(&o.HTTP.ShutdownTimeout, "http.shutdown-timeout", o.HTTP.ShutdownTimeout, "Graceful shutdown timeout")

	fs.StringVar(&o.Search.Collection, "search.collection", o.Search.Collection, "Vector index collection name")
	fs.Float64Var(&o.Search.SemanticBlend, "search.semantic-blend", o.Search.SemanticBlend, "Semantic rerank blend weight (0 disables)")
}

// Validate validates the options.
func (o *Options) Validate() error {
	if err := o.Log.Validate(); err != nil {
		return err
	}
	if err := o.Postgres.Validate(); err != nil {
		return err
	}
	if errs := o.Milvus.Validate(); len(errs) > 0 {
		return errs[0]
	}
	if o.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if o.Search.SemanticBlend < 0 || o.Search.SemanticBlend > 1 {
		return fmt.Errorf("search.semantic-blend must be within [0,1], got %v", o.Search.SemanticBlend)
	}
	return nil
}

// Complete completes the options.
func (o *Options) Complete() error {
	return o.Postgres.Complete()
}
