// Package modelrole 实现模型角色到具体模型配置的解析。
// 同一角色（embedding/tagging/metadata/...）可以在租户级与知识库级
// 分别覆盖，解析顺序固定：知识库级 → 租户级 → 默认租户。
package modelrole

import (
	"context"
	"errors"
	"fmt"

	"github.com/kart-io/knowbase/internal/model"
	"github.com/kart-io/knowbase/pkg/llm"
)

// DefaultTenant 兜底配置所属的租户标识。
const DefaultTenant = "default"

// ProviderLocal 进程内启发式实现，不经过任何远端模型。
const ProviderLocal = "local"

// ErrNotConfigured 角色在所有层级均未配置。
var ErrNotConfigured = errors.New("model role not configured")

// SettingStore 模型配置读取接口。
type SettingStore interface {
	// Get 返回精确匹配 (tenantID, libraryID, role) 的启用配置，
	// 未命中时返回 (nil, nil)。
	Get(ctx context.Context, tenantID, libraryID string, role model.ModelRole) (*model.ModelSetting, error)
}

// Resolver 模型角色解析器。
type Resolver struct {
	store SettingStore
}

// NewResolver 创建解析器。
func NewResolver(store SettingStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve 按 知识库级 → 租户级 → 默认租户 的顺序解析角色配置。
func (r *Resolver) Resolve(ctx context.Context, tenantID, libraryID string, role model.ModelRole) (*model.ModelSetting, error) {
	if tenantID == "" {
		tenantID = DefaultTenant
	}

	lookups := [][2]string{
		{tenantID, libraryID},
		{tenantID, ""},
		{DefaultTenant, ""},
	}

	seen := make(map[[2]string]bool, len(lookups))
	for _, l := range lookups {
		if seen[l] {
			continue
		}
		seen[l] = true

		setting, err := r.store.Get(ctx, l[0], l[1], role)
		if err != nil {
			return nil, fmt.Errorf("查询模型配置失败: %w", err)
		}
		if setting != nil && setting.Enabled {
			return setting, nil
		}
	}

	return nil, fmt.Errorf("%w: role=%s tenant=%s library=%s", ErrNotConfigured, role, tenantID, libraryID)
}

// ChatProvider 解析角色配置并构造 Chat 供应商。
// 配置指向 local 供应商时返回 (nil, setting, nil)，调用方走进程内启发式路径。
func (r *Resolver) ChatProvider(ctx context.Context, tenantID, libraryID string, role model.ModelRole) (llm.ChatProvider, *model.ModelSetting, error) {
	setting, err := r.Resolve(ctx, tenantID, libraryID, role)
	if err != nil {
		return nil, nil, err
	}
	if setting.Provider == ProviderLocal {
		return nil, setting, nil
	}

	provider, err := llm.NewChatProvider(setting.Provider, providerConfig(setting))
	if err != nil {
		return nil, nil, err
	}
	return provider, setting, nil
}

// EmbeddingProvider 解析角色配置并构造 Embedding 供应商。
func (r *Resolver) EmbeddingProvider(ctx context.Context, tenantID, libraryID string, role model.ModelRole) (llm.EmbeddingProvider, *model.ModelSetting, error) {
	setting, err := r.Resolve(ctx, tenantID, libraryID, role)
	if err != nil {
		return nil, nil, err
	}
	if setting.Provider == ProviderLocal {
		return nil, setting, nil
	}

	provider, err := llm.NewEmbeddingProvider(setting.Provider, providerConfig(setting))
	if err != nil {
		return nil, nil, err
	}
	return provider, setting, nil
}

// providerConfig 将模型配置展开为供应商工厂的扁平配置。
func providerConfig(setting *model.ModelSetting) map[string]any {
	cfg := map[string]any{
		"embed_model": setting.ModelName,
		"chat_model":  setting.ModelName,
	}
	if setting.Endpoint != "" {
		cfg["base_url"] = setting.Endpoint
	}
	if setting.APIKey != "" {
		cfg["api_key"] = setting.APIKey
	}
	return cfg
}
