package modelrole

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kart-io/knowbase/internal/model"
)

// GormStore 基于关系库的模型配置读取实现，worker 与 apiserver 共用。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建 GormStore。
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get implements SettingStore.
func (s *GormStore) Get(ctx context.Context, tenantID, libraryID string, role model.ModelRole) (*model.ModelSetting, error) {
	var setting model.ModelSetting
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND library_id = ? AND role = ?", tenantID, libraryID, role).
		First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

var _ SettingStore = (*GormStore)(nil)
