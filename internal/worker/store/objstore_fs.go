package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSObjectStore 基于本地文件系统的对象存储实现。
// key 采用 {tenant}/{doc}/... 的层级路径，映射为 root 下的相对路径。
type FSObjectStore struct {
	root string
}

// NewFSObjectStore 创建文件系统对象存储，root 不存在时自动创建。
func NewFSObjectStore(root string) (*FSObjectStore, error) {
	if root == "" {
		return nil, fmt.Errorf("对象存储根目录不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("创建对象存储根目录失败: %w", err)
	}
	return &FSObjectStore{root: root}, nil
}

// Put implements ObjectStore.
func (s *FSObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建对象目录失败: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入对象失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("写入对象失败: %w", err)
	}
	return nil
}

// Get implements ObjectStore.
func (s *FSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取对象失败: %w", err)
	}
	return data, nil
}

// Exists implements ObjectStore.
func (s *FSObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PutPreview implements ObjectStore. 预览对象与普通对象同一布局。
func (s *FSObjectStore) PutPreview(ctx context.Context, key string, data []byte, contentType string) error {
	return s.Put(ctx, key, data, contentType)
}

// DeletePreviewPrefix implements ObjectStore.
func (s *FSObjectStore) DeletePreviewPrefix(ctx context.Context, prefix string) error {
	path, err := s.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("删除预览前缀失败: %w", err)
	}
	return nil
}

// resolve 将 key 映射为 root 下的绝对路径并拒绝越界访问。
func (s *FSObjectStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("对象 key 不能为空")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("非法对象 key: %s", key)
	}
	return filepath.Join(s.root, clean), nil
}

var _ ObjectStore = (*FSObjectStore)(nil)
