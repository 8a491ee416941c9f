package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"digishop/pkg/idgen"
)

// BlobStore 外部文件存储协作方
// 核心只保存 Put 返回的引用字符串，字节本身不落业务库
type BlobStore interface {
	Put(ctx context.Context, data []byte, fileName string) (ref string, err error)
}

// LocalBlobStore 本地磁盘实现
// 单机部署够用；换对象存储时只需换掉这一个实现
type LocalBlobStore struct {
	dir string
}

func NewLocalBlobStore(dir string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %w", err)
	}
	return &LocalBlobStore{dir: dir}, nil
}

func (s *LocalBlobStore) Put(ctx context.Context, data []byte, fileName string) (string, error) {
	// 文件名用雪花ID重写，原始名只留扩展名，防止路径注入
	name := fmt.Sprintf("%d_%s%s",
		idgen.NextID(),
		time.Now().Format("20060102150405"),
		filepath.Ext(fileName),
	)
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("写入文件失败: %w", err)
	}
	return name, nil
}
