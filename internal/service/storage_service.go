package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"edulearn_backend/internal/config"
	"edulearn_backend/internal/util"
)

// StorageService 学习材料附件存储，支持本地目录与 MinIO 两种后端
type StorageService struct {
	cfg    config.StorageConfig
	client *minio.Client
}

func NewStorageService(cfg config.StorageConfig) (*StorageService, error) {
	s := &StorageService{cfg: cfg}
	if cfg.Type == "minio" {
		client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
			Secure: cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		s.client = client
	}
	return s, nil
}

// SaveMaterialContent 保存材料内容，返回可写进 materials.content_url 的地址
func (s *StorageService) SaveMaterialContent(ctx context.Context, materialID uint, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	objectName := fmt.Sprintf("materials/%d/%s", materialID, filepath.Base(filename))

	if s.client != nil {
		_, err := s.client.PutObject(ctx, s.cfg.MinioBucket, objectName, reader, size, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("minio://%s/%s", s.cfg.MinioBucket, objectName), nil
	}

	localPath := filepath.Join(s.cfg.LocalPath, objectName)
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", err
	}
	f, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		return "", err
	}
	return localPath, nil
}

// PresignedURL 生成材料的临时下载地址。本地后端直接返回路径
func (s *StorageService) PresignedURL(ctx context.Context, contentURL string, expiry time.Duration) (string, error) {
	if s.client == nil {
		return contentURL, nil
	}
	prefix := fmt.Sprintf("minio://%s/", s.cfg.MinioBucket)
	if !strings.HasPrefix(contentURL, prefix) {
		return "", util.ValidationError("unsupported content url %q", contentURL)
	}
	object := strings.TrimPrefix(contentURL, prefix)

	u, err := s.client.PresignedGetObject(ctx, s.cfg.MinioBucket, object, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
