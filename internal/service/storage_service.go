package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"vetchat_backend/internal/config"
	"vetchat_backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// StorageService 프로필 이미지 등 바이너리 객체 저장. MinIO 버킷 하나를
// 쓰고 시작 시 없으면 만든다.
type StorageService struct {
	client *minio.Client
	cfg    config.StorageConfig
}

func NewStorageService(cfg config.StorageConfig) (*StorageService, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}

	s := &StorageService{client: client, cfg: cfg}
	if err := s.ensureBucket(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StorageService) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.MinioBucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
		return err
	}
	logger.Log.Info("Created storage bucket", zap.String("bucket", s.cfg.MinioBucket))
	return nil
}

// UploadProfileImage 객체 키는 사용자별 경로 + 랜덤 이름. 반환값은 접근 URL.
func (s *StorageService) UploadProfileImage(ctx context.Context, userID string, reader io.Reader, size int64, contentType string) (string, error) {
	ext := ""
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	objectName := fmt.Sprintf("profiles/%s/%s%s", userID, uuid.NewString(), ext)

	_, err := s.client.PutObject(ctx, s.cfg.MinioBucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}

	scheme := "http"
	if s.cfg.MinioUseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.MinioEndpoint, s.cfg.MinioBucket, objectName), nil
}
