// Package storage 提供了与对象存储服务（如 MinIO）交互的功能，用于归档原始回调负载。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"estate-assist-go/internal/config"
	"estate-assist-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectPutter 是 minio.Client 中归档用到的方法。
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinIOArchiver 把原始回调 JSON 写入 MinIO。
type MinIOArchiver struct {
	client objectPutter
	bucket string
}

// NewMinIOArchiver 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIOArchiver(ctx context.Context, cfg config.MinIOConfig) (*MinIOArchiver, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Infof("MinIO 归档已就绪，存储桶 '%s'", cfg.BucketName)
	return &MinIOArchiver{client: client, bucket: cfg.BucketName}, nil
}

// ObjectName 返回一条回调的归档路径：callbacks/<conversationId>/<messageId>.json。
func ObjectName(conversationID, messageID string) string {
	return path.Join("callbacks", conversationID, messageID+".json")
}

// Archive 写入一条原始回调。
func (a *MinIOArchiver) Archive(ctx context.Context, conversationID, messageID string, raw []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, ObjectName(conversationID, messageID),
		bytes.NewReader(raw), int64(len(raw)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to archive callback %s/%s: %w", conversationID, messageID, err)
	}
	return nil
}

// NoopArchiver 在未启用 MinIO 时使用。
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, string, string, []byte) error { return nil }
