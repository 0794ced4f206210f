// Package objectstore хранит документы заказов (счета) в S3-совместимом хранилище.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/coffee-oms/internal/domain"
)

// S3Config описывает подключение к приватному бакету счетов.
type S3Config struct {
	// Endpoint пустой для AWS; для B2/MinIO: базовый URL сервиса.
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

type putAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store реализует domain.ObjectStore поверх aws-sdk-go-v2.
type S3Store struct {
	client    putAPI
	presigner presignAPI
	bucket    string
	logger    *log.Entry
}

// NewS3Store загружает AWS-конфигурацию и создаёт клиента бакета.
func NewS3Store(ctx context.Context, cfg S3Config, logger *log.Entry) (*S3Store, error) {
	if logger == nil {
		logger = log.WithField("component", "s3-object-store")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.WithFields(log.Fields{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	}).Info("s3 object store initialised")

	return newS3Store(client, s3.NewPresignClient(client), cfg.Bucket, logger), nil
}

func newS3Store(client putAPI, presigner presignAPI, bucket string, logger *log.Entry) *S3Store {
	return &S3Store{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		logger:    logger,
	}
}

// Put загружает объект; повторная загрузка по тому же ключу перезаписывает его.
func (s *S3Store) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	s.logger.WithFields(log.Fields{"key": key, "bytes": len(body)}).Debug("object stored")
	return key, nil
}

// SignedURL возвращает presigned GET-ссылку с ограниченным сроком жизни.
func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return req.URL, nil
}

var _ domain.ObjectStore = (*S3Store)(nil)
