package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"sqlreport/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

const (
	// Типы хранилищ
	StorageTypeNone  = "none"
	StorageTypeLocal = "local"
	StorageTypeS3    = "s3"

	// Настройки retry
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

var (
	// ErrNotFound возвращается, если объекта с таким ключом нет
	ErrNotFound = errors.New("file not found")
	// ErrInvalidKey возвращается ValidateKey для недопустимого ключа
	ErrInvalidKey = errors.New("invalid file key")
)

// Storage интерфейс хранилища архива выгрузок
type Storage interface {
	Save(ctx context.Context, key string, reader io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]FileInfo, error)
	ValidateKey(key string) error
}

// FileInfo информация о файле
type FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// S3Config конфигурация S3 хранилища
type S3Config struct {
	Region         string
	Bucket         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// S3Storage реализация хранилища для AWS S3
type S3Storage struct {
	client *s3.Client
	bucket string
	logger *logrus.Logger
}

// NewS3Storage создает новое S3 хранилище
func NewS3Storage(cfg S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if err := validateS3Config(cfg); err != nil {
		return nil, fmt.Errorf("неверная конфигурация S3: %w", err)
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(),
		awsConfig.WithRegion(cfg.Region),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки AWS конфигурации: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		// Настройка custom endpoint если указан (MinIO и т.п.)
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}, nil
}

// Save сохраняет файл в S3
func (s *S3Storage) Save(ctx context.Context, key string, reader io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   reader,
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения файла в S3: %w", err)
	}
	return nil
}

// Get получает файл из S3
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка получения файла из S3: %w", err)
	}
	return result.Body, nil
}

// Delete удаляет файл из S3
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления файла из S3: %w", err)
	}
	return nil
}

// List возвращает список файлов по префиксу
func (s *S3Storage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
		}
		for _, obj := range page.Contents {
			info := FileInfo{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			files = append(files, info)
		}
	}
	return files, nil
}

// ValidateKey валидирует ключ файла
func (s *S3Storage) ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: ключ файла не может быть пустым", ErrInvalidKey)
	}
	if len(key) > 1024 {
		return fmt.Errorf("%w: ключ файла слишком длинный: %d символов (максимум 1024)", ErrInvalidKey, len(key))
	}
	return nil
}

// validateS3Config валидирует конфигурацию S3
func validateS3Config(cfg S3Config) error {
	if cfg.Region == "" {
		return fmt.Errorf("регион S3 не может быть пустым")
	}
	if cfg.Bucket == "" {
		return fmt.Errorf("bucket S3 не может быть пустым")
	}
	if cfg.AccessKey == "" {
		return fmt.Errorf("access key не может быть пустым")
	}
	if cfg.SecretKey == "" {
		return fmt.Errorf("secret key не может быть пустым")
	}
	return nil
}

// NewStorageFromConfig создает хранилище архива выгрузок из конфигурации.
// Для типа "none" возвращает nil: архив выключен.
func NewStorageFromConfig(cfg config.Config, logger *logrus.Logger) (Storage, error) {
	var (
		storage Storage
		err     error
	)

	if !cfg.ArchiveEnabled() {
		return nil, nil
	}

	switch cfg.Storage.Type {
	case StorageTypeS3:
		storage, err = NewS3Storage(S3Config{
			Region:         cfg.Storage.S3.Region,
			Bucket:         cfg.Storage.S3.Bucket,
			Endpoint:       cfg.Storage.S3.Endpoint,
			AccessKey:      cfg.Storage.S3.AccessKey,
			SecretKey:      cfg.Storage.S3.SecretKey,
			ForcePathStyle: true,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания S3 хранилища: %w", err)
		}
	case StorageTypeLocal:
		storage, err = NewLocalStorage(LocalConfig{
			BasePath:    cfg.Storage.BasePath,
			Permissions: 0755,
			CreateDirs:  true,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания локального хранилища: %w", err)
		}
	default:
		return nil, fmt.Errorf("неподдерживаемый тип хранилища: %s", cfg.Storage.Type)
	}

	return wrapWithMiddleware(storage, logger), nil
}

// wrapWithMiddleware оборачивает хранилище в middleware
func wrapWithMiddleware(storage Storage, logger *logrus.Logger) Storage {
	storage = NewLoggingMiddleware(storage, logger)
	storage = NewRetryMiddleware(storage, DefaultMaxRetries, DefaultRetryDelay, logger)
	storage = NewValidationMiddleware(storage)
	return storage
}
