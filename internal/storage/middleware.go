package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// LoggingMiddleware добавляет логирование к операциям хранилища
type LoggingMiddleware struct {
	storage Storage
	logger  *logrus.Logger
}

// NewLoggingMiddleware создает новый logging middleware
func NewLoggingMiddleware(storage Storage, logger *logrus.Logger) Storage {
	return &LoggingMiddleware{
		storage: storage,
		logger:  logger,
	}
}

// Save логирует операцию сохранения
func (m *LoggingMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	start := time.Now()
	err := m.storage.Save(ctx, key, reader)
	m.log("save", key, start, err)
	return err
}

// Get логирует операцию получения
func (m *LoggingMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := m.storage.Get(ctx, key)
	m.log("get", key, start, err)
	return reader, err
}

// Delete логирует операцию удаления
func (m *LoggingMiddleware) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := m.storage.Delete(ctx, key)
	m.log("delete", key, start, err)
	return err
}

func (m *LoggingMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	return m.storage.List(ctx, prefix)
}

func (m *LoggingMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}

func (m *LoggingMiddleware) log(operation, key string, start time.Time, err error) {
	logger := m.logger.WithFields(logrus.Fields{
		"operation": operation,
		"key":       key,
		"duration":  time.Since(start),
	})
	if err != nil {
		logger.WithError(err).Error("Ошибка операции с хранилищем")
		return
	}
	logger.Debug("Операция с хранилищем выполнена")
}

// RetryMiddleware повторяет операции хранилища с постоянной задержкой
type RetryMiddleware struct {
	storage    Storage
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Logger
}

// NewRetryMiddleware создает новый retry middleware
func NewRetryMiddleware(storage Storage, maxRetries int, retryDelay time.Duration, logger *logrus.Logger) Storage {
	return &RetryMiddleware{
		storage:    storage,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Save повторяется, только если поток можно перемотать в начало
func (m *RetryMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	seeker, ok := reader.(io.Seeker)
	if !ok {
		return m.storage.Save(ctx, key, reader)
	}
	return m.retryOperation(ctx, "save", func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		return m.storage.Save(ctx, key, reader)
	})
}

// Get выполняет операцию получения с retry
func (m *RetryMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var result io.ReadCloser
	err := m.retryOperation(ctx, "get", func() error {
		var err error
		result, err = m.storage.Get(ctx, key)
		return err
	})
	return result, err
}

// Delete выполняет операцию удаления с retry
func (m *RetryMiddleware) Delete(ctx context.Context, key string) error {
	return m.retryOperation(ctx, "delete", func() error {
		return m.storage.Delete(ctx, key)
	})
}

// List выполняет получение списка с retry
func (m *RetryMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	err := m.retryOperation(ctx, "list", func() error {
		var err error
		files, err = m.storage.List(ctx, prefix)
		return err
	})
	return files, err
}

func (m *RetryMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}

// retryOperation выполняет операцию с retry логикой
func (m *RetryMiddleware) retryOperation(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), uint64(m.maxRetries)),
		ctx,
	)

	return backoff.RetryNotify(op, policy, func(err error, next time.Duration) {
		m.logger.WithFields(logrus.Fields{
			"operation":   operation,
			"attempt":     attempt,
			"max_retries": m.maxRetries,
			"next_in":     next,
		}).WithError(err).Warn("Повтор операции после ошибки")
	})
}

// ValidationMiddleware проверяет ключи до обращения к хранилищу
type ValidationMiddleware struct {
	storage Storage
}

// NewValidationMiddleware создает новый validation middleware
func NewValidationMiddleware(storage Storage) Storage {
	return &ValidationMiddleware{storage: storage}
}

func (m *ValidationMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	if err := m.storage.ValidateKey(key); err != nil {
		return err
	}
	return m.storage.Save(ctx, key, reader)
}

func (m *ValidationMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := m.storage.ValidateKey(key); err != nil {
		return nil, err
	}
	return m.storage.Get(ctx, key)
}

func (m *ValidationMiddleware) Delete(ctx context.Context, key string) error {
	if err := m.storage.ValidateKey(key); err != nil {
		return err
	}
	return m.storage.Delete(ctx, key)
}

func (m *ValidationMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	return m.storage.List(ctx, prefix)
}

func (m *ValidationMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}
