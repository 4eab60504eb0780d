package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LocalConfig конфигурация локального хранилища
type LocalConfig struct {
	BasePath    string
	Permissions os.FileMode
	CreateDirs  bool
}

// LocalStorage реализация локального файлового хранилища
type LocalStorage struct {
	basePath    string
	permissions os.FileMode
	createDirs  bool
	logger      *logrus.Logger
}

// NewLocalStorage создает новое локальное хранилище
func NewLocalStorage(cfg LocalConfig, logger *logrus.Logger) (*LocalStorage, error) {
	if err := validateLocalConfig(cfg); err != nil {
		return nil, fmt.Errorf("неверная конфигурация локального хранилища: %w", err)
	}

	if cfg.CreateDirs {
		if err := os.MkdirAll(cfg.BasePath, cfg.Permissions); err != nil {
			return nil, fmt.Errorf("ошибка создания базовой директории: %w", err)
		}
	}

	return &LocalStorage{
		basePath:    cfg.BasePath,
		permissions: cfg.Permissions,
		createDirs:  cfg.CreateDirs,
		logger:      logger,
	}, nil
}

// Save сохраняет файл локально
func (l *LocalStorage) Save(ctx context.Context, key string, reader io.Reader) error {
	fullPath := l.getFullPath(key)

	if l.createDirs {
		if err := os.MkdirAll(filepath.Dir(fullPath), l.permissions); err != nil {
			return fmt.Errorf("ошибка создания директории: %w", err)
		}
	}

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("ошибка создания файла: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("ошибка записи файла: %w", err)
	}
	return nil
}

// Get получает файл локально
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(l.getFullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("ошибка открытия файла: %w", err)
	}
	return file, nil
}

// Delete удаляет файл локально
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	err := os.Remove(l.getFullPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	return nil
}

// List возвращает файлы, ключ которых начинается с prefix
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	baseDir := filepath.Dir(l.getFullPath(prefix))

	var files []FileInfo
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(l.basePath, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(relPath)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}

	return files, nil
}

// ValidateKey валидирует ключ файла
func (l *LocalStorage) ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: ключ файла не может быть пустым", ErrInvalidKey)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: ключ файла не может содержать '..'", ErrInvalidKey)
	}
	return nil
}

// getFullPath возвращает полный путь к файлу
func (l *LocalStorage) getFullPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}

// validateLocalConfig валидирует конфигурацию локального хранилища
func validateLocalConfig(cfg LocalConfig) error {
	if cfg.BasePath == "" {
		return fmt.Errorf("базовый путь не может быть пустым")
	}
	if !filepath.IsAbs(cfg.BasePath) {
		return fmt.Errorf("базовый путь должен быть абсолютным")
	}
	return nil
}
