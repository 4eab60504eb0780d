package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"sqlreport/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Save(ctx context.Context, key string, reader io.Reader) error {
	data, _ := io.ReadAll(reader)
	args := m.Called(ctx, key, string(data))
	return args.Error(0)
}

func (m *MockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	args := m.Called(ctx, prefix)
	files, _ := args.Get(0).([]FileInfo)
	return files, args.Error(1)
}

func (m *MockStorage) ValidateKey(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	local, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir(), Permissions: 0755, CreateDirs: true}, setupTestLogger())
	require.NoError(t, err)

	require.NoError(t, local.Save(ctx, "exports/1/a.xlsx", strings.NewReader("one")))
	require.NoError(t, local.Save(ctx, "exports/1/b.xlsx", strings.NewReader("two")))
	require.NoError(t, local.Save(ctx, "exports/10/c.xlsx", strings.NewReader("three")))

	files, err := local.List(ctx, "exports/1/")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "exports/1/a.xlsx", files[0].Key)
	assert.Equal(t, int64(3), files[0].Size)

	rc, err := local.Get(ctx, "exports/1/b.xlsx")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "two", string(data))

	require.NoError(t, local.Delete(ctx, "exports/1/b.xlsx"))
	_, err = local.Get(ctx, "exports/1/b.xlsx")
	assert.ErrorIs(t, err, ErrNotFound)

	files, err = local.List(ctx, "exports/99/")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalStorageValidateKey(t *testing.T) {
	local, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir(), Permissions: 0755, CreateDirs: true}, setupTestLogger())
	require.NoError(t, err)

	assert.NoError(t, local.ValidateKey("exports/1/a.xlsx"))
	assert.ErrorIs(t, local.ValidateKey(""), ErrInvalidKey)
	assert.ErrorIs(t, local.ValidateKey("exports/1/a..b.xlsx"), ErrInvalidKey)
}

func TestLocalStorageRejectsRelativeBase(t *testing.T) {
	_, err := NewLocalStorage(LocalConfig{BasePath: "relative"}, setupTestLogger())
	assert.Error(t, err)
}

func TestRetryMiddlewareRetriesTransientErrors(t *testing.T) {
	inner := new(MockStorage)
	inner.On("Delete", mock.Anything, "k").Return(errors.New("timeout")).Twice()
	inner.On("Delete", mock.Anything, "k").Return(nil).Once()

	s := NewRetryMiddleware(inner, 3, time.Millisecond, setupTestLogger())
	require.NoError(t, s.Delete(context.Background(), "k"))
	inner.AssertNumberOfCalls(t, "Delete", 3)
}

func TestRetryMiddlewareStopsOnNotFound(t *testing.T) {
	inner := new(MockStorage)
	inner.On("Get", mock.Anything, "missing").Return(nil, ErrNotFound)

	s := NewRetryMiddleware(inner, 3, time.Millisecond, setupTestLogger())
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	inner.AssertNumberOfCalls(t, "Get", 1)
}

func TestRetryMiddlewareRewindsSeekableSave(t *testing.T) {
	inner := new(MockStorage)
	inner.On("Save", mock.Anything, "k", "payload").Return(errors.New("reset")).Once()
	inner.On("Save", mock.Anything, "k", "payload").Return(nil).Once()

	s := NewRetryMiddleware(inner, 2, time.Millisecond, setupTestLogger())
	require.NoError(t, s.Save(context.Background(), "k", bytes.NewReader([]byte("payload"))))
	inner.AssertExpectations(t)
}

func TestValidationMiddleware(t *testing.T) {
	inner := new(MockStorage)
	inner.On("ValidateKey", "").Return(errors.New("empty key"))

	s := NewValidationMiddleware(inner)
	assert.Error(t, s.Save(context.Background(), "", strings.NewReader("x")))
	inner.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything)
}

func TestNewStorageFromConfig(t *testing.T) {
	logger := setupTestLogger()

	s, err := NewStorageFromConfig(config.Config{Storage: config.Storage{Type: StorageTypeNone}}, logger)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewStorageFromConfig(config.Config{}, logger)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewStorageFromConfig(config.Config{Storage: config.Storage{Type: "local", BasePath: t.TempDir()}}, logger)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.ErrorIs(t, s.Save(context.Background(), "../escape", strings.NewReader("x")), ErrInvalidKey)

	_, err = NewStorageFromConfig(config.Config{Storage: config.Storage{Type: "ftp"}}, logger)
	assert.Error(t, err)
}
