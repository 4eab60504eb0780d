// Package app builds the report service object graph. cmd/server wires it with
// fx through Module; cmd/reportctl calls the constructors directly.
package app

import (
	"context"
	"fmt"
	"time"

	"sqlreport/internal/config"
	"sqlreport/internal/database"
	"sqlreport/internal/executor"
	"sqlreport/internal/export"
	"sqlreport/internal/service"
	"sqlreport/internal/session"
	"sqlreport/internal/storage"

	"github.com/gorilla/securecookie"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

// Module provides everything below the HTTP layer.
var Module = fx.Options(
	fx.Provide(
		NewLogger,
		NewExecutor,
		storage.NewStorageFromConfig,
		NewSessionStore,
		NewSessionCodec,
		NewExporter,
		NewRepository,
		NewReportService,
	),
	fx.Invoke(registerExecutorHooks),
)

// NewLogger создает и настраивает логгер на основе конфигурации
func NewLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	// Устанавливаем уровень логирования
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Неверный уровень логирования, используется info")
	}
	logger.SetLevel(level)

	// Устанавливаем формат вывода
	switch cfg.Logging.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	return logger
}

// NewExecutor открывает пул чтения и записи и пул только для чтения
func NewExecutor(cfg config.Config, logger *logrus.Logger) (*executor.Executor, error) {
	poolCfg := database.Config{
		Driver:          cfg.DB.Driver,
		Debug:           cfg.Server.Debug && logger.IsLevelEnabled(logrus.DebugLevel),
		MaxOpenConns:    cfg.Pool.MaxOpenConns,
		MaxIdleConns:    cfg.Pool.MaxIdleConns,
		ConnMaxLifetime: cfg.Pool.ConnMaxLifetime,
	}

	rwCfg := poolCfg
	rwCfg.DSN = cfg.DB.DSN
	rw, err := database.NewDatabase(rwCfg)
	if err != nil {
		return nil, fmt.Errorf("пул чтения и записи: %w", err)
	}

	roCfg := poolCfg
	roCfg.DSN = cfg.ReadOnly.DSN
	ro, err := database.NewReadOnlyPool(roCfg)
	if err != nil {
		if sqlDB, dbErr := rw.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("пул только для чтения: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"driver":         cfg.DB.Driver,
		"max_open_conns": cfg.Pool.MaxOpenConns,
		"query_timeout":  cfg.Pool.QueryTimeout,
	}).Info("Пулы соединений открыты")

	return executor.New(rw, ro, executor.Options{QueryTimeout: cfg.Pool.QueryTimeout}, logger), nil
}

// NewSessionStore создает хранилище сессий
func NewSessionStore(cfg config.Config) *session.Store {
	return session.NewStore(cfg.Session.TTL)
}

// NewSessionCodec создает подписыватель cookie сессии
func NewSessionCodec(cfg config.Config, logger *logrus.Logger) (*securecookie.SecureCookie, error) {
	return session.NewCodec(cfg.Session.HashKey, cfg.Session.BlockKey, logger)
}

// NewExporter создает экспортер xlsx
func NewExporter(cfg config.Config, logger *logrus.Logger) *export.ExcelExporter {
	return export.NewExcelExporter(export.Options{
		Sheet:       cfg.Export.Sheet,
		ColumnWidth: cfg.Export.ColumnWidth,
		AllowEmpty:  cfg.Export.AllowEmpty,
	}, logger)
}

// NewRepository создает репозиторий определений отчетов на пуле чтения и записи
func NewRepository(exec *executor.Executor, logger *logrus.Logger) service.ReportRepository {
	return service.NewGormReportRepository(exec.ReadWrite(), logger)
}

// NewReportService создает сервис отчетов. archive равен nil, если архив выключен.
func NewReportService(
	repo service.ReportRepository,
	exec *executor.Executor,
	exporter *export.ExcelExporter,
	archive storage.Storage,
	logger *logrus.Logger,
) service.ReportService {
	return service.NewReportService(repo, exec, exporter, archive, logger)
}

func registerExecutorHooks(lc fx.Lifecycle, exec *executor.Executor, logger *logrus.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := exec.Ping(ctx); err != nil {
				return fmt.Errorf("база данных недоступна: %w", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Закрытие пулов соединений")
			return exec.Close()
		},
	})
}
