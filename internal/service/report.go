package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"sqlreport/internal/domain/query"
	"sqlreport/internal/models"
	"sqlreport/internal/querycache"
	"sqlreport/internal/session"
	"sqlreport/internal/storage"

	"github.com/sirupsen/logrus"
)

const (
	// Префикс ключей архива выгрузок
	archivePrefix = "exports"
	// Формат метки времени в имени архивного файла
	archiveTimeFormat = "20060102_150405.000"
)

// ErrArchiveDisabled возвращается, если архив выгрузок выключен в конфигурации
var ErrArchiveDisabled = errors.New("export archive is disabled")

// ReportService интерфейс для работы с отчетами
type ReportService interface {
	ListReports(ctx context.Context) ([]models.Report, error)
	GetReport(ctx context.Context, id uint) (*models.Report, error)
	CreateReport(ctx context.Context, report *models.Report) error
	UpdateReport(ctx context.Context, id uint, params ReportUpdateParams) (*models.Report, error)
	DeleteReport(ctx context.Context, id uint) error
	AddParameter(ctx context.Context, reportID uint, param *models.Parameter) error
	DeleteParameter(ctx context.Context, id uint) error

	QueryForm(ctx context.Context, id uint) (*QueryForm, error)
	BuildQuery(ctx context.Context, id uint, values map[string]string) (string, error)
	RunReport(ctx context.Context, sess session.Handle, id uint, values map[string]string) (*RunResult, error)
	PrepareExport(ctx context.Context, sess session.Handle, id uint) (*Export, error)

	ListArchivedExports(ctx context.Context, id uint) ([]storage.FileInfo, error)
	OpenArchivedExport(ctx context.Context, id uint, name string) (io.ReadCloser, error)
}

// QueryExecutor выполняет SQL на пуле только для чтения
type QueryExecutor interface {
	QueryReadOnly(ctx context.Context, sql string) (*query.ResultSet, error)
}

// Exporter пишет результат запроса в табличный файл
type Exporter interface {
	ContentType() string
	Filename() string
	Validate(rs *query.ResultSet) error
	Write(w io.Writer, rs *query.ResultSet) error
}

// ReportUpdateParams параметры для обновления отчета.
// NewParam, если задан, добавляется к отчету в той же операции.
type ReportUpdateParams struct {
	Name     *string           `json:"name,omitempty"`
	SQLQuery *string           `json:"sql_query,omitempty"`
	NewParam *models.Parameter `json:"new_param,omitempty"`
}

// FormField поле формы запуска отчета
type FormField struct {
	Name         string `json:"name"`
	Title        string `json:"title"`
	DefaultValue string `json:"default_value"`
}

// QueryForm отчет и поля для ввода значений параметров
type QueryForm struct {
	Report *models.Report `json:"report"`
	Fields []FormField    `json:"fields"`
}

// RunResult результат выполнения отчета
type RunResult struct {
	Report *models.Report
	SQL    string
	Result *query.ResultSet
}

// ReportServiceImpl реализация сервиса отчетов
type ReportServiceImpl struct {
	repository ReportRepository
	executor   QueryExecutor
	exporter   Exporter
	archive    storage.Storage
	logger     *logrus.Logger
}

// NewReportService создает новый сервис отчетов. archive может быть nil.
func NewReportService(
	repository ReportRepository,
	executor QueryExecutor,
	exporter Exporter,
	archive storage.Storage,
	logger *logrus.Logger,
) *ReportServiceImpl {
	return &ReportServiceImpl{
		repository: repository,
		executor:   executor,
		exporter:   exporter,
		archive:    archive,
		logger:     logger,
	}
}

// ListReports получает список отчетов
func (s *ReportServiceImpl) ListReports(ctx context.Context) ([]models.Report, error) {
	reports, err := s.repository.List(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения списка отчетов")
		return nil, fmt.Errorf("ошибка получения списка отчетов: %w", err)
	}
	return reports, nil
}

// GetReport получает отчет по ID вместе с параметрами
func (s *ReportServiceImpl) GetReport(ctx context.Context, id uint) (*models.Report, error) {
	report, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrDefinitionNotFound) {
			s.logger.WithError(err).WithField("report_id", id).Error("Ошибка получения отчета")
		}
		return nil, fmt.Errorf("отчет %d: %w", id, err)
	}
	return report, nil
}

// CreateReport создает новый отчет
func (s *ReportServiceImpl) CreateReport(ctx context.Context, report *models.Report) error {
	logger := s.logger.WithField("name", report.Name)

	if err := validateReport(report); err != nil {
		logger.WithError(err).Warn("Ошибка валидации отчета")
		return err
	}

	if err := s.repository.Create(ctx, report); err != nil {
		logger.WithError(err).Error("Ошибка сохранения отчета в БД")
		return fmt.Errorf("ошибка создания отчета: %w", err)
	}

	logger.WithField("report_id", report.ID).Info("Отчет создан")
	return nil
}

// UpdateReport обновляет отчет и при необходимости добавляет параметр
func (s *ReportServiceImpl) UpdateReport(ctx context.Context, id uint, params ReportUpdateParams) (*models.Report, error) {
	logger := s.logger.WithField("report_id", id)

	updates := make(map[string]interface{})
	if params.Name != nil {
		updates["name"] = *params.Name
	}
	if params.SQLQuery != nil {
		updates["sql_query"] = *params.SQLQuery
	}

	if len(updates) > 0 {
		current, err := s.GetReport(ctx, id)
		if err != nil {
			return nil, err
		}
		candidate := *current
		if params.Name != nil {
			candidate.Name = *params.Name
		}
		if params.SQLQuery != nil {
			candidate.SQLQuery = *params.SQLQuery
		}
		if err := candidate.Validate(); err != nil {
			return nil, &ValidationError{Err: err}
		}
		updates["updated_at"] = time.Now().UTC()
	}

	if params.NewParam != nil {
		params.NewParam.ID = 0
		params.NewParam.ReportID = id
		if err := params.NewParam.Validate(); err != nil {
			return nil, &ValidationError{Err: err}
		}
	}

	if len(updates) > 0 || params.NewParam != nil {
		if err := s.repository.Update(ctx, id, updates, params.NewParam); err != nil {
			if !errors.Is(err, ErrDefinitionNotFound) && !errors.Is(err, ErrDuplicateParameter) {
				logger.WithError(err).Error("Ошибка обновления отчета")
			}
			return nil, fmt.Errorf("ошибка обновления отчета: %w", err)
		}
	}

	logger.Info("Отчет обновлен")
	return s.GetReport(ctx, id)
}

// DeleteReport удаляет отчет, его параметры и архивные выгрузки
func (s *ReportServiceImpl) DeleteReport(ctx context.Context, id uint) error {
	logger := s.logger.WithField("report_id", id)

	if err := s.repository.Delete(ctx, id); err != nil {
		if !errors.Is(err, ErrDefinitionNotFound) {
			logger.WithError(err).Error("Ошибка удаления отчета из БД")
		}
		return fmt.Errorf("ошибка удаления отчета %d: %w", id, err)
	}

	if s.archive != nil {
		files, err := s.archive.List(ctx, archiveDir(id))
		if err != nil {
			logger.WithError(err).Warn("Не удалось получить список архивных выгрузок")
		}
		for _, f := range files {
			// Не прерываем удаление отчета из-за ошибки удаления файла
			if err := s.archive.Delete(ctx, f.Key); err != nil {
				logger.WithError(err).WithField("key", f.Key).Warn("Ошибка удаления архивной выгрузки")
			}
		}
	}

	logger.Info("Отчет удален")
	return nil
}

// AddParameter добавляет параметр к отчету
func (s *ReportServiceImpl) AddParameter(ctx context.Context, reportID uint, param *models.Parameter) error {
	logger := s.logger.WithFields(logrus.Fields{
		"report_id":  reportID,
		"param_name": param.ParamName,
	})

	param.ID = 0
	param.ReportID = reportID
	if err := param.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	if err := s.repository.AddParameter(ctx, param); err != nil {
		if !errors.Is(err, ErrDefinitionNotFound) && !errors.Is(err, ErrDuplicateParameter) {
			logger.WithError(err).Error("Ошибка добавления параметра")
		}
		return fmt.Errorf("ошибка добавления параметра: %w", err)
	}

	logger.WithField("param_id", param.ID).Info("Параметр добавлен")
	return nil
}

// DeleteParameter удаляет параметр по ID
func (s *ReportServiceImpl) DeleteParameter(ctx context.Context, id uint) error {
	if err := s.repository.DeleteParameter(ctx, id); err != nil {
		return fmt.Errorf("ошибка удаления параметра %d: %w", id, err)
	}
	s.logger.WithField("param_id", id).Info("Параметр удален")
	return nil
}

// QueryForm возвращает поля для ввода значений параметров отчета
func (s *ReportServiceImpl) QueryForm(ctx context.Context, id uint) (*QueryForm, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := make([]FormField, 0, len(report.Params))
	for _, p := range report.Params {
		fields = append(fields, FormField{
			Name:         p.ParamName,
			Title:        p.Title,
			DefaultValue: p.DefaultValue,
		})
	}
	return &QueryForm{Report: report, Fields: fields}, nil
}

// BuildQuery подставляет значения параметров в SQL шаблон отчета
func (s *ReportServiceImpl) BuildQuery(ctx context.Context, id uint, values map[string]string) (string, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return "", err
	}
	return s.build(report, values), nil
}

// RunReport строит SQL, сохраняет его в сессии и выполняет на пуле только для чтения
func (s *ReportServiceImpl) RunReport(ctx context.Context, sess session.Handle, id uint, values map[string]string) (*RunResult, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	sql := s.build(report, values)
	querycache.Store(sess, sql)

	logger := s.logger.WithField("report_id", id)
	start := time.Now()

	rs, err := s.executor.QueryReadOnly(ctx, sql)
	if err != nil {
		logger.WithError(err).Warn("Ошибка выполнения отчета")
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"rows":     rs.Len(),
		"duration": time.Since(start),
	}).Info("Отчет выполнен")

	return &RunResult{Report: report, SQL: sql, Result: rs}, nil
}

// PrepareExport повторно выполняет SQL из сессии и проверяет, что есть что выгружать
func (s *ReportServiceImpl) PrepareExport(ctx context.Context, sess session.Handle, id uint) (*Export, error) {
	sql, err := querycache.Fetch(sess)
	if err != nil {
		return nil, err
	}

	rs, err := s.executor.QueryReadOnly(ctx, sql)
	if err != nil {
		s.logger.WithError(err).WithField("report_id", id).Warn("Ошибка выполнения запроса для выгрузки")
		return nil, err
	}

	if err := s.exporter.Validate(rs); err != nil {
		return nil, err
	}

	return &Export{
		ReportID:    id,
		SQL:         sql,
		Result:      rs,
		ContentType: s.exporter.ContentType(),
		Filename:    s.exporter.Filename(),
		service:     s,
	}, nil
}

// ListArchivedExports возвращает архивные выгрузки отчета
func (s *ReportServiceImpl) ListArchivedExports(ctx context.Context, id uint) ([]storage.FileInfo, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	files, err := s.archive.List(ctx, archiveDir(id))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка выгрузок: %w", err)
	}
	if files == nil {
		files = []storage.FileInfo{}
	}
	return files, nil
}

// OpenArchivedExport открывает архивную выгрузку по имени файла
func (s *ReportServiceImpl) OpenArchivedExport(ctx context.Context, id uint, name string) (io.ReadCloser, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, &ValidationError{Err: fmt.Errorf("invalid export name %q", name)}
	}
	key := archiveDir(id) + name
	if err := s.archive.ValidateKey(key); err != nil {
		return nil, &ValidationError{Err: err}
	}
	return s.archive.Get(ctx, key)
}

func (s *ReportServiceImpl) build(report *models.Report, values map[string]string) string {
	if unbound := query.Unbound(report.SQLQuery, report.Params); len(unbound) > 0 {
		s.logger.WithFields(logrus.Fields{
			"report_id":    report.ID,
			"placeholders": unbound,
		}).Debug("В шаблоне есть плейсхолдеры без параметров")
	}
	return query.Build(report.SQLQuery, report.Params, values)
}

// Export подготовленная к записи выгрузка
type Export struct {
	ReportID    uint
	SQL         string
	Result      *query.ResultSet
	ContentType string
	Filename    string

	service *ReportServiceImpl
}

// WriteTo пишет книгу в w. Если архив включен, те же байты сохраняются в хранилище;
// ошибка архивации не влияет на уже отданную выгрузку.
func (e *Export) WriteTo(ctx context.Context, w io.Writer) error {
	s := e.service
	if s.archive == nil {
		return s.exporter.Write(w, e.Result)
	}

	var buf bytes.Buffer
	if err := s.exporter.Write(io.MultiWriter(w, &buf), e.Result); err != nil {
		return err
	}

	key := archiveDir(e.ReportID) + time.Now().UTC().Format(archiveTimeFormat) + ".xlsx"
	if err := s.archive.Save(ctx, key, bytes.NewReader(buf.Bytes())); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Ошибка сохранения выгрузки в архив")
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"report_id": e.ReportID,
		"key":       key,
		"size":      buf.Len(),
	}).Info("Выгрузка сохранена в архив")
	return nil
}

// ValidationError ошибка валидации входных данных
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

func validateReport(report *models.Report) error {
	if err := report.Validate(); err != nil {
		return &ValidationError{Err: err}
	}
	for i := range report.Params {
		if err := report.Params[i].Validate(); err != nil {
			return &ValidationError{Err: fmt.Errorf("param %d: %w", i, err)}
		}
	}
	return nil
}

func archiveDir(id uint) string {
	return path.Join(archivePrefix, fmt.Sprint(id)) + "/"
}
