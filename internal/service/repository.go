package service

import (
	"context"
	"errors"

	"sqlreport/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrDefinitionNotFound is returned when a report or parameter id does not resolve
	ErrDefinitionNotFound = errors.New("report definition not found")
	// ErrDuplicateParameter is returned when a report already has a parameter with that name
	ErrDuplicateParameter = errors.New("parameter name already exists for this report")
)

// ReportRepository интерфейс для работы с определениями отчетов
type ReportRepository interface {
	List(ctx context.Context) ([]models.Report, error)
	GetByID(ctx context.Context, id uint) (*models.Report, error)
	ListParameters(ctx context.Context, reportID uint) ([]models.Parameter, error)
	Create(ctx context.Context, report *models.Report) error
	Update(ctx context.Context, id uint, updates map[string]interface{}, newParam *models.Parameter) error
	Delete(ctx context.Context, id uint) error
	AddParameter(ctx context.Context, param *models.Parameter) error
	DeleteParameter(ctx context.Context, id uint) error
}

// GormReportRepository реализация репозитория отчетов для GORM.
// Работает только через пул чтения и записи.
type GormReportRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGormReportRepository создает новый GORM репозиторий отчетов
func NewGormReportRepository(db *gorm.DB, logger *logrus.Logger) ReportRepository {
	return &GormReportRepository{
		db:     db,
		logger: logger,
	}
}

// List получает список отчетов без параметров
func (r *GormReportRepository) List(ctx context.Context) ([]models.Report, error) {
	var reports []models.Report
	err := r.db.WithContext(ctx).Order("id").Find(&reports).Error
	return reports, err
}

// GetByID получает отчет вместе с параметрами
func (r *GormReportRepository) GetByID(ctx context.Context, id uint) (*models.Report, error) {
	var report models.Report
	err := r.db.WithContext(ctx).
		Preload("Params", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&report, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDefinitionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// ListParameters получает параметры отчета
func (r *GormReportRepository) ListParameters(ctx context.Context, reportID uint) ([]models.Parameter, error) {
	var params []models.Parameter
	err := r.db.WithContext(ctx).Where("report_id = ?", reportID).Order("id").Find(&params).Error
	return params, err
}

// Create создает отчет вместе с параметрами
func (r *GormReportRepository) Create(ctx context.Context, report *models.Report) error {
	seen := make(map[string]struct{}, len(report.Params))
	for _, p := range report.Params {
		if _, dup := seen[p.ParamName]; dup {
			return ErrDuplicateParameter
		}
		seen[p.ParamName] = struct{}{}
	}
	return r.db.WithContext(ctx).Create(report).Error
}

// Update обновляет поля отчета и, если задан newParam, добавляет параметр.
// Оба изменения выполняются в одной транзакции.
func (r *GormReportRepository) Update(ctx context.Context, id uint, updates map[string]interface{}, newParam *models.Parameter) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			res := tx.Model(&models.Report{}).Where("id = ?", id).Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrDefinitionNotFound
			}
		}
		if newParam == nil {
			return nil
		}
		newParam.ReportID = id
		return addParameter(tx, newParam)
	})
}

// Delete удаляет отчет и его параметры
func (r *GormReportRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("report_id = ?", id).Delete(&models.Parameter{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Report{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDefinitionNotFound
		}
		return nil
	})
}

// AddParameter добавляет параметр, имя которого уникально в пределах отчета
func (r *GormReportRepository) AddParameter(ctx context.Context, param *models.Parameter) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return addParameter(tx, param)
	})
}

func addParameter(tx *gorm.DB, param *models.Parameter) error {
	var reports int64
	if err := tx.Model(&models.Report{}).Where("id = ?", param.ReportID).Count(&reports).Error; err != nil {
		return err
	}
	if reports == 0 {
		return ErrDefinitionNotFound
	}

	var existing int64
	err := tx.Model(&models.Parameter{}).
		Where("report_id = ? AND param_name = ?", param.ReportID, param.ParamName).
		Count(&existing).Error
	if err != nil {
		return err
	}
	if existing > 0 {
		return ErrDuplicateParameter
	}

	return tx.Create(param).Error
}

// DeleteParameter удаляет параметр по ID
func (r *GormReportRepository) DeleteParameter(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Parameter{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDefinitionNotFound
	}
	return nil
}
