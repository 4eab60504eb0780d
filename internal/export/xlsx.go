// Package export serializes report results into spreadsheet documents.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"sqlreport/internal/domain/query"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const (
	// ContentType is the MIME type of the produced workbook
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	// Filename is the attachment name announced to the client
	Filename = "report.xlsx"

	defaultSheet       = "Report"
	defaultColumnWidth = 20
)

// ErrEmptyResult is returned when there is no row and no column list to
// derive a header from.
var ErrEmptyResult = errors.New("result set is empty, nothing to export")

// Options control the workbook layout.
type Options struct {
	Sheet       string
	ColumnWidth float64
	// AllowEmpty permits a header-only workbook for a zero-row result whose
	// columns are known. Without it any zero-row result is ErrEmptyResult.
	AllowEmpty bool
}

// ExcelExporter writes result sets as xlsx workbooks through the excelize
// stream writer, one row at a time.
type ExcelExporter struct {
	opts   Options
	logger *logrus.Logger
}

// NewExcelExporter создает экспортер xlsx
func NewExcelExporter(opts Options, logger *logrus.Logger) *ExcelExporter {
	if opts.Sheet == "" {
		opts.Sheet = defaultSheet
	}
	if opts.ColumnWidth <= 0 {
		opts.ColumnWidth = defaultColumnWidth
	}
	return &ExcelExporter{opts: opts, logger: logger}
}

// ContentType возвращает MIME тип для Excel файлов
func (x *ExcelExporter) ContentType() string {
	return ContentType
}

// Filename возвращает имя вложения
func (x *ExcelExporter) Filename() string {
	return Filename
}

// Validate reports ErrEmptyResult for results that cannot produce a header.
func (x *ExcelExporter) Validate(rs *query.ResultSet) error {
	if rs.Len() > 0 {
		return nil
	}
	if rs == nil || len(rs.Columns) == 0 || !x.opts.AllowEmpty {
		return ErrEmptyResult
	}
	return nil
}

// Write streams rs into w as a workbook. The header row follows the column
// order of the result, rows follow result order, every column gets the
// configured width.
func (x *ExcelExporter) Write(w io.Writer, rs *query.ResultSet) error {
	if err := x.Validate(rs); err != nil {
		return err
	}

	logger := x.logger.WithFields(logrus.Fields{
		"rows":    rs.Len(),
		"columns": len(rs.Columns),
	})

	f := excelize.NewFile()
	defer f.Close()

	sheet := x.opts.Sheet
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			return fmt.Errorf("ошибка создания листа: %w", err)
		}
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("ошибка создания потоковой записи: %w", err)
	}

	// Стиль для заголовков
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6E6FA"},
			Pattern: 1,
		},
	})
	if err != nil {
		logger.WithError(err).Warn("Ошибка создания стиля заголовка")
		headerStyle = 0
	}

	// Ширина задается до первой строки, иначе stream writer ее отклонит
	if err := sw.SetColWidth(1, len(rs.Columns), x.opts.ColumnWidth); err != nil {
		return fmt.Errorf("ошибка установки ширины колонок: %w", err)
	}

	header := make([]interface{}, len(rs.Columns))
	for i, col := range rs.Columns {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: col.Name}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("ошибка записи заголовка: %w", err)
	}

	for i, row := range rs.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(rs.Columns))
		for j := range rs.Columns {
			if j < len(row) {
				values[j] = cellValue(rs.Columns[j], row[j])
			}
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("ошибка записи строки %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("ошибка завершения листа: %w", err)
	}

	if err := f.Write(w); err != nil {
		logger.WithError(err).Error("Ошибка записи Excel файла")
		return fmt.Errorf("ошибка генерации Excel файла: %w", err)
	}

	logger.Debug("Excel выгрузка записана")
	return nil
}

// cellValue maps a driver value onto a native cell value. Drivers hand back
// NUMERIC and DECIMAL as text; those become numbers.
func cellValue(col query.Column, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return textValue(col, string(val))
	case string:
		return textValue(col, val)
	case decimal.Decimal:
		return val.InexactFloat64()
	default:
		return val
	}
}

func textValue(col query.Column, s string) any {
	if isNumericType(col.DatabaseType) {
		if d, err := decimal.NewFromString(s); err == nil {
			return d.InexactFloat64()
		}
	}
	return s
}

func isNumericType(dbType string) bool {
	switch strings.ToUpper(dbType) {
	case "NUMERIC", "DECIMAL":
		return true
	}
	return false
}
