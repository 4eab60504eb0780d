package models

import (
	"errors"
	"strings"
	"time"
)

// Report is a named SQL template. Placeholders inside SQLQuery have the form #name#.
type Report struct {
	ID        uint        `json:"id" gorm:"primarykey"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Name      string      `json:"name" gorm:"size:255;not null"`
	SQLQuery  string      `json:"sql_query" gorm:"column:sql_query;type:text;not null"`
	Params    []Parameter `json:"params,omitempty" gorm:"foreignKey:ReportID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Report model
func (Report) TableName() string {
	return "reports"
}

// Validate checks the fields required to store a report
func (r *Report) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("report name is required")
	}
	if strings.TrimSpace(r.SQLQuery) == "" {
		return errors.New("report sql_query is required")
	}
	return nil
}

// Parameter is a defaulted substitution variable scoped to one report.
// ParamName is unique within ReportID.
type Parameter struct {
	ID           uint   `json:"id" gorm:"primarykey"`
	ReportID     uint   `json:"report_id" gorm:"not null;uniqueIndex:idx_report_params_name"`
	ParamName    string `json:"param_name" gorm:"size:255;not null;uniqueIndex:idx_report_params_name"`
	Title        string `json:"title" gorm:"size:255;not null"`
	DefaultValue string `json:"default_value" gorm:"type:text"`
}

// TableName specifies the table name for the Parameter model
func (Parameter) TableName() string {
	return "report_params"
}

// Placeholder returns the literal token replaced by this parameter's value.
func (p Parameter) Placeholder() string {
	return "#" + p.ParamName + "#"
}

// Validate checks that the parameter can ever match a placeholder
func (p *Parameter) Validate() error {
	if p.ParamName == "" {
		return errors.New("param_name is required")
	}
	if strings.ContainsAny(p.ParamName, "# \t\r\n") {
		return errors.New("param_name must not contain '#' or whitespace")
	}
	if strings.TrimSpace(p.Title) == "" {
		return errors.New("param title is required")
	}
	return nil
}
