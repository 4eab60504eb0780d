package query

import (
	"testing"

	"sqlreport/internal/models"

	"github.com/stretchr/testify/assert"
)

func regionParam() models.Parameter {
	return models.Parameter{ReportID: 1, ParamName: "region", Title: "Region", DefaultValue: "EU"}
}

func TestBuildUsesDefault(t *testing.T) {
	sql := Build("SELECT * FROM t WHERE region=#region#", []models.Parameter{regionParam()}, nil)
	assert.Equal(t, "SELECT * FROM t WHERE region=EU", sql)
}

func TestBuildUserValueWins(t *testing.T) {
	sql := Build("SELECT * FROM t WHERE region=#region#", []models.Parameter{regionParam()},
		map[string]string{"region": "US"})
	assert.Equal(t, "SELECT * FROM t WHERE region=US", sql)
}

func TestBuildEmptyUserValueFallsBackToDefault(t *testing.T) {
	sql := Build("region=#region#", []models.Parameter{regionParam()},
		map[string]string{"region": ""})
	assert.Equal(t, "region=EU", sql)
}

func TestBuildReplacesEveryOccurrence(t *testing.T) {
	tmpl := "SELECT #region# AS r FROM t WHERE a=#region# OR b=#region#"
	sql := Build(tmpl, []models.Parameter{regionParam()}, map[string]string{"region": "'US'"})
	assert.Equal(t, "SELECT 'US' AS r FROM t WHERE a='US' OR b='US'", sql)
}

func TestBuildLeavesUnknownPlaceholder(t *testing.T) {
	sql := Build("SELECT * FROM t WHERE x=#missing# AND region=#region#",
		[]models.Parameter{regionParam()}, nil)
	assert.Equal(t, "SELECT * FROM t WHERE x=#missing# AND region=EU", sql)

	assert.Equal(t, "SELECT #missing#", Build("SELECT #missing#", nil, nil))
}

func TestBuildDoesNotResubstitute(t *testing.T) {
	params := []models.Parameter{
		{ParamName: "a", DefaultValue: "#b#"},
		{ParamName: "b", DefaultValue: "#a#"},
	}
	sql := Build("#a# #b#", params, nil)
	assert.Equal(t, "#b# #a#", sql)
}

func TestBuildIgnoresOverlapsAndDuplicates(t *testing.T) {
	params := []models.Parameter{
		{ParamName: "from", DefaultValue: "2024-01-01"},
		{ParamName: "from", DefaultValue: "ignored"},
		{ParamName: "fromx", DefaultValue: "X"},
	}
	sql := Build("#from#/#fromx#/#from", params, nil)
	assert.Equal(t, "2024-01-01/X/#from", sql)
}

func TestResolve(t *testing.T) {
	p := regionParam()
	assert.Equal(t, "EU", Resolve(p, map[string]string{"other": "x"}))
	assert.Equal(t, "APAC", Resolve(p, map[string]string{"region": "APAC"}))
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		tmpl string
		want []string
	}{
		{"SELECT 1", nil},
		{"#a# #b# #a#", []string{"a", "b"}},
		{"## #x#", []string{"x"}},
		{"a # b #c#", []string{"c"}},
		{"WHERE tag = '#' AND y=#y#", []string{"y"}},
		{"#open", nil},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			assert.Equal(t, tt.want, Placeholders(tt.tmpl))
		})
	}
}

func TestUnbound(t *testing.T) {
	missing := Unbound("#region# #missing#", []models.Parameter{regionParam()})
	assert.Equal(t, []string{"missing"}, missing)
}

func TestResultSetViews(t *testing.T) {
	rs := &ResultSet{
		Columns: []Column{{Name: "id"}, {Name: "name"}},
		Rows:    [][]any{{1, "a"}, {2, "b"}},
	}
	assert.Equal(t, 2, rs.Len())
	assert.Equal(t, []string{"id", "name"}, rs.Header())

	var empty *ResultSet
	assert.Equal(t, 0, empty.Len())
}
