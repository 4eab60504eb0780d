package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sqlreport/internal/app"
	"sqlreport/internal/config"
	"sqlreport/internal/database"
	"sqlreport/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// writeConfig prepares a sqlite database with one report and returns the config path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "reports.db")
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := fmt.Sprintf(`database:
  driver: sqlite
  dsn: %s
readonly:
  dsn: "file:%s?mode=ro"
logging:
  level: error
`, dbPath, dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o644))

	cfg, err := config.LoadFile(cfgPath)
	require.NoError(t, err)
	logger := app.NewLogger(cfg)
	exec, err := app.NewExecutor(cfg, logger)
	require.NoError(t, err)
	defer exec.Close()

	ctx := context.Background()
	require.NoError(t, database.AutoMigrate(exec.ReadWrite()))
	_, err = exec.ExecReadWrite(ctx, `CREATE TABLE fruit (name TEXT, qty INTEGER, note TEXT)`)
	require.NoError(t, err)
	_, err = exec.ExecReadWrite(ctx, `INSERT INTO fruit VALUES ('apple', 3, NULL), ('pear', 5, 'ripe')`)
	require.NoError(t, err)

	svc := app.NewReportService(app.NewRepository(exec, logger), exec, app.NewExporter(cfg, logger), nil, logger)
	require.NoError(t, svc.CreateReport(ctx, &models.Report{
		Name:     "Fruit",
		SQLQuery: "SELECT name, qty, note FROM fruit WHERE qty >= #min# ORDER BY name",
		Params:   []models.Parameter{{ParamName: "min", Title: "Minimum", DefaultValue: "0"}},
	}))

	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunPrintsTable(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "run", "1", "--sql")
	require.NoError(t, err)
	assert.Contains(t, out, "SELECT name, qty, note FROM fruit WHERE qty >= 0 ORDER BY name")
	assert.Contains(t, out, "apple")
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, "(2 rows)")

	out, err = execute(t, "-c", cfgPath, "run", "1", "-p", "min=4")
	require.NoError(t, err)
	assert.NotContains(t, out, "apple")
	assert.Contains(t, out, "(1 rows)")
}

func TestRunWritesWorkbook(t *testing.T) {
	cfgPath := writeConfig(t)
	target := filepath.Join(t.TempDir(), "fruit.xlsx")

	_, err := execute(t, "-c", cfgPath, "run", "1", "--xlsx", target)
	require.NoError(t, err)

	f, err := excelize.OpenFile(target)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Report")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "qty", "note"}, rows[0])
	assert.Len(t, rows, 3)
}

func TestListAndShow(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "-c", cfgPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Fruit")

	out, err = execute(t, "-c", cfgPath, "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "#min#")
	assert.Contains(t, out, "Minimum")

	_, err = execute(t, "-c", cfgPath, "show", "7")
	assert.Error(t, err)

	_, err = execute(t, "-c", cfgPath, "exports", "1")
	assert.Error(t, err)
}

func TestParseParams(t *testing.T) {
	values, err := parseParams([]string{"a=1", "b=x=y", "c="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "x=y", "c": ""}, values)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=1"})
	assert.Error(t, err)
}

func TestFormatCell(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "NULL", formatCell(nil))
	assert.Equal(t, "abc", formatCell([]byte("abc")))
	assert.Equal(t, "2024-03-01T12:00:00Z", formatCell(ts))
	assert.Equal(t, "42", formatCell(int64(42)))
}
