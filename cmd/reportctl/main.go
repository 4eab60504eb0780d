// Command reportctl runs stored reports from a terminal against the same
// databases and configuration as the HTTP service.
package main

import (
	"context"
	"os"

	"sqlreport/internal/app"
	"sqlreport/internal/config"
	"sqlreport/internal/executor"
	"sqlreport/internal/service"
	"sqlreport/internal/session"
	"sqlreport/internal/storage"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// env is what every subcommand needs; built lazily so --help works without a database.
type env struct {
	exec    *executor.Executor
	service service.ReportService
	session session.Handle
}

func (e *env) Close() error {
	return e.exec.Close()
}

func openEnv(configPath string) (*env, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)

	exec, err := app.NewExecutor(cfg, logger)
	if err != nil {
		return nil, err
	}

	archive, err := storage.NewStorageFromConfig(cfg, logger)
	if err != nil {
		exec.Close()
		return nil, err
	}

	svc := app.NewReportService(app.NewRepository(exec, logger), exec, app.NewExporter(cfg, logger), archive, logger)
	return &env{
		exec:    exec,
		service: svc,
		session: app.NewSessionStore(cfg).Handle("reportctl"),
	}, nil
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "reportctl",
		Short:        "Inspect and run stored SQL reports",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	open := func() (*env, error) { return openEnv(configPath) }
	root.AddCommand(
		newListCmd(open),
		newShowCmd(open),
		newRunCmd(open),
		newExportsCmd(open),
	)
	return root
}
