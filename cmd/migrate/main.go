package main

import (
	"context"
	"fmt"
	"os"

	"sqlreport/internal/app"
	"sqlreport/internal/config"
	"sqlreport/internal/database"
	"sqlreport/internal/executor"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var (
		configPath string
		seeds      []string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the report definition tables",
		Long: `Runs schema migrations on the read-write database and then applies
the given seed files in order. Each seed file is executed as one statement batch.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, seeds)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringArrayVar(&seeds, "seed", nil, "SQL file to execute after migrations (repeatable)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, seeds []string) error {
	logger := app.NewLogger(cfg)

	db, err := database.NewDatabase(database.Config{
		Driver: cfg.DB.Driver,
		DSN:    cfg.DB.DSN,
		Debug:  cfg.Server.Debug,
	})
	if err != nil {
		return err
	}

	// Пул только для чтения миграциям не нужен
	exec := executor.New(db, nil, executor.Options{QueryTimeout: cfg.Pool.QueryTimeout}, logger)
	defer exec.Close()

	if err := database.AutoMigrate(db); err != nil {
		return err
	}
	logger.Info("Миграции выполнены")

	for _, path := range seeds {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}

		res, err := exec.ExecReadWrite(ctx, string(data))
		if err != nil {
			return fmt.Errorf("seed %s: %w", path, err)
		}
		logger.WithFields(logrus.Fields{
			"file":          path,
			"rows_affected": res.RowsAffected,
		}).Info("Seed файл применен")
	}

	return nil
}
