package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/markdave123-py/lawgpt/internal/app"
	"github.com/markdave123-py/lawgpt/internal/config"
	"github.com/markdave123-py/lawgpt/internal/logging"
)

type rootFlags struct {
	envFile string
	port    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "lawgpt",
		Short:         "LawGPT chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&flags.port, "port", "", "HTTP port, overrides PORT")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags)
		},
	})
	root.AddCommand(newCleanupCmd(flags))
	return root
}

func loadConfig(flags *rootFlags) *config.Config {
	var cfg *config.Config
	if flags.envFile != "" {
		cfg = config.LoadConfig(flags.envFile)
	} else {
		cfg = config.LoadConfig()
	}
	if flags.port != "" {
		cfg.Port = flags.port
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg
}

func serve(parent context.Context, flags *rootFlags) error {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig(flags)
	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer application.Close()

	log.Info().Str("port", cfg.Port).Msg("LawGPT is running")
	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

func newCleanupCmd(flags *rootFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete uploaded files older than --days and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := loadConfig(flags)
			application, err := app.NewApp(ctx, cfg)
			if err != nil {
				log.Error().Err(err).Msg("startup failed")
				return err
			}
			defer application.Close()

			maxAge := cfg.FileMaxAge
			if cmd.Flags().Changed("days") {
				maxAge = time.Duration(days) * 24 * time.Hour
			}
			n, err := application.Cleanup(ctx, maxAge)
			if err != nil {
				log.Error().Err(err).Msg("cleanup failed")
				return err
			}
			log.Info().Int("deleted", n).Dur("max_age", maxAge).Msg("cleanup done")
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "delete files uploaded more than this many days ago")
	return cmd
}
