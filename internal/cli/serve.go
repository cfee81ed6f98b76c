package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/opinionsmarket/internal/app"
	"github.com/alanyoungcy/opinionsmarket/internal/config"
)

func newServeCommand(rootOpts *RootOptions) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the configured mode",
		Long: `Run the daemon. The mode decides what starts:

  api     HTTP and WebSocket API, plus the vote batcher when enabled
  keeper  settlement keeper and archive job on their schedules
  full    both`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Mode = mode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			slog.SetDefault(logger)
			logger.Info("opinionsd starting",
				slog.String("mode", cfg.Mode),
				slog.String("config", rootOpts.ConfigPath),
				slog.Any("settings", config.RedactedConfig(cfg)),
			)

			err = app.New(cfg, logger).Run(cmd.Context())
			if err != nil && !errors.Is(err, cmd.Context().Err()) {
				return err
			}
			logger.Info("opinionsd stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "override the configured mode (api, keeper, full)")
	return cmd
}
