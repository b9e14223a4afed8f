package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petrijr/orderflow/internal/app"
	"github.com/petrijr/orderflow/internal/config"
	"github.com/petrijr/orderflow/internal/logging"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, the engine and its workers",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	flags := cmd.Flags()
	flags.String("http-addr", "", "listen address, e.g. :8080")
	flags.String("store-backend", "", "execution store: memory, sqlite, postgres, redis or mongo")
	flags.String("queue-backend", "", "task queue: none, memory, sqlite, postgres, redis or mongo")
	flags.String("notify-backend", "", "notifications: none, log, nats or redis")
	flags.String("notify-topic", "", "topic terminal outcomes are published to")
	flags.Int("workers", 0, "number of queue workers")
	flags.Duration("workflow-timeout", 0, "execution deadline measured from start")
	flags.String("workflow-definition-file", "", "YAML workflow to run instead of the built-in order workflow")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(config.Options{File: file, Flags: cmd.Flags()})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start orderflow: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close backends", "error", err)
		}
	}()

	return a.Run(ctx)
}
