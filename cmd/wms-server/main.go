package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/app"
	"github.com/delta10/wms-server/internal/config"
	"github.com/delta10/wms-server/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wms-server",
		Short:         "OGC Web Map Service (1.1.1, 1.3.0)",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringP("config", "c", "config.yaml", "path to the YAML or TOML configuration")
	root.AddCommand(newServeCmd(), newCheckCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewConfig(path)
	if err != nil {
		return nil, nil, fmt.Errorf("could not load config %s: %w", path, err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve WMS requests over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			a, err := app.Build(cfg, logger)
			if err != nil {
				logger.Error("could not start server", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := a.Server.HTTPServer(cfg.Server.ListenAddress)
			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", zap.String("address", cfg.Server.ListenAddress))
				if cfg.Server.ListenTLS.Certificate != "" {
					errCh <- srv.ListenAndServeTLS(cfg.Server.ListenTLS.Certificate, cfg.Server.ListenTLS.Key)
				} else {
					errCh <- srv.ListenAndServe()
				}
			}()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				err = srv.Shutdown(shutdownCtx)
				a.Close(shutdownCtx)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and map without serving",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			reg, _, err := app.LoadRegistry(cfg, logger)
			if err != nil {
				return err
			}
			if _, err := app.ServiceOptions(cfg, reg, logger); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, reg.String())
			for _, l := range reg.Layers() {
				kind := "layer"
				if l.IsMeta() {
					kind = "meta"
				}
				fmt.Fprintf(out, "%-5s %s (%s)\n", kind, l.Name, l.AdvertisedSRS())
			}
			return nil
		},
	}
}
