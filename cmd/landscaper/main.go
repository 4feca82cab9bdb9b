// Command landscaper collects a temporal graph of the infrastructure
// landscape and serves it over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"landscaper/internal/config"
	"landscaper/internal/logging"
	"landscaper/internal/metrics"
	"landscaper/internal/repository"
	"landscaper/internal/repository/memory"
	"landscaper/internal/repository/sqlite"
	"landscaper/internal/store"
)

// app carries what every command needs once the config is loaded
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	closer     io.Closer
}

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "landscaper",
		Short:         "Temporal graph of the physical, virtual and service landscape",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "",
		"config file (default: $"+config.EnvConfigPath+", ./"+config.ConfigFileName+", XDG, /etc)")

	root.AddCommand(
		newServeCmd(a),
		newTopologyCmd(a),
		newQueryCmd(a),
		newImportCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) load() error {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if a.configPath != "" {
		cfg, path, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, path, err = config.Load()
	}
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.closer = cfg, logger, closer

	if path == "" {
		a.logger.Debug("no config file found, using defaults")
	} else {
		a.logger.Debug("config loaded", zap.String("path", path))
	}
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// openStore connects the configured backend. The sqlite backend is wrapped
// with health checks and reconnection. m may be nil.
func (a *app) openStore(ctx context.Context, m *metrics.Registry) (*store.Store, repository.Repository, error) {
	var repo repository.Repository
	switch a.cfg.Database.Driver {
	case "memory":
		repo = memory.New()
	default:
		path := a.cfg.Database.Path
		resilient, err := repository.NewResilient(ctx,
			func(context.Context) (repository.Repository, error) {
				return sqlite.New(path)
			},
			repository.WithPolicy(a.cfg.Database.Retry.Policy()),
			repository.WithHealthCheckInterval(a.cfg.Database.HealthCheckInterval.Duration()),
			repository.WithLogger(a.logger.Named("repository")),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("open database %s: %w", path, err)
		}
		repo = resilient
		a.logger.Info("database opened", zap.String("path", path))
	}

	opts := []store.Option{store.WithLogger(a.logger.Named("store"))}
	if m != nil {
		opts = append(opts, store.WithMetrics(m))
	}
	return store.New(repo, opts...), repo, nil
}
