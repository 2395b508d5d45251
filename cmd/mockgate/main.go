package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/itsnoxius/mockgate/internal/config"
	"github.com/itsnoxius/mockgate/internal/logger"
	"github.com/itsnoxius/mockgate/internal/server"
)

var version = "dev"

type flags struct {
	port       int
	configURL  string
	configFile string
	logSink    string
	dbPath     string
	redisURL   string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "mockgate",
		Short:        "Traffic-steering gateway that serves mocks or forwards to upstreams",
		Version:      version,
		SilenceUsage: true,
	}

	var f flags
	pf := root.PersistentFlags()
	pf.IntVar(&f.port, "port", 0, "listen port (PORT)")
	pf.StringVar(&f.configURL, "config-url", "", "config service base URL (CONFIG_SERVICE_URL)")
	pf.StringVar(&f.configFile, "config-file", "", "local JSON or YAML domain file (CONFIG_FILE)")
	pf.StringVar(&f.logSink, "log-sink", "", "api log sink: http, sqlite or none (LOG_SINK)")
	pf.StringVar(&f.dbPath, "db-path", "", "sqlite path for the sqlite log sink (DB_PATH)")
	pf.StringVar(&f.redisURL, "redis-url", "", "redis URL for cross-instance events (REDIS_URL)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	pf.StringVar(&f.logFormat, "log-format", "", "console or json (LOG_FORMAT)")

	root.AddCommand(newServeCmd(&f), newCheckCmd(&f))
	return root
}

// loadConfig reads the environment and lets explicitly set flags override it
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg := config.Load()

	changed := cmd.Flags().Changed
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("config-url") {
		cfg.ConfigServiceURL = f.configURL
	}
	if changed("config-file") {
		cfg.ConfigFile = f.configFile
	}
	if changed("log-sink") {
		cfg.LogSink = f.logSink
	}
	if changed("db-path") {
		cfg.DBPath = f.dbPath
	}
	if changed("redis-url") {
		cfg.RedisURL = f.redisURL
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newServeCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}

			log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			log.Info("starting mockgate",
				zap.String("version", version),
				zap.Int("port", cfg.Port),
				zap.String("log_sink", cfg.LogSink))

			srv, err := server.New(cfg, log)
			if err != nil {
				log.Error("failed to initialize server", zap.Error(err))
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := srv.Run(ctx); err != nil {
				log.Error("server stopped with error", zap.Error(err))
				return err
			}
			log.Info("server stopped")
			return nil
		},
	}
}

func newCheckCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load the domain configuration once and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			// no log sink is opened for a dry load
			cfg.LogSink = config.SinkNone
			cfg.RedisURL = ""

			srv, err := server.New(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer srv.Close()

			if err := srv.Registry.Refresh(cmd.Context()); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(srv.Registry.Stats())
		},
	}
}
