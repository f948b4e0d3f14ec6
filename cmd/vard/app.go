package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/varserver/vard"
	"github.com/varserver/vard/internal/loggingutil"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("VARD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "vard")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(fmt.Sprintf("bind env %s: %v", key, err))
		}
	}
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := vard.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, vard.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func bindConfig(cfg *vard.Config) {
	cfg.Listen = viper.GetString("listen")
	cfg.ListenProto = viper.GetString("listen-proto")
	cfg.MetricsListen = viper.GetString("metrics-listen")
	cfg.Preload = viper.GetString("preload")
	cfg.PreloadWatch = viper.GetBool("preload-watch")
	cfg.WatchTimeout = viper.GetDuration("watch-timeout")
	cfg.ShutdownTimeout = viper.GetDuration("shutdown-timeout")
	cfg.LogLevel = viper.GetString("log-level")
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg vard.Config
	cmd := &cobra.Command{
		Use:           "vard",
		Short:         "vard is a variable server: a typed, taggable key/value registry with queries, watches, and rendering",
		SilenceErrors: true,
		Example: `
  # Run on the default unix socket under $XDG_RUNTIME_DIR
  vard

  # Run on TCP with a Prometheus endpoint and preloaded variables
  vard --listen-proto tcp --listen :9550 --metrics-listen :9551 --preload vars.yaml

  # Query a running server
  vard vars -v -n sys.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			bindConfig(&cfg)

			logLevel := strings.TrimSpace(cfg.LogLevel)
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
			}
			cliLogger := loggingutil.WithSubsystem(logger, "cli.root")
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}

			server, err := vard.NewServer(cfg, vard.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					cliLogger.Error("shutdown failed", "error", err)
				}
			}()

			err = server.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.vard/"+vard.DefaultConfigFileName+")")
	mustBindFlag("config", "VARD_CONFIG", persistentFlags.Lookup("config"))

	flags := cmd.Flags()
	flags.String("listen", "", "listen address: socket path for unix, host:port for tcp (default socket under runtime dir)")
	flags.String("listen-proto", vard.DefaultListenProto, "listen network (unix, tcp, tcp4, tcp6)")
	flags.String("metrics-listen", vard.DefaultMetricsListen, "metrics listen address (Prometheus scrape endpoint; empty disables)")
	flags.String("preload", "", "YAML file of variable definitions created at startup")
	flags.Bool("preload-watch", false, "re-apply the preload file when it changes on disk")
	flags.Duration("watch-timeout", vard.DefaultWatchTimeout, "server-side cap for watch long-polls")
	flags.Duration("shutdown-timeout", vard.DefaultShutdownTimeout, "overall shutdown timeout")
	flags.String("log-level", "info", "log level (trace|debug|info|warn|error)")

	mustBindFlag("listen", "VARD_LISTEN", flags.Lookup("listen"))
	mustBindFlag("listen-proto", "VARD_LISTEN_PROTO", flags.Lookup("listen-proto"))
	mustBindFlag("metrics-listen", "VARD_METRICS_LISTEN", flags.Lookup("metrics-listen"))
	mustBindFlag("preload", "VARD_PRELOAD", flags.Lookup("preload"))
	mustBindFlag("preload-watch", "VARD_PRELOAD_WATCH", flags.Lookup("preload-watch"))
	mustBindFlag("watch-timeout", "VARD_WATCH_TIMEOUT", flags.Lookup("watch-timeout"))
	mustBindFlag("shutdown-timeout", "VARD_SHUTDOWN_TIMEOUT", flags.Lookup("shutdown-timeout"))
	mustBindFlag("log-level", "VARD_LOG_LEVEL", flags.Lookup("log-level"))

	cliCfg := addClientConnectionFlags(cmd)
	cmd.AddCommand(
		newVarsCommand(cliCfg),
		newGetCommand(cliCfg),
		newSetCommand(cliCfg),
		newCreateCommand(cliCfg),
		newFlagsCommand(cliCfg),
		newAliasCommand(cliCfg),
		newWatchCommand(cliCfg),
		newTemplateCommand(cliCfg),
		newStatusCommand(cliCfg),
		newVersionCommand(),
	)
	return cmd
}
