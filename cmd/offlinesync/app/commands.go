// Package app provides the commands of the offlinesync CLI.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kimhsiao/offlinesync/internal/cache"
	"github.com/kimhsiao/offlinesync/internal/config"
	"github.com/kimhsiao/offlinesync/internal/logging"
	"github.com/kimhsiao/offlinesync/internal/storage"
	"github.com/kimhsiao/offlinesync/internal/sync/queue"
	"github.com/kimhsiao/offlinesync/internal/telemetry"
)

// Version is set at build time
var Version = "0.1.0"

// EnvPrefix prefixes environment variables read by the CLI.
const EnvPrefix = "OFFLINESYNC"

// flag names, also used as viper keys
const (
	flagConfig        = "config"
	flagNamespace     = "namespace"
	flagStorageDriver = "storage-driver"
	flagStoragePath   = "storage-path"
	flagLogLevel      = "log-level"
	flagLogFormat     = "log-format"
	flagBaseURL       = "base-url"
	flagProbeAddress  = "probe-address"
	flagMetricsAddr   = "metrics-address"
	flagJSON          = "json"
)

// cli carries the state shared by every command.
type cli struct {
	v    *viper.Viper
	root *cobra.Command
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix(EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:               "offlinesync",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Offline action queue and cache sync engine",
		Long: `offlinesync keeps a durable queue of user actions taken while offline,
a TTL cache of server responses, and replays the queue when connectivity
returns.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	c.root = rootCmd

	flags := rootCmd.PersistentFlags()
	flags.String(flagConfig, "", "Path to configuration file (YAML format)")
	flags.String(flagNamespace, "", "Key prefix for stored data")
	flags.String(flagStorageDriver, "", "Storage driver (memory, sqlite, file)")
	flags.String(flagStoragePath, "", "Data directory for the sqlite and file drivers")
	flags.String(flagLogLevel, "", "Log level (debug, info, warn, error)")
	flags.String(flagLogFormat, "", "Log format (json, text)")
	flags.String(flagBaseURL, "", "Base URL actions are replayed against")
	flags.String(flagProbeAddress, "", "host:port dialed to decide connectivity")
	for _, name := range []string{
		flagConfig, flagNamespace, flagStorageDriver, flagStoragePath,
		flagLogLevel, flagLogFormat, flagBaseURL, flagProbeAddress,
	} {
		if err := c.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
		}
	}

	rootCmd.AddCommand(c.newQueueCmd())
	rootCmd.AddCommand(c.newCacheCmd())
	rootCmd.AddCommand(c.newSyncCmd())
	rootCmd.AddCommand(c.newRunCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// bindFlag binds a command-local flag to viper.
func (c *cli) bindFlag(cmd *cobra.Command, name string) {
	if err := c.v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
	}
}

// loadConfig reads the config file and applies flags and environment
// variables on top, then configures logging.
func (c *cli) loadConfig() (*config.Config, error) {
	var opts []config.Option
	if path := c.v.GetString(flagConfig); path != "" {
		opts = append(opts, config.WithConfigPath(path))
	}
	opts = append(opts, config.WithOverride(func(cfg *config.Config) {
		setString(&cfg.Namespace, c.v.GetString(flagNamespace))
		setString(&cfg.Storage.Driver, c.v.GetString(flagStorageDriver))
		setString(&cfg.Storage.Path, c.v.GetString(flagStoragePath))
		setString(&cfg.Logging.Level, c.v.GetString(flagLogLevel))
		setString(&cfg.Logging.Format, c.v.GetString(flagLogFormat))
		setString(&cfg.Replay.BaseURL, c.v.GetString(flagBaseURL))
		setString(&cfg.Network.ProbeAddress, c.v.GetString(flagProbeAddress))
		setString(&cfg.Metrics.Address, c.v.GetString(flagMetricsAddr))
	}))

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, err
	}

	stderr := c.root.ErrOrStderr()
	var out io.Writer = stderr
	if cfg.Logging.Format == config.LogFormatText {
		out = zerolog.ConsoleWriter{Out: stderr, TimeFormat: "15:04:05"}
	}
	logging.SetDefault(logging.New(out, cfg.LogLevel()))
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// env is the opened engine for one command invocation.
type env struct {
	cfg   *config.Config
	store storage.Store
	cache *cache.Cache
	queue *queue.Queue
}

// open loads configuration and opens storage. metrics may be nil.
func (c *cli) open(metrics *telemetry.Metrics) (*env, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:   cfg,
		store: store,
		cache: cache.New(store, cache.WithNamespace(cfg.Namespace), cache.WithMetrics(metrics)),
		queue: queue.New(store,
			queue.WithNamespace(cfg.Namespace),
			queue.WithRetryPolicy(cfg.RetryPolicy()),
			queue.WithMetrics(metrics)),
	}, nil
}

func (e *env) Close() {
	if err := storage.Close(e.store); err != nil {
		logging.Error("Failed to close storage", err)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format output as JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := map[string]string{
				"version":  Version,
				"go":       runtime.Version(),
				"platform": runtime.GOOS + "/" + runtime.GOARCH,
			}
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			if format == "json" {
				return printJSON(cmd.OutOrStdout(), info)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "offlinesync %s (%s, %s)\n",
				info["version"], info["go"], info["platform"])
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
