package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/ppiankov/krowser/internal/config"
	"github.com/ppiankov/krowser/internal/explorer"
	"github.com/ppiankov/krowser/internal/logging"
	"github.com/ppiankov/krowser/internal/reporter"
	"github.com/ppiankov/krowser/internal/server"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = logging.Init(slog.LevelInfo, "")

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		_, _ = fmt.Fprintf(os.Stderr, "Tip: Use 'krowser --help' for usage information.\n")
		os.Exit(classifyError(err))
	}
}

type rootOptions struct {
	configPath      string
	verbose         bool
	logFormat       string
	output          string
	bootstrapServer string
	authMechanism   string
	username        string
	password        string
	tlsEnabled      bool
	timeout         time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "krowser",
		Short:         "krowser is a read-only browser for Kafka clusters",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.Init(logging.Level(opts.verbose, slog.LevelInfo), opts.logFormat); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to config file (default: ./"+config.DefaultFileName+" or ~/"+config.DefaultFileName+")")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log format (text|json)")
	flags.StringVarP(&opts.output, "output", "o", "text", "Output format (text|json)")
	flags.StringVar(&opts.bootstrapServer, "bootstrap-server", "", "Kafka bootstrap server(s) (host:port, comma-separated)")
	flags.StringVar(&opts.authMechanism, "auth-mechanism", "", "SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)")
	flags.StringVar(&opts.username, "username", "", "SASL username")
	flags.StringVar(&opts.password, "password", "", "SASL password")
	flags.BoolVar(&opts.tlsEnabled, "tls", false, "Enable TLS")
	flags.DurationVar(&opts.timeout, "timeout", 0, "Kafka query timeout (for example: 10s, 1m)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newClusterCmd(opts))
	cmd.AddCommand(newTopicsCmd(opts))
	cmd.AddCommand(newOffsetsCmd(opts))
	cmd.AddCommand(newGroupsCmd(opts))
	cmd.AddCommand(newMessagesCmd(opts))
	cmd.AddCommand(newDecodersCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfig reads the config file and applies flags the user set
// explicitly on top of it.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromPath(opts.configPath)
	} else {
		var path string
		cfg, path, err = config.Load()
		if err == nil && path != "" {
			slog.Debug("loaded config", "path", path)
		}
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, &usageError{err: err}
	}

	applyFlags(cmd, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, &usageError{err: err}
	}
	return cfg, nil
}

func applyFlags(cmd *cobra.Command, opts *rootOptions, cfg *config.Config) {
	if flagChanged(cmd, "bootstrap-server") {
		cfg.Kafka.URLs = opts.bootstrapServer
	}
	if flagChanged(cmd, "auth-mechanism") {
		cfg.Kafka.AuthMechanism = opts.authMechanism
	}
	if flagChanged(cmd, "username") {
		cfg.Kafka.Username = opts.username
	}
	if flagChanged(cmd, "password") {
		cfg.Kafka.Password = opts.password
	}
	if flagChanged(cmd, "tls") {
		cfg.Kafka.TLS = opts.tlsEnabled
	}
	if flagChanged(cmd, "timeout") {
		cfg.Kafka.Timeout = opts.timeout
	}
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}

	flag := cmd.Flags().Lookup(name)
	if flag == nil {
		return false
	}

	return flag.Changed
}

func newReporter(cmd *cobra.Command, opts *rootOptions) (reporter.Reporter, error) {
	r, err := reporter.New(strings.ToLower(strings.TrimSpace(opts.output)), cmd.OutOrStdout())
	if err != nil {
		return nil, &usageError{err: err}
	}
	return r, nil
}

// withApp loads the config, connects to the cluster and runs fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app, r reporter.Reporter) error) error {
	r, err := newReporter(cmd, opts)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(cmd.Context(), a, r)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and keep the caches warm",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if flagChanged(cmd, "port") {
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return &usageError{err: err}
				}
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP listen port (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srvOpts := server.Options{
		Addr:       ":" + strconv.Itoa(cfg.Server.Port),
		ConnectURL: cfg.KafkaConnect.URL,
		Gatherer:   a.gatherer,
		Metrics:    a.metrics,
	}
	if a.schemaRegistry != nil {
		srvOpts.SchemaRegistry = a.schemaRegistry
	}
	srv, err := server.New(a.explorer, srvOpts)
	if err != nil {
		return &usageError{err: err}
	}

	refresher := explorer.NewRefresher(a.explorer, explorer.RefresherOptions{
		Interval:   cfg.Cache.RefreshInterval,
		TopicPause: cfg.Cache.TopicPause,
		Metrics:    a.metrics,
	})

	var g run.Group
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return refresher.Run(ctx)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(srv.ListenAndServe, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown", "error", err)
			}
		})
	}
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		slog.Info("shutting down", "signal", sig.Signal.String())
		return nil
	}
	return err
}

func newClusterCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cluster",
		Short: "Show brokers, controller and topic count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, r reporter.Reporter) error {
				ctx, cancel := context.WithTimeout(ctx, a.cfg.Kafka.Timeout)
				defer cancel()
				cluster, err := a.explorer.Cluster(ctx)
				if err != nil {
					return err
				}
				return r.Cluster(ctx, cluster)
			})
		},
	}
}

func newTopicsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List topics and partition placement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, r reporter.Reporter) error {
				ctx, cancel := context.WithTimeout(ctx, a.cfg.Kafka.Timeout)
				defer cancel()
				topics, err := a.explorer.Topics(ctx)
				if err != nil {
					return err
				}
				return r.Topics(ctx, topics)
			})
		},
	}
}

func newOffsetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "offsets TOPIC",
		Short: "Show low and high watermarks of every partition of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, r reporter.Reporter) error {
				ctx, cancel := context.WithTimeout(ctx, a.cfg.Kafka.Timeout)
				defer cancel()
				offsets, err := a.explorer.Offsets(ctx, args[0])
				if err != nil {
					return err
				}
				return r.Offsets(ctx, args[0], offsets)
			})
		},
	}
}

func newGroupsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List consumer groups and their members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, r reporter.Reporter) error {
				ctx, cancel := context.WithTimeout(ctx, a.cfg.Kafka.Timeout)
				defer cancel()
				groups, err := a.explorer.Groups(ctx)
				if err != nil {
					return err
				}
				return r.Groups(ctx, groups)
			})
		},
	}
}

type messagesOptions struct {
	offset      int64
	limit       int64
	search      string
	searchStyle string
	decoder     string
	timeout     time.Duration
}

func newMessagesCmd(opts *rootOptions) *cobra.Command {
	var mopts messagesOptions

	cmd := &cobra.Command{
		Use:   "messages TOPIC PARTITION",
		Short: "Read and decode messages from one partition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := buildMessageQuery(args[0], args[1], mopts)
			if err != nil {
				return &usageError{err: err}
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app, r reporter.Reporter) error {
				res, err := a.explorer.Messages(ctx, q)
				if err != nil {
					return err
				}
				return r.Messages(ctx, res)
			})
		},
	}

	flags := cmd.Flags()
	flags.Int64Var(&mopts.offset, "offset", 0, "First offset to read")
	flags.Int64Var(&mopts.limit, "limit", explorer.DefaultMessageLimit, "Maximum number of offsets to scan")
	flags.StringVar(&mopts.search, "search", "", "Only show messages whose key, value or decoder matches")
	flags.StringVar(&mopts.searchStyle, "search-style", "", "Search style (case-sensitive|regex, default case-insensitive)")
	flags.StringVar(&mopts.decoder, "decoder", "", "Decode keys and values with this decoder only")
	flags.DurationVar(&mopts.timeout, "fetch-timeout", explorer.DefaultMessageTimeout, "Give up reading after this long")

	return cmd
}

func buildMessageQuery(topic, partition string, mopts messagesOptions) (explorer.MessageQuery, error) {
	p, err := strconv.ParseInt(partition, 10, 32)
	if err != nil {
		return explorer.MessageQuery{}, fmt.Errorf("partition %q must be a number", partition)
	}
	style, err := explorer.ParseSearchStyle(mopts.searchStyle)
	if err != nil {
		return explorer.MessageQuery{}, err
	}
	if mopts.timeout <= 0 {
		return explorer.MessageQuery{}, errors.New("fetch-timeout must be greater than zero")
	}

	q := explorer.NewMessageQuery(topic, int32(p))
	q.Offset = mopts.offset
	q.Limit = mopts.limit
	q.Search = mopts.search
	q.SearchStyle = style
	q.Decoder = mopts.decoder
	q.Timeout = mopts.timeout
	return q, nil
}

func newDecodersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decoders",
		Short: "List built-in and plugin decoders",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newReporter(cmd, opts)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			reg, err := newDecoderRegistry(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer reg.Close()
			return r.Decoders(cmd.Context(), decoderViews(reg))
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print one effective setting, for example kafka.urls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			v, ok := cfg.Lookup(args[0])
			if !ok {
				return &usageError{err: fmt.Errorf("config key %q is not set", args[0])}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
			return err
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "version: %s\n", Version); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "commit:  %s\n", GitCommit); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "date:    %s\n", BuildDate); err != nil {
				return err
			}
			return nil
		},
	}
}
