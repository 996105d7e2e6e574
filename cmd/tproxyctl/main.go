package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/anyportal/tproxyctl/internal/adapters/fs"
	httpAdapter "github.com/anyportal/tproxyctl/internal/adapters/http"
	"github.com/anyportal/tproxyctl/internal/cliconfig"
	"github.com/anyportal/tproxyctl/internal/endpoint"
	"github.com/anyportal/tproxyctl/internal/ports"
	"github.com/anyportal/tproxyctl/pkg/log"
	"github.com/anyportal/tproxyctl/pkg/tproxy"
)

var longHelp = strings.TrimSpace(`
Control a transparent-proxy tunnel.

tproxyctl serve owns the tunnel lifecycle and exposes a local control
channel. The start, stop and status commands talk to that daemon; inspect
reads the last recorded state without contacting it.

Configure via $HOME/.tproxyctl/config.toml, TPROXYCTL_* variables, or flags.
`)

var exampleUsage = strings.TrimSpace(`
  tproxyctl serve --start-cmd "systemctl start hev-socks5-tunnel" \
                  --stop-cmd "systemctl stop hev-socks5-tunnel" \
                  --status-cmd "systemctl is-active --quiet hev-socks5-tunnel"
  tproxyctl start
  tproxyctl status --refresh
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	boot := cliconfig.Logger()

	if err := newRootCmd().Execute(); err != nil {
		boot.Error().Err(err).Msg("tproxyctl")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "tproxyctl",
		Short:         "Control a transparent-proxy tunnel",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	load := func(cmd *cobra.Command) error {
		return loadConfig(cmd, &cfg, cfgPath)
	}

	root.AddCommand(
		newServeCmd(&cfg, load),
		newChannelCmd("start", "Start the tunnel", endpoint.MethodStartAll, &cfg, load),
		newChannelCmd("stop", "Stop the tunnel or clear a failed start", endpoint.MethodStopAll, &cfg, load),
		newStatusCmd(&cfg, load),
		newInspectCmd(&cfg, load),
	)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.tproxyctl/config.toml)")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "control channel listen address")
	flags.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "control channel URL used by client commands")
	flags.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for status.json")
	flags.StringVar(&cfg.PIDFile, "pid-file", cfg.PIDFile, "tunnel pid file to watch (optional)")
	flags.StringVar(&cfg.StartCommand, "start-cmd", cfg.StartCommand, "command that starts the tunnel")
	flags.StringVar(&cfg.StopCommand, "stop-cmd", cfg.StopCommand, "command that stops the tunnel")
	flags.StringVar(&cfg.StatusCommand, "status-cmd", cfg.StatusCommand, "command that exits 0 while the tunnel runs")
	flags.DurationVar(&cfg.DriverTimeout, "driver-timeout", cfg.DriverTimeout, "start/stop timeout")
	flags.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "status probe timeout")
	flags.DurationVar(&cfg.RefreshInterval, "refresh-interval", cfg.RefreshInterval, "periodic status refresh (0 disables)")
	flags.BoolVar(&cfg.AutoStart, "auto-start", cfg.AutoStart, "start the tunnel when the daemon starts")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console, json)")
	flags.StringVar(&cfg.LogBackend, "log-backend", cfg.LogBackend, "log backend (zerolog, zap)")
	flags.DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "control channel HTTP timeout (raised to driver timeout plus a margin)")

	return root
}

// loadConfig applies the config file and environment beneath any flags
// set on the command line, then validates the result.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	} else if cfgPath != "" {
		return fmt.Errorf("config file %s not found", cfgPath)
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate()
}

func newServeCmd(cfg *cliconfig.Config, load func(*cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the controller daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd); err != nil {
				return err
			}
			if err := cfg.ValidateDaemon(); err != nil {
				return err
			}

			logger, err := cliconfig.NewLogger(*cfg)
			if err != nil {
				return err
			}
			logger.Info("configuration",
				log.String("listen", cfg.ListenAddr),
				log.String("state_dir", cfg.StateDir),
				log.String("pid_file", cfg.PIDFile),
				log.Duration("driver_timeout", cfg.DriverTimeout),
				log.Duration("probe_timeout", cfg.ProbeTimeout),
				log.Duration("refresh_interval", cfg.RefreshInterval),
				log.Bool("auto_start", cfg.AutoStart),
			)

			svc, err := tproxy.New(tproxy.Config{
				StateDir:        cfg.StateDir,
				StartCommand:    cfg.StartArgv(),
				StopCommand:     cfg.StopArgv(),
				StatusCommand:   cfg.StatusArgv(),
				PIDFile:         cfg.PIDFile,
				DriverTimeout:   cfg.DriverTimeout,
				ProbeTimeout:    cfg.ProbeTimeout,
				RefreshInterval: cfg.RefreshInterval,
			}, tproxy.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("create controller: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := httpAdapter.NewServer(cfg.ListenAddr, svc, svc, logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return svc.Run(gctx) })
			g.Go(func() error { return server.Run(gctx) })
			if cfg.AutoStart {
				g.Go(func() error {
					if err := svc.RequestStart(gctx); err != nil {
						logger.Warn("auto start failed", log.Err(err))
					}
					return nil
				})
			}

			err = g.Wait()
			logger.Info("stopped", log.String("phase", svc.Snapshot().Phase.String()))
			return err
		},
	}
}

func newClient(cfg *cliconfig.Config) (*httpAdapter.Client, error) {
	logger, err := cliconfig.NewLogger(*cfg)
	if err != nil {
		return nil, err
	}
	return httpAdapter.NewClient(httpAdapter.ClientConfig{
		BaseURL:  cfg.ServerURL,
		Timeout:  cfg.ClientTimeout(),
		RetryMax: httpAdapter.DefaultRetryMax,
	}, logger), nil
}

// newChannelCmd builds a command that sends one acknowledgement request.
func newChannelCmd(use, short string, method endpoint.Method, cfg *cliconfig.Config, load func(*cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd); err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			if _, err := client.Call(cmd.Context(), method.String()); err != nil {
				if errors.Is(err, tproxy.ErrResetRequired) {
					color.HiRed("tunnel is in error; run `tproxyctl stop` to reset")
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("ok"))
			return nil
		},
	}
}

func newStatusCmd(cfg *cliconfig.Config, load func(*cobra.Command) error) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the tunnel is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd); err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}

			method := endpoint.MethodIsRunning
			if refresh {
				method = endpoint.MethodRefreshStatus
			}
			result, err := client.Call(cmd.Context(), method.String())
			if err != nil {
				return err
			}
			if result == nil {
				return fmt.Errorf("%s returned no result", method)
			}

			rec, err := client.State(cmd.Context())
			if err != nil {
				return err
			}
			printRecord(cmd, *result, rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "probe the tunnel before answering")
	return cmd
}

func newInspectCmd(cfg *cliconfig.Config, load func(*cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the last recorded state without contacting the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd); err != nil {
				return err
			}

			rec, err := fs.NewStateFileRecorder(cfg.StateDir).Last(context.Background())
			if err != nil {
				return fmt.Errorf("read state: %w", err)
			}
			if rec.Phase == "" {
				fmt.Fprintln(cmd.OutOrStdout(), color.YellowString("no state recorded in %s", cfg.StateDir))
				return nil
			}
			printRecord(cmd, rec.Phase == tproxy.PhaseRunning.String(), rec)
			return nil
		},
	}
}

func printRecord(cmd *cobra.Command, running bool, rec ports.Record) {
	out := cmd.OutOrStdout()

	state := color.RedString("not running")
	if running {
		state = color.GreenString("running")
	}
	fmt.Fprintf(out, "tunnel:     %s\n", state)
	fmt.Fprintf(out, "phase:      %s\n", rec.Phase)
	fmt.Fprintf(out, "generation: %d\n", rec.Generation)
	fmt.Fprintf(out, "updated:    %s\n", rec.UpdatedAt)
	if rec.LastError != "" {
		fmt.Fprintf(out, "last error: %s\n", color.HiRedString(rec.LastError))
	}
}
