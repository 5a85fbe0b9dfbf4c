package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"nicotsm/internal"
	"nicotsm/niconico"
	"nicotsm/reserve"
	"nicotsm/utils"
)

var (
	configPath  string
	searchCount int
	debug       bool
	logLevel    string
	logFile     string
	rateLimit   string
	config      *internal.Config
	logCloser   io.Closer
	exitCode    int

	endpoints           = niconico.DefaultEndpoints()
	stdout    io.Writer = os.Stdout
	stderr    io.Writer = os.Stderr
)

// exitError carries the process exit code of a failed command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:     "nicotsm [--config PATH] [--search [N]]",
	Short:   "Reserve Niconico live timeshifts for programs matching saved searches",
	Version: "v1.0.0",
	Long: `nicotsm runs the searches listed in its configuration file against the
Niconico live content-search API and reserves a timeshift for every
matching program that is not reserved yet. Reservations added or removed
by the run are printed on stdout.

Examples:
  nicotsm
  nicotsm --config ~/nicotsm.yaml
  nicotsm --search        print the first 10 matches without reserving
  nicotsm --search 50
  nicotsm list

Environment Variables:
  NICOTSM_LOGIN_MAIL       Account mail address
  NICOTSM_LOGIN_PASSWORD   Account password
  NICOTSM_MISC_PROXY       Proxy URL
  NICOTSM_LOG_LEVEL        Log level (debug, info, warn, error)

Exit status is 0 on success, 1 on a run error and 2 on a configuration error.`,
	Args:          searchCountArg,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(); err != nil {
			return &exitError{code: reserve.ExitConfigError, err: err}
		}

		closer, err := internal.InitLogger(config.Log)
		if err != nil {
			return &exitError{code: reserve.ExitConfigError, err: err}
		}
		logCloser = closer
		internal.GetLogger().AddRedactor(internal.NewValueRedactor(config.Login.Mail, config.Login.Password))

		internal.LogInfo("nicotsm starting up")
		internal.LogDebug("Configuration loaded: path=%s, filters=%d, overwrite=%v, timezone=%s",
			config.Path, len(config.Search), config.Misc.Overwrite, config.Misc.Timezone)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("search") {
			if searchCount < 0 {
				return &exitError{
					code: reserve.ExitConfigError,
					err:  internal.NewValidationErrorWithValue("search", "must be >= 0", searchCount),
				}
			}
			internal.LogInfo("Search only, printing up to %d matches", searchCount)
			return runEngine(func(ctx context.Context, engine *reserve.Engine) (int, error) {
				return engine.RunSearchOnly(ctx, searchCount)
			})
		}

		internal.LogInfo("Reserving timeshifts for %d search filters", len(config.Search))
		return runEngine(func(ctx context.Context, engine *reserve.Engine) (int, error) {
			return engine.RunAutoReserve(ctx)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the current timeshift reservations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(func(ctx context.Context, engine *reserve.Engine) (int, error) {
			return engine.RunList(ctx)
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with the configured account and store the session cookie",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(func(ctx context.Context, client *niconico.Client) error {
			return client.Login(ctx)
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and clear the cookie jar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(func(ctx context.Context, client *niconico.Client) error {
			return client.Logout(ctx)
		})
	},
}

// searchCountArg accepts the count of "--search N" given as a separate
// word. The flag takes an optional value, so pflag leaves N as a positional
// argument.
func searchCountArg(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) > 1 || !cmd.Flags().Changed("search") {
		return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid search count %q", args[0])
	}
	searchCount = n
	return nil
}

// loadConfiguration reads the config file and applies flag overrides
func loadConfiguration() error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if debug {
		cfg.Log.Debug = true
		cfg.Log.Level = "debug"
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if rateLimit != "" {
		rate, err := utils.ParseRateLimit(rateLimit)
		if err != nil {
			return internal.NewValidationErrorWithValue("rate-limit", "invalid format", rateLimit).
				WithSuggestion("Use formats like 2 (2 requests/s), 30/m or 600/h")
		}
		cfg.Misc.RateLimit = rate
	}

	if err := reserve.ValidateFilters(cfg.Search); err != nil {
		return err
	}

	config = cfg
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			internal.LogInfo("Received signal %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// runClient opens a session for the duration of fn. The cookie jar is
// written back even when fn fails or the run is interrupted.
func runClient(fn func(ctx context.Context, client *niconico.Client) error) error {
	ctx, cancel := signalContext()
	defer cancel()

	err := niconico.WithSession(niconico.SessionConfigFromConfig(config), func(session *niconico.Session) error {
		client := niconico.NewClient(session, config.Login.Credential, endpoints)
		return fn(ctx, client)
	})
	if err == nil {
		return nil
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	internal.LogNicoError(err)
	return &exitError{code: reserve.ExitError, err: err}
}

// runEngine drives one engine operation and records its exit code
func runEngine(fn func(ctx context.Context, engine *reserve.Engine) (int, error)) error {
	return runClient(func(ctx context.Context, client *niconico.Client) error {
		engine := reserve.NewEngine(client, client.Session().Location(), reserve.Options{
			Filters:   config.Search,
			Overwrite: config.Misc.Overwrite,
			Warn:      config.Warn,
			Stdout:    stdout,
			Stderr:    stderr,
		})

		code, err := fn(ctx, engine)
		if err != nil {
			return &exitError{code: code, err: err}
		}
		exitCode = code
		return nil
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file (default $XDG_CONFIG_HOME/nicotsm/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging with file and line information")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: NICOTSM_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: NICOTSM_LOG_FILE)")
	rootCmd.PersistentFlags().StringVar(&rateLimit, "rate-limit", "", "Upstream request rate, e.g. 2, 30/m or 600/h (env: NICOTSM_MISC_RATELIMIT)")

	rootCmd.Flags().IntVar(&searchCount, "search", 10, "Only print the first N matching programs, do not reserve")
	rootCmd.Flags().Lookup("search").NoOptDefVal = "10"

	rootCmd.AddCommand(listCmd, loginCmd, logoutCmd)
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	exitCode = reserve.ExitOK
	defer func() {
		if logCloser != nil {
			logCloser.Close()
			logCloser = nil
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintf(stderr, "error: %s\n", ee.err)
			return ee.code
		}
		// flag and argument errors from cobra
		fmt.Fprintf(stderr, "error: %s\n", err)
		return reserve.ExitConfigError
	}
	return exitCode
}
