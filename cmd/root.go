package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/smaxtec/sxapi/config"
	"github.com/smaxtec/sxapi/session"
	"github.com/smaxtec/sxapi/sxapi"
)

var (
	cfgFile   string
	showStats bool
	cfg       *config.Config
	logger    zerolog.Logger
	client    *sxapi.Client

	version   = "dev"
	buildTime = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sxapi",
	Short: "Query the smaXtec API from the command line",
	Long: `sxapi talks to the smaXtec public and intern APIs. It checks service status,
lists events, fetches sensor data and computes days in milk for animals and
whole organisations.`,
	PersistentPreRunE: initializeApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// SetVersion sets the version reported by the version command
func SetVersion(v, built string) {
	version = v
	buildTime = built
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	// Stats are printed after failures too, they are most useful then.
	if showStats && client != nil {
		printStats(os.Stderr, client.Stats())
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&showStats, "stats", false, "print the API call history after the command")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(sensorDataCmd)
	rootCmd.AddCommand(dimCmd)
}

// initializeApp initializes the configuration and client
func initializeApp(cmd *cobra.Command, args []string) error {
	// Load configuration
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger = setupLogger(cfg.Logging)

	client, err = sxapi.NewClient(clientConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to create sxapi client: %w", err)
	}

	return nil
}

// clientConfig maps the api section onto the client configuration
func clientConfig(cfg *config.Config) sxapi.ClientConfig {
	return sxapi.ClientConfig{
		Endpoint:       cfg.API.PublicEndpoint,
		InternEndpoint: cfg.API.InternEndpoint,
		Credentials: session.Credentials{
			Email:    cfg.API.Email,
			Password: cfg.API.Password,
			APIKey:   cfg.API.APIKey,
		},
		Timeout:   cfg.API.Timeout,
		PageSize:  cfg.API.PageSize,
		ChunkDays: cfg.API.ChunkDays,
	}
}

// setupLogger configures the zerolog logger
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output format
	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Console format
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !cfg.Color || !isTerminal(os.Stderr),
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printStats(w io.Writer, stats []string) {
	fmt.Fprintln(w)
	for _, line := range stats {
		fmt.Fprintln(w, line)
	}
}

// versionCmd prints the build information without loading any config
var versionCmd = &cobra.Command{
	Use:               "version",
	Short:             "Print the version",
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sxapi %s (built %s)\n", version, buildTime)
	},
}

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the API status",
	Long:  `Query the public API service status and, when configured, the intern API health.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.Context(), client, cmd.OutOrStdout())
	},
}

func runStatus(ctx context.Context, c *sxapi.Client, w io.Writer) error {
	status, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	fmt.Fprintln(w, "Public API:")
	for _, key := range slices.Sorted(maps.Keys(status)) {
		fmt.Fprintf(w, "  %s: %v\n", key, status[key])
	}

	intern, err := c.Intern()
	if err != nil {
		fmt.Fprintln(w, "Intern API: not configured")
		return nil
	}

	if intern.Healthy(ctx) {
		fmt.Fprintln(w, "Intern API: ✓ healthy")
	} else {
		fmt.Fprintln(w, "Intern API: ✗ unhealthy")
	}

	return nil
}
