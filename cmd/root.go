package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2/google"

	"github.com/bnema/nextmeeting/internal/auth"
	"github.com/bnema/nextmeeting/internal/calendar"
	"github.com/bnema/nextmeeting/internal/config"
	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/logger"
	"github.com/bnema/nextmeeting/internal/meeting"
	"github.com/bnema/nextmeeting/internal/security"
)

var (
	dataDir string
	verbose bool
	logFile string
	cfgFile string
	cfg     *config.Config

	// Version information
	version    string
	commitHash string
	buildTime  string
)

var rootCmd = &cobra.Command{
	Use:   "nextmeeting",
	Short: "Show your next calendar meeting on a keypad tile or in the terminal",
	Long: `nextmeeting keeps one tile up to date with your next (or current) calendar meeting.

It runs as a keypad plugin that draws the meeting title and a countdown on a key,
opens the meeting link when the key is pressed, and signs in to Google Calendar
through a local OAuth companion. The same resolver is available from the command
line for status bars and scripts.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, commit, buildTimeStr string) {
	version = v
	commitHash = commit
	buildTime = buildTimeStr

	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commitHash, buildTime)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: ~/.local/share/nextmeeting)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/nextmeeting/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a rotating file instead of stderr")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(pluginCmd)
}

func initConfig() {
	if err := logger.Init(verbose, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	if dataDir == "" {
		defaultDataDir, err := config.GetDefaultDataDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting default data directory: %v\n", err)
			os.Exit(1)
		}
		dataDir = defaultDataDir
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("configuration loaded", "config", cfg.Sanitize())
}

// services bundles the provider clients shared by every subcommand.
type services struct {
	exchanger *auth.Exchanger
	calendar  *calendar.Client
	formatter meeting.Formatter
	secure    *security.SecureLogger
}

func newServices() (*services, error) {
	httpClient, err := security.NewHTTPClient(cfg.Polling.RequestTimeout,
		calendar.APIBaseURL, google.Endpoint.TokenURL, auth.UserInfoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}

	secure := security.NewSecureLogger(verbose)
	return &services{
		exchanger: auth.NewExchanger(auth.ExchangerOptions{
			HTTPClient: httpClient,
			Logger:     secure,
		}),
		calendar:  calendar.NewClient(calendar.ClientOptions{HTTPClient: httpClient}),
		formatter: formatterFromConfig(),
		secure:    secure,
	}, nil
}

func thresholdsFromConfig() meeting.Thresholds {
	return meeting.Thresholds{
		Imminent: time.Duration(cfg.Status.ImminentMinutes) * time.Minute,
		Upcoming: time.Duration(cfg.Status.UpcomingMinutes) * time.Minute,
	}
}

func formatterFromConfig() meeting.Formatter {
	return meeting.Formatter{
		TitleWidth:  cfg.Display.TitleWidth,
		ErrorWidth:  cfg.Display.ErrorWidth,
		ClockFormat: cfg.Display.ClockFormat,
		Location:    time.Local,
		Thresholds:  thresholdsFromConfig(),
	}
}

func clientCredentials() auth.ClientCredentials {
	return auth.ClientCredentials{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURI:  cfg.OAuth.RedirectURI,
	}
}

// resolverOptions returns resolver settings without a store; callers add one.
func (s *services) resolverOptions() meeting.ResolverOptions {
	return meeting.ResolverOptions{
		Refresher:      s.exchanger,
		Emails:         s.exchanger,
		Events:         s.calendar,
		Client:         clientCredentials(),
		Calendars:      cfg.Calendars.IDs,
		Thresholds:     thresholdsFromConfig(),
		RefreshSkew:    cfg.Polling.RefreshSkew,
		RequestTimeout: cfg.Polling.RequestTimeout,
		Logger:         logger.Logger(),
	}
}

func (s *services) newFlow(store credentials.Store) *auth.Flow {
	return auth.NewFlow(auth.FlowOptions{
		Credentials: clientCredentials(),
		Scopes:      cfg.OAuth.Scopes,
		Exchanger:   s.exchanger,
		Store:       store,
		Logger:      s.secure,
	})
}

func openStore() (credentials.Store, error) {
	store, err := credentials.Open(credentials.StoreConfig{
		Backend:  cfg.Store.Backend,
		Path:     cfg.Store.Path,
		Instance: cfg.Store.Instance,
		DataDir:  dataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return store, nil
}

// SetArgs overrides the arguments Execute parses.
func SetArgs(args []string) {
	rootCmd.SetArgs(args)
}
