package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bnema/nextmeeting/internal/companion"
	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/keypad"
	"github.com/bnema/nextmeeting/internal/logger"
	"github.com/bnema/nextmeeting/internal/scheduler"
)

// HostArgs lists the single-dash arguments a keypad host launches plugins with.
var HostArgs = []string{"-port", "-pluginUUID", "-registerEvent", "-info"}

var pluginCmd = &cobra.Command{
	Use:   "plugin -port PORT -pluginUUID UUID -registerEvent EVENT [-info JSON]",
	Short: "Run as a keypad plugin (started by the keypad host)",
	Long: `Connect to the keypad host's local WebSocket and keep every placed tile up to date
with the next meeting. The host normally starts the binary with its own arguments;
they are accepted with or without the plugin subcommand.

While running, the OAuth companion listens on the configured redirect port so the
connect button in the tile settings can sign in through the browser.`,
	DisableFlagParsing: true,
	RunE:               runPlugin,
}

type hostArgs struct {
	port          int
	pluginUUID    string
	registerEvent string
	info          string
}

// hostInfo is the part of -info worth logging.
type hostInfo struct {
	Application struct {
		Platform string `json:"platform"`
		Version  string `json:"version"`
	} `json:"application"`
	Plugin struct {
		Version string `json:"version"`
	} `json:"plugin"`
}

func parseHostArgs(args []string) (hostArgs, error) {
	var h hostArgs
	fs := flag.NewFlagSet("plugin", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&h.port, "port", 0, "keypad host port")
	fs.StringVar(&h.pluginUUID, "pluginUUID", "", "plugin UUID assigned by the host")
	fs.StringVar(&h.registerEvent, "registerEvent", "", "registration event name")
	fs.StringVar(&h.info, "info", "", "host information JSON")
	if err := fs.Parse(args); err != nil {
		return h, fmt.Errorf("invalid host arguments: %w", err)
	}

	if h.port <= 0 || h.port > 65535 {
		return h, fmt.Errorf("invalid host arguments: -port %d out of range", h.port)
	}
	if h.pluginUUID == "" || h.registerEvent == "" {
		return h, errors.New("invalid host arguments: -pluginUUID and -registerEvent are required")
	}
	return h, nil
}

func runPlugin(cmd *cobra.Command, args []string) error {
	host, err := parseHostArgs(args)
	if err != nil {
		return err
	}

	// Plugins have no terminal; keep a log next to the data directory.
	if logFile == "" {
		if err := logger.Init(verbose, filepath.Join(dataDir, "logs", "plugin.log")); err != nil {
			return err
		}
	}
	var info hostInfo
	if host.info != "" {
		if err := json.Unmarshal([]byte(host.info), &info); err != nil {
			logger.Debug("unreadable host info", "error", err)
		}
	}
	logger.Info("starting keypad plugin",
		"port", host.port,
		"platform", info.Application.Platform,
		"host_version", info.Application.Version,
		"plugin_version", info.Plugin.Version)

	svc, err := newServices()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(scheduler.Options{
		Debounce: cfg.Polling.Debounce,
		Logger:   logger.Logger(),
	})
	defer sched.Stop()

	opts := keypad.Options{
		URL:           "ws://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(host.port)),
		PluginUUID:    host.pluginUUID,
		RegisterEvent: host.registerEvent,
		Interval:      cfg.Polling.Interval,
		Formatter:     svc.formatter,
		Resolver:      svc.resolverOptions(),
		Scheduler:     sched,
		Logger:        logger.Logger(),
	}
	if cfg.HasClientCredentials() {
		opts.NewFlow = svc.newFlow
	} else {
		logger.Warn("no OAuth client configured; sign-in from the tile is disabled")
	}
	plugin := keypad.New(opts)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	companionDone := make(chan struct{})
	if flows := plugin.Flows(); flows != nil {
		server := companion.New(companion.Options{
			Addr:       net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.OAuth.Port)),
			Authorizer: flows,
			Stores:     plugin.Store,
			OnAuthorized: func(id string, tokens *credentials.TokenSet) {
				logger.Info("tile signed in", "instance", id)
				plugin.Refresh(id)
			},
			Logger: svc.secure,
		})
		go func() {
			defer close(companionDone)
			// Another plugin process may own the port; tiles keep working without sign-in.
			if err := server.ListenAndServe(runCtx); err != nil {
				logger.Error("companion stopped", "error", err)
			}
		}()
	} else {
		close(companionDone)
	}

	err = plugin.Run(runCtx)
	cancel()
	<-companionDone
	return err
}

// NormalizeArgs routes a host-style launch (binary -port ...) to the plugin
// subcommand. args excludes the program name.
func NormalizeArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}
	for _, name := range HostArgs {
		if args[0] == name || strings.HasPrefix(args[0], name+"=") {
			return append([]string{pluginCmd.Name()}, args...)
		}
	}
	return args
}
