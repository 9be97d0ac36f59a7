package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/nextmeeting/internal/auth"
	"github.com/bnema/nextmeeting/internal/companion"
	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/nerdfonts"
)

var (
	revokeFlag bool
	statusOnly bool
	noBrowser  bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Google Calendar authentication",
	Long: `Sign in to Google Calendar with the OAuth 2.0 authorization code flow and PKCE.

A local companion listens on the configured redirect port, opens the consent page
in your browser and stores the resulting tokens in the configured credential store.
You need an OAuth client ID and secret in the config file or in the
NEXTMEETING_OAUTH_CLIENT_ID and NEXTMEETING_OAUTH_CLIENT_SECRET variables.

Examples:
  nextmeeting auth                    # Sign in through the browser
  nextmeeting auth --status           # Check authentication status
  nextmeeting auth --revoke           # Clear local authentication`,
	RunE: runAuth,
}

func init() {
	authCmd.Flags().BoolVar(&revokeFlag, "revoke", false, "clear local authentication")
	authCmd.Flags().BoolVar(&statusOnly, "status", false, "check authentication status only")
	authCmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the sign-in URL instead of opening a browser")
}

func runAuth(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer credentials.Close(store)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if statusOnly {
		return printAuthStatus(ctx, store)
	}

	if revokeFlag {
		fmt.Printf("%s Clearing authentication...\n", nerdfonts.InfoCircle)
		if err := store.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear authentication: %w", err)
		}
		fmt.Printf("%s Authentication cleared successfully\n", nerdfonts.CheckCircle)
		return nil
	}

	if !cfg.HasClientCredentials() {
		return fmt.Errorf("no OAuth client configured: set oauth.client_id and oauth.client_secret")
	}

	if tokens, err := store.Read(ctx); err == nil && tokens.Refreshable() {
		fmt.Printf("%s Already authenticated with Google Calendar", nerdfonts.CheckCircle)
		if tokens.Email != "" {
			fmt.Printf(" as %s", tokens.Email)
		}
		fmt.Println()
		fmt.Println("Use --revoke to re-authenticate or --status to check status")
		return nil
	}

	svc, err := newServices()
	if err != nil {
		return err
	}

	flows := auth.NewFlowSet(func(id string) (*auth.Flow, error) {
		if id != companion.DefaultInstance {
			return nil, fmt.Errorf("unknown instance %q", id)
		}
		return svc.newFlow(store), nil
	})

	done := make(chan *credentials.TokenSet, 1)
	server := companion.New(companion.Options{
		Addr:       net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.OAuth.Port)),
		Authorizer: flows,
		Stores: func(id string) (credentials.Store, bool) {
			return store, id == companion.DefaultInstance
		},
		OpenBrowser: browserOpener(),
		OnAuthorized: func(id string, tokens *credentials.TokenSet) {
			select {
			case done <- tokens:
			default:
			}
		},
		Logger: svc.secure,
	})

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe(serveCtx) }()

	authURL, err := flows.Begin(companion.DefaultInstance)
	if err != nil {
		return fmt.Errorf("failed to start authorization: %w", err)
	}

	fmt.Printf("%s Starting browser sign-in...\n", nerdfonts.InfoCircle)
	fmt.Println("If the browser does not open, visit this URL:")
	fmt.Println()
	fmt.Println("  " + authURL)
	fmt.Println()
	if open := browserOpener(); open != nil {
		if err := open(authURL); err != nil {
			fmt.Printf("%s Could not open browser: %v\n", nerdfonts.ExclamationTriangle, err)
		}
	}

	select {
	case tokens := <-done:
		cancel()
		<-errc
		fmt.Printf("%s Authentication successful!", nerdfonts.CheckCircle)
		if tokens.Email != "" {
			fmt.Printf(" Signed in as %s.", tokens.Email)
		}
		fmt.Println()
		fmt.Println("You can now use 'nextmeeting status' to see your next meeting.")
		return nil
	case err := <-errc:
		if err == nil {
			err = errors.New("companion stopped before sign-in completed")
		}
		return err
	case <-ctx.Done():
		cancel()
		<-errc
		return fmt.Errorf("authentication cancelled")
	}
}

func printAuthStatus(ctx context.Context, store credentials.Store) error {
	tokens, err := store.Read(ctx)
	if errors.Is(err, credentials.ErrNoCredentials) {
		fmt.Printf("%s Authentication: Required (run 'nextmeeting auth')\n", nerdfonts.ExclamationCircle)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	switch {
	case !tokens.Expired(time.Now()):
		fmt.Printf("%s Authentication: Valid (expires %s)\n", nerdfonts.CheckCircle, tokens.Expiry().Format("15:04:05"))
	case tokens.Refreshable():
		fmt.Printf("%s Authentication: Valid (access token will be refreshed)\n", nerdfonts.CheckCircle)
	default:
		fmt.Printf("%s Authentication: Expired (run 'nextmeeting auth')\n", nerdfonts.ExclamationCircle)
	}
	if tokens.Email != "" {
		fmt.Printf("Account: %s\n", tokens.Email)
	}
	fmt.Printf("Store: %s\n", cfg.Store.Backend)
	return nil
}

func browserOpener() func(string) error {
	if noBrowser {
		return nil
	}
	return openBrowser
}
