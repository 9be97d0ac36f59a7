package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/nextmeeting/internal/auth"
	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/nerdfonts"
)

var calendarsCmd = &cobra.Command{
	Use:   "calendars",
	Short: "List available calendars",
	Long: `List all calendars accessible with your Google account.

This command shows all calendars you have access to, including their IDs which you can
put in calendars.ids in the configuration file (or tick in the keypad settings) to
pick which calendars the next meeting is taken from.

Example:
  nextmeeting calendars`,
	RunE: runCalendars,
}

func runCalendars(cmd *cobra.Command, args []string) error {
	svc, err := newServices()
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer credentials.Close(store)

	tokens, err := usableTokens(cmd.Context(), svc, store)
	if err != nil {
		return err
	}

	calendars, err := svc.calendar.ListCalendars(cmd.Context(), tokens.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to list calendars: %w", err)
	}

	selected := make(map[string]bool, len(cfg.Calendars.IDs))
	for _, id := range cfg.Calendars.IDs {
		selected[id] = true
	}

	fmt.Println("=== Available Calendars ===")
	for _, cal := range calendars {
		icon := nerdfonts.Calendar
		if selected[cal.ID] || (cal.Primary && selected["primary"]) {
			icon = nerdfonts.CheckCircle + " " + nerdfonts.Calendar
		}

		fmt.Printf("%s %s\n", icon, cal.Summary)
		fmt.Printf("  ID: %s\n", cal.ID)
		fmt.Printf("  Access Role: %s\n", cal.AccessRole)
		if cal.Primary {
			fmt.Printf("  Primary: Yes\n")
		}
		fmt.Println()
	}

	fmt.Printf("Total calendars: %d\n", len(calendars))
	fmt.Println("\nTo use specific calendars, add their IDs to your config file:")
	fmt.Println("~/.config/nextmeeting/config.toml")

	return nil
}

// usableTokens returns stored tokens, refreshing and saving them first when
// the access token is about to expire.
func usableTokens(ctx context.Context, svc *services, store credentials.Store) (*credentials.TokenSet, error) {
	tokens, err := store.Read(ctx)
	if errors.Is(err, credentials.ErrNoCredentials) {
		return nil, fmt.Errorf("authentication required. Run 'nextmeeting auth' first")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if !tokens.ExpiresWithin(time.Now(), cfg.Polling.RefreshSkew) {
		return tokens, nil
	}
	if !tokens.Refreshable() {
		return nil, fmt.Errorf("access token expired. Run 'nextmeeting auth' again")
	}

	refreshed, err := svc.exchanger.Refresh(ctx, tokens, clientCredentials())
	if err != nil {
		if auth.IsTerminal(err) {
			if clearErr := store.Clear(ctx); clearErr != nil {
				return nil, fmt.Errorf("failed to clear revoked credentials: %w", clearErr)
			}
			return nil, fmt.Errorf("sign-in was revoked. Run 'nextmeeting auth' again")
		}
		return nil, fmt.Errorf("failed to refresh access token: %w", err)
	}
	if err := store.Write(ctx, refreshed); err != nil {
		return nil, fmt.Errorf("failed to save refreshed credentials: %w", err)
	}
	return refreshed, nil
}

func init() {
	rootCmd.AddCommand(calendarsCmd)
}
