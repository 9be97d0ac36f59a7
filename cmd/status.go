package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/meeting"
	"github.com/bnema/nextmeeting/internal/output"
)

var outputFormat string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the next meeting once",
	Long: `Resolve the next (or current) meeting across the configured calendars and print it.

The JSON format carries text, tooltip and class fields and can be consumed directly
by status bars such as Waybar. Tokens are refreshed and saved when needed.

Examples:
  nextmeeting status                  # JSON output
  nextmeeting status --format text    # Only the tile text`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "output format (json or text)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if outputFormat != "json" && outputFormat != "text" {
		return fmt.Errorf("unknown format %q (want json or text)", outputFormat)
	}

	svc, err := newServices()
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer credentials.Close(store)

	opts := svc.resolverOptions()
	opts.Store = store
	m := meeting.NewResolver(opts).Resolve(cmd.Context())

	return printOutput(output.NewOutputFormatter(svc.formatter).Format(m, time.Now()))
}

func printOutput(out output.Output) error {
	if outputFormat == "text" {
		fmt.Println(output.FormatTextOutput(out))
		return nil
	}
	s, err := output.FormatJSONOutput(out)
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}
