package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bnema/nextmeeting/internal/credentials"
	"github.com/bnema/nextmeeting/internal/logger"
	"github.com/bnema/nextmeeting/internal/meeting"
	"github.com/bnema/nextmeeting/internal/notifier"
	"github.com/bnema/nextmeeting/internal/output"
	"github.com/bnema/nextmeeting/internal/scheduler"
)

var (
	watchNotify   bool
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep printing the next meeting on every poll",
	Long: `Poll the calendar provider on the configured interval and print one line per update,
the way the keypad plugin refreshes its tile.

With --notify a desktop notification is sent when a meeting is about to start and
when it starts; choosing the notification action opens the meeting link.

Examples:
  nextmeeting watch                          # JSON lines for a status bar
  nextmeeting watch --format text --notify   # Text lines plus reminders
  nextmeeting watch --interval 30s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "output format (json or text)")
	watchCmd.Flags().BoolVar(&watchNotify, "notify", false, "send desktop notifications for imminent meetings")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default: polling.interval from config)")
}

const watchJobID = "watch"

func runWatch(cmd *cobra.Command, args []string) error {
	if outputFormat != "json" && outputFormat != "text" {
		return fmt.Errorf("unknown format %q (want json or text)", outputFormat)
	}
	interval := cfg.Polling.Interval
	if watchInterval > 0 {
		interval = watchInterval
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
	resolver := meeting.NewResolver(opts)
	formatter := output.NewOutputFormatter(svc.formatter)
	notify := notifier.New(watchNotify, openBrowser)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(scheduler.Options{
		Debounce: cfg.Polling.Debounce,
		Logger:   logger.Logger(),
	})
	defer sched.Stop()

	var printMu sync.Mutex
	err = sched.Schedule(watchJobID, interval, func(jobCtx context.Context) {
		m := resolver.Resolve(jobCtx)
		if jobCtx.Err() != nil {
			return
		}
		now := time.Now()

		printMu.Lock()
		if err := printOutput(formatter.Format(m, now)); err != nil {
			logger.Error("failed to print meeting", "error", err)
		}
		printMu.Unlock()

		status := svc.formatter.Status(m, now)
		go func() {
			if _, err := notify.Observe(m, status, now); err != nil {
				logger.Warn("failed to send notification", "error", err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to schedule updates: %w", err)
	}

	<-ctx.Done()
	logger.Debug("watch stopped")
	return nil
}
