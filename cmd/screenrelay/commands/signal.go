package commands

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/signal"
	"github.com/spf13/cobra"
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Post and watch broadcast notifications",
	Long: `Debug the notification bus shared by the extension and the host.

NAME is a full notification name, or one of the shortcuts "started" and
"stopped".`,
}

var signalPostCmd = &cobra.Command{
	Use:   "post NAME",
	Short: "Post a notification",
	Example: `  # Tell the host a broadcast started
  screenrelay signal post started`,
	Args: cobra.ExactArgs(1),
	RunE: runSignalPost,
}

var signalWatchCmd = &cobra.Command{
	Use:   "watch [NAME...]",
	Short: "Print notifications as they arrive",
	Example: `  # Watch both broadcast notifications
  screenrelay signal watch

  # Watch a custom name on the system bus
  screenrelay signal watch org.example.ping --bus system`,
	RunE: runSignalWatch,
}

func init() {
	rootCmd.AddCommand(signalCmd)
	signalCmd.AddCommand(signalPostCmd)
	signalCmd.AddCommand(signalWatchCmd)
}

func notificationName(arg string) string {
	switch arg {
	case "started":
		return signal.BroadcastStarted
	case "stopped":
		return signal.BroadcastStopped
	default:
		return arg
	}
}

func runSignalPost(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	signals, err := openSignals(cfg)
	if err != nil {
		return fmt.Errorf("failed to open signal channel: %w", err)
	}
	defer signals.Close()

	name := notificationName(args[0])
	signals.PostNotification(name)
	fmt.Fprintf(cmd.OutOrStdout(), "Posted %s\n", name)
	return nil
}

func runSignalWatch(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names := []string{signal.BroadcastStarted, signal.BroadcastStopped}
	if len(args) > 0 {
		names = names[:0]
		for _, a := range args {
			names = append(names, notificationName(a))
		}
	}

	signals, err := openSignals(cfg)
	if err != nil {
		return fmt.Errorf("failed to open signal channel: %w", err)
	}
	defer signals.Close()

	out := cmd.OutOrStdout()
	for _, name := range names {
		name := name
		signals.AddObserver(name, func() {
			fmt.Fprintf(out, "%s %s\n", time.Now().Format(time.RFC3339Nano), name)
		})
	}
	defer func() {
		for _, name := range names {
			signals.RemoveObserver(name)
		}
	}()

	fmt.Fprintf(out, "Watching %d notification(s), press Ctrl+C to stop\n", len(names))

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
