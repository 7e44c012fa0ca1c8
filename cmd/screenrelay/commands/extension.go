package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/bryanchriswhite/ScreenRelay/internal/broadcast"
	"github.com/bryanchriswhite/ScreenRelay/internal/capture"
	"github.com/bryanchriswhite/ScreenRelay/internal/config"
	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var extensionCmd = &cobra.Command{
	Use:   "extension",
	Short: "Capture the screen and upload frames to the host",
	Long: `Run the capture side of ScreenRelay.

Frames are grabbed from the X11 root window (or a generated test pattern)
and uploaded over the shared Unix socket. The extension keeps retrying until
the host is listening, and ends the broadcast when the host goes away.

Send SIGUSR1 to pause and resume the broadcast.`,
	Example: `  # Capture the whole screen
  screenrelay extension

  # Capture a region at 15 fps
  screenrelay extension --fps 15 --region 0,0,1280,720

  # Run without a display
  screenrelay extension --source pattern`,
	RunE: runExtension,
}

func init() {
	rootCmd.AddCommand(extensionCmd)

	extensionCmd.Flags().String("source", "", "capture source (x11 or pattern)")
	extensionCmd.Flags().Int("fps", 0, "capture rate")
	extensionCmd.Flags().String("region", "", "capture region as x,y,width,height (default is the whole screen)")

	viper.BindPFlag("extension.source", extensionCmd.Flags().Lookup("source"))
	viper.BindPFlag("extension.fps", extensionCmd.Flags().Lookup("fps"))
	viper.BindPFlag("extension.region", extensionCmd.Flags().Lookup("region"))
}

func runExtension(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if v := viper.GetString("extension.source"); v != "" {
		cfg.Extension.Source = v
	}
	if v := viper.GetInt("extension.fps"); v > 0 {
		cfg.Extension.FPS = v
	}
	if v := viper.GetString("extension.region"); v != "" {
		region, err := parseRegion(v)
		if err != nil {
			return err
		}
		cfg.Extension.Region = region
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.WithComponent("extension")

	grabber, err := newGrabber(cfg)
	if err != nil {
		return err
	}
	defer grabber.Close()

	signals, err := openSignals(cfg)
	if err != nil {
		return fmt.Errorf("failed to open signal channel: %w", err)
	}
	defer signals.Close()

	session := capture.NewSession(grabber, cfg.Extension.FPS)
	controller := broadcast.NewController(cfg, session, signals)
	session.SetHandler(controller)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	toggle := make(chan os.Signal, 1)
	ossignal.Notify(toggle, syscall.SIGUSR1)
	defer ossignal.Stop(toggle)
	go func() {
		paused := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-toggle:
				paused = !paused
				if paused {
					session.Pause()
				} else {
					session.Resume()
				}
			}
		}
	}()

	log.Info().
		Str("source", grabber.Name()).
		Int("fps", cfg.Extension.FPS).
		Bool("degraded", controller.Degraded()).
		Msg("Extension running, press Ctrl+C to stop")

	err = session.Run(ctx)
	stats := controller.Stats()
	log.Info().
		Uint64("sent", stats.Sent).
		Uint64("dropped_backlog", stats.DroppedBacklog).
		Msg("Extension stopped")

	var stopErr *broadcast.StopError
	if errors.As(err, &stopErr) && errors.Is(err, broadcast.ErrScreensharingStopped) {
		// Host hung up cleanly
		fmt.Fprintln(cmd.OutOrStdout(), stopErr.Message)
		return nil
	}
	return err
}

func newGrabber(cfg *config.Config) (capture.Grabber, error) {
	switch cfg.Extension.Source {
	case "pattern":
		return capture.NewPatternGrabber(cfg.Extension.PatternWidth, cfg.Extension.PatternHeight), nil
	default:
		g, err := capture.NewX11Grabber(cfg.Extension.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to X11: %w", err)
		}
		return g, nil
	}
}

func parseRegion(s string) (capture.Region, error) {
	var r capture.Region
	if _, err := fmt.Sscanf(s, "%d,%d,%d,%d", &r.X, &r.Y, &r.Width, &r.Height); err != nil {
		return r, fmt.Errorf("invalid region %q (use x,y,width,height): %w", s, err)
	}
	if r.Width <= 0 || r.Height <= 0 {
		return r, fmt.Errorf("invalid region %q: width and height must be positive", s)
	}
	return r, nil
}
