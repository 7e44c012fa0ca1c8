package commands

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/ScreenRelay/internal/host"
	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"github.com/bryanchriswhite/ScreenRelay/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Receive frames from the extension and serve a preview",
	Long: `Run the host side of ScreenRelay.

The host listens on the shared Unix socket, decodes the frames uploaded by
the extension and serves them as an MJPEG preview. Broadcast lifecycle
signals are shown on the preview and on the status API.`,
	Example: `  # Start host on default port (8080)
  screenrelay host

  # Start host on custom port
  screenrelay host --port 9090`,
	RunE: runHost,
}

func init() {
	rootCmd.AddCommand(hostCmd)

	hostCmd.Flags().Int("port", 0, "server port (default is 8080)")
	hostCmd.Flags().Int("preview-fps", 0, "maximum preview frame rate")
	hostCmd.Flags().Bool("window", false, "also show frames in a local X11 window")

	viper.BindPFlag("host.server_port", hostCmd.Flags().Lookup("port"))
	viper.BindPFlag("host.preview_fps", hostCmd.Flags().Lookup("preview-fps"))
	viper.BindPFlag("host.window", hostCmd.Flags().Lookup("window"))
}

func runHost(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := viper.GetInt("host.server_port"); port > 0 {
		cfg.Host.ServerPort = port
	}
	if fps := viper.GetInt("host.preview_fps"); fps > 0 {
		cfg.Host.PreviewFPS = fps
	}
	if viper.GetBool("host.window") {
		cfg.Host.Window = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.WithComponent("host")

	if err := cfg.Container.EnsureDir(); err != nil {
		return fmt.Errorf("failed to create shared container: %w", err)
	}
	path, err := cfg.Container.SocketPath()
	if err != nil {
		return err
	}

	mjpeg := output.NewMJPEGOutput(output.Config{
		FPS:     cfg.Host.PreviewFPS,
		Quality: cfg.Host.JPEGQuality,
	})
	outputs := output.Tee{mjpeg}
	if cfg.Host.Window {
		win, err := output.NewX11WindowOutput(output.Config{FPS: cfg.Host.PreviewFPS}, cfg.Host.WindowWidth, cfg.Host.WindowHeight)
		if err != nil {
			return fmt.Errorf("failed to open viewer window: %w", err)
		}
		outputs = append(outputs, win)
	}
	if err := outputs.Start(); err != nil {
		return fmt.Errorf("failed to start outputs: %w", err)
	}
	defer outputs.Stop()
	log.Debug().Str("outputs", outputs.Name()).Msg("Outputs started")

	receiver := host.NewReceiver(path, outputs)

	signals, err := openSignals(cfg)
	if err != nil {
		return fmt.Errorf("failed to open signal channel: %w", err)
	}
	defer signals.Close()
	receiver.Observe(signals)
	defer receiver.Forget(signals)

	server := host.NewServer(receiver, mjpeg, configMgr)

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		if err := server.Start(cfg.Host.ServerPort); err != nil {
			errs <- fmt.Errorf("server error: %w", err)
		}
	}()
	go func() {
		if err := receiver.Serve(ctx); err != nil {
			errs <- fmt.Errorf("receiver error: %w", err)
		}
	}()

	log.Info().
		Str("socket", path).
		Str("preview", fmt.Sprintf("http://localhost:%d/stream", cfg.Host.ServerPort)).
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.Host.ServerPort)).
		Msg("Host is running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errs:
	}

	log.Info().Msg("Shutting down gracefully...")
	stop()
	// Release MJPEG viewers so Shutdown doesn't wait on open streams
	outputs.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("Server shutdown failed")
	}
	return err
}
