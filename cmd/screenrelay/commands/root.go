package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/bryanchriswhite/ScreenRelay/internal/config"
	"github.com/bryanchriswhite/ScreenRelay/internal/logger"
	"github.com/bryanchriswhite/ScreenRelay/internal/signal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "screenrelay",
		Short: "ScreenRelay - relay screen capture frames to a host process",
		Long: `ScreenRelay moves live screen-capture frames from a capture process
(the "extension") to a host application over a local Unix socket.

Components:
  • extension: captures the screen and uploads frames
  • host: receives frames and serves a live preview
  • signal: post and watch the broadcast notifications
  • config: inspect and edit the shared configuration`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/screenrelay/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", true, "human-readable console logs")
	rootCmd.PersistentFlags().String("bus", "", "D-Bus used for signals (session or system)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.BindPFlag("signal_bus", rootCmd.PersistentFlags().Lookup("bus"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	viper.SetEnvPrefix("screenrelay")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file, applies flag overrides in memory and
// initializes logging
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	cfg := configMgr.Get()
	if v := viper.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}
	if v := viper.GetString("signal_bus"); v != "" {
		cfg.SignalBus = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))
	logger.WithComponent("cli").Debug().
		Str("path", configMgr.GetConfigPath()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	return configMgr, cfg, nil
}

// openSignals connects to the configured bus. When the bus is unreachable
// notifications stay in-process so callers keep working.
func openSignals(cfg *config.Config) (*signal.Channel, error) {
	ch, err := signal.Open(signal.DialDBus(signal.Bus(cfg.SignalBus)))
	if err == nil {
		return ch, nil
	}
	logger.WithComponent("cli").Warn().Err(err).
		Str("bus", cfg.SignalBus).
		Msg("Signal bus unavailable, notifications will stay local")

	return signal.Open(signal.NewLoopback().Dial)
}
