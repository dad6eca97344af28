package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceClient/internal/config"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "voice",
		Short:         "Voice conferencing client",
		Long:          "voice joins a conference on a Voice media server, sends camera and microphone, and serves the resolved video layout on a local control API.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("server", "", "signaling URL (ws:// or wss://)")
	pf.String("token", "", "access token sent on connect")
	pf.String("http-addr", "", "control API listen address")
	pf.String("name", "", "display name")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newJoinCmd(),
		newPrefsCmd(),
	)
	return rootCmd
}

// loadConfig reads configuration with the command's flags on top and applies the log level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	return cfg, nil
}
