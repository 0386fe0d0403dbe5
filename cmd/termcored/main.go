// Command termcored runs the headless terminal daemon: it owns PTY
// sessions, serves the local IPC RPC socket, and bridges session events
// to a local GUI over WebSocket. Its command tree is a cobra root command
// with subcommands backed by a client-or-daemon split.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/termcore/termcored/internal/config"
)

func main() {
	var configFlag string

	root := &cobra.Command{
		Use:   "termcored",
		Short: "Headless, multiplexed terminal back-end daemon",
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to config.yaml (default: discover from XDG config dir)")

	root.AddCommand(
		serveCmd(&configFlag),
		sessionsCmd(&configFlag),
		recordCmd(&configFlag),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
