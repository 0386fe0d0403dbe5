package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func sessionsCmd(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List sessions known to a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}

			conn, err := net.Dial("unix", cfg.SocketPath)
			if err != nil {
				return fmt.Errorf("connect to daemon at %s: %w", cfg.SocketPath, err)
			}
			defer conn.Close()

			req := map[string]any{"id": 1, "method": "listSessions"}
			data, _ := json.Marshal(req)
			if _, err := conn.Write(append(data, '\n')); err != nil {
				return err
			}

			scanner := bufio.NewScanner(conn)
			if !scanner.Scan() {
				return fmt.Errorf("no response from daemon")
			}
			var resp struct {
				Result []string `json:"result"`
				Error  *struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			if resp.Error != nil {
				return fmt.Errorf("%s", resp.Error.Message)
			}
			if len(resp.Result) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION ID")
			for _, id := range resp.Result {
				fmt.Fprintln(w, id)
			}
			return w.Flush()
		},
	}
}
