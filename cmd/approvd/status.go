package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd queries the admin endpoint of a running daemon and prints the
// status document. It talks HTTP rather than the unix socket because the
// gateway only speaks the request protocol.
func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending requests and uptime of a running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("admin")

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(fmt.Sprintf("http://%s/status", addr))
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status endpoint returned %s", resp.Status)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read status response: %w", err)
			}

			var pretty json.RawMessage = body
			out, err := json.MarshalIndent(pretty, "", "  ")
			if err != nil {
				return fmt.Errorf("decode status response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().String("admin", "127.0.0.1:7388", "Admin listen address of the daemon")
	return cmd
}
