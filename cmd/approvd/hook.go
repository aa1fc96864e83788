package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/approvd/approvd/pkg/protocol"
)

// hookCmd implements the client session side: it reads one request JSON
// object from stdin (the Claude Code hook payload), forwards it to the
// daemon, and prints the reply. Any failure prints a deny reply and exits
// zero so the caller fails closed instead of falling through.
func hookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Forward a hook payload from stdin to the daemon and print the decision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			cfgPath, _ := cmd.Flags().GetString("config")
			noSpawn, _ := cmd.Flags().GetBool("no-spawn")

			line, err := readRequestLine(os.Stdin)
			if err != nil {
				fmt.Fprintln(os.Stderr, "approvd hook:", err)
				fmt.Println(string(protocol.EncodeDenyFallback()))
				return nil
			}

			// Validate locally first so a malformed payload gets a clear
			// error instead of a daemon round-trip.
			if _, err := protocol.DecodeRequest(line); err != nil {
				fmt.Fprintln(os.Stderr, "approvd hook:", err)
				fmt.Println(string(protocol.EncodeDenyFallback()))
				return nil
			}

			socketPath, pidPath := clientPaths(dataDir)
			ctx := cmd.Context()

			if err := ensureDaemon(ctx, socketPath, pidPath, cfgPath, !noSpawn); err != nil {
				fmt.Fprintln(os.Stderr, "approvd hook:", err)
				fmt.Println(string(protocol.EncodeDenyFallback()))
				return nil
			}

			reply, err := sendRequest(ctx, socketPath, line, decisionTimeout)
			if err != nil {
				fmt.Fprintln(os.Stderr, "approvd hook:", err)
				fmt.Println(string(protocol.EncodeDenyFallback()))
				return nil
			}

			os.Stdout.Write(reply)
			return nil
		},
	}
	cmd.Flags().String("data-dir", "", "Data directory holding the daemon socket")
	cmd.Flags().StringP("config", "c", "", "Config path passed to a spawned daemon")
	cmd.Flags().Bool("no-spawn", false, "Fail instead of spawning a daemon when none is running")
	return cmd
}

// readRequestLine reads the whole of stdin as one request. Hook payloads
// arrive as a single JSON object, possibly pretty-printed across lines, so
// everything up to EOF is treated as one request.
func readRequestLine(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	return compactLine(data)
}

// compactLine collapses possibly pretty-printed JSON onto one line, since
// the daemon protocol is newline-delimited.
func compactLine(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("compact request: %w", err)
	}
	return buf.Bytes(), nil
}
