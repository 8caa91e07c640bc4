package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/feltd/internal/services"
	"github.com/fyrsmithlabs/feltd/internal/turn"
)

type turnOptions struct {
	user    string
	turnID  string
	server  string
	timeout time.Duration
}

func newTurnCmd() *cobra.Command {
	opts := &turnOptions{}
	cmd := &cobra.Command{
		Use:   "turn [text...]",
		Short: "Run one turn and print the response as JSON",
		Long: `Run one turn and print the response as JSON.

Text is taken from the arguments, or from stdin when there are none. Without
--server the turn runs in-process against the persisted state, which is
flushed afterwards.

Examples:
  feltd turn --user alice "My dad is in the hospital again"
  echo "I feel stuck" | feltd turn --user alice
  feltd turn --server http://localhost:8420 --user alice "hello"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTurn(cmd, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.user, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.turnID, "turn-id", "", "turn id (default: generated)")
	cmd.Flags().StringVar(&opts.server, "server", "", "feltd server URL; runs in-process when empty")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runTurn(cmd *cobra.Command, opts *turnOptions, args []string) error {
	text := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		text = string(data)
	}
	req := turn.Request{UserID: opts.user, TurnID: opts.turnID, Text: strings.TrimSpace(text)}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	if opts.server != "" {
		return remoteTurn(ctx, cmd.OutOrStdout(), opts.server, req)
	}
	return localTurn(ctx, cmd.OutOrStdout(), req)
}

func localTurn(ctx context.Context, out io.Writer, req turn.Request) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := cliLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rt, err := services.Build(ctx, cfg, logger.Underlying())
	if err != nil {
		return err
	}
	resp, err := rt.Processor().Process(ctx, req)
	if closeErr := rt.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
		err = fmt.Errorf("saving state: %w", closeErr)
	}
	if err != nil {
		return err
	}
	return writeJSON(out, resp)
}

func remoteTurn(ctx context.Context, out io.Writer, server string, req turn.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimRight(server, "/") + "/v1/turns"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded turn.Response
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return writeJSON(out, decoded)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
