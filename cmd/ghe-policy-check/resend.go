package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lei/ghe-policy-check/internal/webhook"
)

type resendOptions struct {
	url   string
	path  string
	event string
	key   string
}

func (o *resendOptions) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.url, "url", "", "webhook endpoint URL")
	flags.StringVar(&o.path, "path", "", "path to the recorded request body")
	flags.StringVar(&o.event, "event", "", "GitHub event type, e.g. repository")
	flags.StringVar(&o.key, "key", "", "webhook secret (default $GITHUB_WEBHOOK_KEY)")
}

func newResendEventCommand() *cobra.Command {
	opts := &resendOptions{}

	cmd := &cobra.Command{
		Use:   "resend-event",
		Short: "Replay a recorded GitHub webhook delivery against an endpoint.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.key == "" {
				opts.key = os.Getenv("GITHUB_WEBHOOK_KEY")
			}

			body, err := os.ReadFile(opts.path)
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			client := &http.Client{Timeout: 30 * time.Second}
			status, err := resendEvent(ctx, client, opts.url, opts.event, opts.key, body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}

	opts.addFlags(cmd.Flags())
	for _, name := range []string{"url", "path", "event"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// resendEvent posts body to url signed with key, the way GitHub delivers an
// event, and returns the response status line.
func resendEvent(ctx context.Context, client *http.Client, url, event, key string, body []byte) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return "", fmt.Errorf("body is not valid JSON: %w", err)
	}
	payload := compact.Bytes()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature", webhook.Sign(key, payload))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.Status, nil
}
