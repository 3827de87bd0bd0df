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

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// apiClient talks to the custody HTTP API.
type apiClient struct {
	baseURL        string
	timeout        time.Duration
	token          string
	caller         string
	role           string
	idempotencyKey string
	out            io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &apiClient{out: out}

	rootCmd := &cobra.Command{
		Use:           "custody-cli",
		Short:         "Custody CLI tool",
		Long:          `A command line interface for interacting with the custody settlement API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.baseURL, "url", envOr("CUSTODY_URL", "http://localhost:8080"), "Base URL of the custody API")
	flags.DurationVar(&c.timeout, "timeout", 10*time.Second, "Request timeout")
	flags.StringVar(&c.token, "token", os.Getenv("CUSTODY_TOKEN"), "Bearer token")
	flags.StringVar(&c.caller, "as", os.Getenv("CUSTODY_CALLER"), "Caller address, trusted when the server runs without authentication")
	flags.StringVar(&c.role, "role", "", "Caller role sent with --as")
	flags.StringVar(&c.idempotencyKey, "idempotency-key", "", "Idempotency key for mutating requests")

	rootCmd.AddCommand(
		tokenCmd(c),
		orderCmd(c),
		agreementCmd(c),
		escrowCmd(c),
		depositCmd(c),
		withdrawCmd(c),
		adminCmd(c),
		ledgerCmd(c),
		eventsCmd(c),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type apiError struct {
	Status  int
	Message string
	Details string
}

func (e *apiError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("request failed (status %d): %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("request failed (status %d): %s", e.Status, e.Message)
}

// call sends body as JSON to path and prints the response.
func (c *apiClient) call(ctx context.Context, method, path string, body any) error {
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return printJSON(c.out, data)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.caller != "" {
		req.Header.Set("X-Caller-Address", c.caller)
	}
	if c.role != "" {
		req.Header.Set("X-Caller-Role", c.role)
	}
	if c.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", c.idempotencyKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode, Message: truncate(string(bytes.TrimSpace(data)), 200)}
		var parsed struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
			apiErr.Details = parsed.Message
		}
		return nil, apiErr
	}
	return data, nil
}

func printJSON(w io.Writer, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
