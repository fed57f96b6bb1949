package reasoner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/proteinops/foldy/pkg/config"
	"github.com/proteinops/foldy/pkg/models"
	"github.com/proteinops/foldy/pkg/version"
)

// Client streams reasoning runs from the live reasoner backend over
// newline-delimited JSON. Stream connects go through a circuit breaker
// so a dead backend fails fast instead of tying up drivers; interrupts
// are fire-and-forget and bypass the breaker.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	interruptC  *http.Client
	readTimeout time.Duration
	breaker     *gobreaker.CircuitBreaker
}

// streamHeader is the first NDJSON line of a run.
type streamHeader struct {
	Instance      string `json:"instance"`
	Session       string `json:"session"`
	BackendURL    string `json:"backend_url"`
	TotalMessages int    `json:"total_messages"`
}

// streamLine is any subsequent NDJSON line: a message or an error record.
type streamLine struct {
	Message
	Error string `json:"error,omitempty"`
}

// NewClient creates a live reasoner client from configuration.
func NewClient(cfg *config.ReasonerConfig) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "reasoner-stream",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Transport: transport,
			// No overall timeout: the body is a long-lived stream. The
			// per-run read timeout is enforced via context below.
		},
		interruptC:  &http.Client{Timeout: cfg.InterruptTimeout},
		readTimeout: cfg.ReadTimeout,
		breaker:     breaker,
	}
}

// StartStream opens a reasoning run for the sequence. The returned
// stream's Messages channel closes when the run ends; Err() then reports
// whether it ended cleanly.
func (c *Client) StartStream(ctx context.Context, jobID, sequence string) (*Stream, error) {
	body, err := json.Marshal(map[string]string{
		"job_id":   jobID,
		"sequence": sequence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reason request: %w", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/reason", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.Full())

		resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by the reader goroutine
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			defer func() { _ = resp.Body.Close() }()
			slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("reasoner returned %d: %s", resp.StatusCode, slurp)
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start reasoner stream: %w", err)
	}
	resp := result.(*http.Response)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	// The first line is the session header.
	if !scanner.Scan() {
		_ = resp.Body.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read reasoner header: %w", err)
		}
		return nil, fmt.Errorf("reasoner stream closed before header")
	}
	var header streamHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to decode reasoner header: %w", err)
	}
	backendURL := header.BackendURL
	if backendURL == "" {
		backendURL = c.baseURL
	}

	messages := make(chan Message)
	stream := &Stream{
		Session: models.ReasonerSession{
			Instance:   header.Instance,
			Session:    header.Session,
			BackendURL: backendURL,
		},
		Total:    header.TotalMessages,
		Messages: messages,
	}

	go func() {
		defer close(messages)
		defer func() { _ = resp.Body.Close() }()

		readCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
		defer cancel()

		for scanner.Scan() {
			var line streamLine
			if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
				stream.setErr(fmt.Errorf("failed to decode reasoner message: %w", err))
				return
			}
			if line.Error != "" {
				stream.setErr(fmt.Errorf("reasoner error: %s", line.Error))
				return
			}
			select {
			case messages <- line.Message:
			case <-readCtx.Done():
				stream.setErr(readCtx.Err())
				return
			}
		}
		if err := scanner.Err(); err != nil {
			stream.setErr(fmt.Errorf("reasoner stream read failed: %w", err))
		}
	}()

	return stream, nil
}

// Interrupt fires a best-effort interrupt at the session's backend. The
// caller treats failure as advisory — cancellation is authoritative via
// shared state regardless.
func (c *Client) Interrupt(ctx context.Context, session models.ReasonerSession) error {
	url := fmt.Sprintf("%s/v1/sessions/%s/interrupt", session.BackendURL, session.Session)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build interrupt request: %w", err)
	}
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.interruptC.Do(req)
	if err != nil {
		return fmt.Errorf("interrupt call failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("interrupt returned %d", resp.StatusCode)
	}
	return nil
}
