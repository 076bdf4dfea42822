// Package ollama is a client for the Ollama generate API used as the recommendation oracle.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/domain"
	"github.com/kailas-cloud/cardsense/internal/metrics"
)

// maxBodyLog bounds response bodies copied into logs.
const maxBodyLog = 200

// Config holds the oracle client settings.
type Config struct {
	BaseURL       string
	Model         string
	Timeout       time.Duration // per generate attempt
	MaxRetries    int
	RetryDelay    time.Duration
	StatusTimeout time.Duration
	PullTimeout   time.Duration
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// Client talks to one Ollama server and model.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
	ready  atomic.Bool

	// sleep waits between retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an oracle client.
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, http: hc, logger: log.Named("oracle"), sleep: sleepCtx}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate posts prompt to /api/generate. Timeouts, connection errors and 5xx
// replies are retried; any other non-200 reply is returned as is. When every
// attempt fails the error wraps domain.ErrOracleUnavailable.
func (c *Client) Generate(ctx context.Context, prompt string) (*domain.OracleReply, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("empty prompt: %w", domain.ErrInvalidInput)
	}
	body, err := json.Marshal(generateRequest{Model: c.cfg.Model, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	start := time.Now()
	defer func() {
		metrics.OracleRequestDuration.WithLabelValues(c.cfg.Model).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := range c.cfg.MaxRetries {
		last := attempt == c.cfg.MaxRetries-1

		reply, err := c.attempt(ctx, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("generate canceled: %w: %w", ctx.Err(), domain.ErrOracleUnavailable)
			}
			lastErr = err

			var reason string
			var delay time.Duration
			switch {
			case isTimeout(err):
				reason, delay = "timeout", c.cfg.RetryDelay*time.Duration(attempt+1)
			case isConnection(err):
				reason, delay = "connection", c.cfg.RetryDelay
			default:
				metrics.OracleRequestsTotal.WithLabelValues(c.cfg.Model, "request_error").Inc()
				c.logger.Error("oracle request cannot be sent", zap.Error(err))
				return nil, fmt.Errorf("oracle request: %w: %w", err, domain.ErrOracleUnavailable)
			}
			metrics.OracleRequestsTotal.WithLabelValues(c.cfg.Model, reason).Inc()
			c.logger.Warn("oracle request failed",
				zap.String("reason", reason),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", c.cfg.MaxRetries),
				zap.Error(err))
			if last {
				break
			}
			if err := c.wait(ctx, reason, delay); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case reply.Status == http.StatusOK:
			metrics.OracleRequestsTotal.WithLabelValues(c.cfg.Model, "ok").Inc()
			return reply, nil
		case reply.Status >= http.StatusInternalServerError:
			metrics.OracleRequestsTotal.WithLabelValues(c.cfg.Model, "http_5xx").Inc()
			lastErr = fmt.Errorf("oracle status %d", reply.Status)
			c.logger.Warn("oracle server error",
				zap.Int("status", reply.Status),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", c.cfg.MaxRetries))
			if last {
				break
			}
			if err := c.wait(ctx, "http_5xx", c.cfg.RetryDelay); err != nil {
				return nil, err
			}
		default:
			metrics.OracleRequestsTotal.WithLabelValues(c.cfg.Model, "http_4xx").Inc()
			c.logger.Error("oracle rejected request",
				zap.Int("status", reply.Status),
				zap.String("body", truncate(string(reply.Body), maxBodyLog)))
			return reply, nil
		}
	}

	return nil, fmt.Errorf("oracle failed after %d attempts: %w: %w", c.cfg.MaxRetries, lastErr, domain.ErrOracleUnavailable)
}

func (c *Client) attempt(ctx context.Context, body []byte) (*domain.OracleReply, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	status, raw, err := c.do(ctx, http.MethodPost, "/api/generate", body)
	if err != nil {
		return nil, err
	}
	reply := &domain.OracleReply{Status: status, Body: raw}
	if status != http.StatusOK {
		return reply, nil
	}

	var env generateResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Error("oracle reply is not a generate envelope",
			zap.String("body", truncate(string(raw), maxBodyLog)), zap.Error(err))
		return reply, nil
	}
	reply.Text = strings.TrimSpace(env.Response)
	return reply, nil
}

func (c *Client) wait(ctx context.Context, reason string, d time.Duration) error {
	metrics.OracleRetriesTotal.WithLabelValues(c.cfg.Model, reason).Inc()
	if err := c.sleep(ctx, d); err != nil {
		return fmt.Errorf("retry wait: %w: %w", err, domain.ErrOracleUnavailable)
	}
	return nil
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// EnsureReady makes sure the model is available, pulling it when the server
// does not list it. A successful check is remembered for the client's lifetime.
func (c *Client) EnsureReady(ctx context.Context) error {
	if c.ready.Load() {
		return nil
	}

	listed, err := c.hasModel(ctx)
	switch {
	case err != nil:
		c.logger.Warn("oracle status check failed, trying pull", zap.Error(err))
	case listed:
		c.ready.Store(true)
		c.logger.Info("oracle model available", zap.String("model", c.cfg.Model))
		return nil
	default:
		c.logger.Info("oracle model not loaded, pulling", zap.String("model", c.cfg.Model))
	}

	if err := c.pull(ctx); err != nil {
		return err
	}
	c.ready.Store(true)
	return nil
}

// HealthCheck verifies the server answers the tags endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.hasModel(ctx); err != nil {
		return err
	}
	return nil
}

func (c *Client) hasModel(ctx context.Context) (bool, error) {
	if c.cfg.StatusTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.StatusTimeout)
		defer cancel()
	}

	status, raw, err := c.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return false, fmt.Errorf("oracle tags: %w: %w", err, domain.ErrOracleUnavailable)
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("oracle tags status %d: %w", status, domain.ErrOracleUnavailable)
	}

	var tags tagsResponse
	if err := json.Unmarshal(raw, &tags); err != nil {
		return false, fmt.Errorf("decode oracle tags: %w", err)
	}
	for _, m := range tags.Models {
		if sameModel(m.Name, c.cfg.Model) || sameModel(m.Model, c.cfg.Model) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) pull(ctx context.Context) error {
	if c.cfg.PullTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PullTimeout)
		defer cancel()
	}

	body, err := json.Marshal(pullRequest{Name: c.cfg.Model})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}
	status, raw, err := c.do(ctx, http.MethodPost, "/api/pull", body)
	if err != nil {
		return fmt.Errorf("oracle pull: %w: %w", err, domain.ErrOracleUnavailable)
	}
	if status != http.StatusOK {
		return fmt.Errorf("oracle pull status %d: %s: %w",
			status, truncate(string(raw), maxBodyLog), domain.ErrOracleUnavailable)
	}
	c.logger.Info("oracle model pulled", zap.String("model", c.cfg.Model))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err //nolint:wrapcheck // classified by caller
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// sameModel treats "llama3" and "llama3:latest" as the same model.
func sameModel(listed, want string) bool {
	if listed == want {
		return true
	}
	return !strings.Contains(want, ":") && listed == want+":latest"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isConnection reports dial, reset and early-close failures, which are worth
// retrying. Bad URLs, unsupported schemes and TLS failures are not.
func isConnection(err error) bool {
	var oe *net.OpError
	return errors.As(err, &oe) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
