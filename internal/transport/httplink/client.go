package httplink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/claude/liftsync/internal/transport"
	"github.com/claude/liftsync/internal/wire"
)

// Client is the companion-side transport.Link over HTTP. A background
// prober pings the authority and reports reachability transitions.
type Client struct {
	baseURL    string
	apiKey     string
	interval   time.Duration
	httpClient *http.Client
	log        *slog.Logger

	mu        sync.Mutex
	started   bool
	reachable bool
	notify    []func(bool)
	stop      chan struct{}
}

// Compile-time check: Client satisfies transport.Link.
var _ transport.Link = (*Client)(nil)

// NewClient creates a Client targeting the given base URL. pingInterval
// controls how often reachability is probed.
func NewClient(baseURL, apiKey string, pingInterval time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		interval:   pingInterval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
		stop:       make(chan struct{}),
	}
}

// Start launches the reachability prober. It implements transport.Link.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.probeLoop()
}

// Close stops the prober.
func (c *Client) Close() {
	close(c.stop)
}

func (c *Client) probeLoop() {
	c.probe()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.probe()
		}
	}
}

func (c *Client) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/ping", nil)
	if err != nil {
		c.setReachable(false)
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setReachable(false)
		return
	}
	resp.Body.Close()
	c.setReachable(resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK)
}

func (c *Client) setReachable(reachable bool) {
	c.mu.Lock()
	changed := c.reachable != reachable
	c.reachable = reachable
	fns := slices.Clone(c.notify)
	c.mu.Unlock()

	if changed {
		for _, fn := range fns {
			fn(reachable)
		}
	}
}

// Reachable implements transport.Link.
func (c *Client) Reachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

// Notify implements transport.Link.
func (c *Client) Notify(fn func(bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, fn)
}

// Exchange implements transport.Link: one POST, one reply envelope.
func (c *Client) Exchange(ctx context.Context, msg wire.Message) (wire.Message, error) {
	raw, err := msg.Encode()
	if err != nil {
		return wire.Message{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/message", bytes.NewReader(raw))
	if err != nil {
		return wire.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wire.Message{}, fmt.Errorf("delivering %s: %w", msg.Kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wire.Message{}, fmt.Errorf("reading reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return wire.Message{}, fmt.Errorf("peer returned %d: %s", resp.StatusCode, body)
	}

	reply, err := wire.ParseMessage(body)
	if err != nil {
		return wire.Message{}, fmt.Errorf("parsing reply: %w", err)
	}
	return reply, nil
}

// TakeContext implements transport.Link: it consumes the authority's
// pending context slot. An undecodable context is logged and discarded,
// never surfaced as an error — pushes are best-effort.
func (c *Client) TakeContext(ctx context.Context) (wire.Message, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/context", nil)
	if err != nil {
		return wire.Message{}, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wire.Message{}, false, fmt.Errorf("fetching context: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return wire.Message{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return wire.Message{}, false, fmt.Errorf("context fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wire.Message{}, false, fmt.Errorf("reading context: %w", err)
	}
	msg, err := wire.ParseMessage(body)
	if err != nil {
		c.log.Warn("discarding undecodable context push", "error", err)
		return wire.Message{}, false, nil
	}
	return msg, true, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	return req, nil
}
