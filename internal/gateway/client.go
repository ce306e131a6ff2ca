package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Auth mode selection. A deployment picks exactly one via configuration;
// the client never infers the mode from the shape of the secret.
const (
	AuthModeHMAC  = "hmac"
	AuthModeToken = "token"
)

// Config holds gateway connection configuration
type Config struct {
	// Base URL of the gateway RPC endpoint
	URL string `toml:"url"`

	// Optional separate base URL for the unauthenticated liveness port.
	// Defaults to URL when empty.
	HealthURL string `toml:"health_url"`

	// AuthMode selects the request authentication strategy: "hmac" or "token"
	AuthMode string `toml:"auth_mode"`

	// Secret is the shared HMAC signing secret (hmac mode)
	Secret string `toml:"secret"`

	// Token is the bearer session credential (token mode)
	Token string `toml:"token"`

	// Timeout applies per request
	Timeout time.Duration `toml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:      "http://127.0.0.1:8080",
		AuthMode: AuthModeHMAC,
		Timeout:  10 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("gateway url must be specified")
	}
	switch c.AuthMode {
	case AuthModeHMAC:
		if c.Secret == "" {
			return fmt.Errorf("gateway secret must be specified in hmac mode")
		}
	case AuthModeToken:
		if c.Token == "" {
			return fmt.Errorf("gateway token must be specified in token mode")
		}
	default:
		return fmt.Errorf("unsupported gateway auth_mode: %q (must be hmac or token)", c.AuthMode)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive")
	}
	return nil
}

// RPCError is a failure reported by the gateway for a single method call
type RPCError struct {
	Method  string
	Status  int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway %s: %s (status %d)", e.Method, e.Message, e.Status)
}

// Client issues signed requests to the gateway.
// Requests are never retried here; retry policy belongs to the caller.
type Client struct {
	config Config
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewClient creates a gateway client with the specified configuration
func NewClient(config Config, logger *slog.Logger) *Client {
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: logger,
		now:    time.Now,
	}
}

// rpcRequest is the wire shape of an outbound method call
type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// rpcResponse is the wire shape of a method result
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Call invokes a gateway method and decodes its result into out.
// out may be nil when the caller only cares about success.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	if params == nil {
		params = map[string]any{}
	}

	body, err := json.Marshal(rpcRequest{
		ID:     uuid.NewString(),
		Method: method,
		Params: params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/rpc", bytes.NewReader(body), body)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(readBounded(resp.Body)))
		if msg == "" {
			msg = resp.Status
		}
		return &RPCError{Method: method, Status: resp.StatusCode, Message: msg}
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return &RPCError{Method: method, Status: resp.StatusCode, Message: decoded.Error.Message}
	}

	if out != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}

	return nil
}

// Do issues a raw signed HTTP request against the gateway. Used by the
// passthrough proxy; path must begin with "/".
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	return c.do(ctx, method, path, reader, body)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, raw []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.URL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	switch c.config.AuthMode {
	case AuthModeToken:
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	default:
		timestamp := fmt.Sprintf("%d", c.now().UnixMilli())
		req.Header.Set(headerTimestamp, timestamp)
		req.Header.Set(headerSignature, sign(c.config.Secret, method, path, timestamp, raw))
	}

	return c.http.Do(req)
}

// Health reports gateway reachability. The plain liveness port and the
// signed RPC path are probed in parallel; the gateway is healthy if either
// answers. Gateways commonly expose liveness on a separate unauthenticated
// port, so a failed RPC probe alone is not conclusive.
type Health struct {
	Healthy bool `json:"healthy"`
	HTTP    bool `json:"http"`
	RPC     bool `json:"rpc"`
}

// HealthCheck probes both reachability paths concurrently
func (c *Client) HealthCheck(ctx context.Context) Health {
	httpCh := make(chan bool, 1)
	rpcCh := make(chan bool, 1)

	go func() { httpCh <- c.probeHTTP(ctx) }()
	go func() { rpcCh <- c.Call(ctx, "status", nil, nil) == nil }()

	h := Health{HTTP: <-httpCh, RPC: <-rpcCh}
	h.Healthy = h.HTTP || h.RPC
	return h
}

// probeHTTP checks the plain liveness endpoint without a signature
func (c *Client) probeHTTP(ctx context.Context) bool {
	base := c.config.HealthURL
	if base == "" {
		base = c.config.URL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// readBounded drains up to 4KB of an error body for diagnostics
func readBounded(r io.Reader) []byte {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	return data
}
