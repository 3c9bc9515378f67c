// internal/blockchain/solbc/rpc/client.go
package rpc

import (
	"fmt"
	"net/url"
	"time"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// NewClient creates a node client for rawURL, adding apiKey when set.
func NewClient(rawURL, apiKey string) (*NodeClient, error) {
	endpoint, err := WithAPIKey(rawURL, apiKey)
	if err != nil {
		return nil, err
	}
	return &NodeClient{
		Client:  solanarpc.New(endpoint),
		URL:     Redact(rawURL),
		active:  true,
		metrics: &metrics{},
	}, nil
}

// WithAPIKey appends the api-key query parameter used by Helius style
// endpoints. An existing api-key parameter is left untouched.
func WithAPIKey(rawURL, apiKey string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid RPC url %q: %w", Redact(rawURL), err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid RPC url %q: missing scheme or host", Redact(rawURL))
	}
	if apiKey == "" {
		return u.String(), nil
	}
	q := u.Query()
	if q.Get("api-key") == "" {
		q.Set("api-key", apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redact strips credentials and the query string from rawURL.
func Redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}

// GetMetrics returns the node counters.
func (c *NodeClient) GetMetrics() (uint64, uint64, time.Duration) {
	c.metrics.mutex.RLock()
	defer c.metrics.mutex.RUnlock()

	return c.metrics.successCount, c.metrics.errorCount, c.metrics.latency
}

// SetActive sets whether the node takes part in rotation.
func (c *NodeClient) SetActive(state bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.active = state
}

// IsActive reports whether the node takes part in rotation.
func (c *NodeClient) IsActive() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.active
}

// UpdateMetrics records the outcome of one request.
func (c *NodeClient) UpdateMetrics(success bool, latency time.Duration) {
	c.metrics.mutex.Lock()
	defer c.metrics.mutex.Unlock()

	if success {
		c.metrics.successCount++
	} else {
		c.metrics.errorCount++
	}

	if c.metrics.latency == 0 {
		c.metrics.latency = latency
		return
	}
	c.metrics.latency = (c.metrics.latency + latency) / 2
}

func (c *NodeClient) stats() NodeStats {
	ok, failed, latency := c.GetMetrics()
	return NodeStats{
		URL:       c.URL,
		Active:    c.IsActive(),
		Successes: ok,
		Errors:    failed,
		Latency:   latency,
	}
}
