// internal/blockchain/solbc/rpc/types.go
package rpc

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 10 * time.Second
	MaxRetries     = 3
	RetryDelay     = 500 * time.Millisecond
)

// Config configures a node pool.
type Config struct {
	URLs []string
	// APIKey is appended to every node URL as the api-key query parameter.
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint
	RetryDelay time.Duration
}

// NodeClient is a single RPC node.
type NodeClient struct {
	Client *solanarpc.Client
	// URL is the node address without credentials, safe to log.
	URL     string
	active  bool
	mutex   sync.RWMutex
	metrics *metrics
}

// NodeStats is a snapshot of one node's counters.
type NodeStats struct {
	URL       string
	Active    bool
	Successes uint64
	Errors    uint64
	Latency   time.Duration
}

type metrics struct {
	successCount uint64
	errorCount   uint64
	latency      time.Duration
	mutex        sync.RWMutex
}

// Pool rotates requests across RPC nodes and retries failures.
type Pool struct {
	clients    []*NodeClient
	logger     *zap.Logger
	timeout    time.Duration
	maxRetries uint
	newBackOff func() backoff.BackOff

	mutex     sync.Mutex
	currIndex int
}
