// internal/stream/log_feed.go
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// LogFeed subscribes to program logs, one subscription per program.
type LogFeed struct {
	programs []string

	mu      sync.Mutex
	pending map[uint64]string // request id -> program
	bySubID map[int64]string  // subscription id -> program
}

// NewLogFeed creates a log feed for programs.
func NewLogFeed(programs []string) *LogFeed {
	return &LogFeed{
		programs: append([]string(nil), programs...),
		pending:  make(map[uint64]string),
		bySubID:  make(map[int64]string),
	}
}

func (f *LogFeed) Kind() types.FeedKind {
	return types.FeedLogs
}

// Requests resets subscription bookkeeping and returns one logsSubscribe per program.
func (f *LogFeed) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = make(map[uint64]string, len(f.programs))
	f.bySubID = make(map[int64]string, len(f.programs))

	reqs := make([]Request, 0, len(f.programs))
	for i, program := range f.programs {
		id := uint64(i + 1)
		f.pending[id] = program
		reqs = append(reqs, newRequest(id, "logsSubscribe",
			map[string]interface{}{"mentions": []string{program}},
			map[string]string{"commitment": "confirmed", "encoding": "jsonParsed"},
		))
	}
	return reqs
}

// Subscriptions returns the acknowledged subscription ids by program.
func (f *LogFeed) Subscriptions() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]int64, len(f.bySubID))
	for id, program := range f.bySubID {
		out[program] = id
	}
	return out
}

type logsResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Signature string          `json:"signature"`
		Err       json.RawMessage `json:"err"`
		Logs      []string        `json:"logs"`
	} `json:"value"`
}

func (f *LogFeed) Decode(frame []byte) (*Message, error) {
	env, err := decodeFrame(types.FeedLogs, frame)
	if err != nil {
		return nil, err
	}

	if env.isAck() {
		var subID int64
		if err := json.Unmarshal(env.Result, &subID); err != nil {
			// unsubscribe acks carry a bool
			return nil, nil
		}
		f.mu.Lock()
		if program, ok := f.pending[*env.ID]; ok {
			delete(f.pending, *env.ID)
			f.bySubID[subID] = program
		}
		f.mu.Unlock()
		return nil, nil
	}

	if env.Method != "logsNotification" || env.Params == nil {
		return nil, malformed(types.FeedLogs, frame, fmt.Errorf("unexpected method %q", env.Method))
	}

	var res logsResult
	if err := json.Unmarshal(env.Params.Result, &res); err != nil {
		return nil, malformed(types.FeedLogs, frame, err)
	}
	if res.Value.Signature == "" {
		return nil, malformed(types.FeedLogs, frame, errors.New("missing signature"))
	}
	if !validSignature(res.Value.Signature) {
		return nil, malformed(types.FeedLogs, frame, fmt.Errorf("%w: %q", errBadSignature, res.Value.Signature))
	}

	f.mu.Lock()
	program := f.bySubID[env.Params.Subscription]
	f.mu.Unlock()

	return &Message{
		Kind: types.FeedLogs,
		Events: []RawTransactionEvent{{
			Kind:      types.FeedLogs,
			Signature: res.Value.Signature,
			Slot:      res.Context.Slot,
			Program:   program,
			Logs:      res.Value.Logs,
			Failed:    failed(res.Value.Err),
		}},
	}, nil
}

func failed(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
