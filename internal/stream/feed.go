// internal/stream/feed.go
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Feed decodes one upstream wire format. A feed is used by a single Source
// and is reset by Requests on every connect.
type Feed interface {
	Kind() types.FeedKind
	// Requests returns the subscribe requests to write after each connect.
	Requests() []Request
	// Decode turns a frame into a message. Acks and other frames that carry
	// no data return (nil, nil). Malformed frames return a *types.ParseError.
	Decode(frame []byte) (*Message, error)
}

// Message is one normalized unit delivered to handlers.
type Message struct {
	Kind   types.FeedKind
	Bundle *types.Bundle
	Events []RawTransactionEvent
}

// RawTransactionEvent is a transaction signature observed on a feed.
type RawTransactionEvent struct {
	Kind      types.FeedKind
	Signature string
	Slot      uint64
	BundleID  string
	Program   string
	Logs      []string
	Failed    bool
	Timestamp time.Time
	Seq       uint64
}

// Handler receives messages from a source.
type Handler func(Message)

// Request is a JSON-RPC request frame.
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newRequest(id uint64, method string, params ...interface{}) Request {
	if params == nil {
		params = []interface{}{}
	}
	return Request{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// rpcFrame covers responses and notifications.
type rpcFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Params  *rpcParams      `json:"params,omitempty"`
}

type rpcParams struct {
	Subscription int64           `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// isAck reports a plain response without params.
func (f *rpcFrame) isAck() bool {
	return f.ID != nil && f.Params == nil
}

func decodeFrame(kind types.FeedKind, frame []byte) (*rpcFrame, error) {
	var env rpcFrame
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, malformed(kind, frame, err)
	}
	if env.Error != nil {
		return nil, types.NewParseError(kind, frame, env.Error)
	}
	return &env, nil
}

func malformed(kind types.FeedKind, frame []byte, err error) *types.ParseError {
	return types.NewParseError(kind, frame, fmt.Errorf("%w: %v", types.ErrMalformedFrame, err))
}

var errBadSignature = errors.New("invalid transaction signature")

// validSignature checks that sig is a base58 encoded 64 byte signature.
func validSignature(sig string) bool {
	raw, err := base58.Decode(sig)
	return err == nil && len(raw) == 64
}
