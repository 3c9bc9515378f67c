package solbc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/mev-detector/internal/blockchain/solbc/rpc"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcServer answers every JSON-RPC call with respond's result.
func rpcServer(t *testing.T, calls *atomic.Int32, respond func(req rpcRequest) interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  respond(req),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	pool, err := rpc.NewPool(rpc.Config{URLs: urls, RetryDelay: time.Millisecond, Timeout: 2 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return NewClient(pool, zaptest.NewLogger(t))
}

func TestClient_FetchTransaction(t *testing.T) {
	tx, _ := swapTransaction()
	tx.Message.Instructions[0].Accounts = []uint16{0, 1, 2}
	bin, err := tx.MarshalBinary()
	require.NoError(t, err)

	signer := key(1).String()
	mint := key(6).String()

	srv := rpcServer(t, nil, func(req rpcRequest) interface{} {
		assert.Equal(t, "getTransaction", req.Method)
		assert.Contains(t, string(req.Params), `"maxSupportedTransactionVersion":0`)
		assert.Contains(t, string(req.Params), `"commitment":"confirmed"`)
		return map[string]interface{}{
			"slot":        123,
			"blockTime":   1714564800,
			"transaction": []string{base64.StdEncoding.EncodeToString(bin), "base64"},
			"meta": map[string]interface{}{
				"err":          nil,
				"fee":          5000,
				"preBalances":  []uint64{},
				"postBalances": []uint64{},
				"preTokenBalances": []map[string]interface{}{{
					"accountIndex":  1,
					"owner":         signer,
					"mint":          mint,
					"uiTokenAmount": map[string]interface{}{"amount": "5000000", "decimals": 6, "uiAmountString": "5"},
				}},
				"postTokenBalances": []map[string]interface{}{},
				"loadedAddresses":   map[string]interface{}{"writable": []string{}, "readonly": []string{}},
			},
		}
	})

	client := newTestClient(t, srv.URL)
	signature := solana.Signature{7}.String()

	raw, err := client.FetchTransaction(context.Background(), signature)

	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, signature, raw.Signature)
	assert.Equal(t, uint64(123), raw.Slot)
	assert.Equal(t, time.Unix(1714564800, 0).UTC(), raw.BlockTime.UTC())
	assert.Equal(t, []string{signer}, raw.Signers)
	require.Len(t, raw.Instructions, 1)
	assert.Equal(t, raydiumProgram, raw.Instructions[0].ProgramID)
	require.Len(t, raw.PreTokenBalances, 1)
	assert.Equal(t, mint, raw.PreTokenBalances[0].Mint)
}

func TestClient_FetchTransactionNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := rpcServer(t, &calls, func(rpcRequest) interface{} { return nil })

	raw, err := newTestClient(t, srv.URL).FetchTransaction(context.Background(), solana.Signature{1}.String())

	assert.NoError(t, err)
	assert.Nil(t, raw)
	assert.Equal(t, int32(1), calls.Load(), "not found is not retried")
}

func TestClient_FetchTransactionInvalidSignature(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")

	_, err := client.FetchTransaction(context.Background(), "not-base58")
	assert.Error(t, err)
}

func TestClient_GetSignatures(t *testing.T) {
	first, second := solana.Signature{1}.String(), solana.Signature{2}.String()

	srv := rpcServer(t, nil, func(req rpcRequest) interface{} {
		assert.Equal(t, "getSignaturesForAddress", req.Method)
		assert.Contains(t, string(req.Params), raydiumProgram)
		assert.Contains(t, string(req.Params), `"limit":2`)
		return []map[string]interface{}{
			{"signature": second, "slot": 11, "err": nil, "blockTime": 1714564801, "confirmationStatus": "confirmed"},
			{"signature": first, "slot": 10, "err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}, "blockTime": nil},
		}
	})

	infos, err := newTestClient(t, srv.URL).GetSignatures(context.Background(), raydiumProgram, 2)

	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, second, infos[0].Signature)
	assert.Equal(t, uint64(11), infos[0].Slot)
	assert.False(t, infos[0].Failed)
	assert.False(t, infos[0].BlockTime.IsZero())
	assert.Equal(t, first, infos[1].Signature)
	assert.True(t, infos[1].Failed)
	assert.True(t, infos[1].BlockTime.IsZero())
}

func TestClient_GetSignaturesRotatesNodes(t *testing.T) {
	var throttledCalls atomic.Int32
	throttled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		throttledCalls.Add(1)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	}))
	defer throttled.Close()

	healthy := rpcServer(t, nil, func(rpcRequest) interface{} {
		return []map[string]interface{}{{"signature": solana.Signature{3}.String(), "slot": 5}}
	})

	infos, err := newTestClient(t, throttled.URL, healthy.URL).GetSignatures(context.Background(), raydiumProgram, 10)

	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, int32(1), throttledCalls.Load())
}
