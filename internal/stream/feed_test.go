package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// sig returns a well formed signature unique to n.
func sig(n byte) string {
	return base58.Encode(bytes.Repeat([]byte{n}, 64))
}

func bundleFrame(id string, slot uint64, landed bool, txs ...string) []byte {
	frame, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "bundleNotification",
		"params": map[string]interface{}{
			"subscription": 1,
			"result": map[string]interface{}{
				"bundleId":     id,
				"transactions": txs,
				"landed":       landed,
				"slot":         slot,
			},
		},
	})
	return frame
}

func logsFrame(subID int64, slot uint64, signature string, txErr interface{}) []byte {
	frame, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]interface{}{
			"subscription": subID,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value": map[string]interface{}{
					"signature": signature,
					"err":       txErr,
					"logs":      []string{"Program log: Instruction: Swap"},
				},
			},
		},
	})
	return frame
}

func ackFrame(id uint64, subID int64) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","result":%d,"id":%d}`, subID, id))
}

func TestBundleFeed_Decode(t *testing.T) {
	feed := NewBundleFeed()

	msg, err := feed.Decode(bundleFrame("bundle-1", 42, true, sig(1), sig(2)))

	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NotNil(t, msg.Bundle)
	assert.Equal(t, types.FeedBundle, msg.Kind)
	assert.Equal(t, "bundle-1", msg.Bundle.BundleID)
	assert.Equal(t, []string{sig(1), sig(2)}, msg.Bundle.Transactions)
	assert.True(t, msg.Bundle.Landed)
	assert.Equal(t, uint64(42), msg.Bundle.Slot)

	require.Len(t, msg.Events, 2)
	for i, ev := range msg.Events {
		assert.Equal(t, msg.Bundle.Transactions[i], ev.Signature)
		assert.Equal(t, "bundle-1", ev.BundleID)
		assert.Equal(t, uint64(42), ev.Slot)
		assert.Equal(t, types.FeedBundle, ev.Kind)
	}
}

func TestBundleFeed_Requests(t *testing.T) {
	reqs := NewBundleFeed().Requests()

	require.Len(t, reqs, 1)
	assert.Equal(t, "subscribeBundles", reqs[0].Method)
	assert.Equal(t, "2.0", reqs[0].JSONRPC)
	assert.NotNil(t, reqs[0].Params)
}

func TestBundleFeed_DecodeErrors(t *testing.T) {
	feed := NewBundleFeed()

	tests := []struct {
		name  string
		frame []byte
	}{
		{"not json", []byte("{not json")},
		{"missing params", []byte(`{"jsonrpc":"2.0","method":"bundleNotification"}`)},
		{"missing bundle id", bundleFrame("", 1, true, sig(1))},
		{"bad signature", bundleFrame("b", 1, true, "not-a-signature")},
		{"rpc error", []byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := feed.Decode(tc.frame)
			assert.Nil(t, msg)

			var parseErr *types.ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, types.FeedBundle, parseErr.Feed)
		})
	}
}

func TestBundleFeed_IgnoresAck(t *testing.T) {
	msg, err := NewBundleFeed().Decode(ackFrame(1, 7))
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestLogFeed_SubscribesPerProgram(t *testing.T) {
	programs := []string{"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"}
	feed := NewLogFeed(programs)

	reqs := feed.Requests()

	require.Len(t, reqs, 2)
	for i, req := range reqs {
		assert.Equal(t, "logsSubscribe", req.Method)
		assert.Equal(t, uint64(i+1), req.ID)

		raw, err := json.Marshal(req.Params)
		require.NoError(t, err)
		assert.Contains(t, string(raw), programs[i])
		assert.Contains(t, string(raw), `"commitment":"confirmed"`)
		assert.Contains(t, string(raw), `"encoding":"jsonParsed"`)
	}
}

func TestLogFeed_MapsNotificationsToPrograms(t *testing.T) {
	programs := []string{"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"}
	feed := NewLogFeed(programs)
	feed.Requests()

	for id, subID := range map[uint64]int64{1: 501, 2: 502} {
		msg, err := feed.Decode(ackFrame(id, subID))
		require.NoError(t, err)
		assert.Nil(t, msg)
	}
	assert.Equal(t, map[string]int64{programs[0]: 501, programs[1]: 502}, feed.Subscriptions())

	msg, err := feed.Decode(logsFrame(502, 99, sig(3), nil))
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Len(t, msg.Events, 1)

	ev := msg.Events[0]
	assert.Equal(t, types.FeedLogs, ev.Kind)
	assert.Equal(t, sig(3), ev.Signature)
	assert.Equal(t, uint64(99), ev.Slot)
	assert.Equal(t, programs[1], ev.Program)
	assert.False(t, ev.Failed)
	assert.Equal(t, []string{"Program log: Instruction: Swap"}, ev.Logs)
	assert.Nil(t, msg.Bundle)
}

func TestLogFeed_FailedTransaction(t *testing.T) {
	feed := NewLogFeed([]string{"prog"})

	msg, err := feed.Decode(logsFrame(1, 5, sig(4), map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}))

	require.NoError(t, err)
	require.Len(t, msg.Events, 1)
	assert.True(t, msg.Events[0].Failed)
	assert.Empty(t, msg.Events[0].Program, "unknown subscription")
}

func TestLogFeed_RequestsResetSubscriptions(t *testing.T) {
	feed := NewLogFeed([]string{"prog"})
	feed.Requests()
	_, err := feed.Decode(ackFrame(1, 10))
	require.NoError(t, err)
	require.Len(t, feed.Subscriptions(), 1)

	feed.Requests()
	assert.Empty(t, feed.Subscriptions())
}

func TestLogFeed_DecodeErrors(t *testing.T) {
	feed := NewLogFeed([]string{"prog"})

	tests := []struct {
		name  string
		frame []byte
	}{
		{"not json", []byte("[")},
		{"unknown method", []byte(`{"jsonrpc":"2.0","method":"slotNotification","params":{"subscription":1,"result":{}}}`)},
		{"missing signature", logsFrame(1, 1, "", nil)},
		{"bad signature", logsFrame(1, 1, "0OIl", nil)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := feed.Decode(tc.frame)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, types.ErrMalformedFrame)
		})
	}
}

func TestNewFeed(t *testing.T) {
	f, err := NewFeed(types.FeedBundle, Config{})
	require.NoError(t, err)
	assert.Equal(t, types.FeedBundle, f.Kind())

	_, err = NewFeed(types.FeedLogs, Config{})
	assert.Error(t, err, "log feed without programs")

	f, err = NewFeed(types.FeedLogs, Config{Programs: []string{"prog"}})
	require.NoError(t, err)
	assert.Equal(t, types.FeedLogs, f.Kind())

	_, err = NewFeed(types.FeedPoll, Config{})
	assert.Error(t, err)
}
