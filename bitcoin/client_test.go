package bitcoin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcq-org/qswap/common"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestNode answers JSON-RPC calls with the reply for the method.
func newTestNode(t *testing.T, replies map[string]func() (int, any, *btcjson.RPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reply, ok := replies[req.Method]
		if !ok {
			reply = func() (int, any, *btcjson.RPCError) {
				return http.StatusNotFound, nil, btcjson.NewRPCError(btcjson.ErrRPCMethodNotFound.Code, "Method not found")
			}
		}
		status, result, rpcErr := reply()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
			"error":   rpcErr,
		})
	}))
}

func newTestClient(t *testing.T, url string) *BtcClient {
	t.Helper()
	client, err := NewBtcClient(Config{Host: url, RPCUser: "user", Password: "pass"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBtcClient(t *testing.T) {
	srv := newTestNode(t, map[string]func() (int, any, *btcjson.RPCError){
		"getblockcount": func() (int, any, *btcjson.RPCError) {
			return http.StatusOK, 812345, nil
		},
		"getblockhash": func() (int, any, *btcjson.RPCError) {
			return http.StatusOK, nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, "Block height out of range")
		},
		"getrawtransaction": func() (int, any, *btcjson.RPCError) {
			return http.StatusInternalServerError, nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidAddressOrKey, "No such mempool or blockchain transaction")
		},
		"getblockheader": func() (int, any, *btcjson.RPCError) {
			return http.StatusInternalServerError, nil, btcjson.NewRPCError(rpcInWarmup, "Loading block index...")
		},
	})
	defer srv.Close()
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	count, err := client.GetBlockCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(812345), count)

	_, err = client.GetBlockHash(ctx, 99999999)
	assert.True(t, IsRPCCode(err, btcjson.ErrRPCInvalidParameter), "%v", err)
	assert.False(t, common.IsTransient(err))

	_, err = client.GetRawTransactionVerbose(ctx, "00")
	assert.True(t, IsRPCCode(err, btcjson.ErrRPCInvalidAddressOrKey), "%v", err)

	_, err = client.GetBlockHeaderVerbose(ctx, "00")
	assert.ErrorIs(t, err, common.ErrRPCUnavailable)
	assert.True(t, common.IsTransient(err))
}

func TestBtcClientUnreachable(t *testing.T) {
	srv := newTestNode(t, nil)
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url)
	_, err := client.GetBlockCount(context.Background())
	assert.ErrorIs(t, err, common.ErrRPCUnavailable)
	assert.True(t, common.IsTransient(err))
}
