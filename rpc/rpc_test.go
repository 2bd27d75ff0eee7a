package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const daemonURL = "http://daemon.test:18081"

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// jsonRPCResponder answers /json_rpc calls from a method table and records
// the requests it saw.
func jsonRPCResponder(t *testing.T, seen *[]rpcRequest, results map[string]interface{}) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		var r rpcRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&r))
		*seen = append(*seen, r)
		result, ok := results[r.Method]
		if !ok {
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"jsonrpc": "2.0", "id": "0",
				"error": map[string]interface{}{"code": -32601, "message": "Method not found"},
			})
		}
		if rpcErr, ok := result.(*RPCError); ok {
			return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
				"jsonrpc": "2.0", "id": "0", "error": rpcErr,
			})
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]interface{}{
			"jsonrpc": "2.0", "id": "0", "result": result,
		})
	}
}

func newTestClient(t *testing.T) (*RPCClient, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	client := NewRPCClient("main", daemonURL+"/", "2s")
	client.SetTransport(mock)
	return client, mock
}

func TestGetHeight(t *testing.T) {
	client, mock := newTestClient(t)
	mock.RegisterResponder("POST", daemonURL+"/get_height",
		httpmock.NewStringResponder(http.StatusOK, `{"hash":"ab","height":3100000,"status":"OK","untrusted":false}`))

	reply, err := client.GetHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3100000), reply.Height)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestGetBlockTemplate(t *testing.T) {
	client, mock := newTestClient(t)
	var seen []rpcRequest
	mock.RegisterResponder("POST", daemonURL+"/json_rpc", jsonRPCResponder(t, &seen, map[string]interface{}{
		"get_block_template": map[string]interface{}{
			"blocktemplate_blob": "0e0e",
			"blockhashing_blob":  "0e0f",
			"difficulty":         1234,
			"height":             3100000,
			"prev_hash":          "aa",
			"reserved_offset":    130,
			"seed_hash":          "bb",
			"expected_reward":    600000000000,
			"status":             "OK",
		},
	}))

	reply, err := client.GetBlockTemplate(context.Background(), "4wallet", 60)
	require.NoError(t, err)
	assert.Equal(t, "0e0e", reply.BlocktemplateBlob)
	assert.Equal(t, uint64(1234), reply.Difficulty)
	assert.Equal(t, uint64(130), reply.ReservedOffset)

	require.Len(t, seen, 1)
	assert.Equal(t, "2.0", seen[0].JSONRPC)
	assert.JSONEq(t, `{"wallet_address":"4wallet","reserve_size":60}`, string(seen[0].Params))
}

func TestSubmitBlockUsesPositionalParams(t *testing.T) {
	client, mock := newTestClient(t)
	var seen []rpcRequest
	mock.RegisterResponder("POST", daemonURL+"/json_rpc", jsonRPCResponder(t, &seen, map[string]interface{}{
		"submit_block": map[string]interface{}{"status": "OK"},
	}))

	reply, err := client.SubmitBlock(context.Background(), "0e0e00")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply.Status)
	require.Len(t, seen, 1)
	assert.JSONEq(t, `["0e0e00"]`, string(seen[0].Params))
}

func TestSubmitBlockRejection(t *testing.T) {
	client, mock := newTestClient(t)
	var seen []rpcRequest
	mock.RegisterResponder("POST", daemonURL+"/json_rpc", jsonRPCResponder(t, &seen, map[string]interface{}{
		"submit_block": &RPCError{Code: -7, Message: "Block not accepted"},
	}))

	_, err := client.SubmitBlock(context.Background(), "0e0e00")
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -7, rpcErr.Code)
	assert.False(t, client.Sick(), "a rejected block does not make the daemon sick")
}

func TestGetBlockTemplateBusy(t *testing.T) {
	client, mock := newTestClient(t)
	var seen []rpcRequest
	mock.RegisterResponder("POST", daemonURL+"/json_rpc", jsonRPCResponder(t, &seen, map[string]interface{}{
		"get_block_template": map[string]interface{}{"status": "BUSY"},
	}))

	_, err := client.GetBlockTemplate(context.Background(), "4wallet", 60)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, CodeInternalError, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, `"BUSY"`)
	assert.False(t, client.Sick(), "a status reply is not a transport failure")
}

func TestBlockHeaderLookups(t *testing.T) {
	client, mock := newTestClient(t)
	header := BlockHeader{Hash: "cc", Height: 99, PrevHash: "bb", Difficulty: 10, Nonce: 5, Timestamp: 1700000000}
	var seen []rpcRequest
	reply := map[string]interface{}{"block_header": header, "status": "OK"}
	mock.RegisterResponder("POST", daemonURL+"/json_rpc", jsonRPCResponder(t, &seen, map[string]interface{}{
		"get_last_block_header":      reply,
		"get_block_header_by_hash":   reply,
		"get_block_header_by_height": reply,
	}))
	ctx := context.Background()

	last, err := client.GetLastBlockHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, header, last.BlockHeader)

	byHash, err := client.GetBlockHeaderByHash(ctx, "cc")
	require.NoError(t, err)
	assert.Equal(t, header, byHash.BlockHeader)

	_, err = client.GetBlockHeaderByHeight(ctx, 99)
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.JSONEq(t, `{"hash":"cc"}`, string(seen[1].Params))
	assert.JSONEq(t, `{"height":99}`, string(seen[2].Params))
}

func TestSickAccounting(t *testing.T) {
	client, mock := newTestClient(t)
	mock.RegisterResponder("POST", daemonURL+"/get_height",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	for i := 0; i < 5; i++ {
		assert.False(t, client.Check(context.Background()))
	}
	assert.True(t, client.Sick())

	mock.RegisterResponder("POST", daemonURL+"/get_height",
		httpmock.NewStringResponder(http.StatusOK, `{"height":1,"status":"OK"}`))
	for i := 0; i < 4; i++ {
		assert.False(t, client.Check(context.Background()))
	}
	assert.True(t, client.Check(context.Background()))
	assert.False(t, client.Sick())
}

func TestServerErrorIsTransportFailure(t *testing.T) {
	client, mock := newTestClient(t)
	mock.RegisterResponder("POST", daemonURL+"/json_rpc",
		httpmock.NewStringResponder(http.StatusBadGateway, "bad gateway"))

	_, err := client.GetLastBlockHeader(context.Background())
	require.Error(t, err)
	var rpcErr *RPCError
	assert.False(t, errors.As(err, &rpcErr))
}

func TestForward(t *testing.T) {
	client, mock := newTestClient(t)
	mock.RegisterResponder("POST", daemonURL+"/json_rpc",
		httpmock.NewStringResponder(http.StatusOK, `{"jsonrpc":"2.0","id":"1","result":{"count":5}}`))

	body, err := client.Forward(context.Background(), "/json_rpc", []byte(`{"method":"get_block_count"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"1","result":{"count":5}}`, string(body))
}
