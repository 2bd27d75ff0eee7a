package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/INFURA/go-ethlibs/jsonrpc"

	"github.com/dominant-strategies/go-merge-mining-proxy/log"
	"github.com/dominant-strategies/go-merge-mining-proxy/util"
)

// ErrNoResult is returned when the daemon answers without error and
// without result.
var ErrNoResult = errors.New("daemon returned no result")

// RPCClient talks JSON-RPC to one foreign chain daemon. Url is the
// daemon's base URL; JSON-RPC calls go to Url + "/json_rpc".
type RPCClient struct {
	sync.RWMutex
	Url         string
	Name        string
	sick        bool
	sickRate    int
	successRate int
	client      *http.Client
}

func NewRPCClient(name, url, timeout string) *RPCClient {
	rpcClient := &RPCClient{Name: name, Url: strings.TrimRight(url, "/")}
	timeoutIntv := util.MustParseDuration(timeout)
	rpcClient.client = &http.Client{
		Timeout: timeoutIntv,
	}
	return rpcClient
}

// SetTransport replaces the HTTP transport, mostly for tests.
func (r *RPCClient) SetTransport(t http.RoundTripper) {
	r.client.Transport = t
}

// GetHeight queries the plain /get_height endpoint.
func (r *RPCClient) GetHeight(ctx context.Context) (*HeightReply, error) {
	data, err := r.post(ctx, "/get_height", []byte("{}"))
	if err != nil {
		return nil, err
	}
	var reply HeightReply
	if err := json.Unmarshal(data, &reply); err != nil {
		r.markSick()
		return nil, fmt.Errorf("decode get_height reply: %w", err)
	}
	if reply.Status != statusOK {
		return nil, statusError("get_height", reply.Status)
	}
	return &reply, nil
}

func (r *RPCClient) GetBlockTemplate(ctx context.Context, wallet string, reserveSize uint64) (*BlockTemplateReply, error) {
	params := map[string]interface{}{
		"wallet_address": wallet,
		"reserve_size":   reserveSize,
	}
	var reply BlockTemplateReply
	if err := r.call(ctx, "get_block_template", params, &reply); err != nil {
		return nil, err
	}
	if reply.Status != statusOK {
		return nil, statusError("get_block_template", reply.Status)
	}
	return &reply, nil
}

// SubmitBlock hands a solved block blob to the daemon. A rejection comes
// back as *RPCError.
func (r *RPCClient) SubmitBlock(ctx context.Context, blob string) (*SubmitBlockReply, error) {
	rpcResp, err := r.doPost(ctx, "submit_block", []interface{}{blob})
	if err != nil {
		return nil, err
	}
	var reply SubmitBlockReply
	if rpcResp.Result != nil {
		if err := json.Unmarshal(*rpcResp.Result, &reply); err != nil {
			return nil, fmt.Errorf("decode submit_block reply: %w", err)
		}
	}
	return &reply, nil
}

func (r *RPCClient) GetLastBlockHeader(ctx context.Context) (*BlockHeaderReply, error) {
	return r.getBlockHeaderBy(ctx, "get_last_block_header", nil)
}

func (r *RPCClient) GetBlockHeaderByHash(ctx context.Context, hash string) (*BlockHeaderReply, error) {
	return r.getBlockHeaderBy(ctx, "get_block_header_by_hash", map[string]interface{}{"hash": hash})
}

func (r *RPCClient) GetBlockHeaderByHeight(ctx context.Context, height uint64) (*BlockHeaderReply, error) {
	return r.getBlockHeaderBy(ctx, "get_block_header_by_height", map[string]interface{}{"height": height})
}

func (r *RPCClient) getBlockHeaderBy(ctx context.Context, method string, params interface{}) (*BlockHeaderReply, error) {
	var reply BlockHeaderReply
	if err := r.call(ctx, method, params, &reply); err != nil {
		return nil, err
	}
	if reply.Status != statusOK {
		return nil, statusError(method, reply.Status)
	}
	return &reply, nil
}

// statusError is a reply the daemon delivered with a status other than OK.
// It is an answer, not a transport failure.
func statusError(method, status string) *RPCError {
	return &RPCError{Code: CodeInternalError, Message: fmt.Sprintf("%s: daemon status %q", method, status)}
}

// Forward posts body unchanged to path on the daemon and returns the raw
// answer.
func (r *RPCClient) Forward(ctx context.Context, path string, body []byte) ([]byte, error) {
	return r.post(ctx, path, body)
}

func (r *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	rpcResp, err := r.doPost(ctx, method, params)
	if err != nil {
		return err
	}
	if rpcResp.Result == nil {
		return fmt.Errorf("%s: %w", method, ErrNoResult)
	}
	if err := json.Unmarshal(*rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

func (r *RPCClient) doPost(ctx context.Context, method string, params interface{}) (*JSONRpcResp, error) {
	var data []byte
	var err error
	if positional, ok := params.([]interface{}); ok {
		var jsonReq *jsonrpc.Request
		jsonReq, err = jsonrpc.MakeRequest(0, method, positional...)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", method, err)
		}
		data, err = jsonReq.MarshalJSON()
	} else {
		jsonReq := map[string]interface{}{"jsonrpc": "2.0", "method": method, "id": "0"}
		if params != nil {
			jsonReq["params"] = params
		}
		data, err = json.Marshal(jsonReq)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	body, err := r.post(ctx, "/json_rpc", data)
	if err != nil {
		return nil, err
	}

	var rpcResp *JSONRpcResp
	if err := json.Unmarshal(body, &rpcResp); err != nil || rpcResp == nil {
		r.markSick()
		return nil, fmt.Errorf("decode %s response: %v", method, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp, nil
}

func (r *RPCClient) post(ctx context.Context, path string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Url+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Length", strconv.Itoa(len(data)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.markSick()
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.markSick()
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		r.markSick()
		log.Global.WithFields(log.Fields{
			"upstream": r.Name,
			"path":     path,
			"status":   resp.StatusCode,
		}).Warn("Daemon answered with server error")
		return nil, fmt.Errorf("daemon %s%s: http status %d", r.Name, path, resp.StatusCode)
	}
	return body, nil
}

func (r *RPCClient) Check(ctx context.Context) bool {
	_, err := r.GetHeight(ctx)
	if err != nil {
		return false
	}
	r.markAlive()
	return !r.Sick()
}

func (r *RPCClient) Sick() bool {
	r.RLock()
	defer r.RUnlock()
	return r.sick
}

func (r *RPCClient) markSick() {
	r.Lock()
	r.sickRate++
	r.successRate = 0
	if r.sickRate >= 5 {
		r.sick = true
	}
	r.Unlock()
}

func (r *RPCClient) markAlive() {
	r.Lock()
	r.successRate++
	if r.successRate >= 5 {
		r.sick = false
		r.sickRate = 0
		r.successRate = 0
	}
	r.Unlock()
}
