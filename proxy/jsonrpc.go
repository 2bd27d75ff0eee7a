package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dominant-strategies/go-merge-mining-proxy/log"
)

const (
	statusOK     = "OK"
	statusFailed = "Failed"
)

type JSONRpcReq struct {
	Id      *json.RawMessage `json:"id"`
	JSONRPC string           `json:"jsonrpc"`
	Method  string           `json:"method"`
	Params  *json.RawMessage `json:"params"`
}

type JSONRpcResp struct {
	Id      *json.RawMessage `json:"id"`
	Version string           `json:"jsonrpc"`
	Status  string           `json:"status"`
	Result  interface{}      `json:"result,omitempty"`
	Error   *ErrorReply      `json:"error,omitempty"`
}

type rpcHandler func(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error)

// methodAliases maps the daemon's legacy method names onto the canonical
// ones.
var methodAliases = map[string]string{
	"getheight":              "get_height",
	"getblocktemplate":       "get_block_template",
	"submitblock":            "submit_block",
	"getlastblockheader":     "get_last_block_header",
	"getblockheaderbyhash":   "get_block_header_by_hash",
	"getblockheaderbyheight": "get_block_header_by_height",
	"getbalance":             "get_balance",
	"getinfo":                "get_info",
}

func (s *ProxyServer) rpcHandlers() map[string]rpcHandler {
	return map[string]rpcHandler{
		"get_height":                 s.handleGetHeightRPC,
		"get_block_template":         s.handleGetBlockTemplateRPC,
		"submit_block":               s.handleSubmitBlockRPC,
		"get_last_block_header":      s.handleGetLastBlockHeaderRPC,
		"get_block_header_by_hash":   s.handleGetBlockHeaderByHashRPC,
		"get_block_header_by_height": s.handleGetBlockHeaderByHeightRPC,
		"get_balance":                s.handleGetBalanceRPC,
		"transfer":                   s.handleTransferRPC,
		"get_info":                   s.handleGetInfoRPC,
	}
}

func canonicalMethod(method string) string {
	if m, ok := methodAliases[method]; ok {
		return m
	}
	return method
}

func (s *ProxyServer) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Proxy.LimitBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeRPCError(w, nil, &ErrorReply{Code: codeParseError, Message: "Request body too large or unreadable"})
		return
	}

	var req JSONRpcReq
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeRPCError(w, nil, &ErrorReply{Code: codeParseError, Message: "Parse error"})
		return
	}
	if req.Method == "" {
		s.writeRPCError(w, req.Id, &ErrorReply{Code: codeInvalidRequest, Message: "Invalid request"})
		return
	}

	method := canonicalMethod(req.Method)
	handler, ok := s.rpcHandlers()[method]
	if !ok && s.config.Proxy.DisableForwarding {
		s.writeRPCError(w, req.Id, &ErrorReply{Code: codeMethodNotFound, Message: "Method not found"})
		observeRequest("unknown", statusFailed, start)
		return
	}
	if !ok {
		s.forwardJSONRPC(w, r, req, body)
		observeRequest("forwarded", "forwarded", start)
		return
	}

	result, err := handler(r.Context(), r, req.Params)
	if err != nil {
		reply := errorReply(err)
		log.Global.WithFields(log.Fields{
			"method": method,
			"ip":     s.remoteAddr(r),
			"code":   reply.Code,
			"err":    err,
		}).Warn("JSON-RPC request failed")
		s.writeRPCError(w, req.Id, reply)
		observeRequest(method, statusFailed, start)
		return
	}
	writeJSON(w, http.StatusOK, &JSONRpcResp{Id: req.Id, Version: "2.0", Status: statusOK, Result: result})
	observeRequest(method, statusOK, start)
}

// forwardJSONRPC hands a request the proxy does not intercept to the
// foreign daemon and relays its answer unchanged.
func (s *ProxyServer) forwardJSONRPC(w http.ResponseWriter, r *http.Request, req JSONRpcReq, body []byte) {
	upstream := s.rpc()
	reply, err := upstream.Forward(r.Context(), "/json_rpc", body)
	if err != nil {
		log.Global.WithFields(log.Fields{
			"method":   req.Method,
			"upstream": upstream.Name,
			"err":      err,
		}).Warn("Forwarding JSON-RPC request failed")
		s.writeRPCError(w, req.Id, errorReply(daemonError(err)))
		return
	}
	log.Global.WithFields(log.Fields{
		"method":   req.Method,
		"upstream": upstream.Name,
	}).Debug("Forwarded JSON-RPC request")
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	w.Write(reply)
}

func (s *ProxyServer) writeRPCError(w http.ResponseWriter, id *json.RawMessage, reply *ErrorReply) {
	writeJSON(w, http.StatusOK, &JSONRpcResp{Id: id, Version: "2.0", Status: statusFailed, Error: reply})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Global.WithField("err", err).Error("Failed to encode reply")
	}
}

// decodeParams unmarshals params into v. Missing params leave v untouched.
func decodeParams(params *json.RawMessage, v interface{}) error {
	if params == nil || len(*params) == 0 || string(*params) == "null" {
		return nil
	}
	if err := json.Unmarshal(*params, v); err != nil {
		return errors.Join(ErrInvalidParams, err)
	}
	return nil
}
