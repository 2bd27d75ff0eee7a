package proxy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"git.gammaspectra.live/P2Pool/consensus/v4/monero/crypto"
	"git.gammaspectra.live/P2Pool/consensus/v4/monero/transaction"
	"github.com/stretchr/testify/require"

	"github.com/dominant-strategies/go-merge-mining-proxy/monero"
	"github.com/dominant-strategies/go-merge-mining-proxy/rpc"
)

const foreignTaggedKey = 0x03

// fakeDaemon is a foreign chain daemon serving real block blobs. Its chain
// is a list of synthetic headers; it never advances on its own.
type fakeDaemon struct {
	t *testing.T

	mu         sync.Mutex
	height     uint64
	difficulty uint64
	calls      map[string]int
	submitted  []string
	reject     *rpc.RPCError

	server *httptest.Server
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	d := &fakeDaemon{
		t:          t,
		height:     3000000,
		difficulty: 5000,
		calls:      make(map[string]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/get_height", d.handleGetHeight)
	mux.HandleFunc("/json_rpc", d.handleJSONRPC)
	mux.HandleFunc("/get_transaction_pool", func(w http.ResponseWriter, r *http.Request) {
		d.count("get_transaction_pool")
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "OK", "transactions": []string{}})
	})
	d.server = httptest.NewServer(mux)
	t.Cleanup(d.server.Close)
	return d
}

func (d *fakeDaemon) count(method string) {
	d.mu.Lock()
	d.calls[method]++
	d.mu.Unlock()
}

func (d *fakeDaemon) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

func (d *fakeDaemon) Submitted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.submitted...)
}

func (d *fakeDaemon) SetDifficulty(v uint64) {
	d.mu.Lock()
	d.difficulty = v
	d.mu.Unlock()
}

// SetHeight moves the daemon's chain to height blocks.
func (d *fakeDaemon) SetHeight(height uint64) {
	d.mu.Lock()
	d.height = height
	d.mu.Unlock()
}

func (d *fakeDaemon) Reject(err *rpc.RPCError) {
	d.mu.Lock()
	d.reject = err
	d.mu.Unlock()
}

func foreignHash(height uint64) monero.Hash {
	return monero.Keccak256([]byte(fmt.Sprintf("foreign-%d", height)))
}

func (d *fakeDaemon) header(height uint64) rpc.BlockHeader {
	return rpc.BlockHeader{
		BlockSize:    120 + height%7,
		Depth:        d.height - 1 - height,
		Difficulty:   d.difficulty,
		Hash:         foreignHash(height).String(),
		Height:       height,
		MajorVersion: 16,
		MinorVersion: 16,
		Nonce:        uint64(height * 31),
		NumTxes:      height % 3,
		PrevHash:     foreignHash(height - 1).String(),
		Reward:       600000000000,
		Timestamp:    1700000000 + height*120,
	}
}

// template builds the daemon's own block template with an extra nonce of
// reserveSize bytes.
func (d *fakeDaemon) template(wallet string, reserveSize uint64) *monero.Block {
	pubKey := monero.Keccak256([]byte(wallet))
	return &monero.Block{
		MajorVersion: 16,
		MinorVersion: 16,
		Timestamp:    1700000000 + d.height*120,
		PreviousId:   foreignHash(d.height - 1),
		Coinbase: transaction.CoinbaseTransaction{
			Version:    2,
			UnlockTime: d.height + 60,
			InputCount: 1,
			InputType:  transaction.TxInGen,
			GenHeight:  d.height,
			Outputs: transaction.Outputs{{
				Reward:             600000000000,
				Type:               foreignTaggedKey,
				EphemeralPublicKey: crypto.PublicKeyBytes(monero.Keccak256([]byte("out"), pubKey[:])),
				ViewTag:            0x11,
			}},
			Extra: transaction.ExtraTags{
				{Tag: transaction.TxExtraTagPubKey, Data: pubKey[:]},
				{Tag: transaction.TxExtraTagNonce, VarInt: reserveSize, HasVarInt: true, Data: make([]byte, reserveSize)},
			},
		},
		Transactions: []monero.Hash{monero.Keccak256([]byte("tx"))},
	}
}

func (d *fakeDaemon) handleGetHeight(w http.ResponseWriter, r *http.Request) {
	d.count("get_height")
	d.mu.Lock()
	defer d.mu.Unlock()
	writeJSON(w, http.StatusOK, &rpc.HeightReply{
		Hash:   foreignHash(d.height - 1).String(),
		Height: d.height,
		Status: "OK",
	})
}

func (d *fakeDaemon) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Id     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	require.NoError(d.t, json.NewDecoder(r.Body).Decode(&req))
	d.count(req.Method)

	d.mu.Lock()
	defer d.mu.Unlock()

	reply := func(result interface{}) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"jsonrpc": "2.0", "id": req.Id, "result": result})
	}
	fail := func(code int, message string) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"jsonrpc": "2.0", "id": req.Id,
			"error": map[string]interface{}{"code": code, "message": message},
		})
	}

	switch req.Method {
	case "get_block_template":
		var p struct {
			WalletAddress string `json:"wallet_address"`
			ReserveSize   uint64 `json:"reserve_size"`
		}
		require.NoError(d.t, json.Unmarshal(req.Params, &p))
		if p.ReserveSize > 255 {
			fail(-3, "Too big reserved size, maximum 255")
			return
		}
		b := d.template(p.WalletAddress, p.ReserveSize)
		offset, _ := monero.ExtraNonceOffset(b)
		blob, err := monero.BlockHex(b)
		require.NoError(d.t, err)
		reply(&rpc.BlockTemplateReply{
			BlocktemplateBlob: blob,
			BlockhashingBlob:  hex.EncodeToString(monero.HashingBlob(b)),
			Difficulty:        d.difficulty,
			WideDifficulty:    fmt.Sprintf("0x%x", d.difficulty),
			ExpectedReward:    600000000000,
			Height:            d.height,
			PrevHash:          b.PreviousId.String(),
			ReservedOffset:    uint64(offset),
			SeedHash:          monero.Keccak256([]byte("seed")).String(),
			SeedHeight:        d.height - d.height%2048,
			Status:            "OK",
		})
	case "submit_block":
		var blobs []string
		require.NoError(d.t, json.Unmarshal(req.Params, &blobs))
		d.submitted = append(d.submitted, blobs...)
		if d.reject != nil {
			fail(d.reject.Code, d.reject.Message)
			return
		}
		reply(map[string]interface{}{"status": "OK", "untrusted": false})
	case "get_last_block_header":
		reply(&rpc.BlockHeaderReply{BlockHeader: d.header(d.height - 1), Status: "OK"})
	case "get_block_header_by_hash":
		var p struct {
			Hash string `json:"hash"`
		}
		require.NoError(d.t, json.Unmarshal(req.Params, &p))
		for h := d.height - 1; h > d.height-100; h-- {
			if foreignHash(h).String() == p.Hash {
				reply(&rpc.BlockHeaderReply{BlockHeader: d.header(h), Status: "OK"})
				return
			}
		}
		fail(-5, "Internal error: can't get block by hash. Hash = "+p.Hash+".")
	case "get_block_header_by_height":
		var p struct {
			Height uint64 `json:"height"`
		}
		require.NoError(d.t, json.Unmarshal(req.Params, &p))
		if p.Height >= d.height {
			fail(-2, "Requested block height is greater than current top block height")
			return
		}
		reply(&rpc.BlockHeaderReply{BlockHeader: d.header(p.Height), Status: "OK"})
	case "get_connections":
		reply(map[string]interface{}{"connections": []string{}, "status": "OK"})
	default:
		fail(-32601, "Method not found")
	}
}
