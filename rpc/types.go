package rpc

import (
	"encoding/json"
	"fmt"
)

const statusOK = "OK"

type JSONRpcResp struct {
	Id     *json.RawMessage `json:"id"`
	Result *json.RawMessage `json:"result"`
	Error  *RPCError        `json:"error"`
}

// RPCError is an error object returned by the daemon itself, as opposed to
// a failure to reach it.
// CodeInternalError is the daemon's generic failure code.
const CodeInternalError = -5

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

type HeightReply struct {
	Hash      string `json:"hash"`
	Height    uint64 `json:"height"`
	Status    string `json:"status"`
	Untrusted bool   `json:"untrusted"`
}

type BlockTemplateReply struct {
	BlocktemplateBlob string `json:"blocktemplate_blob"`
	BlockhashingBlob  string `json:"blockhashing_blob"`
	Difficulty        uint64 `json:"difficulty"`
	DifficultyTop64   uint64 `json:"difficulty_top64"`
	WideDifficulty    string `json:"wide_difficulty"`
	ExpectedReward    uint64 `json:"expected_reward"`
	Height            uint64 `json:"height"`
	PrevHash          string `json:"prev_hash"`
	ReservedOffset    uint64 `json:"reserved_offset"`
	SeedHash          string `json:"seed_hash"`
	SeedHeight        uint64 `json:"seed_height"`
	NextSeedHash      string `json:"next_seed_hash"`
	Status            string `json:"status"`
	Untrusted         bool   `json:"untrusted"`
}

// BlockHeader is the daemon's block header projection. Every field is
// always serialized.
type BlockHeader struct {
	BlockSize    uint64 `json:"block_size"`
	Depth        uint64 `json:"depth"`
	Difficulty   uint64 `json:"difficulty"`
	Hash         string `json:"hash"`
	Height       uint64 `json:"height"`
	MajorVersion uint64 `json:"major_version"`
	MinorVersion uint64 `json:"minor_version"`
	Nonce        uint64 `json:"nonce"`
	NumTxes      uint64 `json:"num_txes"`
	OrphanStatus bool   `json:"orphan_status"`
	PrevHash     string `json:"prev_hash"`
	Reward       uint64 `json:"reward"`
	Timestamp    uint64 `json:"timestamp"`
}

type BlockHeaderReply struct {
	BlockHeader BlockHeader `json:"block_header"`
	Status      string      `json:"status"`
	Untrusted   bool        `json:"untrusted"`
}

type SubmitBlockReply struct {
	BlockID   string `json:"block_id,omitempty"`
	Status    string `json:"status"`
	Untrusted bool   `json:"untrusted"`
}
