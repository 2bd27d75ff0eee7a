// Package chaintest provides in-memory base node and wallet servers for
// tests. Both are served over a bufconn listener by a real gRPC server.
package chaintest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dominant-strategies/go-merge-mining-proxy/chain"
	"github.com/dominant-strategies/go-merge-mining-proxy/monero"
)

// MergeMiningHash is the commitment a foreign block has to carry for the
// given header. It covers everything but the hash, nonce and proof of work.
func MergeMiningHash(h *chain.BlockHeader) []byte {
	c := *h
	c.Hash, c.Nonce, c.Pow = nil, 0, nil
	sum := monero.Keccak256(chain.Marshal(&c))
	return sum[:]
}

// BlockHash is the identity of a sealed header.
func BlockHash(h *chain.BlockHeader) []byte {
	c := *h
	c.Hash = nil
	sum := monero.Keccak256([]byte("block"), chain.Marshal(&c))
	return sum[:]
}

func merkleRoot(items [][]byte) []byte {
	sum := monero.Keccak256(items...)
	return sum[:]
}

// BaseNode is a minimal base node. It keeps a linear chain, hands out
// candidates on top of the tip and validates submissions the way a real
// node rejects tampered candidates.
type BaseNode struct {
	mu sync.Mutex

	synced     bool
	difficulty uint64
	reward     uint64
	fees       uint64
	fail       error

	blocks  []*chain.Block
	outputs uint64
	kernels uint64

	submissions int
	templates   int
	advance     int
}

func NewBaseNode() *BaseNode {
	genesis := &chain.Block{
		Header: &chain.BlockHeader{Version: 1, Timestamp: 1700000000},
		Body:   &chain.AggregateBody{},
	}
	genesis.Header.Hash = BlockHash(genesis.Header)
	return &BaseNode{
		synced:     true,
		difficulty: 1000,
		reward:     5000000,
		fees:       250,
		blocks:     []*chain.Block{genesis},
	}
}

// SetSynced controls whether the node reports initial sync as achieved.
func (n *BaseNode) SetSynced(v bool) {
	n.mu.Lock()
	n.synced = v
	n.mu.Unlock()
}

// SetFailure makes every call fail with err until cleared with nil.
func (n *BaseNode) SetFailure(err error) {
	n.mu.Lock()
	n.fail = err
	n.mu.Unlock()
}

func (n *BaseNode) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return uint64(len(n.blocks) - 1)
}

func (n *BaseNode) Difficulty() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.difficulty
}

// Submissions counts SubmitBlock calls, accepted or not.
func (n *BaseNode) Submissions() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.submissions
}

// Templates counts GetNewBlockTemplate calls.
func (n *BaseNode) Templates() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.templates
}

// AdvanceOnNewBlock makes the next count GetNewBlock calls extend the chain
// with an outside block right after answering, as if another miner won.
func (n *BaseNode) AdvanceOnNewBlock(count int) {
	n.mu.Lock()
	n.advance = count
	n.mu.Unlock()
}

// Extend appends an empty block mined elsewhere.
func (n *BaseNode) Extend() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.extend()
}

func (n *BaseNode) extend() {
	tip := n.tip().Header
	b := &chain.Block{
		Header: &chain.BlockHeader{
			Version:       1,
			Height:        tip.Height + 1,
			PrevHash:      tip.Hash,
			Timestamp:     tip.Timestamp + 120,
			OutputMMRSize: n.outputs,
			KernelMMRSize: n.kernels,
			Pow:           &chain.ProofOfWork{Algo: chain.PowAlgoSha3},
		},
		Body: &chain.AggregateBody{},
	}
	b.Header.Hash = BlockHash(b.Header)
	n.blocks = append(n.blocks, b)
}

func (n *BaseNode) tip() *chain.Block {
	return n.blocks[len(n.blocks)-1]
}

func (n *BaseNode) GetNewBlockTemplate(_ context.Context, req *chain.NewBlockTemplateRequest) (*chain.NewBlockTemplateResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.templates++
	if n.fail != nil {
		return nil, n.fail
	}
	tip := n.tip().Header
	height := tip.Height + 1
	return &chain.NewBlockTemplateResponse{
		NewBlockTemplate: &chain.NewBlockTemplate{
			Header: &chain.BlockHeader{
				Version:   1,
				Height:    height,
				PrevHash:  tip.Hash,
				Timestamp: tip.Timestamp + 120,
				Pow:       &chain.ProofOfWork{Algo: req.Algo},
			},
			Body: &chain.AggregateBody{
				Inputs:  [][]byte{[]byte(fmt.Sprintf("input-%d", height))},
				Outputs: [][]byte{[]byte(fmt.Sprintf("output-%d", height))},
				Kernels: [][]byte{[]byte(fmt.Sprintf("kernel-%d", height))},
			},
		},
		InitialSyncAchieved: n.synced,
		MinerData: &chain.MinerData{
			Algo:             req.Algo,
			TargetDifficulty: n.difficulty,
			Reward:           n.reward,
			TotalFees:        n.fees,
		},
	}, nil
}

func (n *BaseNode) GetNewBlock(_ context.Context, tmpl *chain.NewBlockTemplate) (*chain.GetNewBlockResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return nil, n.fail
	}
	if tmpl.Header == nil || tmpl.Body == nil {
		return nil, status.Error(codes.InvalidArgument, "template is missing header or body")
	}
	block := (&chain.Block{Header: tmpl.Header, Body: tmpl.Body}).Clone()
	h := block.Header
	h.OutputMMRSize = n.outputs + uint64(len(block.Body.Outputs))
	h.KernelMMRSize = n.kernels + uint64(len(block.Body.Kernels))
	h.OutputMR = merkleRoot(block.Body.Outputs)
	h.KernelMR = merkleRoot(block.Body.Kernels)
	h.InputMR = merkleRoot(block.Body.Inputs)
	if h.Pow == nil {
		h.Pow = &chain.ProofOfWork{}
	}
	h.Hash = BlockHash(h)
	res := &chain.GetNewBlockResult{
		BlockHash:       h.Hash,
		Block:           block,
		MergeMiningHash: MergeMiningHash(h),
	}
	if n.advance > 0 {
		n.advance--
		n.extend()
	}
	return res, nil
}

func (n *BaseNode) SubmitBlock(_ context.Context, block *chain.Block) (*chain.SubmitBlockResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submissions++
	if n.fail != nil {
		return nil, n.fail
	}
	if block.Header == nil || block.Body == nil {
		return nil, status.Error(codes.InvalidArgument, "block is missing header or body")
	}
	h := block.Header
	tip := n.tip().Header
	if h.Height != tip.Height+1 {
		return nil, status.Errorf(codes.InvalidArgument, "Block height mismatch. Expected: %d, received: %d", tip.Height+1, h.Height)
	}
	if !bytes.Equal(h.PrevHash, tip.Hash) {
		return nil, status.Error(codes.InvalidArgument, "Block does not build on the current tip")
	}
	if want := n.kernels + uint64(len(block.Body.Kernels)); h.KernelMMRSize != want {
		return nil, status.Errorf(codes.InvalidArgument, "MMR size for Kernel does not match. Expected: %d, received: %d", want, h.KernelMMRSize)
	}
	if want := n.outputs + uint64(len(block.Body.Outputs)); h.OutputMMRSize != want {
		return nil, status.Errorf(codes.InvalidArgument, "MMR size for UTXO does not match. Expected: %d, received: %d", want, h.OutputMMRSize)
	}
	if err := verifyMergeMiningProof(h); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	accepted := block.Clone()
	accepted.Header.Hash = BlockHash(accepted.Header)
	n.blocks = append(n.blocks, accepted)
	n.outputs = h.OutputMMRSize
	n.kernels = h.KernelMMRSize
	return &chain.SubmitBlockResponse{BlockHash: accepted.Header.Hash}, nil
}

func verifyMergeMiningProof(h *chain.BlockHeader) error {
	if h.Pow == nil || h.Pow.Algo != chain.PowAlgoMonero {
		return fmt.Errorf("Proof of work algorithm is not merge mined")
	}
	var pow monero.PowData
	if err := pow.UnmarshalBinary(h.Pow.PowData); err != nil {
		return fmt.Errorf("Invalid proof of work data: %v", err)
	}
	foreign, err := monero.ParseBlock(pow.Blob)
	if err != nil {
		return fmt.Errorf("Invalid proof of work data: %v", err)
	}
	tag, err := monero.FindMergeMiningTag(foreign.Coinbase.Extra)
	if err != nil {
		return fmt.Errorf("Invalid proof of work data: %v", err)
	}
	if !bytes.Equal(tag.Root[:], MergeMiningHash(h)) {
		return fmt.Errorf("Merge mining tag does not commit to this block")
	}
	return nil
}

func (n *BaseNode) GetTipInfo(context.Context, *chain.Empty) (*chain.TipInfoResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return nil, n.fail
	}
	tip := n.tip().Header
	return &chain.TipInfoResponse{
		Metadata: &chain.MetaData{
			BestBlockHeight:       tip.Height,
			BestBlockHash:         tip.Hash,
			AccumulatedDifficulty: binary.BigEndian.AppendUint64(nil, n.difficulty*(tip.Height+1)),
			Timestamp:             tip.Timestamp,
		},
		InitialSyncAchieved: n.synced,
	}, nil
}

func (n *BaseNode) GetTipHeader(context.Context, *chain.Empty) (*chain.BlockHeaderResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return nil, n.fail
	}
	tip := n.tip()
	return &chain.BlockHeaderResponse{
		Header:          tip.Clone().Header,
		Confirmations:   1,
		Reward:          n.reward,
		Difficulty:      n.difficulty,
		NumTransactions: uint64(len(tip.Body.Kernels)),
	}, nil
}

func (n *BaseNode) GetConstants(context.Context, *chain.BlockHeight) (*chain.ConsensusConstants, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return nil, n.fail
	}
	return &chain.ConsensusConstants{
		BlockchainVersion:  1,
		CoinbaseLockHeight: 6,
		MaxBlockInterval:   1200,
		MaxBlockWeight:     127795,
		MinPowDifficulty:   1,
	}, nil
}

func (n *BaseNode) GetHeaderByHash(_ context.Context, req *chain.HashRequest) (*chain.BlockHeaderResponse, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return nil, n.fail
	}
	for _, b := range n.blocks {
		if bytes.Equal(b.Header.Hash, req.Hash) {
			return &chain.BlockHeaderResponse{
				Header:          b.Clone().Header,
				Confirmations:   n.tip().Header.Height - b.Header.Height + 1,
				Reward:          n.reward,
				Difficulty:      n.difficulty,
				NumTransactions: uint64(len(b.Body.Kernels)),
			}, nil
		}
	}
	return nil, status.Errorf(codes.NotFound, "Header not found with hash `%x`", req.Hash)
}

// Wallet is a minimal wallet paying coinbases to a fixed address. Every
// coinbase it builds is unique.
type Wallet struct {
	mu sync.Mutex

	Address string
	balance chain.GetBalanceResponse
	fail    error
	nextTx  uint64

	coinbases int
}

func NewWallet(address string) *Wallet {
	return &Wallet{
		Address: address,
		balance: chain.GetBalanceResponse{
			AvailableBalance:       1000000,
			PendingIncomingBalance: 2000,
			PendingOutgoingBalance: 300,
		},
		nextTx: 1,
	}
}

func (w *Wallet) SetFailure(err error) {
	w.mu.Lock()
	w.fail = err
	w.mu.Unlock()
}

// Coinbases counts GetCoinbase calls.
func (w *Wallet) Coinbases() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.coinbases
}

func (w *Wallet) GetBalance(context.Context, *chain.Empty) (*chain.GetBalanceResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return nil, w.fail
	}
	b := w.balance
	return &b, nil
}

func (w *Wallet) Transfer(_ context.Context, req *chain.TransferRequest) (*chain.TransferResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return nil, w.fail
	}
	resp := new(chain.TransferResponse)
	for _, r := range req.Recipients {
		res := &chain.TransferResult{Address: r.Address}
		switch {
		case r.Amount == 0:
			res.FailureMessage = "Amount must be greater than zero"
		case r.Amount > w.balance.AvailableBalance:
			res.FailureMessage = "Insufficient funds"
		default:
			w.balance.AvailableBalance -= r.Amount
			w.balance.PendingOutgoingBalance += r.Amount
			res.TransactionId = w.nextTx
			res.IsSuccess = true
			w.nextTx++
		}
		resp.Results = append(resp.Results, res)
	}
	return resp, nil
}

func (w *Wallet) Identify(context.Context, *chain.Empty) (*chain.IdentifyResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return nil, w.fail
	}
	key := monero.Keccak256([]byte(w.Address))
	return &chain.IdentifyResponse{
		PublicKey:     key[:],
		PublicAddress: w.Address,
		NodeId:        key[:8],
	}, nil
}

func (w *Wallet) GetCoinbase(_ context.Context, req *chain.GetCoinbaseRequest) (*chain.GetCoinbaseResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.coinbases++
	if w.fail != nil {
		return nil, w.fail
	}
	if req.Reward == 0 {
		return nil, status.Error(codes.InvalidArgument, "coinbase reward must be positive")
	}
	offset := monero.Keccak256([]byte(w.Address), binary.BigEndian.AppendUint64(nil, req.Height))
	return &chain.GetCoinbaseResponse{
		Transaction: &chain.Transaction{
			Offset: offset[:],
			Body: &chain.AggregateBody{
				Outputs: [][]byte{[]byte(fmt.Sprintf("coinbase:%s:%d:%d:%d", w.Address, req.Height, req.Reward+req.Fee, w.coinbases))},
				Kernels: [][]byte{[]byte(fmt.Sprintf("coinbase-kernel:%d:%d", req.Height, w.coinbases))},
			},
		},
	}, nil
}

// Network is a base node and wallet served by one in-memory gRPC server.
type Network struct {
	BaseNode *BaseNode
	Wallet   *Wallet

	listener *bufconn.Listener
	server   *grpc.Server
}

// Start serves a fresh base node and wallet until the test ends.
func Start(t testing.TB) *Network {
	t.Helper()
	n := &Network{
		BaseNode: NewBaseNode(),
		Wallet:   NewWallet("f2TestWalletAddress"),
		listener: bufconn.Listen(1 << 20),
		server:   grpc.NewServer(grpc.ForceServerCodec(chain.Codec{})),
	}
	chain.RegisterBaseNodeServer(n.server, n.BaseNode)
	chain.RegisterWalletServer(n.server, n.Wallet)
	go n.server.Serve(n.listener)
	t.Cleanup(n.server.Stop)
	return n
}

// Dial returns a client connection to the network, closed when the test ends.
func (n *Network) Dial(t testing.TB) *grpc.ClientConn {
	t.Helper()
	conn, err := chain.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return n.listener.DialContext(ctx)
		}))
	if err != nil {
		t.Fatalf("dial chain network: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
