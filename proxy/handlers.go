package proxy

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/dominant-strategies/go-merge-mining-proxy/chain"
	"github.com/dominant-strategies/go-merge-mining-proxy/log"
	"github.com/dominant-strategies/go-merge-mining-proxy/rpc"
	"github.com/dominant-strategies/go-merge-mining-proxy/util"
)

const defaultFeePerGram = 25

type auxChainHeight struct {
	ID     string `json:"id"`
	Height uint64 `json:"height"`
}

type heightReply struct {
	Hash      string `json:"hash"`
	Height    uint64 `json:"height"`
	Status    string `json:"status"`
	Untrusted bool   `json:"untrusted"`
	Aux       struct {
		Chains []auxChainHeight `json:"chains"`
	} `json:"_aux"`
}

type headerReply struct {
	BlockHeader rpc.BlockHeader `json:"block_header"`
	Status      string          `json:"status"`
	Untrusted   bool            `json:"untrusted"`
	Aux         struct {
		Chains []auxChainHeader `json:"chains"`
	} `json:"_aux"`
}

// auxChainHeader is this chain's tip header next to a foreign header.
type auxChainHeader struct {
	ID         string `json:"id"`
	Height     uint64 `json:"height"`
	Hash       string `json:"hash"`
	PrevHash   string `json:"prev_hash"`
	Timestamp  uint64 `json:"timestamp"`
	Difficulty uint64 `json:"difficulty"`
	Reward     uint64 `json:"reward"`
	NumTxes    uint64 `json:"num_txes"`
}

type balanceReply struct {
	AvailableBalance       uint64 `json:"available_balance"`
	PendingIncomingBalance uint64 `json:"pending_incoming_balance"`
	PendingOutgoingBalance uint64 `json:"pending_outgoing_balance"`
	Status                 string `json:"status"`
}

type transferDestination struct {
	Address    string `json:"address"`
	Amount     uint64 `json:"amount"`
	FeePerGram uint64 `json:"fee_per_gram"`
	Message    string `json:"message"`
}

type transferParams struct {
	Destinations []transferDestination `json:"destinations"`
}

type transferResult struct {
	TransactionID  uint64 `json:"transaction_id"`
	Address        string `json:"address"`
	IsSuccess      bool   `json:"is_success"`
	FailureMessage string `json:"failure_message"`
}

type transferReply struct {
	TransactionResults []transferResult `json:"transaction_results"`
	Status             string           `json:"status"`
}

type infoReply struct {
	BestBlock            string `json:"best_block"`
	HeightOfLongestChain uint64 `json:"height_of_longest_chain"`
	InitialSyncAchieved  bool   `json:"initial_sync_achieved"`
	LocalHeight          uint64 `json:"local_height"`
	LockHeight           uint64 `json:"lock_height"`
	MaxBlockInterval     uint64 `json:"max_block_interval"`
	MaxWeight            uint64 `json:"max_weight"`
	MinDiff              uint64 `json:"min_diff"`
	TipHeight            uint64 `json:"tip_height"`
	BlockchainVersion    uint64 `json:"blockchain_version"`
	Status               string `json:"status"`
}

// handleGetHeight answers the daemon's plain /get_height endpoint.
func (s *ProxyServer) handleGetHeight(w http.ResponseWriter, r *http.Request) {
	reply, err := s.getHeight(r.Context())
	if err != nil {
		er := errorReply(err)
		log.Global.WithFields(log.Fields{
			"ip":  s.remoteAddr(r),
			"err": err,
		}).Warn("Height request failed")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": statusFailed,
			"error":  er,
		})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *ProxyServer) handleGetHeightRPC(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error) {
	return s.getHeight(ctx)
}

func (s *ProxyServer) getHeight(ctx context.Context) (*heightReply, error) {
	var (
		foreign *rpc.HeightReply
		tip     *chain.TipInfoResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		foreign, err = s.rpc().GetHeight(gctx)
		return daemonError(err)
	})
	g.Go(func() error {
		var err error
		tip, err = s.baseNode.GetTipInfo(gctx)
		return chainError("base node", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.setInitialSync(tip.InitialSyncAchieved)

	var height uint64
	if tip.Metadata != nil {
		height = tip.Metadata.BestBlockHeight
	}
	// Miners poll the height to notice new work, so a new block on either
	// chain has to show up in it.
	reply := &heightReply{
		Hash:      foreign.Hash,
		Height:    max(foreign.Height, height),
		Status:    statusOK,
		Untrusted: foreign.Untrusted,
	}
	reply.Aux.Chains = []auxChainHeight{{ID: s.config.ChainId, Height: height}}
	log.Global.WithFields(log.Fields{
		"foreignHeight": foreign.Height,
		"height":        height,
	}).Debug("Height")
	return reply, nil
}

func (s *ProxyServer) handleGetBlockTemplateRPC(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error) {
	var p struct {
		WalletAddress string `json:"wallet_address"`
		ReserveSize   uint64 `json:"reserve_size"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if s.isSick() {
		return nil, ErrWorkNotReady
	}

	session := p.WalletAddress
	if session == "" {
		session = s.remoteAddr(r)
	}
	wallet := p.WalletAddress
	if wallet == "" {
		wallet = s.config.Proxy.WalletAddress
	}
	reserve := p.ReserveSize
	if reserve == 0 {
		reserve = s.config.Proxy.ReserveSize
	}

	t, err := s.newTemplate(ctx, session, wallet, reserve)
	if err != nil {
		return nil, err
	}
	return t.Reply, nil
}

// handleSubmitBlockRPC submits every blob in params in order. The reply is
// the last blob's outcome; the first failure stops the batch.
func (s *ProxyServer) handleSubmitBlockRPC(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error) {
	var blobs []string
	if err := decodeParams(params, &blobs); err != nil {
		return nil, err
	}
	if len(blobs) == 0 {
		return nil, fmt.Errorf("%w: expected [block_blob, ...]", ErrInvalidParams)
	}
	for i, blob := range blobs {
		if blob == "" {
			return nil, fmt.Errorf("%w: block blob %d is empty", ErrInvalidParams, i)
		}
	}
	// The solution must reach the nodes even if the miner hangs up.
	ctx = context.WithoutCancel(ctx)
	var reply *submitReply
	for _, blob := range blobs {
		var err error
		if reply, err = s.submitBlock(ctx, blob); err != nil {
			return nil, err
		}
	}
	return reply, nil
}

func (s *ProxyServer) handleGetLastBlockHeaderRPC(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error) {
	return s.blockHeader(ctx, func(ctx context.Context) (*rpc.BlockHeaderReply, error) {
		return s.rpc().GetLastBlockHeader(ctx)
	})
}

func (s *ProxyServer) handleGetBlockHeaderByHashRPC(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error) {
	var p struct {
		Hash string `json:"hash"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if !util.IsValidHash(p.Hash) {
		return nil, fmt.Errorf("%w: hash must be 64 hex characters", ErrInvalidParams)
	}
	reply, err := s.blockHeader(ctx, func(ctx context.Context) (*rpc.BlockHeaderReply, error) {
		return s.rpc().GetBlockHeaderByHash(ctx, p.Hash)
	})
	var rpcErr *rpc.RPCError
	if err == nil || !errors.As(err, &rpcErr) {
		return reply, err
	}

	// The daemon does not know the hash; it may be one of this chain's.
	hash, _ := hex.DecodeString(p.Hash)
	own, ownErr := s.baseNode.GetHeaderByHash(ctx, hash)
	if chain.IsNotFound(ownErr) {
		return nil, err
	}
	if ownErr != nil {
		return nil, chainError("base node", ownErr)
	}
	if own.Header == nil {
		return nil, fmt.Errorf("%w: header missing", ErrBadBackendReply)
	}
	log.Global.WithField("hash", p.Hash).Debug("Block header found on base node")
	return ownHeaderReply(s.config.ChainId, own), nil
}

// ownHeaderReply renders a header of this chain in the daemon's format.
func ownHeaderReply(id string, h *chain.BlockHeaderResponse) *headerReply {
	reply := &headerReply{
		BlockHeader: rpc.BlockHeader{
			Depth:        h.Confirmations,
			Difficulty:   h.Difficulty,
			Hash:         hex.EncodeToString(h.Header.Hash),
			Height:       h.Header.Height,
			MajorVersion: uint64(h.Header.Version),
			Nonce:        h.Header.Nonce,
			NumTxes:      h.NumTransactions,
			PrevHash:     hex.EncodeToString(h.Header.PrevHash),
			Reward:       h.Reward,
			Timestamp:    h.Header.Timestamp,
		},
		Status: statusOK,
	}
	reply.Aux.Chains = []auxChainHeader{{
		ID:         id,
		Height:     h.Header.Height,
		Hash:       reply.BlockHeader.Hash,
		PrevHash:   reply.BlockHeader.PrevHash,
		Timestamp:  h.Header.Timestamp,
		Difficulty: h.Difficulty,
		Reward:     h.Reward,
		NumTxes:    h.NumTransactions,
	}}
	return reply
}

func (s *ProxyServer) handleGetBlockHeaderByHeightRPC(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error) {
	var p struct {
		Height *uint64 `json:"height"`
	}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Height == nil {
		return nil, fmt.Errorf("%w: height is required", ErrInvalidParams)
	}
	return s.blockHeader(ctx, func(ctx context.Context) (*rpc.BlockHeaderReply, error) {
		return s.rpc().GetBlockHeaderByHeight(ctx, *p.Height)
	})
}

// blockHeader runs a foreign header lookup next to a tip header request to
// the base node.
func (s *ProxyServer) blockHeader(ctx context.Context, lookup func(context.Context) (*rpc.BlockHeaderReply, error)) (*headerReply, error) {
	var (
		foreign *rpc.BlockHeaderReply
		tip     *chain.BlockHeaderResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		foreign, err = lookup(gctx)
		return daemonError(err)
	})
	g.Go(func() error {
		var err error
		tip, err = s.baseNode.GetTipHeader(gctx)
		return chainError("base node", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if tip.Header == nil {
		return nil, fmt.Errorf("%w: tip header missing", ErrBadBackendReply)
	}

	reply := &headerReply{
		BlockHeader: foreign.BlockHeader,
		Status:      statusOK,
		Untrusted:   foreign.Untrusted,
	}
	reply.Aux.Chains = []auxChainHeader{{
		ID:         s.config.ChainId,
		Height:     tip.Header.Height,
		Hash:       hex.EncodeToString(tip.Header.Hash),
		PrevHash:   hex.EncodeToString(tip.Header.PrevHash),
		Timestamp:  tip.Header.Timestamp,
		Difficulty: tip.Difficulty,
		Reward:     tip.Reward,
		NumTxes:    tip.NumTransactions,
	}}
	return reply, nil
}

func (s *ProxyServer) handleGetBalanceRPC(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error) {
	balance, err := s.wallet.GetBalance(ctx)
	if err != nil {
		return nil, chainError("wallet", err)
	}
	return &balanceReply{
		AvailableBalance:       balance.AvailableBalance,
		PendingIncomingBalance: balance.PendingIncomingBalance,
		PendingOutgoingBalance: balance.PendingOutgoingBalance,
		Status:                 statusOK,
	}, nil
}

func (s *ProxyServer) handleTransferRPC(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error) {
	var p transferParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.Destinations) == 0 {
		return nil, ErrEmptyDestinations
	}

	req := &chain.TransferRequest{}
	for _, d := range p.Destinations {
		if d.Address == "" {
			return nil, fmt.Errorf("%w: destination without address", ErrInvalidParams)
		}
		fee := d.FeePerGram
		if fee == 0 {
			fee = defaultFeePerGram
		}
		req.Recipients = append(req.Recipients, &chain.PaymentRecipient{
			Address:    d.Address,
			Amount:     d.Amount,
			FeePerGram: fee,
			Message:    d.Message,
		})
	}

	resp, err := s.wallet.Transfer(ctx, req)
	if err != nil {
		return nil, chainError("wallet", err)
	}
	reply := &transferReply{TransactionResults: []transferResult{}, Status: statusOK}
	for _, res := range resp.Results {
		reply.TransactionResults = append(reply.TransactionResults, transferResult{
			TransactionID:  res.TransactionId,
			Address:        res.Address,
			IsSuccess:      res.IsSuccess,
			FailureMessage: res.FailureMessage,
		})
	}
	log.Global.WithFields(log.Fields{
		"ip":           s.remoteAddr(r),
		"destinations": len(req.Recipients),
	}).Info("Transfer sent to wallet")
	return reply, nil
}

func (s *ProxyServer) handleGetInfoRPC(ctx context.Context, r *http.Request, params *json.RawMessage) (interface{}, error) {
	tip, err := s.baseNode.GetTipInfo(ctx)
	if err != nil {
		return nil, chainError("base node", err)
	}
	s.setInitialSync(tip.InitialSyncAchieved)
	meta := tip.Metadata
	if meta == nil {
		meta = &chain.MetaData{}
	}
	// Constants can change with the consensus version at a height.
	consts, err := s.baseNode.GetConstants(ctx, meta.BestBlockHeight)
	if err != nil {
		return nil, chainError("base node", err)
	}
	return &infoReply{
		BestBlock:            hex.EncodeToString(meta.BestBlockHash),
		HeightOfLongestChain: meta.BestBlockHeight,
		InitialSyncAchieved:  tip.InitialSyncAchieved,
		LocalHeight:          meta.BestBlockHeight,
		LockHeight:           consts.CoinbaseLockHeight,
		MaxBlockInterval:     consts.MaxBlockInterval,
		MaxWeight:            consts.MaxBlockWeight,
		MinDiff:              consts.MinPowDifficulty,
		TipHeight:            meta.BestBlockHeight,
		BlockchainVersion:    consts.BlockchainVersion,
		Status:               statusOK,
	}, nil
}
