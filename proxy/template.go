package proxy

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dominant-strategies/go-merge-mining-proxy/chain"
	"github.com/dominant-strategies/go-merge-mining-proxy/log"
	"github.com/dominant-strategies/go-merge-mining-proxy/monero"
	"github.com/dominant-strategies/go-merge-mining-proxy/rpc"
	"github.com/dominant-strategies/go-merge-mining-proxy/util"
)

type templateReply struct {
	BlocktemplateBlob string      `json:"blocktemplate_blob"`
	BlockhashingBlob  string      `json:"blockhashing_blob"`
	BlockheaderBlob   string      `json:"blockheader_blob"`
	Difficulty        uint64      `json:"difficulty"`
	DifficultyTop64   uint64      `json:"difficulty_top64"`
	WideDifficulty    string      `json:"wide_difficulty"`
	ExpectedReward    uint64      `json:"expected_reward"`
	Height            uint64      `json:"height"`
	PrevHash          string      `json:"prev_hash"`
	ReservedOffset    uint64      `json:"reserved_offset"`
	SeedHash          string      `json:"seed_hash"`
	SeedHeight        uint64      `json:"seed_height"`
	NextSeedHash      string      `json:"next_seed_hash"`
	Status            string      `json:"status"`
	Untrusted         bool        `json:"untrusted"`
	Aux               templateAux `json:"_aux"`
}

type templateAux struct {
	BaseDifficulty uint64             `json:"base_difficulty"`
	Chains         []auxChainTemplate `json:"chains"`
}

type auxChainTemplate struct {
	ID          string `json:"id"`
	Height      uint64 `json:"height"`
	Difficulty  uint64 `json:"difficulty"`
	Target      string `json:"target"`
	MiningHash  string `json:"mining_hash"`
	MinerReward uint64 `json:"miner_reward"`
	BlockBlob   string `json:"block_blob"`
}

type candidate struct {
	block           *chain.Block
	minerData       *chain.MinerData
	mergeMiningHash monero.Hash
}

// newTemplate builds a template for session: a candidate of this chain and
// the foreign daemon's template are fetched concurrently, then the foreign
// block is made to commit to the candidate.
func (s *ProxyServer) newTemplate(ctx context.Context, session, wallet string, reserveSize uint64) (*BlockTemplate, error) {
	var (
		cand    *candidate
		foreign *rpc.BlockTemplateReply
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cand, err = s.newCandidate(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		foreign, err = s.rpc().GetBlockTemplate(gctx, wallet, reserveSize)
		return daemonError(err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t, err := s.mergeTemplate(session, cand, foreign)
	if err != nil {
		return nil, err
	}
	s.templates.put(t)
	prometheusTemplates.Inc()

	log.Global.WithFields(log.Fields{
		"session":       session,
		"height":        t.Block.Header.Height,
		"foreignHeight": t.Height,
		"miningHash":    t.Key,
	}).Info("New block template")
	return t, nil
}

// candidateAttempts bounds how often a candidate is rebuilt while the base
// node tip keeps moving underneath it.
const candidateAttempts = 5

// newCandidate completes a block on top of the base node's current tip. The
// coinbase paying template is shared by every candidate on the same tip.
// A candidate whose tip changed before it could be handed out is dropped
// and rebuilt.
func (s *ProxyServer) newCandidate(ctx context.Context) (*candidate, error) {
	for attempt := 1; attempt <= candidateAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * 50 * time.Millisecond):
			}
		}

		tip, err := s.tipHash(ctx)
		if err != nil {
			return nil, err
		}
		tt, err := s.tipTemplate(ctx, tip)
		if err != nil {
			return nil, err
		}

		block, err := s.baseNode.GetNewBlock(ctx, tt.template)
		if err != nil {
			return nil, chainError("base node", err)
		}
		if block.Block == nil || block.Block.Header == nil || len(block.MergeMiningHash) != monero.HashSize {
			return nil, fmt.Errorf("%w: new block without header or merge mining hash", ErrBadBackendReply)
		}

		current, err := s.tipHash(ctx)
		if err != nil {
			return nil, err
		}
		if current != tip || hex.EncodeToString(block.Block.Header.PrevHash) != tip {
			s.tips.remove(tip)
			log.Global.WithFields(log.Fields{
				"tip":     tip,
				"current": current,
				"attempt": attempt,
			}).Debug("Base node tip moved while building candidate")
			continue
		}

		c := &candidate{block: block.Block, minerData: tt.minerData}
		copy(c.mergeMiningHash[:], block.MergeMiningHash)
		return c, nil
	}
	return nil, fmt.Errorf("%w: base node tip kept moving", ErrWorkNotReady)
}

// tipHash returns the base node's best block hash in hex.
func (s *ProxyServer) tipHash(ctx context.Context) (string, error) {
	info, err := s.baseNode.GetTipInfo(ctx)
	if err != nil {
		return "", chainError("base node", err)
	}
	if info.Metadata == nil {
		return "", fmt.Errorf("%w: tip info without metadata", ErrBadBackendReply)
	}
	s.setInitialSync(info.InitialSyncAchieved)
	if !info.InitialSyncAchieved {
		return "", ErrNotSynced
	}
	return hex.EncodeToString(info.Metadata.BestBlockHash), nil
}

// tipTemplate returns the coinbase paying template for tip, asking the base
// node for a template and the wallet for a coinbase when none is cached.
func (s *ProxyServer) tipTemplate(ctx context.Context, tip string) (*tipTemplate, error) {
	if tt, ok := s.tips.get(tip); ok {
		return tt, nil
	}

	resp, err := s.baseNode.GetNewBlockTemplate(ctx, &chain.NewBlockTemplateRequest{Algo: chain.PowAlgoMonero})
	if err != nil {
		return nil, chainError("base node", err)
	}
	s.setInitialSync(resp.InitialSyncAchieved)
	if !resp.InitialSyncAchieved {
		return nil, ErrNotSynced
	}
	tmpl, miner := resp.NewBlockTemplate, resp.MinerData
	if tmpl == nil || tmpl.Header == nil || miner == nil {
		return nil, fmt.Errorf("%w: block template without header or miner data", ErrBadBackendReply)
	}
	if tmpl.Body == nil {
		tmpl.Body = &chain.AggregateBody{}
	}

	cb, err := s.wallet.GetCoinbase(ctx, &chain.GetCoinbaseRequest{
		Reward: miner.Reward,
		Fee:    miner.TotalFees,
		Height: tmpl.Header.Height,
	})
	if err != nil {
		return nil, chainError("wallet", err)
	}
	if cb.Transaction == nil || cb.Transaction.Body == nil {
		return nil, fmt.Errorf("%w: coinbase without body", ErrBadBackendReply)
	}
	tmpl.Body.Outputs = append(tmpl.Body.Outputs, cb.Transaction.Body.Outputs...)
	tmpl.Body.Kernels = append(tmpl.Body.Kernels, cb.Transaction.Body.Kernels...)

	log.Global.WithFields(log.Fields{
		"tip":    tip,
		"height": tmpl.Header.Height,
	}).Debug("New base node template")
	return s.tips.add(tip, &tipTemplate{template: tmpl, minerData: miner}), nil
}

// mergeTemplate embeds the merge mining tag into the foreign coinbase and
// recomputes every blob derived from the foreign block.
func (s *ProxyServer) mergeTemplate(session string, cand *candidate, foreign *rpc.BlockTemplateReply) (*BlockTemplate, error) {
	block, err := monero.ParseBlockHex(foreign.BlocktemplateBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: daemon template: %v", ErrBadBackendReply, err)
	}
	seed, err := monero.HashFromHex(foreign.SeedHash)
	if err != nil {
		return nil, fmt.Errorf("%w: daemon seed hash: %v", ErrBadBackendReply, err)
	}
	block.Coinbase.Extra = monero.SetMergeMiningTag(block.Coinbase.Extra, monero.SingleChainTag(cand.mergeMiningHash))
	blob, err := monero.BlockHex(block)
	if err != nil {
		return nil, fmt.Errorf("%w: daemon template: %v", ErrBadBackendReply, err)
	}

	var reserved uint64
	if offset, ok := monero.ExtraNonceOffset(block); ok {
		reserved = uint64(offset)
	}

	candidateDiff := cand.minerData.TargetDifficulty
	difficulty := foreign.Difficulty
	if candidateDiff > 0 && (difficulty == 0 || candidateDiff < difficulty) {
		difficulty = candidateDiff
	}

	reply := &templateReply{
		BlocktemplateBlob: blob,
		BlockhashingBlob:  hex.EncodeToString(monero.HashingBlob(block)),
		BlockheaderBlob:   hex.EncodeToString(monero.HeaderBlob(block)),
		Difficulty:        difficulty,
		WideDifficulty:    fmt.Sprintf("0x%x", difficulty),
		ExpectedReward:    foreign.ExpectedReward,
		Height:            foreign.Height,
		PrevHash:          foreign.PrevHash,
		ReservedOffset:    reserved,
		SeedHash:          foreign.SeedHash,
		SeedHeight:        foreign.SeedHeight,
		NextSeedHash:      foreign.NextSeedHash,
		Status:            statusOK,
		Untrusted:         !s.initialSync.Load(),
		Aux: templateAux{
			BaseDifficulty: foreign.Difficulty,
			Chains: []auxChainTemplate{{
				ID:          s.config.ChainId,
				Height:      cand.block.Header.Height,
				Difficulty:  candidateDiff,
				Target:      util.GetTargetHex(candidateDiff),
				MiningHash:  cand.mergeMiningHash.String(),
				MinerReward: cand.minerData.Reward + cand.minerData.TotalFees,
				BlockBlob:   hex.EncodeToString(chain.Marshal(cand.block)),
			}},
		},
	}

	return &BlockTemplate{
		Key:       cand.mergeMiningHash.String(),
		Session:   session,
		Block:     cand.block,
		MinerData: cand.minerData,
		PrevID:    block.PreviousId,
		Height:    block.Coinbase.GenHeight,
		SeedHash:  seed,
		Reply:     reply,
		Created:   time.Now(),
	}, nil
}
