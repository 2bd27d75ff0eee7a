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
	"github.com/dominant-strategies/go-merge-mining-proxy/storage"
)

type submitReply struct {
	Status    string         `json:"status"`
	Untrusted bool           `json:"untrusted"`
	Origin    *originOutcome `json:"origin,omitempty"`
	Aux       submitAux      `json:"_aux"`
}

// originOutcome is the foreign daemon's answer to the same block.
type originOutcome struct {
	Status string      `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorReply `json:"error,omitempty"`
}

type submitAux struct {
	Chains []auxChainSubmit `json:"chains"`
}

type auxChainSubmit struct {
	ID       string `json:"id"`
	Height   uint64 `json:"height"`
	Hash     string `json:"hash,omitempty"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// submitBlock matches a solved foreign block to its template, seals the
// candidate with the foreign proof of work and hands it to the base node.
// With origin submission on the foreign daemon gets the block as well, even
// when no usable template matches it.
func (s *ProxyServer) submitBlock(ctx context.Context, blob string) (*submitReply, error) {
	raw, err := hex.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBlockBlob, err)
	}
	block, err := monero.ParseBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBlockBlob, err)
	}
	tag, err := monero.FindMergeMiningTag(block.Coinbase.Extra)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBlockBlob, err)
	}

	t, matchErr := s.matchTemplate(block, tag)
	var sealed *chain.Block
	if matchErr == nil {
		pow, err := (&monero.PowData{SeedHash: t.SeedHash, Blob: raw}).MarshalBinary()
		if err != nil {
			t.submitted.Store(false)
			return nil, &ErrorReply{Code: codeInternalError, Message: fmt.Sprintf("failed to encode proof of work: %v", err)}
		}
		sealed = t.Block.Clone()
		sealed.Header.Pow = &chain.ProofOfWork{Algo: chain.PowAlgoMonero, PowData: pow}
	}

	var (
		accepted  *chain.SubmitBlockResponse
		chainErr  error
		origin    *originOutcome
		originErr error
	)
	g := new(errgroup.Group)
	if sealed != nil {
		g.Go(func() error {
			accepted, chainErr = s.baseNode.SubmitBlock(ctx, sealed)
			return nil
		})
	}
	if s.config.Proxy.OriginSubmission {
		g.Go(func() error {
			var reply *rpc.SubmitBlockReply
			reply, originErr = s.rpc().SubmitBlock(ctx, blob)
			origin = newOriginOutcome(reply, originErr)
			return nil
		})
	}
	g.Wait()

	logger := log.Global.WithField("foreignId", block.Id().String())
	if origin != nil {
		s.observeSubmission("foreign", originErr == nil)
		logger = logger.WithField("origin", origin.Status)
	}

	if matchErr != nil {
		if origin == nil {
			return nil, matchErr
		}
		logger.WithField("err", matchErr).Warn("Block matches no usable template, submitted to foreign daemon only")
		reply := errorReply(matchErr)
		reply.Data = &submitReply{Status: statusFailed, Untrusted: !s.initialSync.Load(), Origin: origin}
		return nil, reply
	}

	entry := auxChainSubmit{ID: s.config.ChainId, Height: sealed.Header.Height}
	logger = logger.WithFields(log.Fields{
		"height":        sealed.Header.Height,
		"foreignHeight": t.Height,
	})

	if chainErr != nil {
		s.observeSubmission(s.config.ChainId, false)
		reply := &submitReply{Status: statusFailed, Untrusted: !s.initialSync.Load(), Origin: origin}
		entry.Error = chain.ErrorMessage(chainErr)
		reply.Aux.Chains = append(reply.Aux.Chains, entry)

		if chain.IsTransportError(chainErr) {
			// Not seen by the node, so the template may be submitted again.
			t.submitted.Store(false)
			s.markSick()
			logger.WithField("err", chainErr).Error("Base node unreachable while submitting block")
			return nil, &ErrorReply{
				Code:    codeBackendUnavailable,
				Message: (&backendError{backend: "base node", err: chainErr}).Error(),
				Data:    reply,
			}
		}
		logger.WithField("err", entry.Error).Warn("Base node rejected block")
		return nil, &ErrorReply{Code: codeBlockNotAccepted, Message: entry.Error, Data: reply}
	}

	s.observeSubmission(s.config.ChainId, true)
	entry.Accepted = true
	entry.Hash = hex.EncodeToString(accepted.BlockHash)
	reply := &submitReply{Status: statusOK, Untrusted: !s.initialSync.Load(), Origin: origin}
	reply.Aux.Chains = append(reply.Aux.Chains, entry)
	logger.WithField("hash", entry.Hash).Info("Block accepted by base node")

	if s.backend != nil {
		err := s.backend.WriteMinedBlock(&storage.MinedBlock{
			Height:          entry.Height,
			Hash:            entry.Hash,
			ForeignHeight:   t.Height,
			ForeignAccepted: origin != nil && origin.Status == statusOK,
			Timestamp:       time.Now().Unix(),
		})
		if err != nil {
			logger.WithField("err", err).Error("Failed to write mined block to backend")
		}
	}
	return reply, nil
}

// matchTemplate finds the unsubmitted template block was built from and
// claims it.
func (s *ProxyServer) matchTemplate(block *monero.Block, tag monero.MergeMiningTag) (*BlockTemplate, error) {
	t, err := s.templates.lookup(tag.Root.String())
	if err != nil {
		return nil, err
	}
	if block.PreviousId != t.PrevID {
		return nil, ErrPrevHashMismatch
	}
	if block.Coinbase.GenHeight != t.Height {
		return nil, ErrHeightMismatch
	}
	if !t.submitted.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubmitted
	}
	return t, nil
}

func newOriginOutcome(reply *rpc.SubmitBlockReply, err error) *originOutcome {
	if err != nil {
		er := errorReply(daemonError(err))
		return &originOutcome{Status: statusFailed, Error: er}
	}
	status := reply.Status
	if status == "" {
		status = statusOK
	}
	return &originOutcome{Status: status, Result: reply}
}
