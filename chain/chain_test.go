package chain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dominant-strategies/go-merge-mining-proxy/chain"
	"github.com/dominant-strategies/go-merge-mining-proxy/chain/chaintest"
)

func TestBlockEncoding(t *testing.T) {
	in := &chain.Block{
		Header: &chain.BlockHeader{
			Hash:          []byte{1, 2, 3},
			Version:       2,
			Height:        77,
			PrevHash:      []byte{4, 5},
			Timestamp:     1700000000,
			OutputMMRSize: 12,
			KernelMMRSize: 9,
			Nonce:         42,
			Pow:           &chain.ProofOfWork{Algo: chain.PowAlgoSha3, PowData: []byte{9}},
		},
		Body: &chain.AggregateBody{
			Inputs:  [][]byte{{1}},
			Outputs: [][]byte{{2}, {3}},
			Kernels: [][]byte{{4}},
		},
	}

	out := new(chain.Block)
	require.NoError(t, chain.Unmarshal(chain.Marshal(in), out))
	assert.Equal(t, in, out)

	clone := in.Clone()
	clone.Header.KernelMMRSize++
	clone.Body.Outputs[0][0] = 0xff
	assert.Equal(t, uint64(9), in.Header.KernelMMRSize)
	assert.Equal(t, byte(2), in.Body.Outputs[0][0])
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	data := chain.Marshal(&chain.BlockHeight{BlockHeight: 10})
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))
	data = protowire.AppendTag(data, 100, protowire.VarintType)
	data = protowire.AppendVarint(data, 7)

	var h chain.BlockHeight
	require.NoError(t, chain.Unmarshal(data, &h))
	assert.Equal(t, uint64(10), h.BlockHeight)
}

func TestWrongWireTypeIsRejected(t *testing.T) {
	data := protowire.AppendTag(nil, 1, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("x"))

	var h chain.BlockHeight
	assert.Error(t, chain.Unmarshal(data, &h))

	assert.Error(t, chain.Unmarshal([]byte{0x08}, &h))
}

func TestCodecRejectsForeignTypes(t *testing.T) {
	_, err := chain.Codec{}.Marshal("not a message")
	assert.Error(t, err)
	assert.Error(t, chain.Codec{}.Unmarshal(nil, new(int)))
	assert.Equal(t, "proto", chain.Codec{}.Name())
}

func TestBaseNodeOverGRPC(t *testing.T) {
	network := chaintest.Start(t)
	conn := network.Dial(t)
	node := chain.NewBaseNodeClient(conn, 5*time.Second)
	wallet := chain.NewWalletClient(conn, 5*time.Second)
	ctx := context.Background()

	tip, err := node.GetTipInfo(ctx)
	require.NoError(t, err)
	assert.True(t, tip.InitialSyncAchieved)
	assert.Equal(t, uint64(0), tip.Metadata.BestBlockHeight)

	tmpl, err := node.GetNewBlockTemplate(ctx, &chain.NewBlockTemplateRequest{Algo: chain.PowAlgoMonero})
	require.NoError(t, err)
	require.NotNil(t, tmpl.NewBlockTemplate)
	assert.Equal(t, uint64(1), tmpl.NewBlockTemplate.Header.Height)
	assert.Equal(t, tip.Metadata.BestBlockHash, tmpl.NewBlockTemplate.Header.PrevHash)
	assert.Equal(t, network.BaseNode.Difficulty(), tmpl.MinerData.TargetDifficulty)

	cb, err := wallet.GetCoinbase(ctx, &chain.GetCoinbaseRequest{
		Reward: tmpl.MinerData.Reward,
		Fee:    tmpl.MinerData.TotalFees,
		Height: tmpl.NewBlockTemplate.Header.Height,
	})
	require.NoError(t, err)
	require.NotNil(t, cb.Transaction)
	assert.Len(t, cb.Transaction.Body.Outputs, 1)

	body := tmpl.NewBlockTemplate.Body
	body.Outputs = append(body.Outputs, cb.Transaction.Body.Outputs...)
	body.Kernels = append(body.Kernels, cb.Transaction.Body.Kernels...)

	block, err := node.GetNewBlock(ctx, tmpl.NewBlockTemplate)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), block.Block.Header.OutputMMRSize)
	assert.Equal(t, uint64(2), block.Block.Header.KernelMMRSize)
	assert.Equal(t, chaintest.MergeMiningHash(block.Block.Header), block.MergeMiningHash)

	// Without merge mining proof the node refuses the block.
	_, err = node.SubmitBlock(ctx, block.Block)
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.False(t, chain.IsTransportError(err))
	assert.Equal(t, uint64(0), network.BaseNode.Height())

	consts, err := node.GetConstants(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), consts.BlockchainVersion)

	header, err := node.GetTipHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, tip.Metadata.BestBlockHash, header.Header.Hash)

	byHash, err := node.GetHeaderByHash(ctx, tip.Metadata.BestBlockHash)
	require.NoError(t, err)
	assert.Equal(t, header.Header, byHash.Header)
	assert.Equal(t, uint64(1), byHash.Confirmations)

	_, err = node.GetHeaderByHash(ctx, []byte("unknown"))
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.True(t, chain.IsNotFound(err))
	assert.False(t, chain.IsTransportError(err))
}

func TestExtendMovesTip(t *testing.T) {
	network := chaintest.Start(t)
	node := chain.NewBaseNodeClient(network.Dial(t), time.Second)
	ctx := context.Background()

	before, err := node.GetTipInfo(ctx)
	require.NoError(t, err)
	network.BaseNode.Extend()
	after, err := node.GetTipInfo(ctx)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), after.Metadata.BestBlockHeight)
	header, err := node.GetHeaderByHash(ctx, after.Metadata.BestBlockHash)
	require.NoError(t, err)
	assert.Equal(t, before.Metadata.BestBlockHash, header.Header.PrevHash)
}

func TestWalletOverGRPC(t *testing.T) {
	network := chaintest.Start(t)
	wallet := chain.NewWalletClient(network.Dial(t), time.Second)
	ctx := context.Background()

	id, err := wallet.Identify(ctx)
	require.NoError(t, err)
	assert.Equal(t, network.Wallet.Address, id.PublicAddress)

	balance, err := wallet.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000000), balance.AvailableBalance)

	resp, err := wallet.Transfer(ctx, &chain.TransferRequest{Recipients: []*chain.PaymentRecipient{
		{Address: "a", Amount: 10, FeePerGram: 5},
		{Address: "b"},
	}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].IsSuccess)
	assert.Equal(t, uint64(1), resp.Results[0].TransactionId)
	assert.False(t, resp.Results[1].IsSuccess)
	assert.NotEmpty(t, resp.Results[1].FailureMessage)
}

func TestTransportErrors(t *testing.T) {
	network := chaintest.Start(t)
	node := chain.NewBaseNodeClient(network.Dial(t), time.Second)

	network.BaseNode.SetFailure(status.Error(codes.Unavailable, "node is shutting down"))
	_, err := node.GetTipInfo(context.Background())
	require.Error(t, err)
	assert.True(t, chain.IsTransportError(err))
	assert.Equal(t, "node is shutting down", chain.ErrorMessage(err))

	assert.True(t, chain.IsTransportError(context.DeadlineExceeded))
	assert.False(t, chain.IsTransportError(errors.New("boom")))
	assert.False(t, chain.IsTransportError(nil))
}
