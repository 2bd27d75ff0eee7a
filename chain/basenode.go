package chain

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const baseNodeService = "chain.BaseNode"

const (
	methodGetNewBlockTemplate = "/" + baseNodeService + "/GetNewBlockTemplate"
	methodGetNewBlock         = "/" + baseNodeService + "/GetNewBlock"
	methodSubmitBlock         = "/" + baseNodeService + "/SubmitBlock"
	methodGetTipInfo          = "/" + baseNodeService + "/GetTipInfo"
	methodGetTipHeader        = "/" + baseNodeService + "/GetTipHeader"
	methodGetConstants        = "/" + baseNodeService + "/GetConstants"
	methodGetHeaderByHash     = "/" + baseNodeService + "/GetHeaderByHash"
)

// BaseNodeClient talks to this chain's base node.
type BaseNodeClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewBaseNodeClient(conn grpc.ClientConnInterface, timeout time.Duration) *BaseNodeClient {
	return &BaseNodeClient{conn: conn, timeout: timeout}
}

// GetNewBlockTemplate asks for a block candidate without coinbase.
func (c *BaseNodeClient) GetNewBlockTemplate(ctx context.Context, req *NewBlockTemplateRequest) (*NewBlockTemplateResponse, error) {
	out := new(NewBlockTemplateResponse)
	if err := invoke(ctx, c.conn, c.timeout, methodGetNewBlockTemplate, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetNewBlock completes a template that already carries its coinbase. The
// result holds the merge mining hash the foreign block has to commit to.
func (c *BaseNodeClient) GetNewBlock(ctx context.Context, template *NewBlockTemplate) (*GetNewBlockResult, error) {
	out := new(GetNewBlockResult)
	if err := invoke(ctx, c.conn, c.timeout, methodGetNewBlock, template, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BaseNodeClient) SubmitBlock(ctx context.Context, block *Block) (*SubmitBlockResponse, error) {
	out := new(SubmitBlockResponse)
	if err := invoke(ctx, c.conn, c.timeout, methodSubmitBlock, block, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BaseNodeClient) GetTipInfo(ctx context.Context) (*TipInfoResponse, error) {
	out := new(TipInfoResponse)
	if err := invoke(ctx, c.conn, c.timeout, methodGetTipInfo, &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BaseNodeClient) GetTipHeader(ctx context.Context) (*BlockHeaderResponse, error) {
	out := new(BlockHeaderResponse)
	if err := invoke(ctx, c.conn, c.timeout, methodGetTipHeader, &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConstants returns the consensus constants in force at height.
func (c *BaseNodeClient) GetConstants(ctx context.Context, height uint64) (*ConsensusConstants, error) {
	out := new(ConsensusConstants)
	if err := invoke(ctx, c.conn, c.timeout, methodGetConstants, &BlockHeight{BlockHeight: height}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetHeaderByHash looks up a block header of this chain. Unknown hashes
// come back as codes.NotFound.
func (c *BaseNodeClient) GetHeaderByHash(ctx context.Context, hash []byte) (*BlockHeaderResponse, error) {
	out := new(BlockHeaderResponse)
	if err := invoke(ctx, c.conn, c.timeout, methodGetHeaderByHash, &HashRequest{Hash: hash}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// BaseNodeServer is implemented by base nodes serving the chain.BaseNode
// service.
type BaseNodeServer interface {
	GetNewBlockTemplate(context.Context, *NewBlockTemplateRequest) (*NewBlockTemplateResponse, error)
	GetNewBlock(context.Context, *NewBlockTemplate) (*GetNewBlockResult, error)
	SubmitBlock(context.Context, *Block) (*SubmitBlockResponse, error)
	GetTipInfo(context.Context, *Empty) (*TipInfoResponse, error)
	GetTipHeader(context.Context, *Empty) (*BlockHeaderResponse, error)
	GetConstants(context.Context, *BlockHeight) (*ConsensusConstants, error)
	GetHeaderByHash(context.Context, *HashRequest) (*BlockHeaderResponse, error)
}

func RegisterBaseNodeServer(s grpc.ServiceRegistrar, srv BaseNodeServer) {
	s.RegisterService(&baseNodeServiceDesc, srv)
}

var baseNodeServiceDesc = grpc.ServiceDesc{
	ServiceName: baseNodeService,
	HandlerType: (*BaseNodeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetNewBlockTemplate",
			Handler: unary(methodGetNewBlockTemplate,
				func() Message { return new(NewBlockTemplateRequest) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(BaseNodeServer).GetNewBlockTemplate(ctx, req.(*NewBlockTemplateRequest))
				}),
		},
		{
			MethodName: "GetNewBlock",
			Handler: unary(methodGetNewBlock,
				func() Message { return new(NewBlockTemplate) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(BaseNodeServer).GetNewBlock(ctx, req.(*NewBlockTemplate))
				}),
		},
		{
			MethodName: "SubmitBlock",
			Handler: unary(methodSubmitBlock,
				func() Message { return new(Block) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(BaseNodeServer).SubmitBlock(ctx, req.(*Block))
				}),
		},
		{
			MethodName: "GetTipInfo",
			Handler: unary(methodGetTipInfo,
				func() Message { return new(Empty) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(BaseNodeServer).GetTipInfo(ctx, req.(*Empty))
				}),
		},
		{
			MethodName: "GetTipHeader",
			Handler: unary(methodGetTipHeader,
				func() Message { return new(Empty) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(BaseNodeServer).GetTipHeader(ctx, req.(*Empty))
				}),
		},
		{
			MethodName: "GetConstants",
			Handler: unary(methodGetConstants,
				func() Message { return new(BlockHeight) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(BaseNodeServer).GetConstants(ctx, req.(*BlockHeight))
				}),
		},
		{
			MethodName: "GetHeaderByHash",
			Handler: unary(methodGetHeaderByHash,
				func() Message { return new(HashRequest) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(BaseNodeServer).GetHeaderByHash(ctx, req.(*HashRequest))
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "base_node.proto",
}
