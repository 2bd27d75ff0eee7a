package chain

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const walletService = "chain.Wallet"

const (
	methodGetBalance  = "/" + walletService + "/GetBalance"
	methodTransfer    = "/" + walletService + "/Transfer"
	methodIdentify    = "/" + walletService + "/Identify"
	methodGetCoinbase = "/" + walletService + "/GetCoinbase"
)

// WalletClient talks to the wallet that receives the mining rewards.
type WalletClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewWalletClient(conn grpc.ClientConnInterface, timeout time.Duration) *WalletClient {
	return &WalletClient{conn: conn, timeout: timeout}
}

func (c *WalletClient) GetBalance(ctx context.Context) (*GetBalanceResponse, error) {
	out := new(GetBalanceResponse)
	if err := invoke(ctx, c.conn, c.timeout, methodGetBalance, &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WalletClient) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	out := new(TransferResponse)
	if err := invoke(ctx, c.conn, c.timeout, methodTransfer, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *WalletClient) Identify(ctx context.Context) (*IdentifyResponse, error) {
	out := new(IdentifyResponse)
	if err := invoke(ctx, c.conn, c.timeout, methodIdentify, &Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCoinbase builds the coinbase transaction paying reward plus fee to
// the wallet for a block at height.
func (c *WalletClient) GetCoinbase(ctx context.Context, req *GetCoinbaseRequest) (*GetCoinbaseResponse, error) {
	out := new(GetCoinbaseResponse)
	if err := invoke(ctx, c.conn, c.timeout, methodGetCoinbase, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

type WalletServer interface {
	GetBalance(context.Context, *Empty) (*GetBalanceResponse, error)
	Transfer(context.Context, *TransferRequest) (*TransferResponse, error)
	Identify(context.Context, *Empty) (*IdentifyResponse, error)
	GetCoinbase(context.Context, *GetCoinbaseRequest) (*GetCoinbaseResponse, error)
}

func RegisterWalletServer(s grpc.ServiceRegistrar, srv WalletServer) {
	s.RegisterService(&walletServiceDesc, srv)
}

var walletServiceDesc = grpc.ServiceDesc{
	ServiceName: walletService,
	HandlerType: (*WalletServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetBalance",
			Handler: unary(methodGetBalance,
				func() Message { return new(Empty) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(WalletServer).GetBalance(ctx, req.(*Empty))
				}),
		},
		{
			MethodName: "Transfer",
			Handler: unary(methodTransfer,
				func() Message { return new(TransferRequest) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(WalletServer).Transfer(ctx, req.(*TransferRequest))
				}),
		},
		{
			MethodName: "Identify",
			Handler: unary(methodIdentify,
				func() Message { return new(Empty) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(WalletServer).Identify(ctx, req.(*Empty))
				}),
		},
		{
			MethodName: "GetCoinbase",
			Handler: unary(methodGetCoinbase,
				func() Message { return new(GetCoinbaseRequest) },
				func(srv interface{}, ctx context.Context, req Message) (Message, error) {
					return srv.(WalletServer).GetCoinbase(ctx, req.(*GetCoinbaseRequest))
				}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wallet.proto",
}
