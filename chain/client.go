package chain

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Dial opens a client connection to a base node or wallet. Calls on the
// returned connection always use the chain codec.
func Dial(address string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}, opts...)
	return grpc.NewClient(address, opts...)
}

func invoke(ctx context.Context, conn grpc.ClientConnInterface, timeout time.Duration, method string, in, out Message) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return conn.Invoke(ctx, method, in, out, grpc.ForceCodec(Codec{}))
}

// IsTransportError reports whether err means the remote side could not be
// reached or did not answer in time, as opposed to rejecting the request.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return false
}

// IsNotFound reports whether the remote side answered that the requested
// item does not exist.
func IsNotFound(err error) bool {
	return err != nil && status.Code(err) == codes.NotFound
}

// ErrorMessage returns the remote message of a gRPC error without the
// status code prefix.
func ErrorMessage(err error) string {
	if s, ok := status.FromError(err); ok {
		return s.Message()
	}
	return err.Error()
}

// unary adapts a typed method implementation to a grpc.MethodHandler.
func unary(fullMethod string, newReq func() Message, call func(srv interface{}, ctx context.Context, req Message) (Message, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := newReq()
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv, ctx, req.(Message))
		})
	}
}
