package admin

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RecoveryUnary returns a unary server interceptor that recovers from panics,
// logs them and returns an Internal gRPC error instead of crashing the
// process.
func RecoveryUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("admin handler panicked",
					zap.String("method", info.FullMethod),
					zap.String("request_id", RequestIDFromContext(ctx)),
					zap.Any("panic", r),
					zap.StackSkip("stack", 2))
				resp = nil
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
