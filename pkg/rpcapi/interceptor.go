package rpcapi

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
)

// loggingInterceptor logs every unary control RPC at debug level (warn
// level, with the error, when the call fails) with
// its method, duration and outcome, in the same shape the teacher's
// interceptors wrap every call in (pkg/api/interceptor.go), generalized
// from an allow/deny check to structured request logging since this
// repository has no Unix-socket/mTLS split to enforce.
func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		event := logger.Debug()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.Str("method", info.FullMethod).Dur("elapsed", time.Since(start)).Msg("rpcapi: unary call")
		return resp, err
	}
}
