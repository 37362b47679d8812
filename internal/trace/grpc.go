package trace

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryServerInterceptor continues the caller's trace for incoming unary calls
// and logs each call at debug level.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extractMetadata(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		Logger(ctx).Debug("grpc call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		return resp, err
	}
}

func extractMetadata(ctx context.Context) context.Context {
	var traceID, spanID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(TraceIDKey); len(v) > 0 {
			traceID = v[0]
		}
		if v := md.Get(SpanIDKey); len(v) > 0 {
			spanID = v[0]
		}
	}
	return WithContext(ctx, FromRemote(traceID, spanID))
}
