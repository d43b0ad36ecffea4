package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	grpcStatus "google.golang.org/grpc/status"
)

// UnaryServerInterceptor returns a [grpc.UnaryServerInterceptor] that creates
// a server span for every admin RPC. If cfg is nil the interceptor is a
// passthrough.
func UnaryServerInterceptor(cfg *Config) grpc.UnaryServerInterceptor {
	if cfg == nil {
		return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			return handler(ctx, req)
		}
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = extract(ctx, cfg)
		ctx, span := cfg.tracer().Start(ctx, info.FullMethod, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		service, method := splitFullMethod(info.FullMethod)
		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)

		resp, err := handler(ctx, req)
		recordStatus(span, err)
		return resp, err
	}
}

// metadataCarrier adapts gRPC [metadata.MD] to
// [propagation.TextMapCarrier].
type metadataCarrier metadata.MD

func (mc metadataCarrier) Get(key string) string {
	vals := metadata.MD(mc).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

func (mc metadataCarrier) Set(key, value string) { metadata.MD(mc).Set(key, value) }

func (mc metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(mc))
	for k := range mc {
		keys = append(keys, k)
	}
	return keys
}

func extract(ctx context.Context, cfg *Config) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	}
	return cfg.propagators().Extract(ctx, metadataCarrier(md))
}

// splitFullMethod splits "/service/method" into ("service", "method").
func splitFullMethod(fullMethod string) (string, string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	service, method, ok := strings.Cut(fullMethod, "/")
	if !ok {
		return fullMethod, ""
	}
	return service, method
}

func recordStatus(span trace.Span, err error) {
	st, _ := grpcStatus.FromError(err)
	span.SetAttributes(attribute.String("rpc.grpc.status_code", st.Code().String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, st.Message())
		return
	}
	span.SetStatus(codes.Ok, "")
}
