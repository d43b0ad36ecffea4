// Package admin exposes cache statistics and invalidation over gRPC.
//
// The service is registered from a hand-written [grpc.ServiceDesc], so no
// protobuf code generation is required. Its messages are plain Go structs
// encoded as JSON by a codec that delegates every protobuf message to the
// standard proto codec. Importing this package activates the codec.
package admin

import (
	"context"

	"github.com/Keksclan/querycache/stats"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "querycache.Admin"

// StatsRequest is the input of the Stats method.
type StatsRequest struct{}

// StatsResponse is the output of the Stats method.
type StatsResponse struct {
	stats.Snapshot
	HitRate float64 `json:"hitRate"`
}

// InvalidateRequest is the input of Invalidate (Key) and InvalidatePattern
// (Pattern).
type InvalidateRequest struct {
	Key     string `json:"key,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// InvalidateResponse reports how many entries were removed across tiers.
type InvalidateResponse struct {
	Removed int `json:"removed"`
}

// adminMsg is satisfied by every message type of the service.
type adminMsg interface {
	isAdminMsg()
}

func (*StatsRequest) isAdminMsg()       {}
func (*StatsResponse) isAdminMsg()      {}
func (*InvalidateRequest) isAdminMsg()  {}
func (*InvalidateResponse) isAdminMsg() {}

// Handler is the interface an Admin service implementation must satisfy.
type Handler interface {
	Stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error)
	Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error)
	InvalidatePattern(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error)
}

// Cache is the part of *querycache.Cache the admin service uses.
type Cache interface {
	Stats() stats.Snapshot
	Invalidate(ctx context.Context, key string) int
	InvalidatePattern(ctx context.Context, pattern string) int
}

// NewHandler returns a Handler serving c.
func NewHandler(c Cache) Handler { return cacheHandler{c: c} }

type cacheHandler struct {
	c Cache
}

func (h cacheHandler) Stats(context.Context, *StatsRequest) (*StatsResponse, error) {
	s := h.c.Stats()
	return &StatsResponse{Snapshot: s, HitRate: s.HitRate()}, nil
}

func (h cacheHandler) Invalidate(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}
	return &InvalidateResponse{Removed: h.c.Invalidate(ctx, req.Key)}, nil
}

func (h cacheHandler) InvalidatePattern(ctx context.Context, req *InvalidateRequest) (*InvalidateResponse, error) {
	if req.Pattern == "" {
		return nil, status.Error(codes.InvalidArgument, "pattern is required")
	}
	return &InvalidateResponse{Removed: h.c.InvalidatePattern(ctx, req.Pattern)}, nil
}

// ServiceDesc is the grpc.ServiceDesc for the querycache.Admin service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsHandler},
		{MethodName: "Invalidate", Handler: invalidateHandler},
		{MethodName: "InvalidatePattern", Handler: invalidatePatternHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "querycache/admin.proto",
}

// Register registers an Admin service implementation on s.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}

// unary adapts one Handler method to a grpc.MethodDesc handler.
func unary[Req, Resp any](method string, call func(Handler, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(Handler), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, r any) (any, error) {
			return call(srv.(Handler), ctx, r.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

var (
	statsHandler             = unary("Stats", Handler.Stats)
	invalidateHandler        = unary("Invalidate", Handler.Invalidate)
	invalidatePatternHandler = unary("InvalidatePattern", Handler.InvalidatePattern)
)
