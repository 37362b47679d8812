package server

import (
	"context"
	"encoding/json"
	"math"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/boardwatch/boardwatch/internal/errors"
	"github.com/boardwatch/boardwatch/internal/resilience"
	"github.com/boardwatch/boardwatch/internal/trace"
)

// GRPCServer serves the standard gRPC health protocol and, once a board is
// registered, the BoardService control service. The overall service and
// CameraService go NOT_SERVING while the camera breaker is open.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
}

// NewGRPCServer creates a server reporting SERVING.
func NewGRPCServer() *GRPCServer {
	srv := grpc.NewServer(grpc.UnaryInterceptor(trace.UnaryServerInterceptor()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(CameraService, healthpb.HealthCheckResponse_SERVING)
	return &GRPCServer{srv: srv, health: hs}
}

// SetCameraHealthy updates the reported status.
func (g *GRPCServer) SetCameraHealthy(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(CameraService, st)
	g.health.SetServingStatus("", st)
}

// WatchBreaker ties camera health to b.
func (g *GRPCServer) WatchBreaker(b *resilience.Breaker) {
	b.OnStateChange(func(_, to resilience.State) {
		g.SetCameraHealthy(to != resilience.Open)
	})
}

// RegisterBoard exposes b as BoardService. Must be called before Serve.
func (g *GRPCServer) RegisterBoard(b Board) {
	g.srv.RegisterService(&boardServiceDesc, &boardService{board: b})
}

// Serve blocks serving on lis.
func (g *GRPCServer) Serve(lis net.Listener) error {
	return g.srv.Serve(lis)
}

// GracefulStop marks every service NOT_SERVING and drains connections.
func (g *GRPCServer) GracefulStop() {
	g.health.Shutdown()
	g.srv.GracefulStop()
}

// boardHandler is the BoardService method set.
type boardHandler interface {
	Status(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Events(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Snapshots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Quit(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
}

// boardService answers with structpb documents shaped like the HTTP API's
// JSON bodies. Failures are AppErrors, which carry their own gRPC status.
type boardService struct {
	board Board
}

func (s *boardService) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.board.Status())
}

func (s *boardService) Events(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := structLimit(req)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"events": s.board.RecentEvents(limit)})
}

func (s *boardService) Snapshots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := structLimit(req)
	if err != nil {
		return nil, err
	}
	entries, err := s.board.RecentSnapshots(ctx, limit)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"snapshots": entries})
}

func (s *boardService) Quit(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	trace.Logger(ctx).Info("quit requested over grpc")
	s.board.Quit()
	return &emptypb.Empty{}, nil
}

// structLimit reads the optional "limit" field of req.
func structLimit(req *structpb.Struct) (int, error) {
	v, ok := req.GetFields()["limit"]
	if !ok {
		return DefaultListLimit, nil
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum || n.NumberValue < 1 || n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %v", v.AsInterface())
	}
	return int(min(n.NumberValue, MaxListLimit)), nil
}

// toStruct converts v through its JSON form so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "encode response")
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "encode response")
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "encode response")
	}
	return st, nil
}

func boardMethod[Req proto.Message](name string, newReq func() Req, call func(boardHandler, context.Context, Req) (proto.Message, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := newReq()
			if err := dec(req); err != nil {
				return nil, err
			}
			h := srv.(boardHandler)
			if interceptor == nil {
				return call(h, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + BoardService + "/" + name}
			return interceptor(ctx, req, info, func(ctx context.Context, r any) (any, error) {
				return call(h, ctx, r.(Req))
			})
		},
	}
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// result keeps a nil message from becoming a typed-nil response.
func result[T proto.Message](m T, err error) (proto.Message, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}

var boardServiceDesc = grpc.ServiceDesc{
	ServiceName: BoardService,
	HandlerType: (*boardHandler)(nil),
	Methods: []grpc.MethodDesc{
		boardMethod("Status", newEmpty, func(h boardHandler, ctx context.Context, req *emptypb.Empty) (proto.Message, error) {
			return result(h.Status(ctx, req))
		}),
		boardMethod("Events", newStruct, func(h boardHandler, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
			return result(h.Events(ctx, req))
		}),
		boardMethod("Snapshots", newStruct, func(h boardHandler, ctx context.Context, req *structpb.Struct) (proto.Message, error) {
			return result(h.Snapshots(ctx, req))
		}),
		boardMethod("Quit", newEmpty, func(h boardHandler, ctx context.Context, req *emptypb.Empty) (proto.Message, error) {
			return result(h.Quit(ctx, req))
		}),
	},
	Streams: []grpc.StreamDesc{},
}
