package rpc

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/intersection-controller/internal/arbiter"
	"github.com/danielpatrickdp/intersection-controller/internal/checkpoint"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region server-struct

// Server serves an arbiter over gRPC. The checkpoint store is optional; without
// it Checkpoint can only return snapshots, not save them.
type Server struct {
	arbiter *arbiter.Arbiter
	store   *checkpoint.Store
	logger  *logging.Logger
}

var _ ArbiterServer = (*Server)(nil)

// NewServer wraps a for remote drivers.
func NewServer(a *arbiter.Arbiter, store *checkpoint.Store, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Server{arbiter: a, store: store, logger: logger}
}

// Register adds the service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&ServiceDesc, s)
}

// UnaryLogger logs every call with its duration and status code.
func UnaryLogger(logger *logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// #endregion server-struct

// #region handlers

// RequestAdmission takes {intersection_id, car_id, turn_id, tick} and returns
// {admitted, reason}.
func (s *Server) RequestAdmission(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	isect, err := stringField(in, "intersection_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	turn, err := stringField(in, "turn_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	car, err := uintField(in, "car_id", false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	tick, err := uintField(in, "tick", false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	d, err := s.arbiter.Request(ctx, arbiter.Request{
		Intersection: sim.IntersectionID(isect),
		Car:          sim.CarID(car),
		Turn:         sim.TurnID(turn),
		Tick:         sim.Tick(tick),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"admitted": d.Admitted,
		"reason":   string(d.Reason),
	})
}

// Enter takes {intersection_id, car_id, tick}.
func (s *Server) Enter(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.confirm(ctx, in, s.arbiter.Enter)
}

// Exit takes {intersection_id, car_id, tick}.
func (s *Server) Exit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.confirm(ctx, in, s.arbiter.Exit)
}

func (s *Server) confirm(ctx context.Context, in *structpb.Struct,
	op func(context.Context, sim.IntersectionID, sim.CarID, sim.Tick) error) (*structpb.Struct, error) {
	isect, err := stringField(in, "intersection_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	car, err := uintField(in, "car_id", false)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	tick, err := uintField(in, "tick", true)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := op(ctx, sim.IntersectionID(isect), sim.CarID(car), sim.Tick(tick)); err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

// Checkpoint takes {tick, save} and returns {version_id, parent_id, tick,
// policies}. With save set the checkpoint is persisted and becomes active.
func (s *Server) Checkpoint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, toStatus(err)
	}
	tick, err := uintField(in, "tick", true)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	cp := s.arbiter.Checkpoint(sim.Tick(tick))
	if boolField(in, "save") {
		if s.store == nil {
			return nil, status.Error(codes.FailedPrecondition, "no checkpoint store configured")
		}
		cp, err = s.store.Save(cp)
		if err != nil {
			s.logger.Error("checkpoint save failed", "error", err.Error())
			return nil, status.Error(codes.Internal, err.Error())
		}
		s.logger.Info("checkpoint saved", "version_id", cp.VersionID, "tick", uint64(cp.Tick))
	}

	policies := make([]any, 0, len(cp.Policies))
	for _, snap := range cp.Policies {
		st, err := snapshotToStruct(snap)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		policies = append(policies, st.AsMap())
	}
	return structpb.NewStruct(map[string]any{
		"version_id": cp.VersionID,
		"parent_id":  cp.ParentID,
		"tick":       float64(cp.Tick),
		"policies":   policies,
	})
}

// #endregion handlers

// #region errors

func toStatus(err error) error {
	switch {
	case errors.Is(err, arbiter.ErrUnknownIntersection):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, arbiter.ErrUnknownTurn):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, arbiter.ErrNotAccepted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// #endregion errors
