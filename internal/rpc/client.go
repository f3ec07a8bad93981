package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/intersection-controller/internal/arbiter"
	"github.com/danielpatrickdp/intersection-controller/internal/checkpoint"
	"github.com/danielpatrickdp/intersection-controller/internal/policy"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region client-struct

// Client is a simulation driver's handle on a remote arbiter.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor

// NewClient connects to an arbiter server.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn creates a Client over an existing connection. Close is
// then the caller's responsibility.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion constructor

// #region calls

func (c *Client) invoke(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestAdmission asks the server to admit req.Car onto req.Turn.
func (c *Client) RequestAdmission(ctx context.Context, req arbiter.Request) (policy.Decision, error) {
	out, err := c.invoke(ctx, methodRequestAdmission, map[string]any{
		"intersection_id": string(req.Intersection),
		"car_id":          float64(req.Car),
		"turn_id":         string(req.Turn),
		"tick":            float64(req.Tick),
	})
	if err != nil {
		return policy.Decision{}, fmt.Errorf("request admission rpc: %w", err)
	}
	return policy.Decision{
		Admitted: boolField(out, "admitted"),
		Reason:   policy.Reason(out.GetFields()["reason"].GetStringValue()),
	}, nil
}

// Enter confirms that car has entered its admitted turn.
func (c *Client) Enter(ctx context.Context, id sim.IntersectionID, car sim.CarID, now sim.Tick) error {
	if _, err := c.invoke(ctx, methodEnter, confirmArgs(id, car, now)); err != nil {
		return fmt.Errorf("enter rpc: %w", err)
	}
	return nil
}

// Exit releases car's admission.
func (c *Client) Exit(ctx context.Context, id sim.IntersectionID, car sim.CarID, now sim.Tick) error {
	if _, err := c.invoke(ctx, methodExit, confirmArgs(id, car, now)); err != nil {
		return fmt.Errorf("exit rpc: %w", err)
	}
	return nil
}

func confirmArgs(id sim.IntersectionID, car sim.CarID, now sim.Tick) map[string]any {
	return map[string]any{
		"intersection_id": string(id),
		"car_id":          float64(car),
		"tick":            float64(now),
	}
}

// Checkpoint fetches every intersection's state. With save set the server
// also persists it.
func (c *Client) Checkpoint(ctx context.Context, tick sim.Tick, save bool) (checkpoint.Checkpoint, error) {
	out, err := c.invoke(ctx, methodCheckpoint, map[string]any{
		"tick": float64(tick),
		"save": save,
	})
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("checkpoint rpc: %w", err)
	}

	fields := out.GetFields()
	cp := checkpoint.Checkpoint{
		VersionID: fields["version_id"].GetStringValue(),
		ParentID:  fields["parent_id"].GetStringValue(),
		Tick:      sim.Tick(fields["tick"].GetNumberValue()),
	}
	for _, v := range fields["policies"].GetListValue().GetValues() {
		snap, err := structToSnapshot(v.GetStructValue())
		if err != nil {
			return checkpoint.Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
		}
		cp.Policies = append(cp.Policies, snap)
	}
	return cp, nil
}

// #endregion calls
