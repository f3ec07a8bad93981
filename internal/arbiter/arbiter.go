// Package arbiter serializes access to the admission policy of every
// intersection so that concurrent drivers can share one simulation.
package arbiter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/intersection-controller/internal/checkpoint"
	"github.com/danielpatrickdp/intersection-controller/internal/control"
	"github.com/danielpatrickdp/intersection-controller/internal/geom"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/policy"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// #region arbiter-struct

// Arbiter owns one policy per intersection, each behind its own lock.
type Arbiter struct {
	geometry *geom.Map
	controls *control.Map
	cfg      Config
	logger   *logging.Logger

	sinkMu sync.Mutex
	sink   Sink

	nodes map[sim.IntersectionID]*node
	ids   []sim.IntersectionID
}

type node struct {
	mu     sync.Mutex
	policy *policy.Policy
}

// #endregion arbiter-struct

// #region constructor

// New builds an arbiter with a fresh policy for every controlled intersection.
func New(geometry *geom.Map, controls *control.Map, cfg Config, logger *logging.Logger) (*Arbiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	a := &Arbiter{
		geometry: geometry,
		controls: controls,
		cfg:      cfg,
		logger:   logger,
		nodes:    make(map[sim.IntersectionID]*node),
		ids:      controls.Intersections(),
	}
	for _, id := range a.ids {
		p, err := policy.ForIntersection(id, controls, a.env(id))
		if err != nil {
			return nil, fmt.Errorf("build policy: %w", err)
		}
		a.nodes[id] = &node{policy: p}
	}
	return a, nil
}

// SetSink attaches a decision sink. Call before the arbiter is shared.
func (a *Arbiter) SetSink(s Sink) {
	a.sinkMu.Lock()
	defer a.sinkMu.Unlock()
	a.sink = s
}

func (a *Arbiter) env(id sim.IntersectionID) policy.Env {
	return policy.Env{
		Geometry: a.geometry,
		Config:   a.cfg.Policy,
		Logger:   a.logger.WithIntersection(id),
	}
}

// Intersections returns the controlled intersections in sorted order.
func (a *Arbiter) Intersections() []sim.IntersectionID {
	out := make([]sim.IntersectionID, len(a.ids))
	copy(out, a.ids)
	return out
}

// Geometry returns the turn map the arbiter was built with.
func (a *Arbiter) Geometry() *geom.Map { return a.geometry }

// #endregion constructor

// #region request

// Request evaluates one admission request.
func (a *Arbiter) Request(ctx context.Context, req Request) (policy.Decision, error) {
	if err := ctx.Err(); err != nil {
		return policy.Decision{}, err
	}
	n, err := a.validate(req)
	if err != nil {
		return policy.Decision{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return a.evaluate(n, req), nil
}

func (a *Arbiter) validate(req Request) (*node, error) {
	n, ok := a.nodes[req.Intersection]
	if !ok {
		return nil, fmt.Errorf("request %s: %w: %s", req.Car, ErrUnknownIntersection, req.Intersection)
	}
	t, ok := a.geometry.Lookup(req.Turn)
	if !ok || t.Intersection != req.Intersection {
		return nil, fmt.Errorf("request %s turn %s at %s: %w", req.Car, req.Turn, req.Intersection, ErrUnknownTurn)
	}
	if ss, ok := a.controls.StopSigns[req.Intersection]; ok && !ss.Contains(req.Turn) {
		return nil, fmt.Errorf("request %s turn %s at %s: no priority configured: %w", req.Car, req.Turn, req.Intersection, ErrUnknownTurn)
	}
	return n, nil
}

// evaluate runs with n.mu held.
func (a *Arbiter) evaluate(n *node, req Request) policy.Decision {
	d := n.policy.Evaluate(req.Car, req.Turn, req.Tick)
	a.record(logging.DecisionEntry{
		Tick:         req.Tick,
		Intersection: req.Intersection,
		Car:          req.Car,
		Turn:         req.Turn,
		Event:        logging.EventRequest,
		Admitted:     d.Admitted,
		Reason:       string(d.Reason),
	})
	return d
}

// #endregion request

// #region enter-exit

// Enter confirms that an admitted car has physically entered its turn.
func (a *Arbiter) Enter(ctx context.Context, id sim.IntersectionID, car sim.CarID, now sim.Tick) error {
	return a.confirm(ctx, id, car, now, logging.EventEnter)
}

// Exit releases the car's admission so conflicting turns may proceed.
func (a *Arbiter) Exit(ctx context.Context, id sim.IntersectionID, car sim.CarID, now sim.Tick) error {
	return a.confirm(ctx, id, car, now, logging.EventExit)
}

func (a *Arbiter) confirm(ctx context.Context, id sim.IntersectionID, car sim.CarID, now sim.Tick, event string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, ok := a.nodes[id]
	if !ok {
		return fmt.Errorf("%s %s: %w: %s", event, car, ErrUnknownIntersection, id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.policy.IsAccepted(car) {
		return fmt.Errorf("%s %s at %s: %w", event, car, id, ErrNotAccepted)
	}
	turn := n.policy.Accepted()[car]
	if event == logging.EventExit {
		n.policy.OnExit(car)
	} else {
		n.policy.OnEnter(car)
	}
	a.record(logging.DecisionEntry{
		Tick:         now,
		Intersection: id,
		Car:          car,
		Turn:         turn,
		Event:        event,
		Admitted:     true,
	})
	return nil
}

// #endregion enter-exit

// #region step

// Step evaluates a batch of requests submitted for the same tick. Requests
// are grouped by intersection and intersections run in parallel. Within a
// stop sign, cars that have waited longest go first, ties broken by
// ascending car id. Signal decisions do not depend on each other and run in
// car id order. Results are sorted by intersection, then car.
//
// Every request is validated before any is applied, so an invalid batch
// leaves all policies untouched.
func (a *Arbiter) Step(ctx context.Context, tick sim.Tick, reqs []Request) ([]Result, error) {
	groups := make(map[sim.IntersectionID][]Request)
	for _, req := range reqs {
		req.Tick = tick
		if _, err := a.validate(req); err != nil {
			return nil, err
		}
		groups[req.Intersection] = append(groups[req.Intersection], req)
	}

	ids := make([]sim.IntersectionID, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	a.logger.WithTick(tick).Debug("step", "requests", len(reqs), "intersections", len(ids))

	out := make([][]Result, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Parallelism > 0 {
		g.SetLimit(a.cfg.Parallelism)
	}
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = a.stepIntersection(a.nodes[id], groups[id])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("step %d: %w", tick, err)
	}

	results := make([]Result, 0, len(reqs))
	for _, rs := range out {
		results = append(results, rs...)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Intersection != results[j].Intersection {
			return results[i].Intersection < results[j].Intersection
		}
		return results[i].Car < results[j].Car
	})
	return results, nil
}

func (a *Arbiter) stepIntersection(n *node, reqs []Request) []Result {
	n.mu.Lock()
	defer n.mu.Unlock()

	// Waiting cars keep their queue position; new arrivals follow by car id.
	rank := make(map[sim.CarID]int)
	if ss := n.policy.StopSign(); ss != nil {
		for i, car := range ss.WaitingOrder() {
			rank[car] = i
		}
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		ri, iok := rank[reqs[i].Car]
		rj, jok := rank[reqs[j].Car]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return reqs[i].Car < reqs[j].Car
	})

	results := make([]Result, 0, len(reqs))
	for _, req := range reqs {
		results = append(results, Result{Request: req, Decision: a.evaluate(n, req)})
	}
	return results
}

// #endregion step

// #region inspect

// Snapshot returns the serialized state of one intersection.
func (a *Arbiter) Snapshot(id sim.IntersectionID) (policy.Snapshot, error) {
	n, ok := a.nodes[id]
	if !ok {
		return policy.Snapshot{}, fmt.Errorf("snapshot: %w: %s", ErrUnknownIntersection, id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.policy.Snapshot(), nil
}

// Accepted returns the admitted cars at one intersection.
func (a *Arbiter) Accepted(id sim.IntersectionID) (map[sim.CarID]sim.TurnID, error) {
	n, ok := a.nodes[id]
	if !ok {
		return nil, fmt.Errorf("accepted: %w: %s", ErrUnknownIntersection, id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.policy.Accepted(), nil
}

// #endregion inspect

// #region checkpoint

// Checkpoint captures every intersection's state at tick. Each intersection is
// locked in turn, so callers wanting a consistent cut must not run Step
// concurrently.
func (a *Arbiter) Checkpoint(tick sim.Tick) checkpoint.Checkpoint {
	cp := checkpoint.Checkpoint{Tick: tick, Policies: make([]policy.Snapshot, 0, len(a.ids))}
	for _, id := range a.ids {
		n := a.nodes[id]
		n.mu.Lock()
		cp.Policies = append(cp.Policies, n.policy.Snapshot())
		n.mu.Unlock()
	}
	return cp
}

// Restore replaces every policy with the state in cp. Intersections missing
// from cp are reset to empty. Nothing changes if any snapshot is invalid.
func (a *Arbiter) Restore(cp checkpoint.Checkpoint) error {
	restored := make(map[sim.IntersectionID]*policy.Policy, len(a.ids))
	for _, snap := range cp.Policies {
		if _, ok := a.nodes[snap.Intersection]; !ok {
			return fmt.Errorf("restore: %w: %s", ErrUnknownIntersection, snap.Intersection)
		}
		if _, dup := restored[snap.Intersection]; dup {
			return fmt.Errorf("restore: duplicate snapshot for %s", snap.Intersection)
		}
		p, err := policy.Restore(snap, a.controls, a.env(snap.Intersection))
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		restored[snap.Intersection] = p
	}
	for _, id := range a.ids {
		if _, ok := restored[id]; ok {
			continue
		}
		p, err := policy.ForIntersection(id, a.controls, a.env(id))
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		restored[id] = p
	}

	for _, id := range a.ids {
		n := a.nodes[id]
		n.mu.Lock()
		n.policy = restored[id]
		n.mu.Unlock()
	}
	a.logger.Info("restored checkpoint", "version_id", cp.VersionID, "tick", uint64(cp.Tick))
	return nil
}

// #endregion checkpoint

// #region sink

func (a *Arbiter) record(entry logging.DecisionEntry) {
	a.sinkMu.Lock()
	defer a.sinkMu.Unlock()
	if a.sink == nil {
		return
	}
	entry.CreatedAt = time.Now().UTC()
	if err := a.sink.Record(entry); err != nil {
		a.logger.Warn("decision log error", "error", err.Error(), "car_id", uint64(entry.Car))
	}
}

// #endregion sink
