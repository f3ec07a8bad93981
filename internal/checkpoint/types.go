package checkpoint

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/intersection-controller/internal/policy"
	"github.com/danielpatrickdp/intersection-controller/internal/sim"
)

// ErrNoCheckpoint is returned by GetCurrent before anything was saved.
var ErrNoCheckpoint = errors.New("no active checkpoint")

// #region checkpoint

// Checkpoint is the admission state of every intersection at one tick.
type Checkpoint struct {
	VersionID string            `json:"version_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Tick      sim.Tick          `json:"tick"`
	Policies  []policy.Snapshot `json:"policies"` // sorted by intersection
	CreatedAt time.Time         `json:"created_at"`
}

// Policy returns the snapshot of one intersection.
func (c Checkpoint) Policy(id sim.IntersectionID) (policy.Snapshot, bool) {
	for _, p := range c.Policies {
		if p.Intersection == id {
			return p, true
		}
	}
	return policy.Snapshot{}, false
}

// #endregion checkpoint

// #region version-info

// VersionInfo summarizes a stored checkpoint without its policy states.
type VersionInfo struct {
	VersionID   string
	ParentID    string
	Tick        sim.Tick
	PolicyCount int
	Accepted    int // cars holding an admitted turn across all intersections
	Waiting     int // cars waiting at stop signs
	CreatedAt   time.Time
	Active      bool
}

// #endregion version-info
