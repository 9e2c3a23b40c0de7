package mission

import (
	"fmt"
	"math"
	"time"

	"github.com/waypointer/guided-mission/types"
)

// DefaultThreshold is the arrival distance used when neither the plan nor the waypoint sets one.
const DefaultThreshold = 1.5

// WaypointSpec is one leg of a mission. Offset is measured from wherever the
// vehicle actually is when the leg starts, not from launch.
type WaypointSpec struct {
	Name      string             `json:"name"`
	Offset    types.OffsetVector `json:"offset"`
	Altitude  float64            `json:"altitude"`
	Threshold float64            `json:"threshold"`
	Dwell     time.Duration      `json:"dwell"`
}

// Plan is an ordered, immutable list of resolved waypoints.
type Plan struct {
	id        string
	base      int
	waypoints []WaypointSpec
}

// NewPlan resolves names and thresholds once and validates every waypoint.
// Unnamed waypoints become "WP<n>", zero thresholds take defaultThreshold.
func NewPlan(id string, specs []WaypointSpec, defaultThreshold float64) (Plan, error) {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultThreshold
	}
	wps := make([]WaypointSpec, len(specs))
	for i, wp := range specs {
		if wp.Name == "" {
			wp.Name = fmt.Sprintf("WP%d", i+1)
		}
		if wp.Threshold == 0 {
			wp.Threshold = defaultThreshold
		}
		switch {
		case wp.Threshold < 0:
			return Plan{}, fmt.Errorf("waypoint %q: negative arrival threshold %v", wp.Name, wp.Threshold)
		case wp.Dwell < 0:
			return Plan{}, fmt.Errorf("waypoint %q: negative dwell %v", wp.Name, wp.Dwell)
		case !finite(wp.Offset.North) || !finite(wp.Offset.East) || !finite(wp.Altitude):
			return Plan{}, fmt.Errorf("waypoint %q: offset and altitude must be finite", wp.Name)
		}
		wps[i] = wp
	}
	return Plan{id: id, waypoints: wps}, nil
}

// ID names the mission for logs and checkpoints.
func (p Plan) ID() string { return p.id }

// Len is the number of waypoints left to fly.
func (p Plan) Len() int { return len(p.waypoints) }

// Base is the index of the first waypoint within the original plan.
// It is non-zero only for plans produced by Remaining.
func (p Plan) Base() int { return p.base }

// Total is the waypoint count of the original plan.
func (p Plan) Total() int { return p.base + len(p.waypoints) }

// Waypoints returns a copy of the resolved waypoints in traversal order.
func (p Plan) Waypoints() []WaypointSpec {
	return append([]WaypointSpec(nil), p.waypoints...)
}

// Remaining returns the plan without its first done waypoints. Indexes in
// outcomes and events keep counting from the original plan.
func (p Plan) Remaining(done int) Plan {
	if done <= 0 {
		return p
	}
	if done > len(p.waypoints) {
		done = len(p.waypoints)
	}
	return Plan{id: p.id, base: p.base + done, waypoints: p.waypoints[done:]}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
