// Package mission flies a Plan of relative-offset waypoints, one after the other.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/waypointer/guided-mission/internal/flight"
	"github.com/waypointer/guided-mission/internal/geo"
	"github.com/waypointer/guided-mission/internal/poll"
	"github.com/waypointer/guided-mission/internal/vehicle"
	"github.com/waypointer/guided-mission/types"
)

// ErrWaypointUnreachable is returned when Policy.WaypointTimeout passes before arrival.
var ErrWaypointUnreachable = errors.New("mission: waypoint unreachable")

// DwellPolicy selects how the vehicle holds position while dwelling.
type DwellPolicy string

const (
	// DwellGuided waits in GUIDED mode and relies on its station keeping.
	DwellGuided DwellPolicy = "guided"
	// DwellLoiter switches to LOITER before waiting.
	DwellLoiter DwellPolicy = "loiter"
)

// ParseDwellPolicy accepts "guided" (or empty) and "loiter".
func ParseDwellPolicy(s string) (DwellPolicy, error) {
	switch DwellPolicy(s) {
	case "", DwellGuided:
		return DwellGuided, nil
	case DwellLoiter:
		return DwellLoiter, nil
	default:
		return "", fmt.Errorf("unknown dwell policy %q", s)
	}
}

// Policy tunes how a plan is flown.
type Policy struct {
	PollInterval     time.Duration // arrival sampling and dwell countdown step
	ModePollInterval time.Duration
	ModeTimeout      time.Duration
	// WaypointTimeout bounds the arrival wait. Zero waits forever: a target the
	// vehicle can never reach then hangs the mission until ctx is cancelled.
	WaypointTimeout time.Duration
	Dwell           DwellPolicy
	Clock           poll.Clock
}

func (p Policy) withDefaults() Policy {
	if p.PollInterval <= 0 {
		p.PollInterval = time.Second
	}
	if p.Dwell == "" {
		p.Dwell = DwellGuided
	}
	if p.Clock == nil {
		p.Clock = poll.Wall
	}
	return p
}

func (p Policy) flightOptions() flight.Options {
	return flight.Options{
		Clock:            p.Clock,
		ModePollInterval: p.ModePollInterval,
		ModeTimeout:      p.ModeTimeout,
		PollInterval:     p.PollInterval,
	}
}

// Executor flies plans against one vehicle. It must not be shared between
// concurrent missions.
type Executor struct {
	Vehicle  vehicle.Vehicle
	Policy   Policy
	Observer func(Event)

	policy Policy
	plan   Plan
}

// Execute flies plan with policy and no observer.
func Execute(ctx context.Context, v vehicle.Vehicle, plan Plan, policy Policy) ([]Outcome, error) {
	e := &Executor{Vehicle: v, Policy: policy}
	return e.Execute(ctx, plan)
}

// Execute flies every waypoint of plan in order and returns one Outcome per
// waypoint reached. On failure the outcomes so far are returned together with
// the error; the vehicle is left wherever it is.
func (e *Executor) Execute(ctx context.Context, plan Plan) ([]Outcome, error) {
	e.policy = e.Policy.withDefaults()
	e.plan = plan

	outcomes := make([]Outcome, 0, plan.Len())
	log.Printf("[mission %s] executing %d waypoints", plan.ID(), plan.Len())
	e.emit(Event{Kind: EventStarted, State: StateIdle, Index: plan.Base()})

	for i, wp := range plan.Waypoints() {
		idx := plan.Base() + i
		out, err := e.navigate(ctx, idx, wp)
		if out != nil {
			outcomes = append(outcomes, *out)
		}
		if err == nil {
			err = e.dwell(ctx, idx, wp)
		}
		if err != nil {
			log.Printf("[mission %s] aborted at WP %d/%d %s: %v", plan.ID(), idx+1, plan.Total(), wp.Name, err)
			e.emit(Event{Kind: EventAborted, State: StateAborted, Index: idx, Waypoint: wp.Name, Outcome: out, Error: err.Error()})
			return outcomes, err
		}
		e.emit(Event{Kind: EventWaypointDone, State: StateNavigating, Index: idx, Waypoint: wp.Name, Position: out.Achieved, Outcome: out})
	}

	log.Printf("[mission %s] all waypoints done", plan.ID())
	e.emit(Event{Kind: EventCompleted, State: StateCompleted, Index: plan.Total()})
	return outcomes, nil
}

// navigate drives the vehicle to waypoint wp. The returned Outcome is nil when
// no arrival check was made.
func (e *Executor) navigate(ctx context.Context, idx int, wp WaypointSpec) (*Outcome, error) {
	p := e.policy
	v := e.Vehicle
	tag := fmt.Sprintf("[mission %s] WP %d/%d %s", e.plan.ID(), idx+1, e.plan.Total(), wp.Name)

	t, err := v.Telemetry(ctx)
	if err != nil {
		return nil, err
	}
	if t.Mode != types.ModeGuided {
		if err := flight.RequireMode(ctx, v, types.ModeGuided, p.flightOptions()); err != nil {
			return nil, err
		}
		if t, err = v.Telemetry(ctx); err != nil {
			return nil, err
		}
	}

	origin := t.Position
	target := geo.Offset(origin, wp.Offset, wp.Altitude)
	log.Printf("%s: N=%+.1fm E=%+.1fm alt=%.1fm -> %v", tag, wp.Offset.North, wp.Offset.East, wp.Altitude, target)
	e.emit(Event{Kind: EventNavigating, State: StateNavigating, Index: idx, Waypoint: wp.Name, Position: origin, Distance: geo.Distance(origin, target)})

	if err := v.RequestGoto(ctx, target); err != nil {
		return nil, err
	}

	start := p.Clock.Now()
	var (
		last    types.GlobalPosition
		dist    float64
		sampled bool
	)
	err = poll.Until(ctx, p.Clock, p.PollInterval, p.WaypointTimeout, func() (bool, error) {
		t, err := v.Telemetry(ctx)
		if err != nil {
			return false, err
		}
		last, dist, sampled = t.Position, geo.Distance(t.Position, target), true
		log.Printf("%s: distance %.1fm alt %.2fm", tag, dist, last.Alt)
		e.emit(Event{Kind: EventProgress, State: StateNavigating, Index: idx, Waypoint: wp.Name, Position: last, Distance: dist})
		return dist <= wp.Threshold, nil
	})
	if !sampled {
		return nil, err
	}

	out := &Outcome{
		Index:          idx,
		Waypoint:       wp,
		Origin:         origin,
		Target:         target,
		Achieved:       last,
		DistanceError:  dist,
		ElapsedSeconds: p.Clock.Now().Sub(start).Seconds(),
		Arrived:        err == nil,
	}
	switch {
	case err == nil:
		log.Printf("%s: arrived (%.1fm off) after %.0fs", tag, dist, out.ElapsedSeconds)
		e.emit(Event{Kind: EventArrived, State: StateNavigating, Index: idx, Waypoint: wp.Name, Position: last, Distance: dist, Outcome: out})
		return out, nil
	case errors.Is(err, poll.ErrDeadline):
		return out, fmt.Errorf("%w: %s still %.1fm away after %v", ErrWaypointUnreachable, wp.Name, dist, p.WaypointTimeout)
	default:
		return out, err
	}
}

// dwell holds at the current waypoint for wp.Dwell, counting down in
// PollInterval steps.
func (e *Executor) dwell(ctx context.Context, idx int, wp WaypointSpec) error {
	if wp.Dwell <= 0 {
		return nil
	}
	p := e.policy
	tag := fmt.Sprintf("[mission %s] WP %d/%d %s", e.plan.ID(), idx+1, e.plan.Total(), wp.Name)

	if p.Dwell == DwellLoiter {
		ok, err := flight.SetMode(ctx, e.Vehicle, types.ModeLoiter, p.flightOptions())
		if err != nil {
			return err
		}
		if !ok {
			log.Printf("%s: LOITER not confirmed, holding in current mode", tag)
		}
	}

	log.Printf("%s: holding for %v", tag, wp.Dwell)
	for remaining := wp.Dwell; remaining > 0; {
		e.emit(Event{Kind: EventDwelling, State: StateDwelling, Index: idx, Waypoint: wp.Name, Remaining: remaining})
		log.Printf("%s: %v remaining", tag, remaining)
		step := min(p.PollInterval, remaining)
		if err := p.Clock.Sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}
	return nil
}

func (e *Executor) emit(ev Event) {
	if e.Observer == nil {
		return
	}
	ev.MissionID = e.plan.ID()
	ev.Total = e.plan.Total()
	ev.Time = e.policy.Clock.Now()
	e.Observer(ev)
}
