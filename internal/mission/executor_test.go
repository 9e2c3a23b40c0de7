package mission

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/waypointer/guided-mission/internal/flight"
	"github.com/waypointer/guided-mission/internal/geo"
	"github.com/waypointer/guided-mission/internal/poll"
	"github.com/waypointer/guided-mission/internal/vehicle"
	"github.com/waypointer/guided-mission/internal/vehicle/vehicletest"
	"github.com/waypointer/guided-mission/types"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	home  = types.GlobalPosition{Lat: 45, Lon: 7, Alt: 10}
)

func guidedAt(p types.GlobalPosition) types.Telemetry {
	return types.Telemetry{Mode: types.ModeGuided, Armed: true, Armable: true, Position: p}
}

func mustPlan(t *testing.T, specs ...WaypointSpec) Plan {
	t.Helper()
	p, err := NewPlan("test", specs, 0)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestExecuteChainsOffsetsFromActualPosition(t *testing.T) {
	v := vehicletest.New(guidedAt(home))
	v.ArriveOnGoto = true
	plan := mustPlan(t,
		WaypointSpec{Offset: types.OffsetVector{North: 20}, Altitude: 10},
		WaypointSpec{Offset: types.OffsetVector{East: 15}, Altitude: 10},
	)

	outcomes, err := Execute(context.Background(), v, plan, Policy{Clock: poll.NewManualClock(epoch)})
	if err != nil {
		t.Fatal(err)
	}
	gotos := v.Gotos()
	if len(gotos) != 2 || len(outcomes) != 2 {
		t.Fatalf("gotos=%d outcomes=%d", len(gotos), len(outcomes))
	}
	t1 := geo.Offset(home, types.OffsetVector{North: 20}, 10)
	t2 := geo.Offset(t1, types.OffsetVector{East: 15}, 10)
	if gotos[0] != t1 || gotos[1] != t2 {
		t.Errorf("gotos = %v, want [%v %v]", gotos, t1, t2)
	}
	if gotos[1] == geo.Offset(home, types.OffsetVector{North: 20, East: 15}, 10) {
		t.Error("second target was computed from launch, not from the first arrival")
	}
	if outcomes[1].Origin != t1 {
		t.Errorf("second leg origin = %v, want %v", outcomes[1].Origin, t1)
	}
}

func TestExecuteArrivalOnThirdInterval(t *testing.T) {
	clk := poll.NewManualClock(epoch)
	v := vehicletest.New(guidedAt(home))
	target := geo.Offset(home, types.OffsetVector{North: 10}, 10)
	// read 1 is the pre-leg snapshot; arrival sampling starts at read 2
	samples := []float64{10, 6, 3, 1}
	v.OnTelemetry = func(n int, tel *types.Telemetry) {
		if i := n - 2; i >= 0 && i < len(samples) {
			tel.Position = geo.Offset(target, types.OffsetVector{North: -samples[i]}, 10)
		}
	}
	plan := mustPlan(t, WaypointSpec{Offset: types.OffsetVector{North: 10}, Altitude: 10, Threshold: 2})

	outcomes, err := Execute(context.Background(), v, plan, Policy{Clock: clk})
	if err != nil {
		t.Fatal(err)
	}
	if got := clk.Now().Sub(epoch); got != 3*time.Second {
		t.Errorf("arrived after %v, want 3s", got)
	}
	o := outcomes[0]
	if !o.Arrived || o.DistanceError > 2 || o.ElapsedSeconds != 3 {
		t.Errorf("outcome = %+v", o)
	}
	if v.Reads() != 5 {
		t.Errorf("reads = %d, want 5", v.Reads())
	}
}

func TestExecuteDwell(t *testing.T) {
	for _, tc := range []struct {
		dwell time.Duration
		want  time.Duration
	}{
		{0, 0},
		{5 * time.Second, 5 * time.Second},
		{2500 * time.Millisecond, 2500 * time.Millisecond},
	} {
		clk := poll.NewManualClock(epoch)
		v := vehicletest.New(guidedAt(home))
		v.ArriveOnGoto = true
		plan := mustPlan(t, WaypointSpec{Offset: types.OffsetVector{North: 5}, Altitude: 10, Dwell: tc.dwell})

		if _, err := Execute(context.Background(), v, plan, Policy{Clock: clk}); err != nil {
			t.Fatal(err)
		}
		if got := clk.Now().Sub(epoch); got != tc.want {
			t.Errorf("dwell %v: mission took %v, want %v", tc.dwell, got, tc.want)
		}
	}
}

func TestExecuteLoiterDwell(t *testing.T) {
	v := vehicletest.New(guidedAt(home))
	v.ArriveOnGoto = true
	plan := mustPlan(t,
		WaypointSpec{Offset: types.OffsetVector{North: 5}, Altitude: 10, Dwell: 2 * time.Second},
		WaypointSpec{Offset: types.OffsetVector{East: 5}, Altitude: 10, Dwell: 2 * time.Second},
	)
	policy := Policy{Clock: poll.NewManualClock(epoch), Dwell: DwellLoiter}

	if _, err := Execute(context.Background(), v, plan, policy); err != nil {
		t.Fatal(err)
	}
	want := []types.FlightMode{types.ModeLoiter, types.ModeGuided, types.ModeLoiter}
	if got := v.Modes(); !reflect.DeepEqual(got, want) {
		t.Errorf("modes = %v, want %v", got, want)
	}
}

func TestExecuteLoiterRefusedStillDwells(t *testing.T) {
	clk := poll.NewManualClock(epoch)
	v := vehicletest.New(guidedAt(home))
	v.ArriveOnGoto = true
	v.RejectModes = map[types.FlightMode]bool{types.ModeLoiter: true}
	plan := mustPlan(t, WaypointSpec{Offset: types.OffsetVector{North: 5}, Altitude: 10, Dwell: 3 * time.Second})

	if _, err := Execute(context.Background(), v, plan, Policy{Clock: clk, Dwell: DwellLoiter, ModeTimeout: time.Second}); err != nil {
		t.Fatal(err)
	}
	// 1s of unconfirmed LOITER polling then the full dwell
	if got := clk.Now().Sub(epoch); got != 4*time.Second {
		t.Errorf("took %v", got)
	}
}

func TestExecuteModeTimeoutAborts(t *testing.T) {
	v := vehicletest.New(types.Telemetry{Mode: types.ModeLoiter, Position: home})
	v.RejectModes = map[types.FlightMode]bool{types.ModeGuided: true}
	plan := mustPlan(t, WaypointSpec{Offset: types.OffsetVector{North: 5}, Altitude: 10})

	var last Event
	e := &Executor{Vehicle: v, Policy: Policy{Clock: poll.NewManualClock(epoch)}, Observer: func(ev Event) { last = ev }}
	outcomes, err := e.Execute(context.Background(), plan)
	if !errors.Is(err, flight.ErrModeTimeout) {
		t.Fatalf("err = %v, want ErrModeTimeout", err)
	}
	if len(outcomes) != 0 || len(v.Gotos()) != 0 {
		t.Errorf("outcomes=%v gotos=%v", outcomes, v.Gotos())
	}
	if last.Kind != EventAborted || last.State != StateAborted {
		t.Errorf("last event = %+v", last)
	}
}

func TestExecuteWaypointTimeout(t *testing.T) {
	v := vehicletest.New(guidedAt(home))
	plan := mustPlan(t,
		WaypointSpec{Offset: types.OffsetVector{North: 100}, Altitude: 10},
		WaypointSpec{Offset: types.OffsetVector{North: 100}, Altitude: 10},
	)

	outcomes, err := Execute(context.Background(), v, plan, Policy{Clock: poll.NewManualClock(epoch), WaypointTimeout: 5 * time.Second})
	if !errors.Is(err, ErrWaypointUnreachable) {
		t.Fatalf("err = %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if o := outcomes[0]; o.Arrived || o.DistanceError < 99 || o.Achieved != home {
		t.Errorf("outcome = %+v", o)
	}
	if len(v.Gotos()) != 1 {
		t.Error("mission continued past an unreachable waypoint")
	}
}

func TestExecuteConnectionLost(t *testing.T) {
	v := vehicletest.New(guidedAt(home))
	v.OnTelemetry = func(n int, _ *types.Telemetry) {
		if n == 3 {
			v.Err = vehicle.ErrConnection
		}
	}
	plan := mustPlan(t, WaypointSpec{Offset: types.OffsetVector{North: 50}, Altitude: 10})

	outcomes, err := Execute(context.Background(), v, plan, Policy{Clock: poll.NewManualClock(epoch)})
	if err != vehicle.ErrConnection {
		t.Fatalf("err = %v, want ErrConnection unmodified", err)
	}
	if len(outcomes) != 1 || outcomes[0].Arrived {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestExecuteZeroOffset(t *testing.T) {
	clk := poll.NewManualClock(epoch)
	v := vehicletest.New(guidedAt(home))
	plan := mustPlan(t, WaypointSpec{Altitude: home.Alt})

	outcomes, err := Execute(context.Background(), v, plan, Policy{Clock: clk})
	if err != nil {
		t.Fatal(err)
	}
	if !outcomes[0].Arrived || outcomes[0].Target != home {
		t.Errorf("outcome = %+v", outcomes[0])
	}
	if v.Reads() != 2 || clk.Now() != epoch {
		t.Errorf("reads=%d elapsed=%v", v.Reads(), clk.Now().Sub(epoch))
	}
}

func TestExecuteEvents(t *testing.T) {
	v := vehicletest.New(guidedAt(home))
	v.ArriveOnGoto = true
	plan := mustPlan(t, WaypointSpec{Name: "gate", Offset: types.OffsetVector{North: 5}, Altitude: 10, Dwell: time.Second})

	var kinds []EventKind
	e := &Executor{
		Vehicle: v,
		Policy:  Policy{Clock: poll.NewManualClock(epoch)},
		Observer: func(ev Event) {
			if ev.MissionID != "test" || ev.Total != 1 {
				t.Errorf("event %s: mission=%q total=%d", ev.Kind, ev.MissionID, ev.Total)
			}
			kinds = append(kinds, ev.Kind)
		},
	}
	if _, err := e.Execute(context.Background(), plan); err != nil {
		t.Fatal(err)
	}
	want := []EventKind{EventStarted, EventNavigating, EventProgress, EventArrived, EventDwelling, EventWaypointDone, EventCompleted}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("events = %v, want %v", kinds, want)
	}
}

func TestExecuteCancelledWhileDwelling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	v := vehicletest.New(guidedAt(home))
	v.ArriveOnGoto = true
	plan := mustPlan(t, WaypointSpec{Offset: types.OffsetVector{North: 5}, Altitude: 10, Dwell: time.Minute})

	e := &Executor{
		Vehicle: v,
		Policy:  Policy{Clock: poll.NewManualClock(epoch)},
		Observer: func(ev Event) {
			if ev.Kind == EventDwelling {
				cancel()
			}
		},
	}
	outcomes, err := e.Execute(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Arrived {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestExecuteResumedPlanKeepsIndexes(t *testing.T) {
	v := vehicletest.New(guidedAt(home))
	v.ArriveOnGoto = true
	plan := mustPlan(t,
		WaypointSpec{Offset: types.OffsetVector{North: 5}, Altitude: 10},
		WaypointSpec{Offset: types.OffsetVector{East: 5}, Altitude: 10},
	).Remaining(1)

	var done []int
	e := &Executor{
		Vehicle: v,
		Policy:  Policy{Clock: poll.NewManualClock(epoch)},
		Observer: func(ev Event) {
			if ev.Kind == EventWaypointDone {
				done = append(done, ev.Index)
			}
		},
	}
	outcomes, err := e.Execute(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 1 || outcomes[0].Index != 1 || outcomes[0].Waypoint.Name != "WP2" {
		t.Errorf("outcomes = %+v", outcomes)
	}
	if !reflect.DeepEqual(done, []int{1}) {
		t.Errorf("done = %v", done)
	}
}

func TestParseDwellPolicy(t *testing.T) {
	for in, want := range map[string]DwellPolicy{"": DwellGuided, "guided": DwellGuided, "loiter": DwellLoiter} {
		got, err := ParseDwellPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseDwellPolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDwellPolicy("hover"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
