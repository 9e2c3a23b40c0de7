package mission

import (
	"math"
	"testing"
	"time"

	"github.com/waypointer/guided-mission/types"
)

func TestNewPlanDefaults(t *testing.T) {
	p, err := NewPlan("star", []WaypointSpec{
		{Offset: types.OffsetVector{North: 10}, Altitude: 10},
		{Name: "corner", Offset: types.OffsetVector{East: 10}, Altitude: 12, Threshold: 3},
	}, 2)
	if err != nil {
		t.Fatal(err)
	}
	wps := p.Waypoints()
	if wps[0].Name != "WP1" || wps[0].Threshold != 2 {
		t.Errorf("first waypoint = %+v", wps[0])
	}
	if wps[1].Name != "corner" || wps[1].Threshold != 3 {
		t.Errorf("second waypoint = %+v", wps[1])
	}

	p, _ = NewPlan("x", []WaypointSpec{{}}, 0)
	if got := p.Waypoints()[0].Threshold; got != DefaultThreshold {
		t.Errorf("threshold = %v, want %v", got, DefaultThreshold)
	}
}

func TestNewPlanRejectsInvalid(t *testing.T) {
	for name, wp := range map[string]WaypointSpec{
		"negative threshold": {Threshold: -1},
		"negative dwell":     {Dwell: -time.Second},
		"nan offset":         {Offset: types.OffsetVector{North: math.NaN()}},
		"inf altitude":       {Altitude: math.Inf(1)},
	} {
		if _, err := NewPlan("bad", []WaypointSpec{wp}, 0); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestPlanIsImmutable(t *testing.T) {
	p, _ := NewPlan("x", []WaypointSpec{{Name: "a"}}, 0)
	wps := p.Waypoints()
	wps[0].Name = "changed"
	if p.Waypoints()[0].Name != "a" {
		t.Error("Waypoints exposed internal slice")
	}
}

func TestPlanRemaining(t *testing.T) {
	p, _ := NewPlan("x", []WaypointSpec{{}, {}, {}}, 0)
	r := p.Remaining(1).Remaining(1)
	if r.Len() != 1 || r.Base() != 2 || r.Total() != 3 || r.ID() != "x" {
		t.Errorf("len=%d base=%d total=%d", r.Len(), r.Base(), r.Total())
	}
	if r.Waypoints()[0].Name != "WP3" {
		t.Errorf("remaining = %+v", r.Waypoints())
	}
	if all := p.Remaining(10); all.Len() != 0 || all.Total() != 3 {
		t.Errorf("over-consumed plan len=%d total=%d", all.Len(), all.Total())
	}
	if p.Remaining(0).Base() != 0 {
		t.Error("Remaining(0) changed base")
	}
}
