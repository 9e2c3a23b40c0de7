// Package vehicletest provides a scriptable in-memory Vehicle for tests.
package vehicletest

import (
	"context"
	"sync"

	"github.com/waypointer/guided-mission/types"
)

// Fake is a Vehicle whose telemetry only changes when a test says so.
// Mode and arm requests take effect after a configurable number of
// Telemetry reads, mimicking an autopilot that confirms asynchronously.
type Fake struct {
	mu sync.Mutex

	state types.Telemetry

	// ModeDelay is the number of reads that still report the old mode after RequestMode.
	ModeDelay int
	// RejectModes lists modes the autopilot silently refuses.
	RejectModes map[types.FlightMode]bool
	// ArmDelay is the number of reads that still report disarmed after RequestArm(true).
	ArmDelay int
	// ArriveOnGoto moves the vehicle exactly onto each goto target.
	ArriveOnGoto bool
	// OnTelemetry, if set, may adjust the snapshot on every read. n counts reads from 1.
	OnTelemetry func(n int, t *types.Telemetry)
	// Err, if set, is returned by every call.
	Err error

	reads       int
	pendingMode *types.FlightMode
	modeIn      int
	pendingArm  bool
	armIn       int

	modes    []types.FlightMode
	gotos    []types.GlobalPosition
	takeoffs []float64
	closed   bool
}

// New returns a Fake reporting initial.
func New(initial types.Telemetry) *Fake {
	return &Fake{state: initial}
}

func (f *Fake) Telemetry(ctx context.Context) (types.Telemetry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return types.Telemetry{}, f.Err
	}
	f.reads++
	if f.pendingMode != nil {
		if f.modeIn == 0 {
			f.state.Mode = *f.pendingMode
			f.pendingMode = nil
		} else {
			f.modeIn--
		}
	}
	if f.pendingArm {
		if f.armIn == 0 {
			f.state.Armed = true
			f.pendingArm = false
		} else {
			f.armIn--
		}
	}
	if f.OnTelemetry != nil {
		f.OnTelemetry(f.reads, &f.state)
	}
	return f.state, nil
}

func (f *Fake) RequestMode(ctx context.Context, mode types.FlightMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.modes = append(f.modes, mode)
	if f.RejectModes[mode] {
		return nil
	}
	m := mode
	f.pendingMode = &m
	f.modeIn = f.ModeDelay
	return nil
}

func (f *Fake) RequestArm(ctx context.Context, arm bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if !arm {
		f.state.Armed = false
		f.pendingArm = false
		return nil
	}
	f.pendingArm = true
	f.armIn = f.ArmDelay
	return nil
}

func (f *Fake) RequestTakeoff(ctx context.Context, altitude float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.takeoffs = append(f.takeoffs, altitude)
	return nil
}

func (f *Fake) RequestGoto(ctx context.Context, target types.GlobalPosition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.gotos = append(f.gotos, target)
	if f.ArriveOnGoto {
		f.state.Position = target
	}
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Set replaces the reported snapshot.
func (f *Fake) Set(t types.Telemetry) {
	f.mu.Lock()
	f.state = t
	f.mu.Unlock()
}

// Reads returns the number of Telemetry calls so far.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Modes returns every requested mode in order.
func (f *Fake) Modes() []types.FlightMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.FlightMode(nil), f.modes...)
}

// Gotos returns every goto target in order.
func (f *Fake) Gotos() []types.GlobalPosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.GlobalPosition(nil), f.gotos...)
}

// Takeoffs returns every requested takeoff altitude.
func (f *Fake) Takeoffs() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.takeoffs...)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
