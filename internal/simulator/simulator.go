// Package simulator is an in-process flight controller for demos and tests.
// It understands the same requests as a real autopilot and moves the vehicle
// along straight lines as its clock advances.
package simulator

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/waypointer/guided-mission/internal/geo"
	"github.com/waypointer/guided-mission/internal/poll"
	"github.com/waypointer/guided-mission/internal/vehicle"
	"github.com/waypointer/guided-mission/types"
)

// Config describes the simulated airframe.
type Config struct {
	Home types.GlobalPosition
	// Speed is the horizontal ground speed in m/s.
	Speed float64
	// ClimbRate is the vertical speed in m/s, used for takeoff, altitude changes and landing.
	ClimbRate float64
	// ModeDelayPolls is the number of telemetry reads before a requested mode is reported.
	ModeDelayPolls int
	// ArmableAfter is the number of telemetry reads before pre-arm checks pass.
	ArmableAfter int
	Clock        poll.Clock
}

func (c Config) withDefaults() Config {
	if c.Speed <= 0 {
		c.Speed = 5
	}
	if c.ClimbRate <= 0 {
		c.ClimbRate = 2.5
	}
	if c.Clock == nil {
		c.Clock = poll.Wall
	}
	return c
}

// Vehicle is a simulated copter. The zero value is not usable; call New.
type Vehicle struct {
	cfg Config

	mu       sync.Mutex
	state    types.Telemetry
	last     time.Time
	reads    int
	target   *types.GlobalPosition // horizontal and vertical goal in GUIDED
	pending  *types.FlightMode
	modeWait int
	closed   bool
}

var _ vehicle.Vehicle = (*Vehicle)(nil)

// New returns a disarmed vehicle sitting at cfg.Home in STABILIZE.
func New(cfg Config) *Vehicle {
	cfg = cfg.withDefaults()
	home := cfg.Home
	home.Alt = 0
	return &Vehicle{
		cfg:   cfg,
		state: types.Telemetry{Mode: types.ModeStabilize, Position: home},
		last:  cfg.Clock.Now(),
	}
}

func (s *Vehicle) Telemetry(ctx context.Context) (types.Telemetry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return types.Telemetry{}, err
	}
	s.advance()
	s.reads++
	if !s.state.Armable && s.reads > s.cfg.ArmableAfter {
		s.state.Armable = true
		log.Println("[sim] pre-arm checks passed")
	}
	if s.pending != nil {
		if s.modeWait > 0 {
			s.modeWait--
		} else {
			s.enterMode(*s.pending)
			s.pending = nil
		}
	}
	return s.state, nil
}

func (s *Vehicle) RequestMode(ctx context.Context, mode types.FlightMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.advance()
	m := mode
	s.pending = &m
	s.modeWait = s.cfg.ModeDelayPolls
	return nil
}

func (s *Vehicle) RequestArm(ctx context.Context, arm bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.advance()
	switch {
	case !arm:
		if s.state.Position.Alt > 0 {
			log.Println("[sim] disarm refused: airborne")
			return nil
		}
		s.state.Armed = false
	case !s.state.Armable:
		log.Println("[sim] arm refused: pre-arm checks failing")
	default:
		s.state.Armed = true
	}
	return nil
}

func (s *Vehicle) RequestTakeoff(ctx context.Context, altitude float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.advance()
	if !s.state.Armed || s.state.Mode != types.ModeGuided {
		log.Printf("[sim] takeoff refused: armed=%v mode=%s", s.state.Armed, s.state.Mode)
		return nil
	}
	t := s.state.Position
	t.Alt = altitude
	s.target = &t
	return nil
}

func (s *Vehicle) RequestGoto(ctx context.Context, target types.GlobalPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.advance()
	if s.state.Mode != types.ModeGuided {
		log.Printf("[sim] goto ignored in %s", s.state.Mode)
		return nil
	}
	t := target
	s.target = &t
	return nil
}

// Close disconnects the simulator; later calls fail with vehicle.ErrConnection.
func (s *Vehicle) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Vehicle) check(ctx context.Context) error {
	if s.closed {
		return vehicle.ErrConnection
	}
	return ctx.Err()
}

func (s *Vehicle) enterMode(m types.FlightMode) {
	if m == s.state.Mode {
		return
	}
	log.Printf("[sim] mode %s -> %s", s.state.Mode, m)
	s.state.Mode = m
	switch m {
	case types.ModeGuided:
		// hold where we are until told otherwise
		t := s.state.Position
		s.target = &t
	case types.ModeRTL:
		t := s.cfg.Home
		t.Alt = s.state.Position.Alt
		s.target = &t
	default:
		s.target = nil
	}
}

// advance integrates motion since the last call.
func (s *Vehicle) advance() {
	now := s.cfg.Clock.Now()
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 || !s.state.Armed {
		return
	}

	pos := &s.state.Position
	switch s.state.Mode {
	case types.ModeGuided, types.ModeRTL:
		if s.target == nil {
			return
		}
		moveHorizontal(pos, *s.target, s.cfg.Speed*dt)
		pos.Alt = approach(pos.Alt, s.target.Alt, s.cfg.ClimbRate*dt)
		if s.state.Mode == types.ModeRTL && pos.Lat == s.cfg.Home.Lat && pos.Lon == s.cfg.Home.Lon {
			s.state.Mode = types.ModeLand
			s.target = nil
		}
	case types.ModeLand:
		pos.Alt = approach(pos.Alt, 0, s.cfg.ClimbRate*dt)
		if pos.Alt == 0 {
			s.state.Armed = false
			log.Println("[sim] touchdown, disarmed")
		}
	}
}

// moveHorizontal moves pos up to step meters toward target on the local
// tangent plane, snapping onto it when within reach.
func moveHorizontal(pos *types.GlobalPosition, target types.GlobalPosition, step float64) {
	latRad := pos.Lat * math.Pi / 180
	north := (target.Lat - pos.Lat) * math.Pi / 180 * geo.EarthRadius
	east := geo.WrapLongitude(target.Lon-pos.Lon) * math.Pi / 180 * geo.EarthRadius * math.Cos(latRad)
	dist := math.Hypot(north, east)
	if dist <= step {
		pos.Lat, pos.Lon = target.Lat, target.Lon
		return
	}
	k := step / dist
	next := geo.Offset(*pos, types.OffsetVector{North: north * k, East: east * k}, pos.Alt)
	pos.Lat, pos.Lon = next.Lat, next.Lon
}

func approach(from, to, step float64) float64 {
	switch {
	case math.Abs(to-from) <= step:
		return to
	case to > from:
		return from + step
	default:
		return from - step
	}
}
