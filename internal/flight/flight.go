// Package flight drives the pre-mission and post-mission vehicle sequences:
// confirmed mode changes, arm and takeoff, and landing.
package flight

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/waypointer/guided-mission/internal/poll"
	"github.com/waypointer/guided-mission/internal/vehicle"
	"github.com/waypointer/guided-mission/types"
)

// ErrModeTimeout reports a mode change the vehicle did not confirm in time.
var ErrModeTimeout = errors.New("flight: mode change not confirmed")

const (
	// TakeoffFraction of the target altitude counts as reached.
	TakeoffFraction = 0.95
	// LandedAltitude is the relative altitude at which a landing is complete.
	LandedAltitude = 0.2

	DefaultModePollInterval = 500 * time.Millisecond
	DefaultModeTimeout      = 10 * time.Second
	DefaultPollInterval     = time.Second
)

// Options controls polling cadence and deadlines. Zero timeouts other than
// ModeTimeout mean wait forever.
type Options struct {
	Clock            poll.Clock
	ModePollInterval time.Duration
	ModeTimeout      time.Duration
	PollInterval     time.Duration
	ArmTimeout       time.Duration // armable and armed waits
	ClimbTimeout     time.Duration
	LandTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = poll.Wall
	}
	if o.ModePollInterval <= 0 {
		o.ModePollInterval = DefaultModePollInterval
	}
	if o.ModeTimeout <= 0 {
		o.ModeTimeout = DefaultModeTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return o
}

// SetMode requests mode and waits until the vehicle reports it or
// opts.ModeTimeout passes. An unconfirmed change returns (false, nil);
// vehicle errors are returned as they are. The request is sent once.
func SetMode(ctx context.Context, v vehicle.Vehicle, mode types.FlightMode, opts Options) (bool, error) {
	opts = opts.withDefaults()
	if err := v.RequestMode(ctx, mode); err != nil {
		return false, err
	}
	err := poll.Until(ctx, opts.Clock, opts.ModePollInterval, opts.ModeTimeout, func() (bool, error) {
		t, err := v.Telemetry(ctx)
		if err != nil {
			return false, err
		}
		return t.Mode == mode, nil
	})
	switch {
	case err == nil:
		log.Printf("[mode] %s active", mode)
		return true, nil
	case errors.Is(err, poll.ErrDeadline):
		log.Printf("[mode] timeout waiting for %s after %v", mode, opts.ModeTimeout)
		return false, nil
	default:
		return false, err
	}
}

// RequireMode is SetMode with an unconfirmed change turned into ErrModeTimeout.
func RequireMode(ctx context.Context, v vehicle.Vehicle, mode types.FlightMode, opts Options) error {
	ok, err := SetMode(ctx, v, mode, opts)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrModeTimeout, mode)
	}
	return nil
}

// ArmAndAscend waits for the vehicle to become armable, switches to GUIDED,
// arms, and climbs until TakeoffFraction of altitude is reached.
func ArmAndAscend(ctx context.Context, v vehicle.Vehicle, altitude float64, opts Options) error {
	opts = opts.withDefaults()

	log.Println("[arm] waiting for vehicle to become armable")
	err := poll.Until(ctx, opts.Clock, opts.PollInterval, opts.ArmTimeout, func() (bool, error) {
		t, err := v.Telemetry(ctx)
		if err != nil {
			return false, err
		}
		return t.Armable, nil
	})
	if err != nil {
		return waitErr("armable", err)
	}

	if err := RequireMode(ctx, v, types.ModeGuided, opts); err != nil {
		return err
	}

	log.Println("[arm] arming motors")
	if err := v.RequestArm(ctx, true); err != nil {
		return err
	}
	err = poll.Until(ctx, opts.Clock, opts.PollInterval, opts.ArmTimeout, func() (bool, error) {
		t, err := v.Telemetry(ctx)
		if err != nil {
			return false, err
		}
		if !t.Armed {
			log.Println("[arm] waiting for arm")
		}
		return t.Armed, nil
	})
	if err != nil {
		return waitErr("armed", err)
	}
	log.Println("[arm] armed")

	log.Printf("[takeoff] climbing to %.1fm", altitude)
	if err := v.RequestTakeoff(ctx, altitude); err != nil {
		return err
	}
	err = poll.Until(ctx, opts.Clock, opts.PollInterval, opts.ClimbTimeout, func() (bool, error) {
		t, err := v.Telemetry(ctx)
		if err != nil {
			return false, err
		}
		log.Printf("[takeoff] altitude %.2fm", t.Position.Alt)
		return t.Position.Alt >= altitude*TakeoffFraction, nil
	})
	if err != nil {
		return waitErr("climb", err)
	}
	log.Printf("[takeoff] reached %.1fm", altitude)
	return nil
}

// Land switches to LAND and waits for touchdown.
func Land(ctx context.Context, v vehicle.Vehicle, opts Options) error {
	opts = opts.withDefaults()
	if err := RequireMode(ctx, v, types.ModeLand, opts); err != nil {
		return err
	}
	err := poll.Until(ctx, opts.Clock, opts.PollInterval, opts.LandTimeout, func() (bool, error) {
		t, err := v.Telemetry(ctx)
		if err != nil {
			return false, err
		}
		if t.Position.Alt > LandedAltitude {
			log.Printf("[land] descending %.2fm", t.Position.Alt)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return waitErr("touchdown", err)
	}
	log.Println("[land] landed")
	return nil
}

// waitErr names the deadline that expired and passes anything else through.
func waitErr(what string, err error) error {
	if errors.Is(err, poll.ErrDeadline) {
		return fmt.Errorf("flight: waiting for %s: %w", what, err)
	}
	return err
}
