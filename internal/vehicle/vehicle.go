// Package vehicle defines the command and telemetry boundary to a flight controller.
package vehicle

import (
	"context"
	"errors"

	"github.com/waypointer/guided-mission/types"
)

// ErrConnection is returned once the link to the flight controller is gone.
var ErrConnection = errors.New("vehicle: connection lost")

// Vehicle is a connected flight controller. Requests are fire-and-forget:
// their effect is only visible through later Telemetry reads.
//
// A Vehicle is owned by a single mission at a time.
type Vehicle interface {
	Telemetry(ctx context.Context) (types.Telemetry, error)
	RequestMode(ctx context.Context, mode types.FlightMode) error
	RequestArm(ctx context.Context, arm bool) error
	RequestTakeoff(ctx context.Context, altitude float64) error
	RequestGoto(ctx context.Context, target types.GlobalPosition) error
	Close() error
}
