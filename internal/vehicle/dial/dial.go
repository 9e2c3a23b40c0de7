// Package dial opens a vehicle.Vehicle from an endpoint string.
package dial

import (
	"context"
	"strings"

	"github.com/waypointer/guided-mission/internal/simulator"
	"github.com/waypointer/guided-mission/internal/vehicle"
	"github.com/waypointer/guided-mission/internal/vehicle/mavlink"
)

// SimScheme selects the in-process simulator.
const SimScheme = "sim://"

// Options carries settings for both kinds of vehicle.
type Options struct {
	SystemID  byte
	Simulator simulator.Config
}

// Dial connects to endpoint. "sim://" starts a simulator; anything else is
// handed to the MAVLink client.
func Dial(ctx context.Context, endpoint string, opts Options) (vehicle.Vehicle, error) {
	if strings.HasPrefix(endpoint, SimScheme) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return simulator.New(opts.Simulator), nil
	}
	return mavlink.Connect(ctx, mavlink.Config{Endpoint: endpoint, SystemID: opts.SystemID})
}
