package types

import (
	"fmt"
	"strings"
)

// GlobalPosition holds lat/lon in degrees and altitude relative to home in meters
type GlobalPosition struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

func (p GlobalPosition) String() string {
	return fmt.Sprintf("lat=%.7f lon=%.7f alt=%.2fm", p.Lat, p.Lon, p.Alt)
}

// OffsetVector is a north/east displacement in meters on the local tangent plane
type OffsetVector struct {
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// FlightMode is the autopilot mode name as reported by the vehicle
type FlightMode string

const (
	ModeStabilize FlightMode = "STABILIZE"
	ModeAltHold   FlightMode = "ALT_HOLD"
	ModeAuto      FlightMode = "AUTO"
	ModeGuided    FlightMode = "GUIDED"
	ModeLoiter    FlightMode = "LOITER"
	ModeRTL       FlightMode = "RTL"
	ModeLand      FlightMode = "LAND"
	ModeUnknown   FlightMode = "UNKNOWN"
)

// ParseFlightMode converts a mode name into a FlightMode.
func ParseFlightMode(value string) (FlightMode, error) {
	switch m := FlightMode(strings.ToUpper(strings.TrimSpace(value))); m {
	case ModeStabilize, ModeAltHold, ModeAuto, ModeGuided, ModeLoiter, ModeRTL, ModeLand:
		return m, nil
	default:
		return ModeUnknown, fmt.Errorf("unknown flight mode %q", value)
	}
}

// Telemetry is a point-in-time snapshot of the vehicle state
type Telemetry struct {
	Mode     FlightMode     `json:"mode"`
	Armed    bool           `json:"armed"`
	Armable  bool           `json:"armable"`
	Position GlobalPosition `json:"position"`
}
