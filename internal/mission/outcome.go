package mission

import (
	"time"

	"github.com/waypointer/guided-mission/types"
)

// State is the executor's position in the mission state machine.
type State string

const (
	StateIdle       State = "idle"
	StateNavigating State = "navigating"
	StateDwelling   State = "dwelling"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// Outcome records how one waypoint went.
type Outcome struct {
	Index          int                  `json:"index"`
	Waypoint       WaypointSpec         `json:"waypoint"`
	Origin         types.GlobalPosition `json:"origin"`
	Target         types.GlobalPosition `json:"target"`
	Achieved       types.GlobalPosition `json:"achieved"`
	DistanceError  float64              `json:"distance_error"`
	ElapsedSeconds float64              `json:"elapsed_seconds"`
	Arrived        bool                 `json:"arrived"`
}

// EventKind tags an executor Event.
type EventKind string

const (
	EventStarted      EventKind = "started"
	EventNavigating   EventKind = "navigating"
	EventProgress     EventKind = "progress"
	EventArrived      EventKind = "arrived"
	EventDwelling     EventKind = "dwelling"
	EventWaypointDone EventKind = "waypoint_done"
	EventCompleted    EventKind = "completed"
	EventAborted      EventKind = "aborted"
)

// Event is published by the executor on every state change and telemetry sample.
type Event struct {
	Kind      EventKind            `json:"kind"`
	MissionID string               `json:"mission_id"`
	State     State                `json:"state"`
	Index     int                  `json:"index"`
	Total     int                  `json:"total"`
	Waypoint  string               `json:"waypoint,omitempty"`
	Position  types.GlobalPosition `json:"position"`
	Distance  float64              `json:"distance"`
	Remaining time.Duration        `json:"remaining,omitempty"`
	Outcome   *Outcome             `json:"outcome,omitempty"`
	Error     string               `json:"error,omitempty"`
	Time      time.Time            `json:"time"`
}
