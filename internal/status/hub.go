package status

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/waypointer/guided-mission/internal/mission"
	"github.com/waypointer/guided-mission/types"
)

// Snapshot is the latest known mission state.
type Snapshot struct {
	MissionID string               `json:"mission_id"`
	State     mission.State        `json:"state"`
	Index     int                  `json:"index"`
	Total     int                  `json:"total"`
	Waypoint  string               `json:"waypoint,omitempty"`
	Position  types.GlobalPosition `json:"position"`
	Distance  float64              `json:"distance"`
	Outcomes  []mission.Outcome    `json:"outcomes"`
	Error     string               `json:"error,omitempty"`
}

// subscriberBuffer is how many events a slow stream client may lag behind
// before events are dropped for it.
const subscriberBuffer = 32

// Hub keeps the mission snapshot and fans events out to stream clients.
// Publishing never blocks the executor.
type Hub struct {
	mu   sync.RWMutex
	snap Snapshot
	subs map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{
		snap: Snapshot{State: mission.StateIdle, Outcomes: []mission.Outcome{}},
		subs: make(map[chan []byte]struct{}),
	}
}

// Observe is a mission.Executor observer.
func (h *Hub) Observe(ev mission.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[status] encoding %s event: %v", ev.Kind, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s := &h.snap
	s.MissionID, s.State, s.Index, s.Total = ev.MissionID, ev.State, ev.Index, ev.Total
	if ev.Waypoint != "" {
		s.Waypoint = ev.Waypoint
	}
	switch ev.Kind {
	case mission.EventProgress, mission.EventNavigating, mission.EventArrived:
		s.Position, s.Distance = ev.Position, ev.Distance
	case mission.EventWaypointDone:
		if ev.Outcome != nil {
			s.Outcomes = append(s.Outcomes, *ev.Outcome)
		}
	case mission.EventAborted:
		s.Error = ev.Error
	}

	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			// slow client, drop
		}
	}
}

// Snapshot returns a copy of the latest state.
func (h *Hub) Snapshot() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := h.snap
	s.Outcomes = append([]mission.Outcome{}, h.snap.Outcomes...)
	return s
}

func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers is the number of connected stream clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
