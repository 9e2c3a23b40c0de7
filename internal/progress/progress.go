// Package progress persists mission checkpoints so an interrupted mission
// can resume with the waypoints it had not finished.
package progress

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/waypointer/guided-mission/internal/mission"
)

// DefaultDir is where checkpoints live unless configured otherwise.
const DefaultDir = "./state"

// Checkpoint is the saved state of one mission.
type Checkpoint struct {
	MissionID string            `json:"mission_id"`
	Total     int               `json:"total"`
	Completed int               `json:"completed"`
	State     mission.State     `json:"state"`
	Outcomes  []mission.Outcome `json:"outcomes"`
	Error     string            `json:"error,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Resume drops the waypoints cp already finished from plan. It reports false,
// and returns plan unchanged, when cp belongs to another mission or to a plan
// with a different number of waypoints.
func (cp *Checkpoint) Resume(plan mission.Plan) (mission.Plan, bool) {
	if cp == nil || cp.MissionID != plan.ID() || cp.Total != plan.Total() {
		return plan, false
	}
	return plan.Remaining(cp.Completed), true
}

// Store reads and writes checkpoints as <dir>/<mission-id>.json.
type Store struct {
	Dir string
}

// Ensure folder exists
func (s Store) ensureDir() (string, error) {
	dir := s.Dir
	if dir == "" {
		dir = DefaultDir
	}
	return dir, os.MkdirAll(dir, os.ModePerm)
}

func (s Store) Load(missionID string) (*Checkpoint, error) {
	dir, err := s.ensureDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, missionID+".json"))
	if err != nil {
		return nil, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Save writes cp through a temporary file so a crash never leaves half a checkpoint.
func (s Store) Save(cp *Checkpoint) error {
	dir, err := s.ensureDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, cp.MissionID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Tracker folds executor events into a checkpoint and saves it after every
// finished waypoint and when the mission ends.
type Tracker struct {
	store Store

	mu sync.Mutex
	cp Checkpoint
}

// NewTracker starts from resumed, or from an empty checkpoint when nil.
func NewTracker(store Store, resumed *Checkpoint) *Tracker {
	t := &Tracker{store: store}
	if resumed != nil {
		t.cp = *resumed
		t.cp.Outcomes = append([]mission.Outcome(nil), resumed.Outcomes...)
	}
	return t
}

// Observe is a mission.Executor observer.
func (t *Tracker) Observe(ev mission.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cp.MissionID = ev.MissionID
	t.cp.Total = ev.Total
	t.cp.State = ev.State
	t.cp.UpdatedAt = ev.Time

	switch ev.Kind {
	case mission.EventWaypointDone:
		t.cp.Completed = ev.Index + 1
		if ev.Outcome != nil {
			t.cp.Outcomes = append(t.cp.Outcomes, *ev.Outcome)
		}
	case mission.EventAborted:
		t.cp.Error = ev.Error
	case mission.EventCompleted:
		t.cp.Completed = ev.Total
		t.cp.Error = ""
	default:
		return
	}
	if err := t.store.Save(&t.cp); err != nil {
		log.Printf("[progress] saving %s failed: %v", ev.MissionID, err)
	}
}

// Checkpoint returns a copy of the current state.
func (t *Tracker) Checkpoint() Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := t.cp
	cp.Outcomes = append([]mission.Outcome(nil), t.cp.Outcomes...)
	return cp
}

// WithSignalHandler creates a context that cancels on OS signals
func WithSignalHandler(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Printf("[progress] received %v, stopping mission and saving state", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx
}
