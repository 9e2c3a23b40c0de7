package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/waypointer/guided-mission/internal/config"
	"github.com/waypointer/guided-mission/internal/flight"
	"github.com/waypointer/guided-mission/internal/flightlog"
	"github.com/waypointer/guided-mission/internal/mission"
	"github.com/waypointer/guided-mission/internal/poll"
	"github.com/waypointer/guided-mission/internal/progress"
	"github.com/waypointer/guided-mission/internal/status"
	"github.com/waypointer/guided-mission/internal/vehicle"
	"github.com/waypointer/guided-mission/internal/vehicle/dial"
)

// airborneAltitude is the relative altitude above which a resumed mission
// skips the takeoff sequence.
const airborneAltitude = 1.0

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	endpoint := flag.String("endpoint", "", "vehicle endpoint, overrides vehicle.endpoint (sim:// for the simulator)")
	resume := flag.Bool("resume", false, "continue from the saved checkpoint of this mission")
	statusAddr := flag.String("status-addr", "", "status API listen address, overrides status.addr")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *endpoint != "" {
		cfg.Vehicle.Endpoint = *endpoint
	}
	if *statusAddr != "" {
		cfg.Status.Addr = *statusAddr
	}

	ctx := progress.WithSignalHandler(context.Background())
	if err := run(ctx, cfg, *resume); err != nil {
		log.Printf("[main] mission failed: %v", err)
		os.Exit(1)
	}
	log.Println("[main] mission complete")
}

func run(ctx context.Context, cfg *config.AppConfig, resume bool) error {
	simCfg, err := cfg.Simulator.Config(poll.Wall)
	if err != nil {
		return err
	}
	v, err := dial.Dial(ctx, cfg.Vehicle.Endpoint, dial.Options{SystemID: byte(cfg.Vehicle.SystemID), Simulator: simCfg})
	if err != nil {
		return err
	}
	defer v.Close()
	log.Printf("[main] connected to %s", cfg.Vehicle.Endpoint)

	hub := status.NewHub()
	if cfg.Status.Addr != "" {
		go func() {
			if err := status.Serve(ctx, cfg.Status.Addr, hub); err != nil {
				log.Printf("[status] server error: %v", err)
			}
		}()
	}

	store := progress.Store{Dir: cfg.Progress.Dir}
	var resumed *progress.Checkpoint
	if resume {
		resumed = loadCheckpoint(store, cfg.Mission.ID)
	}

	if err := takeoff(ctx, v, cfg.Mission, resumed != nil); err != nil {
		return err
	}

	// edits made to the file while the vehicle was arming apply to this run
	mcfg := config.GetCurrentConfig().Mission
	plan, err := mcfg.Plan()
	if err != nil {
		return err
	}
	if resumed != nil {
		remaining, ok := resumed.Resume(plan)
		if ok {
			plan = remaining
			log.Printf("[main] resuming %s at waypoint %d/%d", plan.ID(), plan.Base()+1, plan.Total())
		} else {
			log.Printf("[main] checkpoint of %s (%d waypoints) does not match plan %s (%d waypoints), starting from the first waypoint",
				resumed.MissionID, resumed.Total, plan.ID(), plan.Total())
			resumed = nil
		}
	}

	tracker := progress.NewTracker(store, resumed)
	exec := &mission.Executor{
		Vehicle: v,
		Policy:  mcfg.Policy(poll.Wall),
		Observer: func(ev mission.Event) {
			hub.Observe(ev)
			tracker.Observe(ev)
		},
	}

	started := time.Now()
	outcomes, missionErr := exec.Execute(ctx, plan)
	for _, o := range outcomes {
		log.Printf("[main] WP %d %s: arrived=%v error=%.2fm in %.0fs", o.Index+1, o.Waypoint.Name, o.Arrived, o.DistanceError, o.ElapsedSeconds)
	}

	if missionErr == nil && mcfg.Land {
		missionErr = flight.Land(ctx, v, mcfg.FlightOptions(poll.Wall))
	}

	if cfg.FlightLog.DatabaseURL != "" {
		entry := flightlog.Run{
			MissionID: plan.ID(),
			Endpoint:  cfg.Vehicle.Endpoint,
			StartedAt: started,
			EndedAt:   time.Now(),
			State:     mission.StateCompleted,
			Outcomes:  outcomes,
		}
		if resumed != nil {
			entry.Outcomes = append(append([]mission.Outcome(nil), resumed.Outcomes...), outcomes...)
		}
		if missionErr != nil {
			entry.State, entry.Error = mission.StateAborted, missionErr.Error()
		}
		record(cfg.FlightLog.DatabaseURL, entry)
	}
	return missionErr
}

func loadCheckpoint(store progress.Store, missionID string) *progress.Checkpoint {
	cp, err := store.Load(missionID)
	switch {
	case os.IsNotExist(err):
		log.Printf("[main] no checkpoint for %s, starting from the first waypoint", missionID)
		return nil
	case err != nil:
		log.Printf("[main] unreadable checkpoint for %s: %v", missionID, err)
		return nil
	case cp.State == mission.StateCompleted:
		log.Printf("[main] %s already completed, flying it again", missionID)
		return nil
	}
	return cp
}

// takeoff arms and climbs unless a resumed mission finds the vehicle already flying.
func takeoff(ctx context.Context, v vehicle.Vehicle, m config.MissionConfig, resuming bool) error {
	if resuming {
		t, err := v.Telemetry(ctx)
		if err != nil {
			return err
		}
		if t.Armed && t.Position.Alt > airborneAltitude {
			log.Printf("[main] vehicle airborne at %.1fm, skipping takeoff", t.Position.Alt)
			return nil
		}
	}
	return flight.ArmAndAscend(ctx, v, m.TakeoffAltitude, m.FlightOptions(poll.Wall))
}

// record stores the run even when the mission context was cancelled.
func record(databaseURL string, run flightlog.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := flightlog.Open(ctx, databaseURL)
	if err != nil {
		log.Printf("[flightlog] %v", err)
		return
	}
	defer rec.Close()

	id, err := rec.Record(ctx, run)
	if err != nil {
		log.Printf("[flightlog] recording %s failed: %v", run.MissionID, err)
		return
	}
	log.Printf("[flightlog] recorded run %d of %s", id, run.MissionID)

	recent, err := rec.Recent(ctx, run.MissionID, 5)
	if err != nil {
		return
	}
	for _, r := range recent {
		log.Printf("[flightlog]   run %d %s %d/%d arrived, ended %s", r.ID, r.State, r.Arrived, r.Waypoints, r.EndedAt.Format(time.RFC3339))
	}
}
