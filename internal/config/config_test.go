package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/waypointer/guided-mission/internal/mission"
	"github.com/waypointer/guided-mission/types"
)

const sample = `
vehicle:
  endpoint: "sim://"
mission:
  id: "square"
  takeoff_altitude: 12
  default_threshold: 2
  waypoint_timeout: 90s
  dwell_policy: loiter
  waypoints:
    - name: "A"
      offset: "20, 0"
      altitude: 12
      dwell: 3s
    - north: 0
      east: 20
      altitude: 12
      threshold: 1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := load(viper.New(), writeConfig(t, sample))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vehicle.Endpoint != "sim://" || cfg.Mission.TakeoffAltitude != 12 {
		t.Errorf("cfg = %+v", cfg)
	}
	// defaults fill whatever the file leaves out
	if cfg.Mission.ModeTimeout != 10*time.Second || cfg.Mission.PollInterval != time.Second {
		t.Errorf("mode_timeout=%v poll_interval=%v", cfg.Mission.ModeTimeout, cfg.Mission.PollInterval)
	}
	if cfg.Mission.WaypointTimeout != 90*time.Second || !cfg.Mission.Land || cfg.Progress.Dir != "./state" {
		t.Errorf("mission = %+v progress = %+v", cfg.Mission, cfg.Progress)
	}

	plan, err := cfg.Mission.Plan()
	if err != nil {
		t.Fatal(err)
	}
	wps := plan.Waypoints()
	if len(wps) != 2 || plan.ID() != "square" {
		t.Fatalf("plan = %+v", wps)
	}
	if wps[0].Offset != (types.OffsetVector{North: 20}) || wps[0].Dwell != 3*time.Second || wps[0].Threshold != 2 {
		t.Errorf("WP A = %+v", wps[0])
	}
	if wps[1].Name != "WP2" || wps[1].Offset != (types.OffsetVector{East: 20}) || wps[1].Threshold != 1 {
		t.Errorf("WP2 = %+v", wps[1])
	}

	if p := cfg.Mission.Policy(nil); p.Dwell != mission.DwellLoiter || p.WaypointTimeout != 90*time.Second {
		t.Errorf("policy = %+v", p)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("VEHICLE_ENDPOINT", "tcp:10.0.0.5:5760")
	cfg, err := load(viper.New(), writeConfig(t, sample))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vehicle.Endpoint != "tcp:10.0.0.5:5760" {
		t.Errorf("endpoint = %q", cfg.Vehicle.Endpoint)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"bad offset":     "mission:\n  waypoints:\n    - offset: \"north\"\n",
		"negative dwell": "mission:\n  waypoints:\n    - dwell: -2s\n",
		"dwell policy":   "mission:\n  dwell_policy: hover\n",
		"takeoff":        "mission:\n  takeoff_altitude: -1\n",
		"home":           "simulator:\n  home: \"95,10\"\n",
		"system id 0":    "vehicle:\n  system_id: 0\n",
		"system id 256":  "vehicle:\n  system_id: 256\n",
		"offset + north": "mission:\n  waypoints:\n    - offset: \"10,0\"\n      north: 5\n",
		"offset + east":  "mission:\n  waypoints:\n    - offset: \"10,0\"\n      east: 0\n",
	} {
		if _, err := load(viper.New(), writeConfig(t, body)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
	if _, err := load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("missing file: %v", err)
	}
}

func TestLoadConfigSetsCurrent(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sample))
	if err != nil {
		t.Fatal(err)
	}
	if GetCurrentConfig() == nil || GetCurrentConfig().Mission.ID != cfg.Mission.ID {
		t.Errorf("current = %+v", GetCurrentConfig())
	}
}

func TestParseCoord(t *testing.T) {
	c, err := ParseCoord("12.9716, 77.5946")
	if err != nil || c.Lat != 12.9716 || c.Lon != 77.5946 {
		t.Errorf("got %v, %v", c, err)
	}
	for _, bad := range []string{"", "12.9", "a,b", "1,2,3", "91,0", "0,181", "NaN,0"} {
		if _, err := ParseCoord(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestParseOffset(t *testing.T) {
	o, err := ParseOffset("-20,5")
	if err != nil || o != (types.OffsetVector{North: -20, East: 5}) {
		t.Errorf("got %v, %v", o, err)
	}
	if _, err := ParseOffset("20"); err == nil {
		t.Error("single number accepted")
	}
}
