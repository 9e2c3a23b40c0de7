package config

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/waypointer/guided-mission/internal/flight"
	"github.com/waypointer/guided-mission/internal/mission"
	"github.com/waypointer/guided-mission/internal/poll"
	"github.com/waypointer/guided-mission/internal/simulator"
	"github.com/waypointer/guided-mission/types"
)

var (
	configMutex   sync.RWMutex
	currentConfig *AppConfig
)

// VehicleConfig selects the flight controller link
type VehicleConfig struct {
	Endpoint string `mapstructure:"endpoint"` // "tcp:host:port", "sim://", ...
	SystemID int    `mapstructure:"system_id"`
}

// SimulatorConfig describes the simulated airframe used with sim://
type SimulatorConfig struct {
	Speed          float64 `mapstructure:"speed"`
	ClimbRate      float64 `mapstructure:"climb_rate"`
	ModeDelayPolls int     `mapstructure:"mode_delay_polls"`
	ArmableAfter   int     `mapstructure:"armable_after"`
	Home           string  `mapstructure:"home"` // "lat,lon"
}

// WaypointConfig is one leg, either as offset "north,east" or as separate numbers
type WaypointConfig struct {
	Name      string        `mapstructure:"name"`
	Offset    string        `mapstructure:"offset"`
	North     *float64      `mapstructure:"north"`
	East      *float64      `mapstructure:"east"`
	Altitude  float64       `mapstructure:"altitude"`
	Threshold float64       `mapstructure:"threshold"`
	Dwell     time.Duration `mapstructure:"dwell"`
}

// MissionConfig holds the plan and how to fly it
type MissionConfig struct {
	ID               string           `mapstructure:"id"`
	TakeoffAltitude  float64          `mapstructure:"takeoff_altitude"`
	DefaultThreshold float64          `mapstructure:"default_threshold"`
	PollInterval     time.Duration    `mapstructure:"poll_interval"`
	ModePollInterval time.Duration    `mapstructure:"mode_poll_interval"`
	ModeTimeout      time.Duration    `mapstructure:"mode_timeout"`
	WaypointTimeout  time.Duration    `mapstructure:"waypoint_timeout"`
	ArmTimeout       time.Duration    `mapstructure:"arm_timeout"`
	DwellPolicy      string           `mapstructure:"dwell_policy"`
	Land             bool             `mapstructure:"land"`
	Waypoints        []WaypointConfig `mapstructure:"waypoints"`
}

type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

type FlightLogConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

type ProgressConfig struct {
	Dir string `mapstructure:"dir"`
}

// AppConfig holds entire config
type AppConfig struct {
	Vehicle   VehicleConfig   `mapstructure:"vehicle"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Mission   MissionConfig   `mapstructure:"mission"`
	Status    StatusConfig    `mapstructure:"status"`
	FlightLog FlightLogConfig `mapstructure:"flightlog"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vehicle.endpoint", "tcp:127.0.0.1:5762")
	v.SetDefault("vehicle.system_id", 255)
	v.SetDefault("simulator.speed", 5.0)
	v.SetDefault("simulator.climb_rate", 2.5)
	v.SetDefault("simulator.mode_delay_polls", 1)
	v.SetDefault("simulator.armable_after", 3)
	v.SetDefault("simulator.home", "-35.363261,149.165230")
	v.SetDefault("mission.id", "mission")
	v.SetDefault("mission.takeoff_altitude", 10.0)
	v.SetDefault("mission.default_threshold", mission.DefaultThreshold)
	v.SetDefault("mission.poll_interval", flight.DefaultPollInterval)
	v.SetDefault("mission.mode_poll_interval", flight.DefaultModePollInterval)
	v.SetDefault("mission.mode_timeout", flight.DefaultModeTimeout)
	v.SetDefault("mission.waypoint_timeout", time.Duration(0))
	v.SetDefault("mission.arm_timeout", time.Duration(0))
	v.SetDefault("mission.dwell_policy", string(mission.DwellGuided))
	v.SetDefault("mission.land", true)
	v.SetDefault("status.addr", "")
	v.SetDefault("flightlog.database_url", "")
	v.SetDefault("progress.dir", "./state")
}

// load reads path into v. Environment variables override file values,
// e.g. MISSION_ID or VEHICLE_ENDPOINT.
func load(v *viper.Viper, path string) (*AppConfig, error) {
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Explicitly set the config type if not using file extension
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig initializes and loads the configuration and keeps it fresh as
// the file changes. A running mission keeps the plan it started with.
func LoadConfig(path string) (*AppConfig, error) {
	cfg, err := load(viper.GetViper(), path)
	if err != nil {
		return nil, err
	}

	configMutex.Lock()
	currentConfig = cfg
	configMutex.Unlock()

	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		var newCfg AppConfig
		if err := viper.Unmarshal(&newCfg); err != nil {
			log.Printf("[config] reload of %s failed: %v", e.Name, err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			log.Printf("[config] ignoring %s: %v", e.Name, err)
			return
		}
		configMutex.Lock()
		currentConfig = &newCfg
		configMutex.Unlock()
		log.Printf("[config] reloaded %s (%d waypoints)", e.Name, len(newCfg.Mission.Waypoints))
	})

	return cfg, nil
}

// GetCurrentConfig returns the current configuration in a thread-safe way
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return currentConfig
}

// Validate checks everything that can be checked before flying.
func (c *AppConfig) Validate() error {
	if c.Vehicle.Endpoint == "" {
		return errors.New("vehicle.endpoint is required")
	}
	if c.Vehicle.SystemID < 1 || c.Vehicle.SystemID > 255 {
		return errors.Errorf("vehicle.system_id must be within 1..255, got %d", c.Vehicle.SystemID)
	}
	if c.Mission.TakeoffAltitude <= 0 {
		return errors.Errorf("mission.takeoff_altitude must be positive, got %v", c.Mission.TakeoffAltitude)
	}
	if _, err := mission.ParseDwellPolicy(c.Mission.DwellPolicy); err != nil {
		return errors.Wrap(err, "mission.dwell_policy")
	}
	if _, err := c.Mission.Plan(); err != nil {
		return err
	}
	if _, err := c.Simulator.Config(nil); err != nil {
		return err
	}
	return nil
}

// Plan resolves the configured waypoints.
func (m MissionConfig) Plan() (mission.Plan, error) {
	specs := make([]mission.WaypointSpec, 0, len(m.Waypoints))
	for i, w := range m.Waypoints {
		var off types.OffsetVector
		if w.North != nil {
			off.North = *w.North
		}
		if w.East != nil {
			off.East = *w.East
		}
		if w.Offset != "" {
			if w.North != nil || w.East != nil {
				return mission.Plan{}, errors.Errorf("mission.waypoints[%d]: offset cannot be combined with north/east", i)
			}
			var err error
			if off, err = ParseOffset(w.Offset); err != nil {
				return mission.Plan{}, errors.Wrapf(err, "mission.waypoints[%d]", i)
			}
		}
		specs = append(specs, mission.WaypointSpec{
			Name:      w.Name,
			Offset:    off,
			Altitude:  w.Altitude,
			Threshold: w.Threshold,
			Dwell:     w.Dwell,
		})
	}
	plan, err := mission.NewPlan(m.ID, specs, m.DefaultThreshold)
	return plan, errors.Wrap(err, "mission.waypoints")
}

// Policy returns the executor settings running on clk.
func (m MissionConfig) Policy(clk poll.Clock) mission.Policy {
	dwell, _ := mission.ParseDwellPolicy(m.DwellPolicy)
	return mission.Policy{
		PollInterval:     m.PollInterval,
		ModePollInterval: m.ModePollInterval,
		ModeTimeout:      m.ModeTimeout,
		WaypointTimeout:  m.WaypointTimeout,
		Dwell:            dwell,
		Clock:            clk,
	}
}

// FlightOptions returns the takeoff and landing settings running on clk.
func (m MissionConfig) FlightOptions(clk poll.Clock) flight.Options {
	return flight.Options{
		Clock:            clk,
		ModePollInterval: m.ModePollInterval,
		ModeTimeout:      m.ModeTimeout,
		PollInterval:     m.PollInterval,
		ArmTimeout:       m.ArmTimeout,
	}
}

// Config converts the simulator section, running on clk.
func (s SimulatorConfig) Config(clk poll.Clock) (simulator.Config, error) {
	home, err := ParseCoord(s.Home)
	if err != nil {
		return simulator.Config{}, errors.Wrap(err, "simulator.home")
	}
	return simulator.Config{
		Home:           home,
		Speed:          s.Speed,
		ClimbRate:      s.ClimbRate,
		ModeDelayPolls: s.ModeDelayPolls,
		ArmableAfter:   s.ArmableAfter,
		Clock:          clk,
	}, nil
}

// ParseCoord parses a string like "12.9716,77.5946" into a position at altitude 0
func ParseCoord(input string) (types.GlobalPosition, error) {
	lat, lon, err := parsePair(input)
	if err != nil {
		return types.GlobalPosition{}, errors.Wrap(err, "invalid lat/lon")
	}
	if !(lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180) {
		return types.GlobalPosition{}, errors.Errorf("lat/lon out of range: %s", input)
	}
	return types.GlobalPosition{Lat: lat, Lon: lon}, nil
}

// ParseOffset parses "north,east" in meters
func ParseOffset(input string) (types.OffsetVector, error) {
	n, e, err := parsePair(input)
	if err != nil {
		return types.OffsetVector{}, errors.Wrap(err, "invalid offset")
	}
	return types.OffsetVector{North: n, East: e}, nil
}

func parsePair(input string) (float64, float64, error) {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("expected two comma separated numbers: %q", input)
	}
	a, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	b, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, errors.Errorf("not a number: %q", input)
	}
	return a, b, nil
}
