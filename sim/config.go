package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Routing algorithm names accepted in config.
const (
	RoutingAStar    = "A_STAR"
	RoutingDijkstra = "DIJKSTRA"
)

// Traffic-light algorithm names accepted in config.
const (
	LightMaxPressure = "MAX_PRESSURE"
	LightQLearning   = "Q_LEARNING"
)

// SimulationConfig groups the top-level run parameters.
type SimulationConfig struct {
	TimeStep    float64 `yaml:"time_step"`    // seconds of simulated time per tick
	Duration    float64 `yaml:"duration"`     // total simulated seconds
	NumVehicles int     `yaml:"num_vehicles"` // initial fleet size
	RandomSeed  int64   `yaml:"random_seed"`  // master seed for PartitionedRNG
}

// EnvironmentConfig describes the simulated area and its road grid.
type EnvironmentConfig struct {
	Width    float64 `yaml:"width"`     // meters, east-west extent
	Height   float64 `yaml:"height"`    // meters, north-south extent
	CellSize float64 `yaml:"cell_size"` // meters between adjacent grid nodes
}

// RoutingConfig selects the path-finding algorithm.
type RoutingConfig struct {
	Algorithm       string `yaml:"algorithm"`        // A_STAR or DIJKSTRA
	CacheSize       int    `yaml:"cache_size"`       // LRU route cache capacity
	ConsiderTraffic bool   `yaml:"consider_traffic"` // apply dynamic congestion weights
}

// TrafficLightConfig selects the intersection control policy.
type TrafficLightConfig struct {
	Algorithm           string  `yaml:"algorithm"`            // MAX_PRESSURE or Q_LEARNING
	MinGreenTime        float64 `yaml:"min_green_time"`       // seconds
	MaxGreenTime        float64 `yaml:"max_green_time"`       // seconds
	YellowTime          float64 `yaml:"yellow_time"`          // seconds
	CongestionThreshold int     `yaml:"congestion_threshold"` // queue length considered congested
}

// AlgorithmsConfig groups the pluggable algorithm selections.
type AlgorithmsConfig struct {
	Routing      RoutingConfig      `yaml:"routing"`
	TrafficLight TrafficLightConfig `yaml:"traffic_light"`
}

// VehicleConfig groups the vehicle kinematic defaults.
type VehicleConfig struct {
	MaxSpeed          float64 `yaml:"max_speed"`          // m/s, standard vehicles
	Acceleration      float64 `yaml:"acceleration"`       // m/s^2
	Deceleration      float64 `yaml:"deceleration"`       // m/s^2
	RerouteInterval   float64 `yaml:"reroute_interval"`   // seconds between congestion reroutes
	PerceptionRadius  float64 `yaml:"perception_radius"`  // meters, nearby-vehicle scan
	WaypointTolerance float64 `yaml:"waypoint_tolerance"` // meters, waypoint reached
}

// Zone is a sampling region for scenario origin/destination selection.
type Zone struct {
	Name    string    `yaml:"name"`
	Weight  float64   `yaml:"weight"`
	Center  []float64 `yaml:"center"` // [x, y]
	JitterX float64   `yaml:"jitter_x"`
	JitterY float64   `yaml:"jitter_y"`
}

// RoadSegment names a corridor by its two endpoints.
type RoadSegment struct {
	Name        string      `yaml:"name"`
	Coordinates [][]float64 `yaml:"coordinates"` // [[x1,y1],[x2,y2]]
}

// ScenarioConfig parametrizes one named scenario.
type ScenarioConfig struct {
	StartTime        float64     `yaml:"start_time"`         // simulated seconds
	Duration         float64     `yaml:"duration"`           // simulated seconds
	GenerationRate   float64     `yaml:"generation_rate"`    // vehicles per second at peak
	OriginZones      []Zone      `yaml:"origin_zones"`       // weighted sampling regions
	DestinationZones []Zone      `yaml:"destination_zones"`  //
	BlockedRoad      RoadSegment `yaml:"blocked_road"`       // incident corridor
	NotifyRadius     float64     `yaml:"notify_radius"`      // meters, incident broadcast reach
	RebroadcastEvery float64     `yaml:"rebroadcast_every"`  // seconds, incident reminders
}

// Config is the root configuration document.
type Config struct {
	Simulation  SimulationConfig          `yaml:"simulation"`
	Environment EnvironmentConfig         `yaml:"environment"`
	Algorithms  AlgorithmsConfig          `yaml:"algorithms"`
	Vehicle     VehicleConfig             `yaml:"vehicle"`
	Scenarios   map[string]ScenarioConfig `yaml:"scenarios"`
}

// DefaultConfig returns the built-in configuration used when no YAML
// file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Simulation: SimulationConfig{
			TimeStep:    1.0,
			Duration:    600,
			NumVehicles: 50,
			RandomSeed:  42,
		},
		Environment: EnvironmentConfig{
			Width:    2000,
			Height:   2000,
			CellSize: 100,
		},
		Algorithms: AlgorithmsConfig{
			Routing: RoutingConfig{
				Algorithm:       RoutingAStar,
				CacheSize:       200,
				ConsiderTraffic: true,
			},
			TrafficLight: TrafficLightConfig{
				Algorithm:           LightMaxPressure,
				MinGreenTime:        15,
				MaxGreenTime:        90,
				YellowTime:          3,
				CongestionThreshold: 8,
			},
		},
		Vehicle: VehicleConfig{
			MaxSpeed:          13.89,
			Acceleration:      2.0,
			Deceleration:      4.0,
			RerouteInterval:   30,
			PerceptionRadius:  100,
			WaypointTolerance: 5,
		},
		Scenarios: map[string]ScenarioConfig{},
	}
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the simulator cannot run with.
// A malformed configuration is the only fatal error class.
func (c *Config) Validate() error {
	if c.Simulation.TimeStep <= 0 {
		return fmt.Errorf("simulation.time_step must be > 0, got %v", c.Simulation.TimeStep)
	}
	if c.Simulation.Duration <= 0 {
		return fmt.Errorf("simulation.duration must be > 0, got %v", c.Simulation.Duration)
	}
	if c.Simulation.NumVehicles < 0 {
		return fmt.Errorf("simulation.num_vehicles must be >= 0, got %d", c.Simulation.NumVehicles)
	}
	if c.Environment.Width <= 0 || c.Environment.Height <= 0 {
		return fmt.Errorf("environment dimensions must be > 0, got %vx%v",
			c.Environment.Width, c.Environment.Height)
	}
	if c.Environment.CellSize <= 0 {
		return fmt.Errorf("environment.cell_size must be > 0, got %v", c.Environment.CellSize)
	}
	switch c.Algorithms.Routing.Algorithm {
	case RoutingAStar, RoutingDijkstra:
	default:
		return fmt.Errorf("unknown routing algorithm %q", c.Algorithms.Routing.Algorithm)
	}
	switch c.Algorithms.TrafficLight.Algorithm {
	case LightMaxPressure, LightQLearning:
	default:
		return fmt.Errorf("unknown traffic light algorithm %q", c.Algorithms.TrafficLight.Algorithm)
	}
	tl := c.Algorithms.TrafficLight
	if tl.MinGreenTime <= 0 || tl.MaxGreenTime < tl.MinGreenTime {
		return fmt.Errorf("traffic_light green times invalid: min=%v max=%v",
			tl.MinGreenTime, tl.MaxGreenTime)
	}
	if c.Vehicle.MaxSpeed <= 0 {
		return fmt.Errorf("vehicle.max_speed must be > 0, got %v", c.Vehicle.MaxSpeed)
	}
	return nil
}
