package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traffic-sim/traffic-sim/sim"
)

// CLI flags. YAML config supplies defaults; flags override.
var (
	configPath  string  // --config:       YAML configuration file
	scenarios   string  // --scenario:     comma-separated scenario names
	seed        int64   // --seed:         master random seed
	duration    float64 // --duration:     simulated seconds
	vehicles    int     // --vehicles:     initial fleet size
	logLevel    string  // --log:          logrus level
	metricsAddr string  // --metrics-addr: Prometheus listen address
)

var rootCmd = &cobra.Command{
	Use:   "traffic-sim",
	Short: "Agent-based urban traffic simulator",
	Long: `traffic-sim runs a multi-agent urban traffic simulation:
BDI vehicles, adaptive signalized intersections (Max-Pressure or
Q-Learning), green-wave coordination, and a crisis manager speaking a
FIPA-style protocol over a shared message bus.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)

		cfg := sim.DefaultConfig()
		if configPath != "" {
			cfg, err = sim.LoadConfig(configPath)
			if err != nil {
				logrus.Fatalf("loading config: %v", err)
			}
		}
		applyOverrides(cmd, cfg)

		opts, err := scenarioOptions(cfg)
		if err != nil {
			logrus.Fatalf("configuring scenarios: %v", err)
		}

		if metricsAddr != "" {
			collector := sim.NewCollector(nil)
			opts = append(opts, sim.WithCollector(collector))
			go func() {
				logrus.Infof("serving metrics on %s/metrics", metricsAddr)
				if err := http.ListenAndServe(metricsAddr, sim.Handler()); err != nil {
					logrus.Warnf("metrics server: %v", err)
				}
			}()
		}

		model, err := sim.NewModel(cfg, opts...)
		if err != nil {
			logrus.Fatalf("building model: %v", err)
		}
		model.Run()
		model.Metrics.Print()
		return nil
	},
}

// applyOverrides copies explicitly-set flags over the file config.
func applyOverrides(cmd *cobra.Command, cfg *sim.Config) {
	if cmd.Flags().Changed("seed") {
		cfg.Simulation.RandomSeed = seed
	}
	if cmd.Flags().Changed("duration") {
		cfg.Simulation.Duration = duration
	}
	if cmd.Flags().Changed("vehicles") {
		cfg.Simulation.NumVehicles = vehicles
	}
}

// scenarioOptions instantiates the requested scenarios from their
// config blocks.
func scenarioOptions(cfg *sim.Config) ([]sim.ModelOption, error) {
	var opts []sim.ModelOption
	if scenarios == "" {
		return opts, nil
	}
	for _, name := range strings.Split(scenarios, ",") {
		name = strings.TrimSpace(name)
		block, ok := cfg.Scenarios[name]
		if !ok {
			return nil, fmt.Errorf("scenario %q has no config block", name)
		}
		switch name {
		case "rush_hour":
			opts = append(opts, sim.WithScenario(sim.NewRushHourScenario(block)))
		case "incident":
			opts = append(opts, sim.WithScenario(sim.NewIncidentScenario(block)))
		default:
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
	}
	return opts, nil
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	runCmd.Flags().StringVar(&scenarios, "scenario", "", "comma-separated scenarios (rush_hour, incident)")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "master random seed")
	runCmd.Flags().Float64Var(&duration, "duration", 600, "simulated seconds")
	runCmd.Flags().IntVar(&vehicles, "vehicles", 50, "initial fleet size")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "log level (trace, debug, info, warn, error)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(runCmd)
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
