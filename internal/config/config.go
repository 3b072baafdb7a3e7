// Package config loads the coordinator's configuration from defaults, an
// optional config file, and SPINWHEEL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	// Run namespaces every topic of one computation.
	Run       string          `mapstructure:"run"`
	Role      string          `mapstructure:"role"`
	Transport TransportConfig `mapstructure:"transport"`
	Hub       HubConfig       `mapstructure:"hub"`
	Spoke     SpokeConfig     `mapstructure:"spoke"`
	Files     FilesConfig     `mapstructure:"files"`
	Demo      DemoConfig      `mapstructure:"demo"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

// TransportConfig selects and tunes the pubsub transport.
type TransportConfig struct {
	// Kind is "memory" (single process) or "libp2p" (one process per role).
	Kind            string   `mapstructure:"kind"`
	Listen          []string `mapstructure:"listen"`
	Bootstrap       []string `mapstructure:"bootstrap"`
	Rendezvous      string   `mapstructure:"rendezvous"`
	MDNS            bool     `mapstructure:"mdns"`
	IdentityKeyFile string   `mapstructure:"identity_key_file"`
}

// HubConfig tunes the hub's primal loop and termination criteria.
type HubConfig struct {
	MaxIterations int     `mapstructure:"max_iterations"`
	GapTolerance  float64 `mapstructure:"gap_tolerance"`
	Rho           float64 `mapstructure:"rho"`
	Tolerance     float64 `mapstructure:"tolerance"`
}

// SpokeConfig tunes the bounding spoke.
type SpokeConfig struct {
	PollIntervalMs          int     `mapstructure:"poll_interval_ms"`
	SubgradientWhileWaiting bool    `mapstructure:"subgradient_while_waiting"`
	SubgradientRho          float64 `mapstructure:"subgradient_rho"`
	ReportOnShutdown        bool    `mapstructure:"report_on_shutdown"`
}

// FilesConfig names the optional weight/consensus files read at prep and
// written at done.
type FilesConfig struct {
	InitWeights    string `mapstructure:"init_weights"`
	InitConsensus  string `mapstructure:"init_consensus"`
	FinalWeights   string `mapstructure:"final_weights"`
	FinalConsensus string `mapstructure:"final_consensus"`
}

// DemoConfig shapes the built-in quadratic demo ensemble.
type DemoConfig struct {
	Scenarios int   `mapstructure:"scenarios"`
	Dim       int   `mapstructure:"dim"`
	Seed      int64 `mapstructure:"seed"`
}

// HTTPConfig enables the optional status and metrics listeners.
type HTTPConfig struct {
	StatusAddr  string `mapstructure:"status_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

func (s SpokeConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("run", "spinwheel")
	v.SetDefault("role", "all")
	v.SetDefault("transport.kind", "memory")
	v.SetDefault("transport.rendezvous", "spinwheel")
	v.SetDefault("transport.mdns", true)
	v.SetDefault("hub.max_iterations", 200)
	v.SetDefault("hub.gap_tolerance", 0.0)
	v.SetDefault("hub.rho", 1.0)
	v.SetDefault("hub.tolerance", 1e-6)
	v.SetDefault("spoke.poll_interval_ms", 10)
	v.SetDefault("spoke.subgradient_while_waiting", false)
	v.SetDefault("spoke.subgradient_rho", 1.0)
	v.SetDefault("spoke.report_on_shutdown", false)
	v.SetDefault("demo.scenarios", 3)
	v.SetDefault("demo.dim", 4)
	v.SetDefault("demo.seed", 1)
}

// Load reads the configuration. path may be empty, in which case an optional
// spinwheel.yaml in the working directory is used if present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SPINWHEEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("spinwheel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport.Kind {
	case "memory", "libp2p":
	default:
		return fmt.Errorf("transport.kind must be memory or libp2p, got %q", c.Transport.Kind)
	}
	switch c.Role {
	case "all", "hub", "bound":
	default:
		return fmt.Errorf("role must be all, hub or bound, got %q", c.Role)
	}
	if c.Role != "all" && c.Transport.Kind == "memory" {
		return fmt.Errorf("role %q needs the libp2p transport", c.Role)
	}
	if c.Hub.MaxIterations <= 0 {
		return fmt.Errorf("hub.max_iterations must be positive")
	}
	if c.Demo.Scenarios <= 0 || c.Demo.Dim <= 0 {
		return fmt.Errorf("demo.scenarios and demo.dim must be positive")
	}
	return nil
}
