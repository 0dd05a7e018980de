package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the director's engine.yaml.
type EngineConfig struct {
	Version int `yaml:"version"`
	Room    struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"room"`
	Network struct {
		APIPort   int    `yaml:"api_port"`
		MQTTURL   string `yaml:"mqtt_url"`
		ScenePack string `yaml:"scene_pack"`
	} `yaml:"network"`
	Intervals struct {
		WatchPollMs       int `yaml:"watch_poll_ms"`
		TimelinePollMs    int `yaml:"timeline_poll_ms"`
		TimerResolutionMs int `yaml:"timer_resolution_ms"`
	} `yaml:"intervals"`
	Policies struct {
		AllowManualChecks *bool `yaml:"allow_manual_checks"`
		StrictJumps       bool  `yaml:"strict_jumps"`
	} `yaml:"policies"`
	Services struct {
		DeviceMonitorURL string `yaml:"device_monitor_url"`
		EffectsURL       string `yaml:"effects_url"`
	} `yaml:"services"`
}

// APIPort returns the configured API port, defaulting to 8080 if not set.
func (c *EngineConfig) APIPort() int {
	if c.Network.APIPort == 0 {
		return 8080
	}
	return c.Network.APIPort
}

// MQTTURL returns the broker URL. The MQTT_URL environment variable wins
// over the file so deployments can rehome the broker without editing yaml.
func (c *EngineConfig) MQTTURL() string {
	if url := os.Getenv("MQTT_URL"); url != "" {
		return url
	}
	if c.Network.MQTTURL != "" {
		return c.Network.MQTTURL
	}
	return "tcp://localhost:1883"
}

// AllowManualChecks defaults to true when unset.
func (c *EngineConfig) AllowManualChecks() bool {
	if c.Policies.AllowManualChecks == nil {
		return true
	}
	return *c.Policies.AllowManualChecks
}

func LoadEngineConfig(path string) (*EngineConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg EngineConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported engine.yaml version: %d", cfg.Version)
	}

	return &cfg, nil
}
