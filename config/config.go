// Package config holds the stick controller's tunables: retry counts,
// timeouts, and the watchdog/updater cadence. Defaults mirror the
// original stick firmware's documented values. A Config can be passed
// as a whole to stick.New via stick.WithConfig, or loaded wholesale
// from a YAML file with LoadFile, mirroring how the teacher's CLI tools
// load configuration from YAML via gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the stick controller consults.
type Config struct {
	// MessageRetry is how many times in total a request is sent (the
	// first attempt included) before it is reported as failed.
	MessageRetry int `yaml:"message_retry"`

	// MessageTimeout is how long the controller waits for an ack or
	// response before retrying or failing a request.
	MessageTimeout time.Duration `yaml:"message_timeout"`

	// WatchdogInterval is how often the watchdog checks worker
	// liveness and considers Circle+ rediscovery.
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`

	// AcceptJoinRequests is the default policy for
	// AllowJoinRequests: when true, join requests are accepted
	// automatically rather than surfaced via a callback.
	AcceptJoinRequests bool `yaml:"accept_join_requests"`

	// AutoUpdateTimer is the default updater cycle length. A value of
	// zero means "derive from node count" (3 seconds per node),
	// matching the original firmware's auto_update_timer default.
	AutoUpdateTimer time.Duration `yaml:"auto_update_timer"`
}

// Default returns the stock tunables.
func Default() Config {
	return Config{
		MessageRetry:       3,
		MessageTimeout:     5 * time.Second,
		WatchdogInterval:   10 * time.Second,
		AcceptJoinRequests: false,
		AutoUpdateTimer:    0,
	}
}

// AutoUpdateInterval resolves AutoUpdateTimer against the current node
// count, per the original firmware's "3 seconds per node" default.
func (c Config) AutoUpdateInterval(nodeCount int) time.Duration {
	if c.AutoUpdateTimer > 0 {
		return c.AutoUpdateTimer
	}
	if nodeCount <= 0 {
		nodeCount = 1
	}
	return time.Duration(3*nodeCount) * time.Second
}

// LoadFile reads a YAML config file, applying its fields on top of
// Default() so a partial file only overrides what it mentions.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}
