// Package config provides TOML configuration loading for exomon.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration structure.
type Config struct {
	Node  NodeConfig  `toml:"node"`
	Watch WatchConfig `toml:"watch"`
}

// NodeConfig holds settings for the cluster node daemon.
type NodeConfig struct {
	Name               string   `toml:"name"`
	ServicePort        int      `toml:"service_port"`
	DiscoveryPort      int      `toml:"discovery_port"`
	TelemetryPort      int      `toml:"telemetry_port"`
	AnnounceInterval   string   `toml:"announce_interval"`
	BroadcastAddrs     []string `toml:"broadcast_addrs"`
	InterfaceBroadcast bool     `toml:"announce_interface_broadcast"`
	MulticastGroup     string   `toml:"multicast_group"`
	Interface          string   `toml:"interface"`
	DisableScan        bool     `toml:"disable_scan"`
	ScanInterval       string   `toml:"scan_interval"`
	ScanPrefixes       []string `toml:"scan_prefixes"`
	ScanWorkers        int      `toml:"scan_workers"`
	NodeTTL            string   `toml:"node_ttl"`
	SweepInterval      string   `toml:"sweep_interval"`
	MetricsInterval    string   `toml:"metrics_interval"`
	StatusInterval     string   `toml:"status_interval"`
	ServiceProcess     string   `toml:"service_process"`
	LogLevel           string   `toml:"log_level"`
}

// WatchConfig holds settings for the telemetry watch client.
type WatchConfig struct {
	Address string `toml:"address"`
}

// ParseAnnounceInterval parses the announce interval string to a time.Duration.
func (n *NodeConfig) ParseAnnounceInterval() (time.Duration, error) {
	if n.AnnounceInterval == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(n.AnnounceInterval)
}

// ParseScanInterval parses the active scan interval string to a time.Duration.
func (n *NodeConfig) ParseScanInterval() (time.Duration, error) {
	if n.ScanInterval == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(n.ScanInterval)
}

// ParseNodeTTL parses the node staleness TTL string to a time.Duration.
func (n *NodeConfig) ParseNodeTTL() (time.Duration, error) {
	if n.NodeTTL == "" {
		return 60 * time.Second, nil
	}
	return time.ParseDuration(n.NodeTTL)
}

// ParseSweepInterval parses the registry sweep interval string to a time.Duration.
func (n *NodeConfig) ParseSweepInterval() (time.Duration, error) {
	if n.SweepInterval == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(n.SweepInterval)
}

// ParseMetricsInterval parses the resource sampling interval string to a time.Duration.
func (n *NodeConfig) ParseMetricsInterval() (time.Duration, error) {
	if n.MetricsInterval == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(n.MetricsInterval)
}

// ParseStatusInterval parses the service status poll interval string to a time.Duration.
func (n *NodeConfig) ParseStatusInterval() (time.Duration, error) {
	if n.StatusInterval == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(n.StatusInterval)
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns a default configuration when the
// file does not exist, so the node can run without any config at all.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg, nil
	}
	return Load(path)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Node defaults
	if cfg.Node.ServicePort == 0 {
		cfg.Node.ServicePort = 52415
	}
	if cfg.Node.DiscoveryPort == 0 {
		cfg.Node.DiscoveryPort = 52416
	}
	if cfg.Node.TelemetryPort == 0 {
		cfg.Node.TelemetryPort = 52417
	}
	if cfg.Node.AnnounceInterval == "" {
		cfg.Node.AnnounceInterval = "10s"
	}
	if cfg.Node.ScanInterval == "" {
		cfg.Node.ScanInterval = "10s"
	}
	if cfg.Node.ScanWorkers == 0 {
		cfg.Node.ScanWorkers = 32
	}
	if cfg.Node.NodeTTL == "" {
		cfg.Node.NodeTTL = "60s"
	}
	if cfg.Node.SweepInterval == "" {
		cfg.Node.SweepInterval = "10s"
	}
	if cfg.Node.MetricsInterval == "" {
		cfg.Node.MetricsInterval = "5s"
	}
	if cfg.Node.StatusInterval == "" {
		cfg.Node.StatusInterval = "10s"
	}
	if cfg.Node.ServiceProcess == "" {
		cfg.Node.ServiceProcess = "exo"
	}
	if cfg.Node.LogLevel == "" {
		cfg.Node.LogLevel = "info"
	}

	// Watch defaults
	if cfg.Watch.Address == "" {
		cfg.Watch.Address = fmt.Sprintf("127.0.0.1:%d", cfg.Node.TelemetryPort)
	}
}
