// Package config loads the fertilizer configuration file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Torrent client kinds.
const (
	ClientDeluge      = "deluge"
	ClientQBittorrent = "qbittorrent"
)

// Config of the fertilizer command. The file is JSON; it is decoded as YAML, which accepts JSON.
type Config struct {
	TrackerAKey string `yaml:"tracker_a_key"`
	TrackerBKey string `yaml:"tracker_b_key"`
	ServerPort  int    `yaml:"server_port"`
	// ClientURL is the torrent client RPC URL with credentials in the userinfo.
	ClientURL string `yaml:"client_url"`
	// ClientKind is ClientDeluge or ClientQBittorrent after Load.
	ClientKind string `yaml:"client_kind"`
	// InjectionLinkDirectory, when set, receives hard links to the source data for injected torrents.
	InjectionLinkDirectory string        `yaml:"injection_link_directory"`
	APIMinInterval         time.Duration `yaml:"-"`
	Workers                int           `yaml:"workers"`
}

// DefaultConfig holds the values used for keys missing from the file.
var DefaultConfig = Config{
	ServerPort:     9713,
	APIMinInterval: 250 * time.Millisecond,
	Workers:        1,
}

var clientKinds = map[string]string{
	"jsonrpc":         ClientDeluge,
	ClientDeluge:      ClientDeluge,
	"form":            ClientQBittorrent,
	ClientQBittorrent: ClientQBittorrent,
}

// ConfigKeyError is returned when a key is missing or has an invalid value.
type ConfigKeyError struct {
	Key    string
	Reason string
}

func (e *ConfigKeyError) Error() string {
	if e.Reason == "" {
		return "missing config key: " + e.Key
	}
	return fmt.Sprintf("invalid config key %s: %s", e.Key, e.Reason)
}

// rawConfig carries the duration as a string: "250ms", "1s", or a bare number of milliseconds.
type rawConfig struct {
	Config         `yaml:",inline"`
	APIMinInterval string `yaml:"api_min_interval"`
}

// Load reads the file at filename. A leading "~" is expanded to the home directory.
func Load(filename string) (*Config, error) {
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a configuration document.
func Parse(b []byte) (*Config, error) {
	raw := rawConfig{Config: DefaultConfig}
	// Tabs are only whitespace in JSON but YAML does not accept them for indentation.
	b = bytes.ReplaceAll(b, []byte("\t"), []byte("  "))
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	c := raw.Config
	if raw.APIMinInterval != "" {
		d, err := parseInterval(raw.APIMinInterval)
		if err != nil {
			return nil, &ConfigKeyError{Key: "api_min_interval", Reason: "not a duration: " + raw.APIMinInterval}
		}
		c.APIMinInterval = d
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func parseInterval(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		s = strconv.FormatInt(ms, 10) + "ms"
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", d)
	}
	return d, nil
}

func (c *Config) validate() error {
	if c.TrackerAKey == "" {
		return &ConfigKeyError{Key: "tracker_a_key"}
	}
	if c.TrackerBKey == "" {
		return &ConfigKeyError{Key: "tracker_b_key"}
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return &ConfigKeyError{Key: "server_port", Reason: fmt.Sprintf("%d is not a port", c.ServerPort)}
	}
	if c.Workers < 1 {
		return &ConfigKeyError{Key: "workers", Reason: "must be at least 1"}
	}
	if c.ClientURL == "" {
		if c.InjectionLinkDirectory != "" {
			return &ConfigKeyError{Key: "client_url", Reason: "required when injection_link_directory is set"}
		}
		return nil
	}
	if c.ClientKind == "" {
		return &ConfigKeyError{Key: "client_kind"}
	}
	kind, ok := clientKinds[strings.ToLower(c.ClientKind)]
	if !ok {
		return &ConfigKeyError{Key: "client_kind", Reason: "unknown client " + c.ClientKind}
	}
	c.ClientKind = kind
	if c.InjectionLinkDirectory != "" {
		dir, err := homedir.Expand(c.InjectionLinkDirectory)
		if err != nil {
			return &ConfigKeyError{Key: "injection_link_directory", Reason: err.Error()}
		}
		c.InjectionLinkDirectory = dir
	}
	return nil
}

// InjectionEnabled reports whether a torrent client is configured.
func (c *Config) InjectionEnabled() bool {
	return c.ClientURL != ""
}
