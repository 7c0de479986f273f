/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package config loads the outbound configuration from a YAML file,
// applies defaults and environment overrides and validates the result.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReceivedDisabled turns off the Received header when used as
// received_header value.
const ReceivedDisabled = "disabled"

type Config struct {
	// QueueDir is shared by all worker processes.
	QueueDir string `yaml:"queue_dir"`

	// AlwaysSplit makes every recipient a separate delivery.
	AlwaysSplit bool `yaml:"always_split"`

	// ConnectTimeout is in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	ReceivedHeader string   `yaml:"received_header"`
	Hostname       string   `yaml:"hostname"`
	Concurrency    int      `yaml:"concurrency"`
	TempFailDelay  Duration `yaml:"temp_fail_delay"`

	MetricsListen string `yaml:"metrics_listen"`
	ControlSocket string `yaml:"control_socket"`

	Relay  Relay   `yaml:"relay"`
	SOCKS5 *SOCKS5 `yaml:"socks5"`
	Limits Limits  `yaml:"limits"`
	Log    Log     `yaml:"log"`
}

// Limits apply to each destination domain separately. Zero means no limit.
type Limits struct {
	DomainConcurrency int `yaml:"domain_concurrency"`
	// DomainRate is the number of deliveries started per minute.
	DomainRate int `yaml:"domain_rate"`
}

// Relay is the next hop used by the built-in delivery agent.
type Relay struct {
	// Host is a host name, an IP address or, if Unix is set, the path
	// of a unix socket. Empty means localhost.
	Host string `yaml:"host"`
	// Port defaults to 25.
	Port      int    `yaml:"port"`
	LocalAddr string `yaml:"local_addr"`
	Unix      bool   `yaml:"unix"`
}

type SOCKS5 struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type Log struct {
	// Format is "text" or "json".
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug"`
	// File is empty for stderr.
	File string `yaml:"file"`
}

// Duration is time.Duration that is written as "5m", "30s", etc in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &Config{
		QueueDir:       filepath.Join(StateDirectory, "queue"),
		ConnectTimeout: 30,
		ReceivedHeader: "outbound",
		Hostname:       hostname,
		Concurrency:    16,
		TempFailDelay:  Duration(5 * time.Minute),
		Log:            Log{Format: "text"},
	}
}

// Read parses the YAML document from r on top of Default, then applies
// environment overrides and validates the result.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when there is no file, with
// environment overrides applied.
func Defaults() (*Config, error) {
	return Read(strings.NewReader(""))
}

// Load is Read for the file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Read(f)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("OUTBOUND_QUEUE_DIR"); ok && v != "" {
		c.QueueDir = v
	}
	if v, ok := lookup("OUTBOUND_ALWAYS_SPLIT"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: OUTBOUND_ALWAYS_SPLIT: %w", err)
		}
		c.AlwaysSplit = b
	}
	if v, ok := lookup("OUTBOUND_CONNECT_TIMEOUT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: OUTBOUND_CONNECT_TIMEOUT: %w", err)
		}
		c.ConnectTimeout = n
	}
	if v, ok := lookup("OUTBOUND_DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: OUTBOUND_DEBUG: %w", err)
		}
		c.Log.Debug = b
	}
	return nil
}

func (c *Config) Validate() error {
	if c.QueueDir == "" {
		return fmt.Errorf("config: queue_dir: must not be empty")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("config: connect_timeout: must be positive, got %d", c.ConnectTimeout)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency: must be positive, got %d", c.Concurrency)
	}
	if c.TempFailDelay < 0 {
		return fmt.Errorf("config: temp_fail_delay: must not be negative")
	}
	if c.Hostname == "" {
		return fmt.Errorf("config: hostname: must not be empty")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log.format: unknown format %q", c.Log.Format)
	}
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("config: relay.port: out of range: %d", c.Relay.Port)
	}
	if c.Relay.Unix && c.Relay.Host == "" {
		return fmt.Errorf("config: relay.host: socket path is required for unix relay")
	}
	if c.Limits.DomainConcurrency < 0 || c.Limits.DomainRate < 0 {
		return fmt.Errorf("config: limits: must not be negative")
	}
	if c.SOCKS5 != nil && (c.SOCKS5.Host == "" || c.SOCKS5.Port <= 0) {
		return fmt.Errorf("config: socks5: host and port are required")
	}
	return nil
}

// ConnectTimeoutDuration returns ConnectTimeout as time.Duration.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// ControlSocketPath returns the control socket path for the process with
// the specified pid.
func (c *Config) ControlSocketPath(pid int) string {
	if c.ControlSocket != "" {
		return c.ControlSocket
	}
	return filepath.Join(RuntimeDirectory, "outbound."+strconv.Itoa(pid)+".sock")
}
