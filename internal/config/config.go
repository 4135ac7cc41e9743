// Package config holds the server's runtime settings.
//
// Values are layered, highest precedence first:
//
//  1. command-line flags (cmd/minitalk)
//  2. MINITALK_* environment variables (ApplyEnv)
//  3. the YAML file given with --config (LoadFile)
//  4. Default()
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
	"minitalk/internal/domain"
)

type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Limits   LimitsConfig   `yaml:"limits"`
	Resolver ResolverConfig `yaml:"resolver"`
	Log      LogConfig      `yaml:"log"`
}

type ListenConfig struct {
	// Address is the IP to bind; empty binds every IPv4 address.
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type LimitsConfig struct {
	// Capacity is the number of simultaneous sessions.
	Capacity int `yaml:"capacity"`

	MaxUsernameLength int `yaml:"max_username_length"`
	MaxLineLength     int `yaml:"max_line_length"`

	// MaxPendingBytes bounds the output queued for a slow client.
	MaxPendingBytes int `yaml:"max_pending_bytes"`
}

type ResolverConfig struct {
	// ResolvePeers enables reverse lookups of client addresses.
	ResolvePeers bool   `yaml:"resolve_peers"`
	Server       string `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

const DefaultDNSServer = "8.8.8.8:53"

func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Port: domain.DefaultPort,
		},
		Limits: LimitsConfig{
			Capacity:          domain.DefaultCapacity,
			MaxUsernameLength: domain.DefaultMaxUsernameLength,
			MaxLineLength:     domain.DefaultMaxLineLength,
			MaxPendingBytes:   domain.DefaultMaxPendingBytes,
		},
		Resolver: ResolverConfig{
			Server: DefaultDNSServer,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFile overlays the YAML document at path onto cfg. Unknown keys
// are an error.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays non-empty MINITALK_* variables onto c.
func (c *Config) ApplyEnv() error {
	if v, ok := lookup("MINITALK_ADDRESS"); ok {
		c.Listen.Address = v
	}
	if err := envInt("MINITALK_PORT", &c.Listen.Port); err != nil {
		return err
	}
	if err := envInt("MINITALK_CAPACITY", &c.Limits.Capacity); err != nil {
		return err
	}
	if v, ok := lookup("MINITALK_RESOLVE_PEERS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Field: "MINITALK_RESOLVE_PEERS", Value: v, Message: "not a boolean"}
		}
		c.Resolver.ResolvePeers = b
	}
	if v, ok := lookup("MINITALK_DNS_SERVER"); ok {
		c.Resolver.Server = v
	}
	if v, ok := lookup("MINITALK_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("MINITALK_LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Listen.Address != "" && net.ParseIP(c.Listen.Address) == nil {
		return &Error{Field: "listen.address", Value: c.Listen.Address, Message: "not an IP address"}
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return &Error{Field: "listen.port", Value: c.Listen.Port, Message: "must be between 0 and 65535"}
	}

	limits := []struct {
		field string
		value int
	}{
		{"limits.capacity", c.Limits.Capacity},
		{"limits.max_username_length", c.Limits.MaxUsernameLength},
		{"limits.max_line_length", c.Limits.MaxLineLength},
		{"limits.max_pending_bytes", c.Limits.MaxPendingBytes},
	}
	for _, l := range limits {
		if l.value <= 0 {
			return &Error{Field: l.field, Value: l.value, Message: "must be positive"}
		}
	}
	if c.Limits.MaxUsernameLength > c.Limits.MaxLineLength {
		return &Error{Field: "limits.max_username_length", Value: c.Limits.MaxUsernameLength, Message: "cannot exceed limits.max_line_length"}
	}

	if c.Resolver.ResolvePeers {
		host, port, err := net.SplitHostPort(c.Resolver.Server)
		if err != nil || net.ParseIP(host) == nil {
			return &Error{Field: "resolver.server", Value: c.Resolver.Server, Message: "expected ip:port"}
		}
		if _, err := strconv.Atoi(port); err != nil {
			return &Error{Field: "resolver.server", Value: c.Resolver.Server, Message: "port is not a number"}
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &Error{Field: "log.level", Value: c.Log.Level, Message: "expected debug, info, warn or error"}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return &Error{Field: "log.format", Value: c.Log.Format, Message: "expected text or json"}
	}
	return nil
}

// Error reports an invalid configuration value.
type Error struct {
	Field   string
	Value   any
	Message string
}

func (e *Error) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config: %s=%v: %s", e.Field, e.Value, e.Message)
}

func lookup(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func envInt(key string, dst *int) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return &Error{Field: key, Value: v, Message: "not an integer"}
	}
	*dst = n
	return nil
}
