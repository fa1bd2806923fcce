// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the stcprog configuration file and applies
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/stcprog/pkg/programmer"
	"github.com/Thermoquad/stcprog/pkg/stcisp"
	"github.com/Thermoquad/stcprog/pkg/transport"
)

// Transport kinds
const (
	TransportSerial = "serial"
	TransportBridge = "bridge"
	TransportDemo   = "demo"
)

// DefaultPort is used when neither the file nor the environment name one
const DefaultPort = "/dev/ttyUSB0"

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config holds all stcprog settings
type Config struct {
	Port      string        `yaml:"port"`
	Baud      int           `yaml:"baud"`
	Transport string        `yaml:"transport"` // "serial", "bridge" or "demo"
	Bridge    BridgeConfig  `yaml:"bridge"`
	Reset     ResetConfig   `yaml:"reset"`
	Detect    DetectConfig  `yaml:"detect"`
	History   HistoryConfig `yaml:"history"`

	// Models extends the compiled-in device catalog
	Models []ModelConfig `yaml:"models,omitempty"`

	path string
}

type BridgeConfig struct {
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// ResetConfig selects how the chip is brought into its bootloader. With
// neither field set the user is asked to power cycle the chip.
type ResetConfig struct {
	DTRMs   int    `yaml:"dtr_ms"`  // DTR pulse length, 1-1000
	Command string `yaml:"command"` // external power cycle command
}

// DetectConfig overrides the detect retry budgets. Zero keeps the default.
type DetectConfig struct {
	ResetAttempts int `yaml:"reset_attempts"`
	WaitAttempts  int `yaml:"wait_attempts"`
	ResetCycles   int `yaml:"reset_cycles"`
	IntervalMs    int `yaml:"interval_ms"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ModelConfig describes a part missing from the compiled-in catalog
type ModelConfig struct {
	Name     string `yaml:"name"`
	Code     uint16 `yaml:"code"`
	Protocol string `yaml:"protocol"` // "stc8gh", "stc8af", "stc15b", "stc15" or "unsupported"
	Flash    uint32 `yaml:"flash"`
	CodeSize uint32 `yaml:"code_size"`
	EEPROM   uint32 `yaml:"eeprom"`
}

// DefaultConfig returns a config with the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Port:      DefaultPort,
		Baud:      stcisp.DefaultBaud,
		Transport: TransportSerial,
		History: HistoryConfig{
			Enabled: false,
			Path:    filepath.Join(defaultDir(), "history.db"),
		},
	}
}

func defaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "stcprog")
}

// DefaultPath returns $HOME/.config/stcprog/config.yaml
func DefaultPath() string {
	return filepath.Join(defaultDir(), "config.yaml")
}

// Load reads config from a YAML file and applies environment overrides.
// A missing file yields the defaults, a malformed one is an error.
func Load(path string, log zerolog.Logger) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("path", path).Msg("no config file, using defaults")
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("config loaded")
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reads STCPROG_* variables over the file values
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("STCPROG_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("STCPROG_BAUD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: STCPROG_BAUD=%q", ErrInvalid, v)
		}
		c.Baud = n
	}
	if v := os.Getenv("STCPROG_TRANSPORT"); v != "" {
		c.Transport = v
	}
	if v := os.Getenv("STCPROG_BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v, ok := os.LookupEnv("STCPROG_RESET"); ok {
		c.SetReset(v)
	}
	if v := os.Getenv("STCPROG_HISTORY"); v != "" {
		switch strings.ToLower(v) {
		case "0", "false", "no", "off":
			c.History.Enabled = false
		default:
			c.History.Enabled = true
			if v != "1" && v != "true" && v != "yes" && v != "on" {
				c.History.Path = v
			}
		}
	}
	return nil
}

// SetReset stores a reset specification: a plain number is a DTR pulse in
// milliseconds, anything else a command, empty clears both
func (c *Config) SetReset(spec string) {
	spec = strings.TrimSpace(spec)
	c.Reset = ResetConfig{}
	if spec == "" {
		return
	}
	if ms, err := strconv.Atoi(spec); err == nil {
		c.Reset.DTRMs = ms
		return
	}
	c.Reset.Command = spec
}

// ResetSpec returns the reset setting in the form accepted by
// programmer.ParseReset
func (c *Config) ResetSpec() string {
	if c.Reset.DTRMs != 0 {
		return strconv.Itoa(c.Reset.DTRMs)
	}
	return c.Reset.Command
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.path
}

// Validate checks the settings a programming run depends on
func (c *Config) Validate() error {
	if c.Baud < stcisp.MinBaud || !transport.IsStandardBaud(c.Baud) {
		return fmt.Errorf("%w: baud %d is not a standard rate of at least %d", ErrInvalid, c.Baud, stcisp.MinBaud)
	}
	switch c.Transport {
	case TransportSerial, TransportDemo:
	case TransportBridge:
		if c.Bridge.URL == "" {
			return fmt.Errorf("%w: bridge transport needs bridge.url", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
	if c.Reset.DTRMs != 0 && c.Reset.Command != "" {
		return fmt.Errorf("%w: reset.dtr_ms and reset.command are exclusive", ErrInvalid)
	}
	if c.Reset.DTRMs != 0 {
		dtr := programmer.InviteDTR{Pulse: time.Duration(c.Reset.DTRMs) * time.Millisecond}
		if err := dtr.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	d := c.Detect
	if d.ResetAttempts < 0 || d.WaitAttempts < 0 || d.ResetCycles < 0 || d.IntervalMs < 0 {
		return fmt.Errorf("%w: detect budgets must not be negative", ErrInvalid)
	}
	return nil
}

// Policies returns the default retry budgets with the detect overrides applied
func (c *Config) Policies() programmer.Policies {
	p := programmer.DefaultPolicies()
	d := c.Detect
	if d.ResetAttempts > 0 {
		p.Reset.Attempts = d.ResetAttempts
	}
	if d.WaitAttempts > 0 {
		p.Wait.Attempts = d.WaitAttempts
	}
	if d.ResetCycles > 0 {
		p.ResetCycles = d.ResetCycles
	}
	if d.IntervalMs > 0 {
		interval := time.Duration(d.IntervalMs) * time.Millisecond
		p.Reset.Interval = interval
		p.Wait.Interval = interval
	}
	return p
}

// Catalog returns the compiled-in catalog extended with the configured
// models. A configured model replaces a built-in one with the same code.
func (c *Config) Catalog() (*stcisp.Catalog, error) {
	if len(c.Models) == 0 {
		return stcisp.DefaultCatalog(), nil
	}

	protocols := stcisp.DefaultProtocols()
	byName := make(map[string]stcisp.ProtocolID, len(protocols)+1)
	for _, p := range protocols {
		byName[p.Name] = p.ID
	}
	byName["unsupported"] = stcisp.ProtocolUnsupported

	extra := make(map[uint16]stcisp.Model, len(c.Models))
	for _, m := range c.Models {
		id, ok := byName[strings.ToLower(m.Protocol)]
		if !ok {
			return nil, fmt.Errorf("%w: model %s has unknown protocol %q", ErrInvalid, m.Name, m.Protocol)
		}
		if m.Name == "" || m.Code == 0 {
			return nil, fmt.Errorf("%w: model entries need a name and code", ErrInvalid)
		}
		extra[m.Code] = stcisp.Model{
			Name:       m.Name,
			Magic:      m.Code,
			Protocol:   id,
			TotalFlash: m.Flash,
			CodeSize:   m.CodeSize,
			EEPROMSize: m.EEPROM,
		}
	}

	var models []stcisp.Model
	for _, m := range stcisp.DefaultModels() {
		if _, replaced := extra[m.Magic]; !replaced {
			models = append(models, m)
		}
	}
	for _, m := range c.Models {
		if model, ok := extra[m.Code]; ok {
			models = append(models, model)
			delete(extra, m.Code)
		}
	}

	return stcisp.NewCatalog(models, protocols)
}

// Save writes the config as YAML, creating the directory if needed
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.path
	}
	if path == "" {
		path = DefaultPath()
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	c.path = path
	return nil
}
