// Copyright 2023 The gateway-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package config provides configuration management for gateway-go,
// including listener addresses and client registry expiry settings.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/turtacn/gateway-go/pkg/registry"
	"gopkg.in/yaml.v2"
)

// Duration is a time.Duration that unmarshals from "30s"-style strings in
// both YAML and JSON config files.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// RegistryConfig holds the expiry behavior of the client registry.
type RegistryConfig struct {
	ScanInterval  Duration `yaml:"scan_interval" json:"scan_interval"`
	ExpiryTimeout Duration `yaml:"expiry_timeout" json:"expiry_timeout"`
	InitialDelay  Duration `yaml:"initial_delay" json:"initial_delay"`
}

// ToRegistryConfig converts the file representation into the registry's
// runtime configuration.
func (r RegistryConfig) ToRegistryConfig() *registry.Config {
	return &registry.Config{
		ScanInterval:  time.Duration(r.ScanInterval),
		ExpiryTimeout: time.Duration(r.ExpiryTimeout),
		InitialDelay:  time.Duration(r.InitialDelay),
	}
}

// GatewayConfig represents the overall gateway configuration.
type GatewayConfig struct {
	NodeID       string         `yaml:"node_id" json:"node_id"`
	MQTTPort     string         `yaml:"mqtt_port" json:"mqtt_port"`
	MetricsPort  string         `yaml:"metrics_port" json:"metrics_port"`
	DefaultGroup string         `yaml:"default_group" json:"default_group"`
	Registry     RegistryConfig `yaml:"registry" json:"registry"`
}

// Config holds the complete configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			NodeID:       "gateway-go-node",
			MQTTPort:     ":1883",
			MetricsPort:  ":8082",
			DefaultGroup: "DEFAULT_GROUP",
			Registry: RegistryConfig{
				ScanInterval:  Duration(30 * time.Second),
				ExpiryTimeout: Duration(2 * time.Minute),
				InitialDelay:  Duration(10 * time.Second),
			},
		},
	}
}

// LoadConfig loads configuration from a file.
func LoadConfig(configPath string) (*Config, error) {
	// If no config file specified, return default config
	if configPath == "" {
		log.Println("[INFO] No config file specified, using default configuration")
		return DefaultConfig(), nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	config := DefaultConfig()
	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Printf("[INFO] Configuration loaded from %s", configPath)
	return config, nil
}

// SaveConfig saves configuration to a file.
func SaveConfig(config *Config, configPath string) error {
	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	case ".json":
		data, err = json.MarshalIndent(config, "", "  ")
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(configPath, data, 0644)
	if err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	log.Printf("[INFO] Configuration saved to %s", configPath)
	return nil
}

// validateConfig validates the configuration.
func validateConfig(config *Config) error {
	if config.Gateway.NodeID == "" {
		return fmt.Errorf("node_id cannot be empty")
	}

	if config.Gateway.MQTTPort == "" {
		return fmt.Errorf("mqtt_port cannot be empty")
	}

	if config.Gateway.DefaultGroup == "" {
		return fmt.Errorf("default_group cannot be empty")
	}

	reg := config.Gateway.Registry
	if reg.ScanInterval <= 0 {
		return fmt.Errorf("registry scan_interval must be positive, got %v", time.Duration(reg.ScanInterval))
	}
	if reg.ExpiryTimeout <= 0 {
		return fmt.Errorf("registry expiry_timeout must be positive, got %v", time.Duration(reg.ExpiryTimeout))
	}
	if reg.InitialDelay < 0 {
		return fmt.Errorf("registry initial_delay must not be negative, got %v", time.Duration(reg.InitialDelay))
	}

	return nil
}
