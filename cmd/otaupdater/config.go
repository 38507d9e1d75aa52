// Copyright 2025 The Home Automation Firmwares authors. All Rights Reserved.
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

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sebmalissard/home-automation-firmwares/internal/retry"
	"github.com/sebmalissard/home-automation-firmwares/internal/storage"
	"gopkg.in/yaml.v3"
)

// Config is the updater configuration file.
type Config struct {
	// Device and Chip identify this device in manifests.
	Device string `yaml:"device"`
	Chip   string `yaml:"chip"`
	// Version is the factory firmware version, used until an update has
	// been installed.
	Version string `yaml:"version"`

	// ManifestURL locates the firmware manifest, http(s):// or file://.
	ManifestURL string `yaml:"manifest_url"`
	// PublicKey is a file holding the image signing public key. The
	// built-in key is used when empty.
	PublicKey string `yaml:"public_key"`

	Storage    StorageConfig `yaml:"storage"`
	StatusPath string        `yaml:"status_path"`
	Restart    RestartConfig `yaml:"restart"`
	Retry      RetryConfig   `yaml:"retry"`

	CheckInterval time.Duration `yaml:"check_interval"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	AdminAddr     string        `yaml:"admin_addr"`
	// NTPServer, if set, is used to check the local clock before checking
	// for updates.
	NTPServer   string `yaml:"ntp_server"`
	BufferSize  int    `yaml:"buffer_size"`
	LogProgress bool   `yaml:"log_progress"`
}

// StorageConfig locates the image store.
type StorageConfig struct {
	Path         string `yaml:"path"`
	BlockSize    uint   `yaml:"block_size"`
	RecordBlocks uint   `yaml:"record_blocks"`
	ImageBlocks  uint   `yaml:"image_blocks"`
}

// Layout returns the image store layout.
func (s StorageConfig) Layout() storage.Layout {
	return storage.Layout{RecordBlocks: s.RecordBlocks, ImageBlocks: s.ImageBlocks}
}

// RestartConfig controls how the device restarts into new firmware.
type RestartConfig struct {
	// Command is run to restart, the updater exits when empty.
	Command []string      `yaml:"command"`
	Delay   time.Duration `yaml:"delay"`
}

// RetryConfig governs empty reads while downloading.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	// MaxDelay and Multiplier select exponential backoff when Multiplier
	// is set.
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// Policy returns the retry policy described by c.
func (c RetryConfig) Policy() retry.Policy {
	p := retry.Policy{MaxAttempts: c.MaxAttempts, Backoff: retry.Constant(c.Delay)}
	if c.Multiplier > 0 {
		p.Backoff = retry.Exponential{Initial: c.Delay, Max: c.MaxDelay, Multiplier: c.Multiplier}
	}
	return p
}

func defaultConfig() Config {
	def := retry.DefaultPolicy()
	return Config{
		Storage: StorageConfig{
			Path:         "/var/lib/ota/images.bin",
			BlockSize:    512,
			RecordBlocks: 1,
			ImageBlocks:  4096,
		},
		StatusPath: "/var/lib/ota/status.cbor",
		Restart:    RestartConfig{Delay: time.Second},
		Retry: RetryConfig{
			MaxAttempts: def.MaxAttempts,
			Delay:       time.Duration(def.Backoff.(retry.Constant)),
		},
		CheckInterval: 5 * time.Minute,
		HTTPTimeout:   5 * time.Minute,
		AdminAddr:     ":8081",
		BufferSize:    1024,
		LogProgress:   true,
	}
}

// loadConfig reads the configuration file at path over the defaults.
func loadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %v", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (*Config, error) {
	c := defaultConfig()
	d := yaml.NewDecoder(bytes.NewReader(b))
	d.KnownFields(true)
	if err := d.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration is complete.
func (c *Config) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, v string
	}{
		{"device", c.Device},
		{"chip", c.Chip},
		{"version", factoryVersion(c)},
		{"manifest_url", c.ManifestURL},
		{"storage.path", c.Storage.Path},
		{"status_path", c.StatusPath},
	} {
		if f.v == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config is missing %q", missing)
	}
	if c.Storage.BlockSize == 0 || c.Storage.RecordBlocks == 0 || c.Storage.ImageBlocks == 0 {
		return errors.New("storage block_size, record_blocks and image_blocks must be set")
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive, got %v", c.CheckInterval)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", c.BufferSize)
	}
	return c.Retry.Policy().Validate()
}
