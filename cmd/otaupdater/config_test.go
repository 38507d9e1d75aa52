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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebmalissard/home-automation-firmwares/internal/retry"
)

const minimalConfig = `
device: Y
chip: X
version: 1.0.0
manifest_url: https://updates.example.com/manifest.json
`

func TestParseConfig(t *testing.T) {
	for _, test := range []struct {
		name    string
		yaml    string
		want    func(*Config)
		wantErr bool
	}{
		{
			name: "defaults",
			yaml: minimalConfig,
			want: func(c *Config) {},
		}, {
			name: "overrides",
			yaml: minimalConfig + `
check_interval: 1h
retry:
  max_attempts: 5
  delay: 50ms
  max_delay: 1s
  multiplier: 2
restart:
  command: ["systemctl", "restart", "firmware"]
  delay: 3s
storage:
  path: /data/images.bin
  image_blocks: 2048
`,
			want: func(c *Config) {
				c.CheckInterval = time.Hour
				c.Retry = RetryConfig{MaxAttempts: 5, Delay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
				c.Restart = RestartConfig{Command: []string{"systemctl", "restart", "firmware"}, Delay: 3 * time.Second}
				c.Storage.Path = "/data/images.bin"
				c.Storage.ImageBlocks = 2048
			},
		}, {
			name:    "empty",
			yaml:    "",
			wantErr: true,
		}, {
			name:    "missing device",
			yaml:    "chip: X\nversion: 1\nmanifest_url: file:///m.json\n",
			wantErr: true,
		}, {
			name:    "unknown field",
			yaml:    minimalConfig + "colour: blue\n",
			wantErr: true,
		}, {
			name:    "bad retry",
			yaml:    minimalConfig + "retry:\n  max_attempts: 0\n",
			wantErr: true,
		}, {
			name:    "bad interval",
			yaml:    minimalConfig + "check_interval: 0s\n",
			wantErr: true,
		}, {
			name:    "bad storage",
			yaml:    minimalConfig + "storage:\n  block_size: 0\n",
			wantErr: true,
		}, {
			name:    "not yaml",
			yaml:    "device: [",
			wantErr: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := parseConfig([]byte(test.yaml))
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("parseConfig: %v, wantErr %t", err, test.wantErr)
			}
			if err != nil {
				return
			}
			want := defaultConfig()
			want.Device, want.Chip, want.Version = "Y", "X", "1.0.0"
			want.ManifestURL = "https://updates.example.com/manifest.json"
			test.want(&want)
			if diff := cmp.Diff(&want, got); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRetryConfigPolicy(t *testing.T) {
	for _, test := range []struct {
		name string
		c    RetryConfig
		want retry.Policy
	}{
		{
			name: "constant",
			c:    RetryConfig{MaxAttempts: 3, Delay: 10 * time.Millisecond},
			want: retry.Policy{MaxAttempts: 3, Backoff: retry.Constant(10 * time.Millisecond)},
		}, {
			name: "exponential",
			c:    RetryConfig{MaxAttempts: 4, Delay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2},
			want: retry.Policy{MaxAttempts: 4, Backoff: retry.Exponential{Initial: time.Millisecond, Max: time.Second, Multiplier: 2}},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			if diff := cmp.Diff(test.want, test.c.Policy()); diff != "" {
				t.Errorf("Policy() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "otaupdater.yaml")
	if err := os.WriteFile(p, []byte(minimalConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := loadConfig(p)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got, want := c.Device, "Y"; got != want {
		t.Errorf("Device = %q, want %q", got, want)
	}
	if _, err := loadConfig(p + ".missing"); err == nil {
		t.Error("loadConfig of missing file succeeded")
	}
}

func TestValidateBuildVersion(t *testing.T) {
	const noVersion = `
device: Y
chip: X
manifest_url: https://updates.example.com/manifest.json
`
	for _, test := range []struct {
		name         string
		buildVersion string
		yaml         string
		wantErr      bool
	}{
		{name: "configured", yaml: minimalConfig},
		{name: "build version only", buildVersion: "2.0.0", yaml: noVersion},
		{name: "build version and configured", buildVersion: "2.0.0", yaml: minimalConfig},
		{name: "neither", yaml: noVersion, wantErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			old := Version
			Version = test.buildVersion
			t.Cleanup(func() { Version = old })

			c, err := parseConfig([]byte(test.yaml))
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("parseConfig: %v, wantErr %t", err, test.wantErr)
			}
			if err != nil {
				return
			}
			want := test.buildVersion
			if want == "" {
				want = "1.0.0"
			}
			if got := factoryVersion(c); got != want {
				t.Errorf("factoryVersion() = %q, want %q", got, want)
			}
		})
	}
}
