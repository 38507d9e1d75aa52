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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebmalissard/home-automation-firmwares/internal/sign/signtest"
)

func TestRun(t *testing.T) {
	dir := t.TempDir()
	fw := filepath.Join(dir, "fw.bin")
	if err := os.WriteFile(fw, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	key := signtest.WritePrivateKey(t, signtest.Key(t, "cli"))
	out := filepath.Join(dir, "ota.bin")

	for _, test := range []struct {
		name       string
		args       []string
		wantCode   int
		wantStderr string
		wantFile   string
	}{
		{
			name:     "help",
			args:     []string{"--help"},
			wantCode: 0,
		}, {
			name:       "no options",
			args:       nil,
			wantCode:   2,
			wantStderr: "Option '--chip' is required",
		}, {
			name:       "missing out",
			args:       []string{"-c", "X", "-d", "Y", "-v", "1.0.0", "-f", fw, "-k", key},
			wantCode:   2,
			wantStderr: "Option '--out' is required",
		}, {
			name:       "unknown flag",
			args:       []string{"--bogus"},
			wantCode:   2,
			wantStderr: "unknown flag",
		}, {
			name:       "unreadable firmware",
			args:       []string{"--chip", "X", "--device", "Y", "--version", "1.0.0", "--fw", fw + ".missing", "--private-key", key, "--out", out},
			wantCode:   1,
			wantStderr: "hash firmware",
		}, {
			name:       "bad key",
			args:       []string{"--chip", "X", "--device", "Y", "--version", "1.0.0", "--fw", fw, "--private-key", fw, "--out", out},
			wantCode:   1,
			wantStderr: "load private key",
		}, {
			name:     "success",
			args:     []string{"--chip", "X", "--device", "Y", "--version", "1.0.0", "--fw", fw, "--private-key", key, "--out", out, "--no-progress"},
			wantCode: 0,
			wantFile: out,
		}, {
			name:     "output directory",
			args:     []string{"--chip", "X", "--device", "Y", "--version", "1.0.0", "--fw", fw, "--private-key", key, "--out", dir, "--no-progress"},
			wantCode: 0,
			wantFile: filepath.Join(dir, "Y_X_1.0.0.bin"),
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(append([]string{"ota-gen-image"}, test.args...), &stdout, &stderr)
			if code != test.wantCode {
				t.Fatalf("Got exit code %d, want %d\nstderr: %s", code, test.wantCode, stderr.String())
			}
			if !strings.Contains(stderr.String(), test.wantStderr) {
				t.Errorf("stderr %q does not contain %q", stderr.String(), test.wantStderr)
			}
			if test.wantFile != "" {
				fi, err := os.Stat(test.wantFile)
				if err != nil {
					t.Fatalf("Stat: %v", err)
				}
				if got, want := fi.Size(), int64(256+512+10); got != want {
					t.Errorf("Image is %d bytes, want %d", got, want)
				}
			}
		})
	}
}
