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

package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebmalissard/home-automation-firmwares/api"
)

var running = api.Status{Device: "X", Chip: "Y", InstalledVersion: "1.0.0"}

func TestOpenFresh(t *testing.T) {
	p := filepath.Join(t.TempDir(), "status.cbor")
	s, err := Open(p, running)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if diff := cmp.Diff(running, s.Get()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(p); err != nil {
		t.Errorf("status file not written: %v", err)
	}
}

func TestUpdatePersists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "status.cbor")
	s, err := Open(p, running)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	checked := time.Date(2025, 3, 1, 12, 0, 0, 5, time.UTC)
	if err := s.Update(func(st *api.Status) {
		st.LastCheck = checked
		st.LastOutcome = "UpToDate"
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := running
	want.LastCheck = checked
	want.LastOutcome = "UpToDate"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("persisted status mismatch (-want +got):\n%s", diff)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(p), "*.tmp*"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestUpdateFailureKeepsStatus(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "status.cbor")
	s, err := Open(p, running)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// Make the status path unreplaceable.
	if err := os.Remove(p); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, "x"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Update(func(st *api.Status) { st.LastOutcome = "lost" }); err == nil {
		t.Fatal("Update succeeded, want error")
	}
	if got := s.Get().LastOutcome; got != "" {
		t.Errorf("LastOutcome = %q after failed update, want empty", got)
	}
}

func TestOpenReconciles(t *testing.T) {
	for _, test := range []struct {
		name string
		prev api.Status
		want api.Status
	}{
		{
			name: "pending activated",
			prev: api.Status{Device: "X", Chip: "Y", InstalledVersion: "0.9.0", PendingVersion: "1.0.0", LastOutcome: "Committed"},
			want: api.Status{Device: "X", Chip: "Y", InstalledVersion: "1.0.0", LastOutcome: "Committed"},
		}, {
			name: "recorded version kept",
			prev: api.Status{Device: "X", Chip: "Y", InstalledVersion: "1.1.0"},
			want: api.Status{Device: "X", Chip: "Y", InstalledVersion: "1.1.0"},
		}, {
			name: "identity follows device",
			prev: api.Status{Device: "old", Chip: "old", InstalledVersion: "1.1.0"},
			want: api.Status{Device: "X", Chip: "Y", InstalledVersion: "1.1.0"},
		}, {
			name: "interrupted update",
			prev: api.Status{Device: "X", Chip: "Y", InstalledVersion: "1.0.0", InProgress: true},
			want: api.Status{Device: "X", Chip: "Y", InstalledVersion: "1.0.0", LastError: "interrupted by restart"},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "status.cbor")
			if err := save(p, test.prev); err != nil {
				t.Fatalf("save: %v", err)
			}
			s, err := Open(p, running)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if diff := cmp.Diff(test.want, s.Get()); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOpenCorrupt(t *testing.T) {
	p := filepath.Join(t.TempDir(), "status.cbor")
	if err := os.WriteFile(p, []byte{0xff, 0x00, 0x13}, 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(p, running)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if diff := cmp.Diff(running, s.Get()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if _, err := load(p); err != nil {
		t.Errorf("status not rewritten: %v", err)
	}
}
