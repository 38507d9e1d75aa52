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

package manifest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sebmalissard/home-automation-firmwares/api"
	"github.com/sebmalissard/home-automation-firmwares/internal/update"
)

const twoMatches = `{
  "Server URL": "https://hub.local/firmwares/",
  "Firmwares": [
    {"Device": "thermostat", "Chip": "ESP8266", "Version": "3.0.0", "File": "thermostat_ESP8266_3.0.0.bin"},
    {"Device": "radiator", "Chip": "ESP8266", "Version": "1.1.0", "File": "radiator_ESP8266_1.1.0.bin"},
    {"Device": "radiator", "Chip": "ESP8266", "Version": "1.2.0", "File": "radiator_ESP8266_1.2.0.bin"}
  ]
}`

func fetchString(s string) FetchFunc {
	return func(context.Context, string) ([]byte, error) {
		return []byte(s), nil
	}
}

func TestCheck(t *testing.T) {
	radiator := update.Identity{Device: "radiator", Chip: "ESP8266", Version: "1.0.0"}

	for _, test := range []struct {
		name     string
		doc      string
		id       update.Identity
		want     Result
		wantKind update.Kind
	}{
		{
			name: "first match wins",
			doc:  twoMatches,
			id:   radiator,
			want: Result{
				Outcome: UpdateAvailable,
				Version: "1.1.0",
				URL:     "https://hub.local/firmwares/radiator_ESP8266_1.1.0.bin",
				Candidate: &api.FirmwareDescriptor{
					Device: "radiator", Chip: "ESP8266", Version: "1.1.0", File: "radiator_ESP8266_1.1.0.bin",
				},
			},
		}, {
			name: "up to date with first match even if a later one is newer",
			doc:  twoMatches,
			id:   update.Identity{Device: "radiator", Chip: "ESP8266", Version: "1.1.0"},
			want: Result{
				Outcome: UpToDate,
				Version: "1.1.0",
				URL:     "https://hub.local/firmwares/radiator_ESP8266_1.1.0.bin",
				Candidate: &api.FirmwareDescriptor{
					Device: "radiator", Chip: "ESP8266", Version: "1.1.0", File: "radiator_ESP8266_1.1.0.bin",
				},
			},
		}, {
			name: "downgrade is still an update",
			doc:  twoMatches,
			id:   update.Identity{Device: "thermostat", Chip: "ESP8266", Version: "4.0.0"},
			want: Result{
				Outcome: UpdateAvailable,
				Version: "3.0.0",
				URL:     "https://hub.local/firmwares/thermostat_ESP8266_3.0.0.bin",
				Candidate: &api.FirmwareDescriptor{
					Device: "thermostat", Chip: "ESP8266", Version: "3.0.0", File: "thermostat_ESP8266_3.0.0.bin",
				},
			},
		}, {
			name: "no candidate",
			doc:  twoMatches,
			id:   update.Identity{Device: "radiator", Chip: "ESP32", Version: "1.0.0"},
			want: Result{Outcome: NoCandidate},
		}, {
			name: "case sensitive",
			doc:  twoMatches,
			id:   update.Identity{Device: "Radiator", Chip: "ESP8266", Version: "1.0.0"},
			want: Result{Outcome: NoCandidate},
		}, {
			name: "empty list",
			doc:  `{"Server URL": "x", "Firmwares": []}`,
			id:   radiator,
			want: Result{Outcome: NoCandidate},
		}, {
			name: "comments and trailing commas",
			doc: `{
  // Published by the hub.
  "Server URL": "http://hub/",
  "Firmwares": [
    {"Device": "radiator", "Chip": "ESP8266", "Version": "2.0.0", "File": "r.bin",},
  ],
}`,
			id: radiator,
			want: Result{
				Outcome:   UpdateAvailable,
				Version:   "2.0.0",
				URL:       "http://hub/r.bin",
				Candidate: &api.FirmwareDescriptor{Device: "radiator", Chip: "ESP8266", Version: "2.0.0", File: "r.bin"},
			},
		}, {
			name:     "missing firmwares",
			doc:      `{"Server URL": "http://hub/"}`,
			id:       radiator,
			wantKind: update.KindFormat,
		}, {
			name:     "null firmwares",
			doc:      `{"Server URL": "http://hub/", "Firmwares": null}`,
			id:       radiator,
			wantKind: update.KindFormat,
		}, {
			name:     "firmwares not an array",
			doc:      `{"Server URL": "http://hub/", "Firmwares": {}}`,
			id:       radiator,
			wantKind: update.KindFormat,
		}, {
			name:     "not JSON",
			doc:      `<html>Not Found</html>`,
			id:       radiator,
			wantKind: update.KindFormat,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			r := Resolver{Fetch: fetchString(test.doc)}
			got, err := r.Check(context.Background(), "https://hub.local/manifest.json", test.id)
			if k := update.KindOf(err); k != test.wantKind {
				t.Fatalf("Got error %v, want kind %v", err, test.wantKind)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Fatalf("Got diff: %s", diff)
			}
		})
	}
}

func TestCheckFetchFailure(t *testing.T) {
	r := Resolver{Fetch: func(context.Context, string) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}
	_, err := r.Check(context.Background(), "http://hub/manifest.json", update.Identity{Device: "d", Chip: "c"})
	if !errors.Is(err, update.ErrNetwork) {
		t.Fatalf("Got %v, want ErrNetwork", err)
	}
}

func TestParse(t *testing.T) {
	m, err := Parse([]byte(twoMatches))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := m.ServerURL, "https://hub.local/firmwares/"; got != want {
		t.Errorf("ServerURL = %q, want %q", got, want)
	}
	if got := len(m.Firmwares); got != 3 {
		t.Errorf("Got %d firmwares, want 3", got)
	}
}
