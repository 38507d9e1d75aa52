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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sebmalissard/home-automation-firmwares/api"
	"github.com/sebmalissard/home-automation-firmwares/api/rpc"
)

func fakeDevice(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(rpc.StatusPath, func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(api.Status{Device: "Y", Chip: "X", InstalledVersion: "1.2.3", LastOutcome: "UpToDate"})
	})
	mux.HandleFunc(rpc.UpdateCheckPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(rpc.UpdateCheckResponse{Queued: true, Message: "update check queued"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	srv := fakeDevice(t)
	addr := strings.TrimPrefix(srv.URL, "http://")

	for _, test := range []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "status",
			args:       []string{"-a", addr, "-s"},
			wantStdout: "Installed version ......: 1.2.3",
		}, {
			name:       "update",
			args:       []string{"-a", srv.URL, "-u"},
			wantStdout: "update check queued",
			wantStderr: "requesting an update check from " + srv.URL,
		}, {
			name:       "no action",
			args:       []string{"-a", addr},
			wantCode:   2,
			wantStderr: "trigger an update check",
		}, {
			name:     "bad flag",
			args:     []string{"-x"},
			wantCode: 2,
		}, {
			name:       "unreachable",
			args:       []string{"-a", "127.0.0.1:1", "-s"},
			wantCode:   1,
			wantStderr: "fatal error",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if got := run(test.args, &stdout, &stderr); got != test.wantCode {
				t.Fatalf("run() = %d, want %d (stderr %q)", got, test.wantCode, stderr.String())
			}
			if !strings.Contains(stdout.String(), test.wantStdout) {
				t.Errorf("stdout %q does not contain %q", stdout.String(), test.wantStdout)
			}
			if !strings.Contains(stderr.String(), test.wantStderr) {
				t.Errorf("stderr %q does not contain %q", stderr.String(), test.wantStderr)
			}
		})
	}
}

func TestDeviceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	d := newDevice(srv.URL, srv.Client())
	_, err := d.status(context.Background())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("status() = %v, want error mentioning boom", err)
	}
}
