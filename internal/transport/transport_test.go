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

package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHTTPConnect(t *testing.T) {
	body := []byte("firmware image bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fw.bin":
			w.Write(body)
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	for _, test := range []struct {
		name        string
		path        string
		wantErr     bool
		wantMissing bool
	}{
		{name: "ok", path: "/fw.bin"},
		{name: "not found", path: "/nope.bin", wantErr: true, wantMissing: true},
		{name: "server error", path: "/broken", wantErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			h := &HTTP{Client: srv.Client(), LogProgress: true}
			s, err := h.Connect(context.Background(), srv.URL+test.path)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Connect: %v, wantErr %t", err, test.wantErr)
			}
			if err != nil {
				if got := errors.Is(err, os.ErrNotExist); got != test.wantMissing {
					t.Errorf("errors.Is(%v, os.ErrNotExist) = %t, want %t", err, got, test.wantMissing)
				}
				return
			}
			defer s.Close()
			if got, want := s.TotalLength(), int64(len(body)); got != want {
				t.Errorf("TotalLength() = %d, want %d", got, want)
			}
			got, err := io.ReadAll(s)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if diff := cmp.Diff(body, got); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "m.json")
	want := []byte(`{"Firmwares": []}`)
	if err := os.WriteFile(p, want, 0o644); err != nil {
		t.Fatal(err)
	}
	u := "file://" + filepath.ToSlash(p)

	got, err := File{}.Fetch(context.Background(), u)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Fetch mismatch (-want +got):\n%s", diff)
	}

	s, err := File{}.Connect(context.Background(), u)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Close()
	if got, want := s.TotalLength(), int64(len(want)); got != want {
		t.Errorf("TotalLength() = %d, want %d", got, want)
	}

	if _, err := (File{}).Connect(context.Background(), "http://example.com/x"); err == nil {
		t.Error("Connect with http URL succeeded, want error")
	}
}

func TestByScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	b := New(srv.Client(), false)
	for _, test := range []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "http", url: srv.URL + "/x"},
		{name: "ftp", url: "ftp://example.com/x", wantErr: true},
		{name: "bad url", url: "://", wantErr: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := b.Fetch(context.Background(), test.url)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Fetch: %v, wantErr %t", err, test.wantErr)
			}
			if err == nil && string(got) != "hello" {
				t.Errorf("Fetch = %q, want %q", got, "hello")
			}
		})
	}
}

func TestNewHTTPClient(t *testing.T) {
	c, err := NewHTTPClient(0)
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	if c.Transport == nil {
		t.Error("NewHTTPClient returned client with nil transport")
	}
}
