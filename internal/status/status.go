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

// Package status keeps the device update status, persisted across restarts.
package status

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/sebmalissard/home-automation-firmwares/api"
	"k8s.io/klog/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("status: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("status: CBOR decoder initialization failed: " + err.Error())
	}
}

// Store holds the current status and writes every change to a file.
type Store struct {
	path string

	mu  sync.Mutex
	cur api.Status
}

// Open loads the status kept at path, if any, and reconciles it with the
// device identity in running.
//
// running.InstalledVersion is the factory version, used when no version has
// been recorded. A pending version was committed to storage before the
// restart which led here, so it is now the installed one. An update marked in
// progress did not finish before the restart.
func Open(path string, running api.Status) (*Store, error) {
	s := &Store{path: path}
	prev, err := load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		klog.Infof("No status at %q, starting fresh", path)
	case err != nil:
		klog.Warningf("Discarding unreadable status at %q: %v", path, err)
	default:
		s.cur = prev
	}

	if s.cur.InProgress {
		klog.Warning("Previous update did not complete")
		s.cur.InProgress = false
		if s.cur.LastError == "" {
			s.cur.LastError = "interrupted by restart"
		}
	}
	if s.cur.PendingVersion != "" {
		klog.Infof("Version %s is now installed", s.cur.PendingVersion)
		s.cur.InstalledVersion = s.cur.PendingVersion
		s.cur.PendingVersion = ""
	}
	if s.cur.InstalledVersion == "" {
		s.cur.InstalledVersion = running.InstalledVersion
	}
	s.cur.Device = running.Device
	s.cur.Chip = running.Chip

	if err := save(path, s.cur); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the current status.
func (s *Store) Get() api.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Update applies f to the status and persists the result. The in-memory
// status is only changed if it was persisted.
func (s *Store) Update(f func(*api.Status)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.cur
	f(&n)
	if err := save(s.path, n); err != nil {
		return err
	}
	s.cur = n
	return nil
}

func load(path string) (api.Status, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return api.Status{}, err
	}
	var st api.Status
	if err := decMode.Unmarshal(b, &st); err != nil {
		return api.Status{}, fmt.Errorf("failed to decode status: %v", err)
	}
	return st, nil
}

// save atomically replaces the file at path with the encoded status.
func save(path string, st api.Status) error {
	b, err := encMode.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode status: %v", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create status file: %v", err)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err := tmp.Write(b); err != nil {
		return fmt.Errorf("failed to write status: %v", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync status: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close status: %v", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace status: %v", err)
	}
	tmp = nil
	return nil
}
