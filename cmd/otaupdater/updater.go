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
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sebmalissard/home-automation-firmwares/api"
	"github.com/sebmalissard/home-automation-firmwares/internal/manifest"
	"github.com/sebmalissard/home-automation-firmwares/internal/restart"
	"github.com/sebmalissard/home-automation-firmwares/internal/sign"
	"github.com/sebmalissard/home-automation-firmwares/internal/status"
	"github.com/sebmalissard/home-automation-firmwares/internal/storage"
	"github.com/sebmalissard/home-automation-firmwares/internal/transport"
	"github.com/sebmalissard/home-automation-firmwares/internal/trust"
	"github.com/sebmalissard/home-automation-firmwares/internal/update"
	"k8s.io/klog/v2"
)

// Outcomes recorded in the status besides manifest outcomes and error kinds.
const (
	outcomeCommitted = "Committed"
	outcomeInstalled = "AlreadyInstalled"
)

// updater checks for and installs firmware updates, one check at a time.
type updater struct {
	manifestURL string
	resolver    manifest.Resolver
	engine      *update.Engine
	status      *status.Store
	now         func() time.Time

	// mu is held while a check runs.
	mu sync.Mutex
}

// deps are the components an updater is assembled from.
type deps struct {
	transport update.Transport
	fetch     manifest.FetchFunc
	store     *storage.ImageStore
	status    *status.Store
	publicKey *rsa.PublicKey
	restarter update.Restarter
}

func newUpdater(cfg *Config, d deps) (*updater, error) {
	initMetrics()
	u := &updater{
		manifestURL: cfg.ManifestURL,
		resolver:    manifest.Resolver{Fetch: d.fetch},
		status:      d.status,
		now:         time.Now,
	}
	st := d.status.Get()
	e, err := update.New(update.Config{
		Identity: update.Identity{
			Device:  st.Device,
			Chip:    st.Chip,
			Version: st.InstalledVersion,
		},
		PublicKey:  d.publicKey,
		Transport:  d.transport,
		Storage:    d.store,
		Capacity:   d.store,
		Restarter:  d.restarter,
		BufferSize: cfg.BufferSize,
		Retry:      cfg.Retry.Policy(),
		OnState:    u.onState,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create update engine: %v", err)
	}
	u.engine = e
	return u, nil
}

// openDeps opens the storage, status and network components described by cfg.
// The returned func releases them.
func openDeps(cfg *Config) (deps, func(), error) {
	var d deps
	var err error
	if cfg.PublicKey != "" {
		d.publicKey, err = sign.LoadPublicKey(cfg.PublicKey)
	} else {
		d.publicKey, err = trust.OTAPublicKey()
	}
	if err != nil {
		return deps{}, nil, fmt.Errorf("failed to load public key: %v", err)
	}

	l := cfg.Storage.Layout()
	dev, err := storage.OpenFileDevice(cfg.Storage.Path, cfg.Storage.BlockSize, l.Geometry().Length)
	if err != nil {
		return deps{}, nil, fmt.Errorf("failed to open storage: %v", err)
	}
	closer := func() {
		if err := dev.Close(); err != nil {
			klog.Errorf("Failed to close storage: %v", err)
		}
	}
	d.store, err = storage.OpenImageStore(dev, l)
	if err != nil {
		closer()
		return deps{}, nil, fmt.Errorf("failed to open image store: %v", err)
	}

	d.status, err = status.Open(cfg.StatusPath, api.Status{
		Device:           cfg.Device,
		Chip:             cfg.Chip,
		InstalledVersion: factoryVersion(cfg),
	})
	if err != nil {
		closer()
		return deps{}, nil, fmt.Errorf("failed to open status: %v", err)
	}

	hc, err := transport.NewHTTPClient(cfg.HTTPTimeout)
	if err != nil {
		closer()
		return deps{}, nil, err
	}
	t := transport.New(hc, cfg.LogProgress)
	d.transport = t
	d.fetch = t.Fetch
	d.restarter = &restart.Restarter{Delay: cfg.Restart.Delay, Command: cfg.Restart.Command}
	return d, closer, nil
}

// factoryVersion prefers the version compiled into the binary.
func factoryVersion(cfg *Config) string {
	if Version != "" {
		return Version
	}
	return cfg.Version
}

// onState records update progress in the device status.
func (u *updater) onState(st update.State, r *update.Report) {
	var f func(*api.Status)
	switch st {
	case update.Connecting:
		f = func(s *api.Status) {
			s.InProgress = true
			s.LastError = ""
		}
	case update.Committed:
		v := r.Header.VersionString()
		f = func(s *api.Status) {
			s.InProgress = false
			s.PendingVersion = v
			s.LastOutcome = outcomeCommitted
			s.LastError = ""
		}
	default:
		return
	}
	if err := u.status.Update(f); err != nil {
		klog.Errorf("Failed to record state %v: %v", st, err)
	}
}

// record stores the outcome of a check.
func (u *updater) record(outcome string, err error) {
	now := u.now()
	if serr := u.status.Update(func(s *api.Status) {
		s.LastCheck = now
		s.LastOutcome = outcome
		s.InProgress = false
		s.LastError = ""
		if err != nil {
			s.LastError = err.Error()
		}
	}); serr != nil {
		klog.Errorf("Failed to record check outcome: %v", serr)
	}
}

// errCheckRunning is returned when a check is requested while one runs.
var errCheckRunning = errors.New("an update check is already running")

// check resolves the manifest and, unless checkOnly is set, installs any
// available update. A successful install restarts the device.
func (u *updater) check(ctx context.Context, checkOnly bool) error {
	if !u.mu.TryLock() {
		return errCheckRunning
	}
	defer u.mu.Unlock()

	counterCheck.Inc()
	st := u.status.Get()
	id := update.Identity{Device: st.Device, Chip: st.Chip, Version: st.InstalledVersion}
	if st.PendingVersion != "" {
		// Already committed, waiting for a restart.
		id.Version = st.PendingVersion
	}
	klog.V(1).Infof("Checking %q for updates to %s/%s %s", u.manifestURL, id.Device, id.Chip, id.Version)
	res, err := u.resolver.Check(ctx, u.manifestURL, id)
	if err != nil {
		u.record(update.KindOf(err).String(), err)
		return err
	}
	if res.Outcome != manifest.UpdateAvailable || checkOnly {
		u.record(res.Outcome.String(), nil)
		return nil
	}

	klog.Infof("Installing %s from %q", res.Version, res.URL)
	_, err = u.engine.Update(ctx, res.URL)
	switch {
	case err == nil:
		u.record(outcomeCommitted, nil)
		return nil
	case update.IsNoOp(err):
		u.record(outcomeInstalled, nil)
		return nil
	case errors.Is(err, update.ErrBusy):
		return err
	default:
		u.record(update.KindOf(err).String(), err)
		return err
	}
}

// updateChecker runs a check every interval, and whenever the returned
// channel is sent to. Triggers arriving while a check is pending are
// dropped.
func (u *updater) updateChecker(ctx context.Context, i time.Duration) chan<- struct{} {
	trigger := make(chan struct{}, 1)

	go func(ctx context.Context) {
		t := time.NewTicker(i)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				select {
				case trigger <- struct{}{}:
				default:
					klog.V(1).Info("Update check already pending")
				}
			case <-ctx.Done():
				return
			}
		}
	}(ctx)

	go func(ctx context.Context) {
		for {
			select {
			case <-trigger:
				if err := u.check(ctx, false); err != nil {
					klog.Errorf("Update check: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}(ctx)

	return trigger
}
