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

// The otaupdater daemon keeps the device firmware up to date with the
// manifest published by the update server.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"sync"
	"syscall"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"k8s.io/klog/v2"

	_ "golang.org/x/crypto/x509roots/fallback"
)

var (
	configFile = flag.String("config", "/etc/ota/otaupdater.yaml", "Path to the updater configuration file.")
	once       = flag.Bool("once", false, "Check for an update once, install it if available, and exit.")
	checkOnly  = flag.Bool("check_only", false, "Check for an update once and report the result without installing it.")
)

var (
	// Version is the factory firmware version, set at compile time using
	// the -X flag. It takes precedence over the configured version.
	Version string
)

var (
	doOnce       sync.Once
	counterCheck prom.Counter
)

func initMetrics() {
	doOnce.Do(func() {
		counterCheck = prom.NewCounter(prom.CounterOpts{
			Name: "ota_update_check",
			Help: "Number of times the updater checked the manifest for a firmware update",
		})
		prom.MustRegister(counterCheck)
		// The default prom gatherer has _some_ Go collectors, but not all,
		// so it is replaced with one with expanded coverage.
		prom.Unregister(prom.NewGoCollector())
		prom.Register(collectors.NewGoCollector(collectors.WithGoCollectorRuntimeMetrics(collectors.GoRuntimeMetricsRule{Matcher: regexp.MustCompile("/.*")})))
	})
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		klog.Exitf("Invalid configuration: %v", err)
	}
	initMetrics()

	d, closer, err := openDeps(cfg)
	if err != nil {
		klog.Exitf("Failed to start: %v", err)
	}
	defer closer()
	u, err := newUpdater(cfg, d)
	if err != nil {
		klog.Exitf("Failed to start: %v", err)
	}
	s := d.status.Get()
	klog.Infof("OTA updater for %s/%s, running %s", s.Device, s.Chip, s.InstalledVersion)

	if *once || *checkOnly {
		checkClock(cfg.NTPServer)
		if err := u.check(ctx, *checkOnly); err != nil {
			klog.Exitf("Update check failed: %v", err)
		}
		s := d.status.Get()
		klog.Infof("Update check: %s", s.LastOutcome)
		return
	}

	checkClock(cfg.NTPServer)
	triggerUpdate := u.updateChecker(ctx, cfg.CheckInterval)
	// Check straight away rather than waiting for the first tick.
	triggerUpdate <- struct{}{}

	listenCfg := &net.ListenConfig{}
	adminListener, err := listenCfg.Listen(ctx, "tcp", cfg.AdminAddr)
	if err != nil {
		klog.Exitf("Could not initialize admin listener: %v", err)
	}
	srv := newAdminServer(adminHandler(d.status, triggerUpdate))
	go func() {
		<-ctx.Done()
		klog.Infof("Closing admin port (%s)", cfg.AdminAddr)
		if err := srv.Close(); err != nil {
			klog.Errorf("Error closing admin port: %v", err)
		}
	}()
	klog.Infof("Serving admin interface on %s", adminListener.Addr())
	if err := srv.Serve(adminListener); err != http.ErrServerClosed {
		klog.Errorf("Error serving admin interface: %v", err)
	}
}
