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

package update

import (
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
)

var (
	doOnce         sync.Once
	counterAttempt prom.Counter
	counterSuccess prom.Counter
	counterNoOp    prom.Counter
	counterFailure *prom.CounterVec
	gaugeState     prom.Gauge
	histBytes      prom.Histogram
)

func initMetrics() {
	doOnce.Do(func() {
		counterAttempt = prom.NewCounter(prom.CounterOpts{
			Name: "ota_update_attempt",
			Help: "Number of firmware update sessions started",
		})
		counterSuccess = prom.NewCounter(prom.CounterOpts{
			Name: "ota_update_success",
			Help: "Number of firmware update sessions which committed new firmware",
		})
		counterNoOp = prom.NewCounter(prom.CounterOpts{
			Name: "ota_update_noop",
			Help: "Number of firmware update sessions abandoned because the firmware was already installed",
		})
		counterFailure = prom.NewCounterVec(prom.CounterOpts{
			Name: "ota_update_failure",
			Help: "Number of failed firmware update sessions, by error kind",
		}, []string{"kind"})
		gaugeState = prom.NewGauge(prom.GaugeOpts{
			Name: "ota_update_state",
			Help: "Final state of the last firmware update session",
		})
		histBytes = prom.NewHistogram(prom.HistogramOpts{
			Name:    "ota_update_firmware_bytes",
			Help:    "Size of committed firmware images",
			Buckets: prom.ExponentialBuckets(64<<10, 2, 8),
		})
		prom.MustRegister(counterAttempt, counterSuccess, counterNoOp, counterFailure, gaugeState, histBytes)
	})
}
