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
	"time"

	"github.com/beevik/ntp"
	"k8s.io/klog/v2"
)

// maxClockSkew is the clock offset above which certificate validation is
// likely to fail.
const maxClockSkew = time.Minute

// ntpOffset returns the offset of the local clock from server.
var ntpOffset = func(server string) (time.Duration, error) {
	r, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: 5 * time.Second})
	if err != nil {
		return 0, err
	}
	if err := r.Validate(); err != nil {
		return 0, err
	}
	return r.ClockOffset, nil
}

// checkClock warns if the local clock is too far from the NTP server's, in
// which case TLS connections to the update server may fail. It reports
// whether the clock looks sane.
func checkClock(server string) bool {
	if server == "" {
		klog.V(1).Info("NTP check disabled.")
		return true
	}
	off, err := ntpOffset(server)
	if err != nil {
		klog.Errorf("Failed to get NTP time from %q: %v", server, err)
		return false
	}
	if off > maxClockSkew || off < -maxClockSkew {
		klog.Warningf("Local clock is off by %v, update downloads over TLS may fail", off.Round(time.Second))
		return false
	}
	klog.V(1).Infof("Local clock within %v of %q", off, server)
	return true
}
