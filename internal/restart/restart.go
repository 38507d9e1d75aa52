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

// Package restart restarts the host into newly installed firmware.
package restart

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"k8s.io/klog/v2"
)

// DefaultDelay gives log output and in-flight responses time to drain before
// restarting.
const DefaultDelay = 1 * time.Second

// Restarter restarts the device after a delay, either by running Command or,
// when no command is configured, by exiting so that a supervisor starts the
// new image.
type Restarter struct {
	// Delay is the time to wait before restarting, DefaultDelay if zero.
	Delay time.Duration
	// Command is the restart command and its arguments.
	Command []string

	// Exit and Sleep default to os.Exit and time.Sleep.
	Exit  func(int)
	Sleep func(time.Duration)
}

// Reboot restarts the device. It only returns if the restart command fails.
func (r *Restarter) Reboot() error {
	d := r.Delay
	if d == 0 {
		d = DefaultDelay
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	klog.Infof("Restarting in %v", d)
	klog.Flush()
	sleep(d)

	if len(r.Command) == 0 {
		exit := r.Exit
		if exit == nil {
			exit = os.Exit
		}
		klog.Info("Exiting for restart")
		klog.Flush()
		exit(0)
		return nil
	}

	klog.Infof("Running restart command %q", r.Command)
	klog.Flush()
	cmd := exec.Command(r.Command[0], r.Command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return fmt.Errorf("restart command failed with status %d: %s", ee.ExitCode(), out)
		}
		return fmt.Errorf("restart command: %v", err)
	}
	return nil
}
