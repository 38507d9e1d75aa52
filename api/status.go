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

package api

import (
	"bytes"
	"fmt"
	"time"
)

// Status is the update state reported by a device.
type Status struct {
	Device           string    `json:"device" cbor:"1,keyasint"`
	Chip             string    `json:"chip" cbor:"2,keyasint"`
	InstalledVersion string    `json:"installed_version" cbor:"3,keyasint"`
	InProgress       bool      `json:"in_progress" cbor:"4,keyasint"`
	LastCheck        time.Time `json:"last_check,omitempty" cbor:"5,keyasint,omitempty"`
	LastOutcome      string    `json:"last_outcome,omitempty" cbor:"6,keyasint,omitempty"`
	LastError        string    `json:"last_error,omitempty" cbor:"7,keyasint,omitempty"`
	// PendingVersion is the version committed to storage and waiting for a
	// restart to become active, if any.
	PendingVersion string `json:"pending_version,omitempty" cbor:"8,keyasint,omitempty"`
}

// Print returns the device status in textual format.
func (p *Status) Print() string {
	var status bytes.Buffer

	status.WriteString("------------------------------------------------------- OTA status ----\n")
	status.WriteString(fmt.Sprintf("Device .................: %s\n", p.Device))
	status.WriteString(fmt.Sprintf("Chip ...................: %s\n", p.Chip))
	status.WriteString(fmt.Sprintf("Installed version ......: %s\n", p.InstalledVersion))
	if p.PendingVersion != "" {
		status.WriteString(fmt.Sprintf("Pending version ........: %s\n", p.PendingVersion))
	}
	status.WriteString(fmt.Sprintf("Update in progress .....: %v\n", p.InProgress))
	if !p.LastCheck.IsZero() {
		status.WriteString(fmt.Sprintf("Last check .............: %s\n", p.LastCheck.Format(time.RFC3339)))
	}
	status.WriteString(fmt.Sprintf("Last outcome ...........: %s", p.LastOutcome))
	if p.LastError != "" {
		status.WriteString(fmt.Sprintf("\nLast error .............: %s", p.LastError))
	}

	return status.String()
}
