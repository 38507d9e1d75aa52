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

// Manifest is the server-hosted catalog of available firmware images.
//
// Field names are fixed by the devices already deployed in the field and
// must not be changed.
type Manifest struct {
	// ServerURL is the base URL which descriptor File names are appended to.
	ServerURL string `json:"Server URL"`
	// Firmwares lists the available images. A manifest without this array is
	// malformed.
	Firmwares []FirmwareDescriptor `json:"Firmwares"`
}

// FirmwareDescriptor describes a single image listed in a Manifest.
type FirmwareDescriptor struct {
	Device  string `json:"Device"`
	Chip    string `json:"Chip"`
	Version string `json:"Version"`
	File    string `json:"File"`
}

// ImageFileName returns the conventional file name for an image built for
// the given identity and version.
func ImageFileName(device, chip, version string) string {
	return device + "_" + chip + "_" + version + ".bin"
}
