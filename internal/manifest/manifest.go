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

// Package manifest resolves the firmware catalog published by the update
// server into an update decision for this device.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/sebmalissard/home-automation-firmwares/api"
	"github.com/sebmalissard/home-automation-firmwares/internal/update"
	"github.com/tidwall/jsonc"
	"k8s.io/klog/v2"
)

// Outcome is the result of an update check.
type Outcome int

const (
	// NoCandidate means no firmware in the manifest targets this device.
	NoCandidate Outcome = iota
	// UpToDate means the candidate firmware is the one already running.
	UpToDate
	// UpdateAvailable means the candidate firmware differs from the running one.
	UpdateAvailable
)

func (o Outcome) String() string {
	switch o {
	case NoCandidate:
		return "NoCandidate"
	case UpToDate:
		return "UpToDate"
	case UpdateAvailable:
		return "UpdateAvailable"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result describes the decision made from a manifest.
type Result struct {
	Outcome Outcome
	// Version and URL are set for UpToDate and UpdateAvailable.
	Version string
	URL     string
	// Candidate is the selected descriptor, if any.
	Candidate *api.FirmwareDescriptor
}

// FetchFunc retrieves the document at url.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Resolver checks a manifest for firmware updates.
type Resolver struct {
	Fetch FetchFunc
}

// Check fetches the manifest at manifestURL and decides whether the device
// identified by id should update.
//
// A fetch failure is returned as an update.KindNetwork error, an undecodable
// manifest as update.KindFormat.
func (r Resolver) Check(ctx context.Context, manifestURL string, id update.Identity) (Result, error) {
	b, err := r.Fetch(ctx, manifestURL)
	if err != nil {
		return Result{}, &update.Error{Kind: update.KindNetwork, Err: fmt.Errorf("fetching manifest %q: %w", manifestURL, err)}
	}
	m, err := Parse(b)
	if err != nil {
		return Result{}, &update.Error{Kind: update.KindFormat, Err: err}
	}
	return Resolve(m, id), nil
}

// Parse decodes a manifest document.
//
// Comments and trailing commas are tolerated. A document without a
// "Firmwares" array is malformed.
func Parse(b []byte) (*api.Manifest, error) {
	var raw struct {
		ServerURL string                    `json:"Server URL"`
		Firmwares *[]api.FirmwareDescriptor `json:"Firmwares"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(b), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %v", err)
	}
	if raw.Firmwares == nil {
		return nil, errors.New("manifest has no \"Firmwares\" array")
	}
	return &api.Manifest{ServerURL: raw.ServerURL, Firmwares: *raw.Firmwares}, nil
}

// Resolve selects the candidate firmware for id from m.
//
// Descriptors are scanned in document order and the first one whose device
// and chip both equal id's is the candidate; later matches are ignored.
func Resolve(m *api.Manifest, id update.Identity) Result {
	for i := range m.Firmwares {
		fw := &m.Firmwares[i]
		klog.V(2).Infof("Firmware: device=%q chip=%q version=%q file=%q", fw.Device, fw.Chip, fw.Version, fw.File)
		if fw.Device != id.Device || fw.Chip != id.Chip {
			continue
		}
		res := Result{
			Version:   fw.Version,
			URL:       m.ServerURL + fw.File,
			Candidate: fw,
		}
		if fw.Version == id.Version {
			klog.Infof("Already up to date to %s", id.Version)
			res.Outcome = UpToDate
			return res
		}
		klog.Infof("New update version available %s (current %s%s)", fw.Version, id.Version, direction(id.Version, fw.Version))
		res.Outcome = UpdateAvailable
		return res
	}
	klog.Infof("No candidate firmware found for %s/%s", id.Device, id.Chip)
	return Result{Outcome: NoCandidate}
}

// direction describes how the candidate version relates to the current one,
// for logging. Versions which are not semantic versions are left undescribed.
func direction(current, candidate string) string {
	cur, err := semver.NewVersion(strings.TrimPrefix(current, "v"))
	if err != nil {
		return ""
	}
	cand, err := semver.NewVersion(strings.TrimPrefix(candidate, "v"))
	if err != nil {
		return ""
	}
	if cand.LessThan(*cur) {
		return ", downgrade"
	}
	return ", upgrade"
}
