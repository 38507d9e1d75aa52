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

// Package rpc describes the device admin HTTP interface shared by the
// on-device updater and the operator tooling.
package rpc

const (
	// StatusPath serves the device's api.Status as JSON, or as text when
	// the request asks for text/plain.
	StatusPath = "/status"
	// UpdateCheckPath triggers an asynchronous update check.
	UpdateCheckPath = "/updatecheck"
	// MetricsPath serves Prometheus metrics.
	MetricsPath = "/metrics"
)

// UpdateCheckResponse is returned by UpdateCheckPath.
type UpdateCheckResponse struct {
	// Queued is false if a check was already pending or running.
	Queued bool `json:"queued"`
	// Message is a human readable description of what happened.
	Message string `json:"message"`
}
