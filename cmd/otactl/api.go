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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sebmalissard/home-automation-firmwares/api"
	"github.com/sebmalissard/home-automation-firmwares/api/rpc"
)

// Device is the admin interface of a device's updater.
type Device struct {
	base string
	hc   *http.Client
}

func newDevice(addr string, hc *http.Client) Device {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return Device{base: strings.TrimSuffix(addr, "/"), hc: hc}
}

func (d Device) do(ctx context.Context, method, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, d.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// status returns the device status in textual format.
func (d Device) status(ctx context.Context) (string, error) {
	s := &api.Status{}
	if err := d.do(ctx, http.MethodGet, rpc.StatusPath, s); err != nil {
		return "", err
	}
	return s.Print(), nil
}

// updateCheck asks the device to check for an update.
func (d Device) updateCheck(ctx context.Context) (string, error) {
	r := rpc.UpdateCheckResponse{}
	if err := d.do(ctx, http.MethodPost, rpc.UpdateCheckPath, &r); err != nil {
		return "", err
	}
	return r.Message, nil
}
