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
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sebmalissard/home-automation-firmwares/api/rpc"
	"github.com/sebmalissard/home-automation-firmwares/internal/status"
	"k8s.io/klog/v2"
)

// adminHandler serves the device admin interface.
func adminHandler(st *status.Store, triggerUpdate chan<- struct{}) http.Handler {
	srvMux := http.NewServeMux()
	srvMux.Handle(rpc.MetricsPath, promhttp.Handler())
	srvMux.HandleFunc(rpc.UpdateCheckPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := rpc.UpdateCheckResponse{Queued: true, Message: "update check queued"}
		select {
		case triggerUpdate <- struct{}{}:
		default:
			resp = rpc.UpdateCheckResponse{Message: "update check already pending"}
		}
		klog.Infof("Update check requested by %s: %s", r.RemoteAddr, resp.Message)
		writeJSON(w, resp)
	})
	srvMux.HandleFunc(rpc.StatusPath, func(w http.ResponseWriter, r *http.Request) {
		s := st.Get()
		if strings.Contains(r.Header.Get("Accept"), "text/plain") {
			w.Header().Add("Content-Type", "text/plain")
			w.Write([]byte(s.Print()))
			return
		}
		writeJSON(w, s)
	})
	return srvMux
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.Header().Add("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Write(b)
}

func newAdminServer(h http.Handler) *http.Server {
	return &http.Server{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      h,
	}
}
