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

// The ota-manifest tool builds the firmware manifest published by the update
// server from a set of signed images.
package main

import (
	"crypto/rsa"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sebmalissard/home-automation-firmwares/api"
	"github.com/sebmalissard/home-automation-firmwares/internal/digest"
	"github.com/sebmalissard/home-automation-firmwares/internal/manifest"
	"github.com/sebmalissard/home-automation-firmwares/internal/sign"
	"k8s.io/klog/v2"
)

var (
	outputFile   = flag.String("output_file", "", "File to write the manifest to, stdout if empty.")
	serverURL    = flag.String("server_url", "", "Base URL the image files are served from.")
	baseManifest = flag.String("base_manifest", "", "Existing manifest to update, entries for the same device and chip are replaced.")
	pubKeyFile   = flag.String("pubkey", "", "Public key file to verify image signatures and digests with.")
	dump         = flag.Bool("dump", false, "Print the decoded image headers instead of a manifest.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if flag.NArg() == 0 {
		klog.Exitf("Usage: %s [flags] image.bin...", filepath.Base(os.Args[0]))
	}

	var pub *rsa.PublicKey
	if *pubKeyFile != "" {
		var err error
		pub, err = sign.LoadPublicKey(*pubKeyFile)
		if err != nil {
			klog.Exitf("Failed to load public key: %v", err)
		}
	}

	if *dump {
		for _, p := range flag.Args() {
			h, err := inspect(p, pub)
			if err != nil {
				klog.Exitf("%s: %v", p, err)
			}
			fmt.Printf("%s:\n%s\n", p, h)
		}
		return
	}

	m := &api.Manifest{}
	if *baseManifest != "" {
		b, err := os.ReadFile(*baseManifest)
		if err != nil {
			klog.Exitf("Failed to read manifest %q: %v", *baseManifest, err)
		}
		if m, err = manifest.Parse(b); err != nil {
			klog.Exitf("Invalid manifest %q: %v", *baseManifest, err)
		}
	}
	if *serverURL != "" {
		m.ServerURL = *serverURL
	}
	if m.ServerURL != "" && !strings.HasSuffix(m.ServerURL, "/") {
		klog.Warningf("Server URL %q has no trailing slash, file names are appended to it as-is", m.ServerURL)
	}
	for _, p := range flag.Args() {
		h, err := inspect(p, pub)
		if err != nil {
			klog.Exitf("%s: %v", p, err)
		}
		add(m, descriptor(p, h))
	}

	jsn, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		klog.Exitf("Failed to encode manifest: %v", err)
	}
	jsn = append(jsn, '\n')
	if *outputFile == "" {
		os.Stdout.Write(jsn)
		return
	}
	if err := os.WriteFile(*outputFile, jsn, 0o644); err != nil {
		klog.Exitf("WriteFile: %v", err)
	}
	klog.Infof("Wrote manifest with %d firmwares to %q", len(m.Firmwares), *outputFile)
}

// inspect decodes the header of the image at p. If pub is set, the header
// signature and firmware digest are verified too.
func inspect(p string, pub *rsa.PublicKey) (api.Header, error) {
	f, err := os.Open(p)
	if err != nil {
		return api.Header{}, err
	}
	defer f.Close()

	h, sig, err := api.ReadImageHeader(f)
	if err != nil {
		return api.Header{}, err
	}
	if !h.MagicValid() {
		return api.Header{}, fmt.Errorf("bad magic %q", h.Magic[:])
	}
	if pub == nil {
		return h, nil
	}

	hb, err := h.MarshalBinary()
	if err != nil {
		return api.Header{}, err
	}
	if err := sign.Verify(pub, hb, sig.RSA2048[:]); err != nil {
		return api.Header{}, fmt.Errorf("signature: %v", err)
	}
	d, n, err := digest.HashReader(f)
	if err != nil {
		return api.Header{}, err
	}
	if n != int64(h.FirmwareSize) {
		return api.Header{}, fmt.Errorf("firmware is %d bytes, header says %d", n, h.FirmwareSize)
	}
	if !digest.Equal(d, h.FirmwareSHA256) {
		return api.Header{}, fmt.Errorf("firmware digest %x does not match header %x", d, h.FirmwareSHA256)
	}
	klog.V(1).Infof("%s: signature and digest verified", p)
	return h, nil
}

func descriptor(p string, h api.Header) api.FirmwareDescriptor {
	return api.FirmwareDescriptor{
		Device:  h.DeviceString(),
		Chip:    h.ChipString(),
		Version: h.VersionString(),
		File:    filepath.Base(p),
	}
}

// add puts d in m, replacing any entry for the same device and chip. Devices
// only consider the first entry matching them.
func add(m *api.Manifest, d api.FirmwareDescriptor) {
	for i := range m.Firmwares {
		if m.Firmwares[i].Device == d.Device && m.Firmwares[i].Chip == d.Chip {
			klog.Infof("Replacing %s/%s %s with %s", d.Device, d.Chip, m.Firmwares[i].Version, d.Version)
			m.Firmwares[i] = d
			return
		}
	}
	m.Firmwares = append(m.Firmwares, d)
}
