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

// Package trust holds the trust material compiled into the device updater.
package trust

import (
	"crypto/rsa"
	_ "embed"
	"sync"

	"github.com/sebmalissard/home-automation-firmwares/internal/sign"
)

// OTAPublicKeyDER is the DER encoded SubjectPublicKeyInfo of the key which
// signs OTA image headers.
//
// Regenerate it with:
//
//	ota-der-key --format der --out internal/trust/ota_public_key.der ota_public_key.pem
//
//go:embed ota_public_key.der
var OTAPublicKeyDER []byte

var (
	once   sync.Once
	pubKey *rsa.PublicKey
	keyErr error
)

// OTAPublicKey returns the parsed OTA image signing key.
func OTAPublicKey() (*rsa.PublicKey, error) {
	once.Do(func() {
		pubKey, keyErr = sign.ParsePublicKey(OTAPublicKeyDER)
	})
	return pubKey, keyErr
}
