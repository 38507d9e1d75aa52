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
	"bytes"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebmalissard/home-automation-firmwares/internal/sign"
	"github.com/sebmalissard/home-automation-firmwares/internal/sign/signtest"
)

func TestRunFormats(t *testing.T) {
	k := signtest.Key(t, "der")
	keyFile := signtest.WritePublicKey(t, k)
	der, err := sign.MarshalPublicKeyDER(&k.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPublicKeyDER: %v", err)
	}

	t.Run("go", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"ota-der-key", keyFile}, &stdout, &stderr); code != 0 {
			t.Fatalf("Got exit code %d: %s", code, stderr.String())
		}
		src := stdout.String()
		if _, err := parser.ParseFile(token.NewFileSet(), "key.go", src, 0); err != nil {
			t.Fatalf("Generated source does not parse: %v\n%s", err, src)
		}
		if got := strings.Count(src, "0x"); got != len(der) {
			t.Errorf("Got %d bytes in source, want %d", got, len(der))
		}
		if want := fmt.Sprintf("const OTAPublicKeyDERLen = %d\n", len(der)); !strings.Contains(src, want) {
			t.Errorf("Source missing %q", want)
		}
		if want := fmt.Sprintf("0x%02X, 0x%02X", der[0], der[1]); !strings.Contains(src, want) {
			t.Errorf("Source missing leading bytes %q", want)
		}
	})

	t.Run("c", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"ota-der-key", "--format", "c", keyFile}, &stdout, &stderr); code != 0 {
			t.Fatalf("Got exit code %d: %s", code, stderr.String())
		}
		src := stdout.String()
		for _, want := range []string{
			"#pragma once",
			"const uint8_t OTA_PUBLIC_KEY[] = {",
			fmt.Sprintf("#define OTA_PUBLIC_KEY_DER_LEN %d", len(der)),
		} {
			if !strings.Contains(src, want) {
				t.Errorf("Header missing %q", want)
			}
		}
		if strings.Contains(src, ",\n};") {
			t.Errorf("Header has trailing comma before closing brace")
		}
	})

	t.Run("der", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "key.der")
		var stdout, stderr bytes.Buffer
		if code := run([]string{"ota-der-key", "-F", "der", "-o", out, keyFile}, &stdout, &stderr); code != 0 {
			t.Fatalf("Got exit code %d: %s", code, stderr.String())
		}
		got, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if !bytes.Equal(got, der) {
			t.Errorf("DER output differs")
		}
		if _, err := sign.ParsePublicKey(got); err != nil {
			t.Errorf("ParsePublicKey: %v", err)
		}
	})
}

func TestRunErrors(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(bad, []byte("nonsense"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	good := signtest.WritePublicKey(t, signtest.Key(t, "der"))
	for _, test := range []struct {
		name     string
		args     []string
		wantCode int
	}{
		{name: "no key", args: nil, wantCode: 2},
		{name: "too many args", args: []string{good, good}, wantCode: 2},
		{name: "unknown format", args: []string{"--format", "rust", good}, wantCode: 2},
		{name: "unparseable key", args: []string{bad}, wantCode: 1},
		{name: "missing key", args: []string{bad + ".missing"}, wantCode: 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(append([]string{"ota-der-key"}, test.args...), &stdout, &stderr); code != test.wantCode {
				t.Fatalf("Got exit code %d, want %d: %s", code, test.wantCode, stderr.String())
			}
		})
	}
}
