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

// The ota-der-key tool converts the OTA signing public key into the DER
// encoded form embedded into device firmware.
//
// Usage:
//
//	ota-der-key [--format go|c|der] [--package trust] [--out file] public_key.pem
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sebmalissard/home-automation-firmwares/internal/cli"
	"github.com/sebmalissard/home-automation-firmwares/internal/sign"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

// bytesPerLine is the number of key bytes rendered on each line of source.
const bytesPerLine = 12

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.StringP("format", "F", "go", "output format: go, c or der")
	pkg := fs.String("package", "trust", "package name used by --format=go")
	out := fs.StringP("out", "o", "", "output file, stdout if unset")
	help := fs.BoolP("help", "h", false, "show this help")
	cli.AddKlogFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [options] public_key.pem\n\nOptions:\n", args[0])
		fs.PrintDefaults()
	}

	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return 2
	}
	defer klog.Flush()
	if *help {
		fs.SetOutput(stdout)
		fs.Usage()
		return 0
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	keyFile := fs.Arg(0)

	pub, err := sign.LoadPublicKey(keyFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: Fail to read public key: %v\n", err)
		return 1
	}
	der, err := sign.MarshalPublicKeyDER(pub)
	if err != nil {
		fmt.Fprintf(stderr, "Error: Fail to convert to DER format: %v\n", err)
		return 1
	}

	var b []byte
	switch *format {
	case "go":
		b = []byte(goSource(*pkg, keyFile, der))
	case "c":
		b = []byte(cHeader(keyFile, der))
	case "der":
		b = der
	default:
		fmt.Fprintf(stderr, "Error: unknown format %q\n", *format)
		return 2
	}

	if *out == "" {
		if _, err := stdout.Write(b); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	if err := os.WriteFile(*out, b, 0o644); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	klog.Infof("Wrote %d byte DER key from %q to %q", len(der), keyFile, *out)
	return 0
}

// byteLines renders b as comma separated 0xNN literals, bytesPerLine per
// line, each line prefixed with indent.
func byteLines(b []byte, indent string) string {
	var s strings.Builder
	for i, c := range b {
		if i%bytesPerLine == 0 {
			s.WriteString(indent)
		}
		fmt.Fprintf(&s, "0x%02X", c)
		switch {
		case (i+1)%bytesPerLine == 0 || i+1 == len(b):
			s.WriteString(",\n")
		default:
			s.WriteString(", ")
		}
	}
	return s.String()
}

func goSource(pkg, keyFile string, der []byte) string {
	var s strings.Builder
	fmt.Fprintf(&s, "// Code generated by ota-der-key from %s. DO NOT EDIT.\n\n", keyFile)
	fmt.Fprintf(&s, "package %s\n\n", pkg)
	s.WriteString("// OTAPublicKey is the DER encoded OTA image signing public key.\n")
	s.WriteString("var OTAPublicKey = []byte{\n")
	s.WriteString(byteLines(der, "\t"))
	s.WriteString("}\n\n")
	s.WriteString("// OTAPublicKeyDERLen is the length of OTAPublicKey.\n")
	fmt.Fprintf(&s, "const OTAPublicKeyDERLen = %d\n", len(der))
	return s.String()
}

func cHeader(keyFile string, der []byte) string {
	var s strings.Builder
	fmt.Fprintf(&s, "/* Generated from %s */\n", keyFile)
	s.WriteString("/* DER encoded public key */\n\n")
	s.WriteString("#pragma once\n\n")
	s.WriteString("#include <stdint.h>\n\n")
	s.WriteString("const uint8_t OTA_PUBLIC_KEY[] = {\n")
	s.WriteString(strings.TrimSuffix(byteLines(der, "    "), ",\n") + "\n")
	s.WriteString("};\n")
	fmt.Fprintf(&s, "#define OTA_PUBLIC_KEY_DER_LEN %d\n", len(der))
	return s.String()
}
