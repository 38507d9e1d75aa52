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

// The ota-gen-image tool builds a signed OTA image from a firmware binary.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sebmalissard/home-automation-firmwares/internal/builder"
	"github.com/sebmalissard/home-automation-firmwares/internal/cli"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"k8s.io/klog/v2"
)

const usageHeader = `Usage: %[1]s [options]

Build a signed OTA image: header (256 bytes), signature (512 bytes), firmware.

Example:
  %[1]s -c ESP8266 -d radiator -v 1.0.0 -f firmware.bin -k private_key.pem -o ota_firmware.bin

Options:
`

// passphraseEnv names the environment variable holding the passphrase of an
// encrypted private key when stdin is not a terminal.
const passphraseEnv = "OTA_KEY_PASSPHRASE"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	name := "ota-gen-image"
	if len(args) > 0 {
		name = args[0]
	}

	var o builder.Options
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&o.Chip, "chip", "c", "", "target chip identifier (at most 32 bytes)")
	fs.StringVarP(&o.Device, "device", "d", "", "target device identifier (at most 32 bytes)")
	fs.StringVarP(&o.Version, "version", "v", "", "firmware version (at most 8 bytes)")
	fs.StringVarP(&o.Firmware, "fw", "f", "", "firmware binary to embed")
	fs.StringVarP(&o.PrivateKey, "private-key", "k", "", "RSA-2048 private key used to sign the header (PEM or OpenSSH)")
	fs.StringVarP(&o.Out, "out", "o", "", "output image path, or a directory to write <device>_<chip>_<version>.bin into")
	noProgress := fs.Bool("no-progress", false, "never show a progress bar")
	help := fs.BoolP("help", "h", false, "show this help")

	cli.AddKlogFlags(fs)

	usage := func() {
		fmt.Fprintf(stderr, usageHeader, name)
		fs.PrintDefaults()
	}
	fs.Usage = usage

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		usage()
		return 2
	}
	defer klog.Flush()

	if *help {
		fs.SetOutput(stdout)
		fmt.Fprintf(stdout, usageHeader, name)
		fs.PrintDefaults()
		return 0
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "ERROR: unexpected arguments: %v\n", fs.Args())
		usage()
		return 2
	}

	var me *builder.MissingError
	if err := o.Validate(); errors.As(err, &me) {
		for _, m := range me.Missing {
			fmt.Fprintf(stderr, "ERROR: Option '--%s' is required.\n", m)
		}
		usage()
		return 2
	}

	o.Passphrase = passphrase(stderr)
	if !*noProgress && isTerminal(os.Stderr) {
		o.Progress = os.Stderr
	}

	hdr, err := builder.Build(o)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "OTA image %s created.\n%s\n", o.OutputPath(), hdr)
	return 0
}

// passphrase returns a func which prompts for the private key passphrase on
// the terminal, or reads it from the environment when there is no terminal.
func passphrase(prompt io.Writer) func() ([]byte, error) {
	return func() ([]byte, error) {
		if p, ok := os.LookupEnv(passphraseEnv); ok {
			return []byte(p), nil
		}
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return nil, fmt.Errorf("private key is encrypted: set %s or run from a terminal", passphraseEnv)
		}
		fmt.Fprint(prompt, "Private key passphrase: ")
		defer fmt.Fprintln(prompt)
		return term.ReadPassword(fd)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
