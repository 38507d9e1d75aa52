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

// The otactl tool queries and controls the updater running on a device.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"time"
)

type Config struct {
	addr    string
	status  bool
	update  bool
	timeout time.Duration
}

func newFlagSet(conf *Config, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("otactl", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.BoolVar(&conf.status, "s", false, "get device update status")
	fs.BoolVar(&conf.update, "u", false, "trigger an update check")
	fs.StringVar(&conf.addr, "a", "localhost:8081", "device admin address")
	fs.DurationVar(&conf.timeout, "t", 10*time.Second, "request timeout")
	return fs
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	out := log.New(stdout, "", 0)
	errs := log.New(stderr, "", 0)
	conf := &Config{}
	fs := newFlagSet(conf, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if !conf.status && !conf.update {
		fs.PrintDefaults()
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), conf.timeout)
	defer cancel()
	d := newDevice(conf.addr, nil)

	var err error
	switch {
	case conf.update:
		var msg string
		errs.Printf("requesting an update check from %s", conf.addr)
		msg, err = d.updateCheck(ctx)
		if err == nil {
			out.Print(msg)
		}
	case conf.status:
		var s string
		s, err = d.status(ctx)
		if err == nil {
			out.Print(s)
		}
	}
	if err != nil {
		errs.Printf("fatal error, %s", err)
		return 1
	}
	return 0
}
