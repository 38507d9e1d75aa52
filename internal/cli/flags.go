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

// Package cli holds helpers shared by the command line tools.
package cli

import (
	goflag "flag"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

// AddKlogFlags registers klog's flags on fs.
//
// klog's single letter "v" flag is registered as --verbosity, leaving -v free
// for the tools' own use.
func AddKlogFlags(fs *pflag.FlagSet) {
	gfs := goflag.NewFlagSet(fs.Name(), goflag.ContinueOnError)
	klog.InitFlags(gfs)
	gfs.VisitAll(func(f *goflag.Flag) {
		pf := pflag.PFlagFromGoFlag(f)
		if f.Name == "v" {
			pf.Name = "verbosity"
			pf.Shorthand = ""
		}
		fs.AddFlag(pf)
	})
}
