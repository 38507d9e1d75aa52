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

package cli

import (
	"testing"

	"github.com/spf13/pflag"
)

func TestAddKlogFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	version := fs.StringP("version", "v", "", "")
	AddKlogFlags(fs)

	if err := fs.Parse([]string{"-v", "1.0.0", "--verbosity=2", "--logtostderr"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if *version != "1.0.0" {
		t.Errorf("version = %q, want 1.0.0", *version)
	}
	if got := fs.Lookup("verbosity").Value.String(); got != "2" {
		t.Errorf("verbosity = %q, want 2", got)
	}
}
