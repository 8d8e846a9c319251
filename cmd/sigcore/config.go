// Copyright 2018 The gVisor Authors.
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
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// config is the on-disk shape of sigcore's configuration file, the
// process-wide settings the teacher's runsc/config package loads for
// the sandbox runtime; here it is trimmed to what the signal-delivery
// CLI needs: which host platform flavor to report, and the text ranges
// a PAL adapter would otherwise read from the loaded binary.
type config struct {
	HostType   string `toml:"host_type"`
	Debug      bool   `toml:"debug"`
	LibOSStart uint64 `toml:"libos_text_start"`
	LibOSEnd   uint64 `toml:"libos_text_end"`
	PALStart   uint64 `toml:"pal_text_start"`
	PALEnd     uint64 `toml:"pal_text_end"`
}

func defaultConfig() config {
	return config{HostType: "ptrace"}
}

// loadConfig reads a TOML config file at path, if non-empty, merged over
// defaultConfig. A missing path is not an error: callers run fine on
// defaults alone.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config %s: %w", path, err)
	}
	return cfg, nil
}
