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

// Command sigcore is a small operator CLI over the signal-delivery
// core, in the shape of the teacher's runsc command: a subcommands.Commander
// registering one verb per operation, backed by a shared TOML config.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/tallowmark/shimsig/pkg/slog"
)

var configPath string

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&injectCommand{}, "")
	subcommands.Register(&probeCommand{}, "")
	subcommands.Register(&dumpMaskCommand{}, "")

	flag.StringVar(&configPath, "config", "", "path to a TOML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	slog.SetLevel(*debug)

	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Errorf(nil, "loading config: %v", err)
		os.Exit(2)
	}
	if *debug {
		cfg.Debug = true
	}

	os.Exit(int(subcommands.Execute(context.Background(), cfg)))
}
