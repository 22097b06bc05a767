/*
Copyright 2022 The l7mp/stunner team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/l7mp/livesync/internal/buildinfo"
	"github.com/l7mp/livesync/pkg/config"
	"github.com/l7mp/livesync/pkg/subscription"
	"github.com/l7mp/livesync/pkg/util"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	var scenarioFile string
	var dumpTables bool

	flag.StringVar(&scenarioFile, "scenario", "", "The scenario file to replay (YAML or JSON).")
	flag.BoolVar(&dumpTables, "dump-tables", false, "Print the committed state of every table after the replay.")

	opts := zap.Options{
		Development:     true,
		DestWriter:      os.Stderr,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	logger := zap.New(zap.UseFlagOptions(&opts)).WithName("livesync")
	setupLog := logger.WithName("setup")

	buildInfo := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	setupLog.Info("starting livesync", buildInfo.KeysAndValues()...)

	if scenarioFile == "" {
		setupLog.Error(nil, "no scenario given, use -scenario")
		os.Exit(1)
	}

	s, err := config.Load(scenarioFile)
	if err != nil {
		setupLog.Error(err, "unable to load scenario", "file", scenarioFile)
		os.Exit(1)
	}

	mgr, err := config.Replay(s, subscription.Options{
		Logger:     logger,
		Registerer: prometheus.NewRegistry(),
	}, func(msg subscription.Message) error {
		_, err := fmt.Fprintln(os.Stdout, util.Stringify(msg))
		return err
	})
	if err != nil {
		setupLog.Error(err, "replay failed")
		os.Exit(1)
	}

	if dumpTables {
		for _, t := range s.Tables {
			rows, err := mgr.Rows(t.Name)
			if err != nil {
				setupLog.Error(err, "unable to list table", "table", t.Name)
				os.Exit(1)
			}
			fmt.Fprintln(os.Stdout, util.Stringify(map[string]any{"table": t.Name, "rows": rows}))
		}
	}

	setupLog.Info("replay finished", "offset", mgr.Offset())
}
