// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package core

import (
	"flag"
)

var (
	Daemon     bool
	Debug      bool
	Updater    bool
	ConfigFile string
	CpuProfile string
	PidFile    string
	RunLog     string
)

// Registration only. Parsing is left to main so the flag set stays
// open for the flags other packages register, the test runner included.
func init() {
	flag.StringVar(&ConfigFile, "config", "", "Path to the config file")
	flag.BoolVar(&Daemon, "D", false, "Daemon mode")
	flag.BoolVar(&Debug, "debug", false, "Debug mode")
	flag.BoolVar(&Updater, "updater", true, "Enable the periodic mirrors update pipeline")
	flag.StringVar(&CpuProfile, "cpuprofile", "", "write cpu profile to file")
	flag.StringVar(&PidFile, "p", "", "Path to pid file")
	flag.StringVar(&RunLog, "log", "", "File to output logs (default: stderr)")
}

func Args() []string {
	return flag.Args()
}
