// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/core"
	"github.com/almalinux/mirrorsvc/daemon"
	"github.com/almalinux/mirrorsvc/database"
	"github.com/almalinux/mirrorsvc/http"
	"github.com/almalinux/mirrorsvc/logs"
	"github.com/almalinux/mirrorsvc/mirrors"
	"github.com/almalinux/mirrorsvc/network"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("main")

func main() {
	flag.Parse()

	if len(core.Args()) > 0 && core.Args()[0] == "version" {
		core.PrintVersion(core.GetVersionInfo())
		os.Exit(0)
	}

	config.LoadConfig()
	logs.ReloadRuntimeLogs()
	logs.InitSentry()
	defer logs.FlushSentry()

	if core.CpuProfile != "" {
		f, err := os.Create(core.CpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	if core.PidFile != "" {
		writePidFile()
		defer removePidFile()
	}

	if _, err := config.LoadService(config.ServiceConfigPath()); err != nil {
		log.Fatalf("Cannot load the service declaration: %s", err)
	}

	/* Connect to the databases */
	r := database.NewRedis()
	defer r.Close()

	sql, err := database.NewSQL()
	if err != nil {
		log.Fatalf("Cannot open the mirror database: %s", err)
	}
	defer sql.Close()

	geoip := network.NewGeoIP()
	if err := geoip.LoadGeoIP(); err != nil {
		log.Fatalf("Cannot load the GeoIP databases: %s", err)
	}
	defer geoip.Close()

	cache := mirrors.NewCache(r)
	store := mirrors.NewCachedStore(mirrors.NewStore(sql), cache)

	/* Start the background updater */
	m := daemon.NewMonitor(daemon.NewProcessor(geoip, store, cache))
	if core.Updater {
		m.Start()
	}

	h := http.HTTPServer(geoip, store, cache, m)

	/* Handle SIGNALS */
	k := make(chan os.Signal, 1)
	signal.Notify(k,
		syscall.SIGINT,  // Terminate
		syscall.SIGTERM, // Terminate
		syscall.SIGQUIT, // Stop gracefully
		syscall.SIGHUP,  // Reload config
		syscall.SIGUSR1, // Reopen log files
	)
	go func() {
		for {
			sig := <-k
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				h.Stop(1 * time.Second)
				return
			case syscall.SIGQUIT:
				log.Notice("Waiting for running tasks to finish...")
				h.Stop(10 * time.Second)
				return
			case syscall.SIGHUP:
				if err := config.ReloadConfig(); err != nil {
					log.Warningf("SIGHUP Received: %s", err)
				} else {
					log.Notice("SIGHUP Received: Reloading configuration...")
				}
				if _, err := config.LoadService(config.ServiceConfigPath()); err != nil {
					log.Warningf("SIGHUP Received: %s", err)
				}
			case syscall.SIGUSR1:
				log.Notice("SIGUSR1 Received: Re-opening logs...")
				logs.ReloadRuntimeLogs()
			}
		}
	}()

	/* Finally start the HTTP server */
	err = h.RunServer()
	// Expected during a graceful shutdown, there's still no way to
	// detect this error by type.
	if err != nil && strings.Contains(err.Error(), "use of closed network connection") {
		err = nil
	}

	if core.Updater {
		log.Debug("Waiting for updater termination")
		m.Stop()
	}

	if err != nil {
		log.Fatal(err)
	}
	log.Notice("Server stopped gracefully.")
}

func writePidFile() {
	if err := os.WriteFile(core.PidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
		log.Errorf("Unable to write pid file: %s", err)
	}
}

func removePidFile() {
	if core.PidFile != "" {
		os.Remove(core.PidFile)
	}
}
