// Copyright (c) 2021-2024 The mirrorsvc authors
// Licensed under the MIT license

package daemon

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/almalinux/mirrorsvc/config"
	"github.com/almalinux/mirrorsvc/core"
	"github.com/almalinux/mirrorsvc/logs"
)

// Monitor schedules the update cycles of the processor
type Monitor struct {
	processor *Processor
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor returns a monitor driving the given processor
func NewMonitor(p *Processor) *Monitor {
	return &Monitor{
		processor: p,
		stop:      make(chan struct{}),
	}
}

// Start launches the update loop. The first cycle runs immediately.
func (m *Monitor) Start() {
	interval := config.GetConfig().UpdateInterval
	if interval == 0 {
		log.Warning("UpdateInterval is 0, mirror updates are disabled")
		return
	}

	m.wg.Add(1)
	go m.loop(time.Duration(interval) * time.Minute)
}

// Stop terminates the update loop and waits for a running cycle
func (m *Monitor) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Monitor) loop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.RunUpdate(context.Background()); err != nil {
			log.Errorf("Mirror update failed: %s", err)
		}
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
	}
}

// RunUpdate executes one update cycle under the pidfile guard so at
// most one updater runs at a time across processes.
func (m *Monitor) RunUpdate(ctx context.Context) (*UpdateResult, error) {
	if err := acquirePidFile(); err != nil {
		return nil, err
	}
	defer releasePidFile()

	result, err := m.processor.Update(ctx)
	if err != nil {
		logs.CaptureError(err)
	}
	return result, err
}

func acquirePidFile() error {
	path := core.UpdatePidFile()

	if content, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
		if err == nil && processAlive(pid) {
			return fmt.Errorf("mirror update already running (pid %d)", pid)
		}
		// Stale pidfile from a crashed updater
		os.Remove(path)
	}

	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}

func releasePidFile() {
	os.Remove(core.UpdatePidFile())
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
