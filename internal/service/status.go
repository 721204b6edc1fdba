// Package service reports the install and running state of the local
// cluster-node process by inspecting PATH and the process table.
package service

import (
	"context"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// Status describes the observed state of the cluster service.
type Status struct {
	Installed bool
	Running   bool
	LastError string
}

// EmitFunc receives a status whenever it changes.
type EmitFunc func(Status)

// Poller periodically checks the service state and emits on change.
type Poller struct {
	processName string
	emit        EmitFunc
	log         zerolog.Logger

	// swappable for tests
	installed func() bool
	running   func(context.Context) (bool, error)

	last *Status
}

// NewPoller watches for a process with the given name ("exo" by default in
// config).
func NewPoller(processName string, emit EmitFunc, log zerolog.Logger) *Poller {
	p := &Poller{
		processName: processName,
		emit:        emit,
		log:         log,
	}
	p.installed = p.checkInstalled
	p.running = p.checkRunning
	return p
}

// Run polls immediately and then on every tick until the context is
// cancelled. The emit callback fires only when the status changes.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	p.log.Info().
		Str("process", p.processName).
		Dur("interval", interval).
		Msg("Service status poller started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	status := Status{Installed: p.installed()}

	running, err := p.running(ctx)
	if err != nil {
		status.LastError = err.Error()
	}
	status.Running = running

	if p.last != nil && *p.last == status {
		return
	}
	p.last = &status

	p.log.Info().
		Bool("installed", status.Installed).
		Bool("running", status.Running).
		Msg("Service status changed")

	p.emit(status)
}

func (p *Poller) checkInstalled() bool {
	_, err := exec.LookPath(p.processName)
	return err == nil
}

func (p *Poller) checkRunning(ctx context.Context) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, err
	}
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if name == p.processName {
			return true, nil
		}
	}
	return false, nil
}
