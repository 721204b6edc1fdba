// Package metrics samples local resource utilisation and service
// reachability for the telemetry stream.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sample is one reading of local resource usage. Percentages are 0-100.
// GPU stays at zero on platforms without a portable utilisation source.
type Sample struct {
	CPU           float64
	Memory        float64
	Disk          float64
	GPU           float64
	WebAccessible bool
	APIAccessible bool
}

// EmitFunc receives each completed sample.
type EmitFunc func(Sample)

// Sampler periodically collects samples and hands them to the emit callback.
type Sampler struct {
	client *http.Client
	webURL string
	apiURL string
	emit   EmitFunc
	log    zerolog.Logger
}

// NewSampler builds a sampler that checks the local service on servicePort
// for web and API reachability alongside the resource readings.
func NewSampler(servicePort int, emit EmitFunc, log zerolog.Logger) *Sampler {
	return &Sampler{
		client: &http.Client{Timeout: 2 * time.Second},
		webURL: fmt.Sprintf("http://127.0.0.1:%d/", servicePort),
		apiURL: fmt.Sprintf("http://127.0.0.1:%d/v1/models", servicePort),
		emit:   emit,
		log:    log,
	}
}

// Run samples immediately and then on every tick until the context is
// cancelled.
func (s *Sampler) Run(ctx context.Context, interval time.Duration) {
	s.log.Info().Dur("interval", interval).Msg("Resource sampler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.emit(s.Collect(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.emit(s.Collect(ctx))
		}
	}
}

// Collect gathers one sample. Individual readings that fail are left at
// zero; sampling is best-effort.
func (s *Sampler) Collect(ctx context.Context) Sample {
	var sample Sample

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		sample.CPU = percents[0]
	}
	if memInfo, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sample.Memory = memInfo.UsedPercent
	}
	if usage, err := disk.UsageWithContext(ctx, "/"); err == nil {
		sample.Disk = usage.UsedPercent
	}

	sample.WebAccessible = s.accessible(ctx, s.webURL)
	sample.APIAccessible = s.accessible(ctx, s.apiURL)

	return sample
}

func (s *Sampler) accessible(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}
