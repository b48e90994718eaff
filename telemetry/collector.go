package telemetry

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// StatusProvider is implemented by components that report stream progress
type StatusProvider interface {
	CurrentLag() int64
	LastPositionSeconds() int64
}

// MetricsCollector periodically samples a StatusProvider into gauges.
// Lag grows while the stream is idle, so it has to be sampled rather than
// updated per record.
type MetricsCollector struct {
	provider StatusProvider
	clock    clock.Clock
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider StatusProvider, clk clock.Clock, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		clock:    clk,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	mc.collect()

	for {
		select {
		case <-mc.clock.After(mc.interval):
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	LagMinutes.Set(float64(mc.provider.CurrentLag()))
	LastPositionSeconds.Set(float64(mc.provider.LastPositionSeconds()))
}
