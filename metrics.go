package haltty

import "github.com/rcrowley/go-metrics"

// sessionMetrics mirrors the teacher's KeystrokesMeter/OutputMeter pair
// (packages/tty/proxy.go's Recorder) but scoped to the half-duplex
// send/sync/wait cycle instead of a live full-duplex passthrough.
type sessionMetrics struct {
	registry metrics.Registry

	stepAttempts metrics.Meter
	stepLatency  metrics.Timer
	bytesIn      metrics.Meter
	bytesOut     metrics.Meter
}

func newSessionMetrics() *sessionMetrics {
	registry := metrics.NewRegistry()
	m := &sessionMetrics{
		registry:     registry,
		stepAttempts: metrics.NewMeter(),
		stepLatency:  metrics.NewTimer(),
		bytesIn:      metrics.NewMeter(),
		bytesOut:     metrics.NewMeter(),
	}
	registry.Register("haltty.step.attempts", m.stepAttempts)
	registry.Register("haltty.step.latency", m.stepLatency)
	registry.Register("haltty.bytes.in", m.bytesIn)
	registry.Register("haltty.bytes.out", m.bytesOut)
	return m
}
