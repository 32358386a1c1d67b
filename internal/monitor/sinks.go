package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Sink receives a batch of Measurements discharged by a Recorder.
type Sink interface {
	Flush(measurements []Measurement) error
}

// StdoutSink logs each measurement as a structured log line, adapted
// from the teacher's plain logger-output style of reporting request
// outcomes.
type StdoutSink struct {
	logger zerolog.Logger
}

// NewStdoutSink builds a StdoutSink writing through logger.
func NewStdoutSink(logger zerolog.Logger) *StdoutSink {
	return &StdoutSink{logger: logger}
}

func (s *StdoutSink) Flush(measurements []Measurement) error {
	for _, m := range measurements {
		s.logger.Info().
			Str("measured", m.Measured).
			Interface("value", m.Value).
			Interface("metadata", m.Metadata).
			Time("timestamp", m.Timestamp).
			Msg("measurement")
	}
	return nil
}

// PrometheusSink exports every numeric measurement as a gauge, keyed by
// the measurement's name. This is the default/demo wiring for an
// external collaborator scraping metrics; a deployment wanting
// different label sets or histogram behaviour supplies its own Sink.
type PrometheusSink struct {
	registry *prometheus.Registry
	gauges   map[string]prometheus.Gauge
}

// NewPrometheusSink creates a PrometheusSink registering gauges against reg.
func NewPrometheusSink(reg *prometheus.Registry) *PrometheusSink {
	return &PrometheusSink{
		registry: reg,
		gauges:   make(map[string]prometheus.Gauge),
	}
}

func (s *PrometheusSink) Flush(measurements []Measurement) error {
	for _, m := range measurements {
		value, ok := toFloat64(m.Value)
		if !ok {
			continue
		}
		gauge, exists := s.gauges[m.Measured]
		if !exists {
			gauge = prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cookiemonster_" + m.Measured,
				Help: "Cookie Monster measurement: " + m.Measured,
			})
			if err := s.registry.Register(gauge); err != nil {
				continue
			}
			s.gauges[m.Measured] = gauge
		}
		gauge.Set(value)
	}
	return nil
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
