// Package metrics exposes the control loop to Prometheus.
package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/airfryer/pkg/framework"
)

const namespace = "airfryer"

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler exporting reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics are the control loop metrics. A nil *AppMetrics is valid and
// records nothing.
type AppMetrics struct {
	Cycles          prometheus.Counter
	ProtocolErrors  *prometheus.CounterVec // labels: kind
	TransportErrors prometheus.Counter
	Temperature     *prometheus.GaugeVec // labels: probe=internal|reference
	Signal          prometheus.Gauge
	Duty            *prometheus.GaugeVec // labels: actuator=heater|fan
	Failsafe        prometheus.Counter
}

// NewAppMetrics registers and returns the control loop metrics.
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed control cycles.",
		}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Dropped samples by protocol error kind.",
		}, []string{"kind"}),
		TransportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Serial link failures.",
		}),
		Temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last sampled temperature.",
		}, []string{"probe"}),
		Signal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_signal",
			Help:      "Last control signal in [-100, 100].",
		}),
		Duty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duty_percent",
			Help:      "Actuator duty cycle.",
		}, []string{"actuator"}),
		Failsafe: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failsafe_total",
			Help:      "Times actuators were forced off after repeated protocol errors.",
		}),
	}
	reg.MustRegister(m.Cycles, m.ProtocolErrors, m.TransportErrors, m.Temperature, m.Signal, m.Duty, m.Failsafe)
	return m
}

// ObserveCycle records a completed cycle.
func (m *AppMetrics) ObserveCycle(internal, reference float64, signal, heater, fan int) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.Temperature.WithLabelValues("internal").Set(internal)
	m.Temperature.WithLabelValues("reference").Set(reference)
	m.Signal.Set(float64(signal))
	m.ObserveDuty(heater, fan)
}

// ObserveDuty records actuator duties.
func (m *AppMetrics) ObserveDuty(heater, fan int) {
	if m == nil {
		return
	}
	m.Duty.WithLabelValues("heater").Set(float64(heater))
	m.Duty.WithLabelValues("fan").Set(float64(fan))
}

// ObserveProtocolError counts a dropped sample.
func (m *AppMetrics) ObserveProtocolError(kind string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(kind).Inc()
}

// ObserveTransportError counts a link failure.
func (m *AppMetrics) ObserveTransportError() {
	if m == nil {
		return
	}
	m.TransportErrors.Inc()
}

// ObserveFailsafe counts a forced actuator stop.
func (m *AppMetrics) ObserveFailsafe() {
	if m == nil {
		return
	}
	m.Failsafe.Inc()
}

// Server serves /metrics until the context is canceled.
type Server struct {
	Addr     string
	Registry *prometheus.Registry
	// Handlers are extra endpoints mounted by path.
	Handlers map[string]http.Handler
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "metrics"
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(s.Registry))
	for path, h := range s.Handlers {
		mux.Handle(path, h)
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	glog.Infof("metrics listening on %s", ln.Addr())
	return framework.RunWithContextCloser(ctx, srv, func() error {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
}
