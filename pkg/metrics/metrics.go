// Package metrics exports UART traffic as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robotalks/sfslink/pkg/framework"
	"github.com/robotalks/sfslink/pkg/uart/cmds"
	"github.com/robotalks/sfslink/pkg/uart/comm"
)

const namespace = "sfslink"

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler exposing reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Observer implements comm.Observer with Prometheus counters.
type Observer struct {
	Sent            *prometheus.CounterVec // labels: cmd
	Received        *prometheus.CounterVec // labels: result
	Acks            prometheus.Counter
	Corrupted       *prometheus.CounterVec // labels: kind=checksum|malformed
	UnsolicitedMsgs *prometheus.CounterVec // labels: cmd
	Timeouts        prometheus.Counter
}

// NewObserver creates an Observer and registers its metrics.
func NewObserver(reg prometheus.Registerer) *Observer {
	o := &Observer{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Requests sent to the device by command.",
		}, []string{"cmd"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Messages received from the device by response code class.",
		}, []string{"result"}),
		Acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_received_total",
			Help:      "Bare acknowledgments received.",
		}),
		Corrupted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_corrupted_total",
			Help:      "Frames failing verification by kind.",
		}, []string{"kind"}),
		UnsolicitedMsgs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsolicited_total",
			Help:      "Unsolicited messages by command.",
		}, []string{"cmd"}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_timeouts_total",
			Help:      "Requests not answered before timeout.",
		}),
	}
	reg.MustRegister(o.Sent, o.Received, o.Acks, o.Corrupted, o.UnsolicitedMsgs, o.Timeouts)
	return o
}

// MessageSent implements comm.Observer.
func (o *Observer) MessageSent(msg *comm.Message) {
	o.Sent.WithLabelValues(cmds.Name(msg.Command)).Inc()
}

// MessageReceived implements comm.Observer.
func (o *Observer) MessageReceived(msg *comm.Message) {
	result := "ok"
	if msg.Command != 0 {
		result = "code"
	}
	o.Received.WithLabelValues(result).Inc()
}

// AckReceived implements comm.Observer.
func (o *Observer) AckReceived() {
	o.Acks.Inc()
}

// FrameCorrupted implements comm.Observer.
func (o *Observer) FrameCorrupted(err error) {
	kind := "malformed"
	if errors.Is(err, comm.ErrChecksumMismatch) {
		kind = "checksum"
	}
	o.Corrupted.WithLabelValues(kind).Inc()
}

// Unsolicited implements comm.Observer.
func (o *Observer) Unsolicited(msg *comm.Message) {
	o.UnsolicitedMsgs.WithLabelValues(cmds.Name(msg.Command)).Inc()
}

// ResponseTimeout implements comm.Observer.
func (o *Observer) ResponseTimeout(msgID, command uint16) {
	o.Timeouts.Inc()
}

// Server serves /metrics until canceled.
type Server struct {
	Addr     string
	Registry *prometheus.Registry
}

// Name implements framework.Named.
func (s *Server) Name() string {
	return "metrics"
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(s.Registry))
	srv := &http.Server{Handler: mux}
	glog.Infof("metrics on http://%s/metrics", ln.Addr())
	return framework.RunWithContextCloser(ctx, srv, func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}
