package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records transport metrics.
type Recorder interface {
	RecordSent(bytes int)
	RecordReceived(bytes int)
	RecordLoss()
	RecordRetry()
	RecordFramingError()
	SetPeers(n int)
}

type dummy struct{}

// NewDummy constructs a new dummy metrics recorder.
func NewDummy() Recorder {
	return &dummy{}
}

func (m *dummy) RecordSent(int)      {}
func (m *dummy) RecordReceived(int)  {}
func (m *dummy) RecordLoss()         {}
func (m *dummy) RecordRetry()        {}
func (m *dummy) RecordFramingError() {}
func (m *dummy) SetPeers(int)        {}

type prom struct {
	sentBytes     prometheus.Counter
	recvBytes     prometheus.Counter
	recvPackets   prometheus.Counter
	lostPackets   prometheus.Counter
	retries       prometheus.Counter
	framingErrors prometheus.Counter
	peers         prometheus.Gauge
}

// NewPrometheus constructs a new Prometheus metrics recorder and registers
// its collectors with reg.
func NewPrometheus(service string, reg prometheus.Registerer) (Recorder, error) {
	m := &prom{
		sentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_sent_bytes_total",
			Help: "The total number of bytes handed to the carrier",
		}),
		recvBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_received_bytes_total",
			Help: "The total number of bytes received from the carrier",
		}),
		recvPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_received_packets_total",
			Help: "The total number of received carrier payloads",
		}),
		lostPackets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_lost_packets_total",
			Help: "The total number of sequence gaps detected",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_retransmissions_total",
			Help: "The total number of reliable message retransmissions",
		}),
		framingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: service + "_framing_errors_total",
			Help: "The total number of malformed payloads",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: service + "_peers",
			Help: "The number of active peer sessions",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.sentBytes, m.recvBytes, m.recvPackets, m.lostPackets, m.retries, m.framingErrors, m.peers,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prom) RecordSent(bytes int) {
	m.sentBytes.Add(float64(bytes))
}

func (m *prom) RecordReceived(bytes int) {
	m.recvPackets.Inc()
	m.recvBytes.Add(float64(bytes))
}

func (m *prom) RecordLoss()         { m.lostPackets.Inc() }
func (m *prom) RecordRetry()        { m.retries.Inc() }
func (m *prom) RecordFramingError() { m.framingErrors.Inc() }
func (m *prom) SetPeers(n int)      { m.peers.Set(float64(n)) }

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
