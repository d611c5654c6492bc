package frontchat

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the client's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	realtimeEvents *prometheus.CounterVec
	realtimeState  *prometheus.GaugeVec
	reconnects     prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontchat",
			Name:      "api_requests_total",
			Help:      "REST calls issued by the API gateway, by method and status code.",
		}, []string{"method", "status"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontchat",
			Name:      "token_refreshes_total",
			Help:      "Credential refresh attempts, by result.",
		}, []string{"result"}),
		realtimeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontchat",
			Name:      "realtime_events_total",
			Help:      "Realtime frames received, by event name.",
		}, []string{"event"}),
		realtimeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "frontchat",
			Name:      "realtime_connection_state",
			Help:      "1 for the current realtime connection state, 0 otherwise.",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "frontchat",
			Name:      "realtime_reconnects_total",
			Help:      "Automatic realtime reconnect attempts.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.refreshes, m.realtimeEvents, m.realtimeState, m.reconnects)
	}
	return m
}

func (m *Metrics) observeRequest(method string, status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(method, label).Inc()
}

func (m *Metrics) observeRefresh(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) observeEvent(event string) {
	if m == nil {
		return
	}
	m.realtimeEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) observeState(state RealtimeState) {
	if m == nil {
		return
	}
	for _, s := range []RealtimeState{StateDisconnected, StateConnecting, StateConnected, StateReconnecting} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.realtimeState.WithLabelValues(string(s)).Set(v)
	}
}

func (m *Metrics) observeReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}
