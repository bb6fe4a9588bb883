// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics bundles the counters a Server optionally exposes,
// following the same prometheus.NewCounter/NewCounterVec idiom used by
// AlexAQ972-FASST-LLM and postalsys-Muti-Metroo for their respective
// scanners. A nil *metrics (the zero value of ServerConfig.Metrics)
// disables collection entirely; every call site below is a guarded
// no-op when m == nil.
type metrics struct {
	connectionsAccepted prometheus.Counter
	authAttempts        *prometheus.CounterVec
	channelsOpened      *prometheus.CounterVec
	rekeys              prometheus.Counter
	bytesTransferred    *prometheus.CounterVec
}

// NewMetrics constructs a metrics bundle and registers it with reg.
// Applications that want Prometheus visibility into the server pass
// the result as ServerConfig.Metrics; applications that don't care
// leave ServerConfig.Metrics nil.
func NewMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssssh_connections_accepted_total",
			Help: "TCP connections accepted by the SSH server.",
		}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssssh_auth_attempts_total",
			Help: "Userauth attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		channelsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssssh_channels_opened_total",
			Help: "Channels opened by kind.",
		}, []string{"kind"}),
		rekeys: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ssssh_rekeys_total",
			Help: "Key re-exchanges performed.",
		}),
		bytesTransferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ssssh_bytes_total",
			Help: "Channel data bytes transferred by direction.",
		}, []string{"direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.connectionsAccepted, m.authAttempts, m.channelsOpened, m.rekeys, m.bytesTransferred)
	}
	return m
}

func (m *metrics) connAccepted() {
	if m != nil {
		m.connectionsAccepted.Inc()
	}
}

func (m *metrics) auth(method string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.authAttempts.WithLabelValues(method, outcome).Inc()
}

func (m *metrics) channelOpened(kind string) {
	if m != nil {
		m.channelsOpened.WithLabelValues(kind).Inc()
	}
}

func (m *metrics) rekeyed() {
	if m != nil {
		m.rekeys.Inc()
	}
}

func (m *metrics) transferred(direction string, n int) {
	if m != nil {
		m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
	}
}
