package iam

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's prometheus counters. All methods are
// nil-safe so the engine can run without metrics wired.
type Metrics struct {
	signUps      *prometheus.CounterVec
	signIns      *prometheus.CounterVec
	sessionGets  *prometheus.CounterVec
	tokenVerify  *prometheus.CounterVec
	refreshes    prometheus.Counter
	signOuts     prometheus.Counter
	signOutAlls  prometheus.Counter
	passwordOps  *prometheus.CounterVec
}

// NewMetrics registers the engine counters with reg. A nil reg uses the
// default prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		signUps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Name:      "sign_ups_total",
			Help:      "Sign-up attempts by result.",
		}, []string{"result"}),
		signIns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Name:      "sign_ins_total",
			Help:      "Sign-in attempts by result.",
		}, []string{"result"}),
		sessionGets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Name:      "session_lookups_total",
			Help:      "Session dereferences by result.",
		}, []string{"result"}),
		tokenVerify: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Name:      "token_verifications_total",
			Help:      "Bearer token verifications by result.",
		}, []string{"result"}),
		refreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "iam",
			Name:      "session_refreshes_total",
			Help:      "Session-object rebuilds after authorization changes.",
		}),
		signOuts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "iam",
			Name:      "sign_outs_total",
			Help:      "Single-SID sign-outs.",
		}),
		signOutAlls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "iam",
			Name:      "sign_out_alls_total",
			Help:      "Whole-identity session invalidations.",
		}),
		passwordOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Name:      "password_operations_total",
			Help:      "Password changes and resets by operation and result.",
		}, []string{"op", "result"}),
	}
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) signUp(err error) {
	if m != nil {
		m.signUps.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) signIn(err error) {
	if m != nil {
		m.signIns.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) sessionGet(err error) {
	if m != nil {
		m.sessionGets.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) tokenVerified(err error) {
	if m != nil {
		m.tokenVerify.WithLabelValues(result(err)).Inc()
	}
}

func (m *Metrics) sessionRefreshed() {
	if m != nil {
		m.refreshes.Inc()
	}
}

func (m *Metrics) signedOut() {
	if m != nil {
		m.signOuts.Inc()
	}
}

func (m *Metrics) signedOutAll() {
	if m != nil {
		m.signOutAlls.Inc()
	}
}

func (m *Metrics) passwordOp(op string, err error) {
	if m != nil {
		m.passwordOps.WithLabelValues(op, result(err)).Inc()
	}
}
