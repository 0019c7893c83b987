package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels for operation counters
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
)

// Metrics holds the collectors shared by the election controller and the ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ElectionOps  *prometheus.CounterVec
	VotesCast    prometheus.Counter
	Candidates   prometheus.Gauge
	Phase        *prometheus.GaugeVec
	LedgerOps    *prometheus.CounterVec
	LedgerTotal  prometheus.Gauge
	Persisted    prometheus.Counter
	PersistFails prometheus.Counter
}

// New creates the collectors and registers them with reg when it is not nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ElectionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "election_operations_total",
			Help: "Election controller operations by outcome.",
		}, []string{"operation", "result"}),
		VotesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "election_votes_total",
			Help: "Votes accepted since process start.",
		}),
		Candidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "election_candidates",
			Help: "Candidates currently registered.",
		}),
		Phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "election_phase",
			Help: "1 for the current election phase, 0 otherwise.",
		}, []string{"phase"}),
		LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Balance ledger operations by outcome.",
		}, []string{"operation", "result"}),
		LedgerTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_total_balance",
			Help: "Sum of all account balances.",
		}),
		Persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_persist_runs_total",
			Help: "Successful snapshot persistence runs.",
		}),
		PersistFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_persist_failures_total",
			Help: "Failed snapshot persistence runs.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.ElectionOps, m.VotesCast, m.Candidates, m.Phase,
			m.LedgerOps, m.LedgerTotal, m.Persisted, m.PersistFails)
	}
	return m
}

// ElectionOp counts one controller operation
func (m *Metrics) ElectionOp(operation string, err error) {
	if m == nil {
		return
	}
	m.ElectionOps.WithLabelValues(operation, result(err)).Inc()
}

// Vote counts an accepted vote
func (m *Metrics) Vote() {
	if m == nil {
		return
	}
	m.VotesCast.Inc()
}

// SetCandidates records the current candidate count
func (m *Metrics) SetCandidates(n int) {
	if m == nil {
		return
	}
	m.Candidates.Set(float64(n))
}

// SetPhase marks current as the only active phase among all
func (m *Metrics) SetPhase(current string, all ...string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == current {
			v = 1
		}
		m.Phase.WithLabelValues(p).Set(v)
	}
}

// LedgerOp counts one ledger operation
func (m *Metrics) LedgerOp(operation string, err error) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(operation, result(err)).Inc()
}

// SetLedgerTotal records the running ledger total
func (m *Metrics) SetLedgerTotal(total uint64) {
	if m == nil {
		return
	}
	m.LedgerTotal.Set(float64(total))
}

// PersistRun counts a persistence run
func (m *Metrics) PersistRun(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistFails.Inc()
		return
	}
	m.Persisted.Inc()
}

func result(err error) string {
	if err != nil {
		return ResultRejected
	}
	return ResultOK
}
