// Package metrics exposes the ledger's domain counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	BondsCreated     prometheus.Counter
	ActiveBonds      prometheus.Gauge
	Withdrawals      *prometheus.CounterVec
	SlashesApplied   prometheus.Counter
	UnslashesApplied prometheus.Counter
	ProposalsCreated prometheus.Counter
	VotesCast        prometheus.Counter
	ReplayRejections prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		BondsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credence_bonds_created_total",
			Help: "Total number of bonds created, including batch entries",
		}),
		ActiveBonds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "credence_bonds_active",
			Help: "Current number of active bonds",
		}),
		Withdrawals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "credence_withdrawals_total",
			Help: "Total number of executed withdrawals by path",
		}, []string{"path"}),
		SlashesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credence_slashes_applied_total",
			Help: "Total number of applied slashes, direct and governance",
		}),
		UnslashesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credence_unslashes_applied_total",
			Help: "Total number of administrative slash reversals",
		}),
		ProposalsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credence_slash_proposals_created_total",
			Help: "Total number of slash proposals opened",
		}),
		VotesCast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credence_governance_votes_total",
			Help: "Total number of governance votes recorded",
		}),
		ReplayRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "credence_nonce_replays_rejected_total",
			Help: "Total number of operations rejected by the nonce guard",
		}),
	}
}

func (m *Metrics) IncBondsCreated(n int) {
	if m == nil {
		return
	}
	m.BondsCreated.Add(float64(n))
	m.ActiveBonds.Add(float64(n))
}

func (m *Metrics) DecActiveBonds() {
	if m == nil {
		return
	}
	m.ActiveBonds.Dec()
}

func (m *Metrics) IncWithdrawal(path string) {
	if m == nil {
		return
	}
	m.Withdrawals.WithLabelValues(path).Inc()
}

func (m *Metrics) IncSlashes() {
	if m == nil {
		return
	}
	m.SlashesApplied.Inc()
}

func (m *Metrics) IncUnslashes() {
	if m == nil {
		return
	}
	m.UnslashesApplied.Inc()
}

func (m *Metrics) IncProposals() {
	if m == nil {
		return
	}
	m.ProposalsCreated.Inc()
}

func (m *Metrics) IncVotes() {
	if m == nil {
		return
	}
	m.VotesCast.Inc()
}

func (m *Metrics) IncReplayRejections() {
	if m == nil {
		return
	}
	m.ReplayRejections.Inc()
}
