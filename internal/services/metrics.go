package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// workflowTransitions counts submission/playtest state changes.
	workflowTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genji_workflow_transitions_total",
			Help: "Submission workflow state transitions.",
		},
		[]string{"from", "to"},
	)

	// playtestVotes counts accepted vote upserts.
	playtestVotes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genji_playtest_votes_total",
			Help: "Playtest votes cast or changed.",
		},
	)

	// analyticsDropped counts events discarded because the buffer was full.
	analyticsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genji_analytics_dropped_total",
			Help: "Analytics events dropped due to a full buffer.",
		},
	)
)

func init() {
	prometheus.MustRegister(workflowTransitions, playtestVotes, analyticsDropped)
}
