package main

import (
	"time"

	"github.com/gavel-judge/gavel/evaluator"
	"github.com/gavel-judge/gavel/schema"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gavel"

var (
	// 10ms -> 10min
	evalTimeBuckets = []float64{
		0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600,
	}

	evalTimeHist = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "evaluation_seconds",
		Help:      "Histogram for the whole evaluation wall time",
		Buckets:   evalTimeBuckets,
	}, []string{"status"})

	evalCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "evaluations",
		Help:      "Number of finished evaluations by worst case status",
	}, []string{"status"})

	evalStateCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "states_visited",
		Help:      "Number of grading states executed",
	})

	evalGrade = prometheus.NewSummary(prometheus.SummaryOpts{
		Namespace:  metricsNamespace,
		Name:       "grade",
		Help:       "Summary of awarded grades",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})
)

func init() {
	prometheus.MustRegister(evalTimeHist, evalCount, evalStateCount, evalGrade)
}

// observeEvaluation records one finished evaluation. The status label is
// the worst status in the overall set, "none" when no case ran.
func observeEvaluation(resp *evaluator.Response, elapsed time.Duration) {
	status := "none"
	if set := resp.OverallResult.StatusSet; len(set) > 0 {
		worst := set[0]
		for _, s := range set[1:] {
			if s.DisplayOrder() < worst.DisplayOrder() {
				worst = s
			}
		}
		status = string(worst)
	}
	evalTimeHist.WithLabelValues(status).Observe(elapsed.Seconds())
	evalCount.WithLabelValues(status).Inc()

	visited := len(resp.StateHistory)
	if visited > 0 && resp.StateHistory[visited-1] == schema.TerminalState {
		visited--
	}
	evalStateCount.Add(float64(visited))

	if resp.OverallResult.Grade != nil {
		evalGrade.Observe(float64(*resp.OverallResult.Grade))
	}
}
