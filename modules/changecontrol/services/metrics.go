package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "change_control",
		Name:      "workflow_transitions_total",
		Help:      "Workflow operations by operation name and outcome.",
	},
	[]string{"operation", "result"},
)

func recordTransition(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	transitionsTotal.WithLabelValues(operation, result).Inc()
}
