package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workflowsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orca_workflows_created_total",
		Help: "Workflow creation requests by outcome (created or existing).",
	}, []string{"outcome"})

	jobsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orca_jobs_executed_total",
		Help: "Job execution attempts by outcome.",
	}, []string{"outcome"})

	workflowsRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orca_workflows_repaired_total",
		Help: "Workflows whose missing child jobs were restored by the repair pass.",
	})
)
