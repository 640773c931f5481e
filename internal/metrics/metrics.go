// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts attendance submissions by final outcome:
	// "accepted" or one of the rejection codes.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollcall_submissions_total",
		Help: "Attendance submissions by outcome.",
	}, []string{"outcome"})

	// SessionsStartedTotal counts successfully started sessions.
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_started_total",
		Help: "Attendance sessions started.",
	})

	// SessionsEndedTotal counts explicit session ends.
	SessionsEndedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_sessions_ended_total",
		Help: "Attendance sessions ended explicitly by the controller.",
	})

	// ReportExportsTotal counts report spreadsheet exports.
	ReportExportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollcall_report_exports_total",
		Help: "Attendance report exports generated.",
	})
)
