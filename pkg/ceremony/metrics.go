// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package ceremony

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// metricsNamespace is the Prometheus namespace for ceremony metrics.
	metricsNamespace = "passkey"

	labelKind   = "kind"
	labelReason = "reason"
)

var (
	// CeremoniesBegun counts issued ceremony options by kind.
	CeremoniesBegun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ceremony",
			Name:      "begun_total",
			Help:      "Total number of ceremonies begun by kind",
		},
		[]string{labelKind},
	)

	// CeremoniesCompleted counts successfully completed ceremonies by kind.
	CeremoniesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ceremony",
			Name:      "completed_total",
			Help:      "Total number of ceremonies completed by kind",
		},
		[]string{labelKind},
	)

	// CeremoniesRejected counts rejected ceremony completions by kind and
	// rejection reason.
	CeremoniesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ceremony",
			Name:      "rejected_total",
			Help:      "Total number of ceremonies rejected by kind and reason",
		},
		[]string{labelKind, labelReason},
	)

	// CloneSuspectedTotal counts assertions rejected by the signature
	// counter policy. Alert on this.
	CloneSuspectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ceremony",
			Name:      "clone_suspected_total",
			Help:      "Total number of assertions rejected as suspected authenticator clones",
		},
	)
)

// rejectionReason maps a rejection to its metric label.
func rejectionReason(err error) string {
	switch {
	case IsCloneSuspected(err):
		return "clone_suspected"
	case IsNoPendingCeremony(err):
		return "no_pending_ceremony"
	case IsVerificationFailed(err):
		return "verification_failed"
	case IsUserNotFound(err):
		return "user_not_found"
	default:
		return "rejected"
	}
}

// recordRejection records a rejected ceremony completion.
func recordRejection(kind Kind, err error) {
	CeremoniesRejected.WithLabelValues(string(kind), rejectionReason(err)).Inc()
	if IsCloneSuspected(err) {
		CloneSuspectedTotal.Inc()
	}
}
