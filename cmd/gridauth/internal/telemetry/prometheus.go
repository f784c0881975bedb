package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gridauth"

// Outcome labels shared by the auth counters.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeUnreachable = "unreachable"
	OutcomeNoTenant    = "tenant_not_found"
	OutcomeMalformed   = "malformed_token"
	OutcomeError       = "error"
)

var (
	// AuthenticationsTotal counts authenticate calls by outcome and connection type.
	AuthenticationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentications_total",
			Help:      "Total authorization-code logins by outcome",
		},
		[]string{"outcome", "connection_type"},
	)

	// RefreshesTotal counts refresh calls by outcome.
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Total refresh-token exchanges by outcome",
		},
		[]string{"outcome"},
	)

	// UserUpsertsTotal counts reconciled users by result (inserted, updated, migrated).
	UserUpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_upserts_total",
			Help:      "Total user reconciliations by result",
		},
		[]string{"result"},
	)

	// PermissionLookupFailures counts logins whose role or permission lookup failed.
	PermissionLookupFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_lookup_failures_total",
			Help:      "Total role/permission lookups that failed during token issuance",
		},
	)

	// IdentityCacheRequests counts identity cache lookups by result (hit, miss, stale, error).
	IdentityCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_cache_requests_total",
			Help:      "Total current-identity cache lookups by result",
		},
		[]string{"result"},
	)

	// RateLimitedTotal counts requests rejected by the /auth rate limiter.
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the auth rate limiter",
		},
	)

	// PolicyVersion reports the current policy version.
	PolicyVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "policy_version",
			Help:      "Current authorization policy version",
		},
	)
)
