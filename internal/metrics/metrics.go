// Package metrics defines the Prometheus instruments the auth engine
// updates. All instruments hang off one Set registered against a
// caller-supplied registerer, so tests and embedders never collide on the
// default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set holds every engine-level instrument. A nil *Set is valid and makes
// all record methods no-ops.
type Set struct {
	loginAttempts     *prometheus.CounterVec
	stepUpChallenges  *prometheus.CounterVec
	refreshTotal      *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	sessionsPurged    prometheus.Counter
	rateLimited       prometheus.Counter
	permissionDenials *prometheus.CounterVec
	riskAssessments   *prometheus.CounterVec
	loginDuration     prometheus.Histogram
}

// New builds the instrument set and registers it. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_login_attempts_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		stepUpChallenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_stepup_challenges_total",
			Help: "Adaptive 2FA challenges by result.",
		}, []string{"result"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_token_refresh_total",
			Help: "Refresh operations by outcome.",
		}, []string{"outcome"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "authcore_sessions_active",
			Help: "Sessions created minus sessions invalidated.",
		}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_sessions_purged_total",
			Help: "Session records erased by the cleanup sweep.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_login_rate_limited_total",
			Help: "Login attempts rejected by the throttle.",
		}),
		permissionDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_permission_denials_total",
			Help: "Authorization denials by resource.",
		}, []string{"resource"}),
		riskAssessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_risk_assessments_total",
			Help: "Risk scorer verdicts by level.",
		}, []string{"level"}),
		loginDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authcore_login_duration_seconds",
			Help:    "Wall time of the full login flow.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		s.loginAttempts,
		s.stepUpChallenges,
		s.refreshTotal,
		s.sessionsActive,
		s.sessionsPurged,
		s.rateLimited,
		s.permissionDenials,
		s.riskAssessments,
		s.loginDuration,
	)
	return s
}

func (s *Set) LoginAttempt(outcome string) {
	if s == nil {
		return
	}
	s.loginAttempts.WithLabelValues(outcome).Inc()
}

func (s *Set) StepUpChallenge(result string) {
	if s == nil {
		return
	}
	s.stepUpChallenges.WithLabelValues(result).Inc()
}

func (s *Set) Refresh(outcome string) {
	if s == nil {
		return
	}
	s.refreshTotal.WithLabelValues(outcome).Inc()
}

func (s *Set) SessionOpened() {
	if s == nil {
		return
	}
	s.sessionsActive.Inc()
}

func (s *Set) SessionClosed() {
	if s == nil {
		return
	}
	s.sessionsActive.Dec()
}

func (s *Set) SessionsPurged(n int) {
	if s == nil || n <= 0 {
		return
	}
	s.sessionsPurged.Add(float64(n))
}

func (s *Set) RateLimited() {
	if s == nil {
		return
	}
	s.rateLimited.Inc()
}

func (s *Set) PermissionDenied(resource string) {
	if s == nil {
		return
	}
	s.permissionDenials.WithLabelValues(resource).Inc()
}

func (s *Set) RiskAssessed(level string) {
	if s == nil {
		return
	}
	s.riskAssessments.WithLabelValues(level).Inc()
}

func (s *Set) ObserveLoginDuration(seconds float64) {
	if s == nil {
		return
	}
	s.loginDuration.Observe(seconds)
}
