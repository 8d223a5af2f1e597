package authcore

import "time"

// RiskLevel buckets a numeric risk score into the tiers the login flow
// reacts to.
type RiskLevel string

const (
	// RiskLow requires no step-up.
	RiskLow RiskLevel = "low"
	// RiskMedium forces a second factor on an otherwise successful login.
	RiskMedium RiskLevel = "medium"
	// RiskHigh forces a second factor on success and blocks on failure.
	RiskHigh RiskLevel = "high"
)

// AnomalyTag names one signal that contributed to a risk score.
type AnomalyTag string

const (
	AnomalyNewIP         AnomalyTag = "new_ip"
	AnomalyNewUserAgent  AnomalyTag = "new_user_agent"
	AnomalyFailureStreak AnomalyTag = "failure_streak"
	AnomalyHighVelocity  AnomalyTag = "high_velocity"
	AnomalyFirstLogin    AnomalyTag = "first_login"
	AnomalyFailedAttempt AnomalyTag = "failed_attempt"
)

// RiskInput is everything the scorer looks at. History is the account's
// recent login records, newest first; the scorer reads nothing else.
type RiskInput struct {
	UserID    string
	IP        string
	UserAgent string
	Succeeded bool
	Now       time.Time
	History   []LoginRecord
}

// RiskAssessment is the scorer's verdict for a single attempt. It is
// computed fresh per attempt and never stored.
type RiskAssessment struct {
	Score            int
	Level            RiskLevel
	Anomalies        []AnomalyTag
	ShouldBlock      bool
	ShouldRequire2FA bool
}

// Signal weights and tier thresholds. Only the relative ordering matters
// to callers; the flow reacts to tiers, never to raw scores.
const (
	riskWeightNewIP         = 25
	riskWeightNewUserAgent  = 15
	riskWeightFailureStreak = 30
	riskWeightHighVelocity  = 20
	riskWeightFailedAttempt = 10
	riskWeightFirstLogin    = 10

	riskFailureStreakMin = 3
	riskVelocityMin      = 5
	riskVelocityWindow   = 5 * time.Minute

	riskMediumThreshold = 30
	riskHighThreshold   = 60
)

// AssessRisk scores a single login attempt against the account's recent
// history. It is a pure function: same input, same verdict, no hidden
// state, which keeps it unit-testable with a plain history fixture.
//
// Blocking only triggers at the high tier on a failed attempt; step-up
// two-factor only triggers at medium or above on a successful one.
func AssessRisk(in RiskInput) RiskAssessment {
	var (
		score     int
		anomalies []AnomalyTag
	)

	if len(in.History) == 0 {
		score += riskWeightFirstLogin
		anomalies = append(anomalies, AnomalyFirstLogin)
	} else {
		if in.IP != "" && !historyHasIP(in.History, in.IP) {
			score += riskWeightNewIP
			anomalies = append(anomalies, AnomalyNewIP)
		}
		if in.UserAgent != "" && !historyHasUserAgent(in.History, in.UserAgent) {
			score += riskWeightNewUserAgent
			anomalies = append(anomalies, AnomalyNewUserAgent)
		}
	}

	if countRecentFailures(in.History) >= riskFailureStreakMin {
		score += riskWeightFailureStreak
		anomalies = append(anomalies, AnomalyFailureStreak)
	}

	if countAttemptsSince(in.History, in.Now.Add(-riskVelocityWindow)) >= riskVelocityMin {
		score += riskWeightHighVelocity
		anomalies = append(anomalies, AnomalyHighVelocity)
	}

	if !in.Succeeded {
		score += riskWeightFailedAttempt
		anomalies = append(anomalies, AnomalyFailedAttempt)
	}

	level := RiskLow
	switch {
	case score >= riskHighThreshold:
		level = RiskHigh
	case score >= riskMediumThreshold:
		level = RiskMedium
	}

	return RiskAssessment{
		Score:            score,
		Level:            level,
		Anomalies:        anomalies,
		ShouldBlock:      level == RiskHigh && !in.Succeeded,
		ShouldRequire2FA: level != RiskLow && in.Succeeded,
	}
}

func historyHasIP(history []LoginRecord, ip string) bool {
	for _, rec := range history {
		if rec.IP == ip {
			return true
		}
	}
	return false
}

func historyHasUserAgent(history []LoginRecord, ua string) bool {
	for _, rec := range history {
		if rec.UserAgent == ua {
			return true
		}
	}
	return false
}

// countRecentFailures counts failures since the last successful login,
// scanning newest first.
func countRecentFailures(history []LoginRecord) int {
	failures := 0
	for _, rec := range history {
		if rec.Success {
			break
		}
		failures++
	}
	return failures
}

func countAttemptsSince(history []LoginRecord, cutoff time.Time) int {
	n := 0
	for _, rec := range history {
		if rec.At.After(cutoff) {
			n++
		}
	}
	return n
}
