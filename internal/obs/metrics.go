package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessageRate       = promauto.NewGauge(prometheus.GaugeOpts{Name: "botwarden_message_rate", Help: "Inbound messages over the trailing window"})
	MessagesTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "botwarden_messages_total", Help: "Inbound messages observed"})
	SessionState      = promauto.NewGauge(prometheus.GaugeOpts{Name: "botwarden_session_state", Help: "0=stopped 1=starting 2=running 3=stopping"})
	ChallengePending  = promauto.NewGauge(prometheus.GaugeOpts{Name: "botwarden_challenge_pending", Help: "1 while a verification challenge awaits an answer"})
	ChallengesTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Name: "botwarden_challenges_total", Help: "Verification challenges issued by kind"}, []string{"kind"})
	ChallengeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "botwarden_challenge_outcomes_total", Help: "Verification waits by outcome"}, []string{"outcome"})
	OfflineNotices    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "botwarden_offline_notifications_total", Help: "Offline notifications shown by kind"}, []string{"kind"})
	RPCFaults         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "botwarden_rpc_faults_total", Help: "Control surface delegate faults by operation"}, []string{"op"})
	PushForwarded     = promauto.NewCounter(prometheus.CounterOpts{Name: "botwarden_push_forwarded_total", Help: "Push requests forwarded to the session"})
	PushDelayed       = promauto.NewCounter(prometheus.CounterOpts{Name: "botwarden_push_delayed_total", Help: "Push requests held back by the per-target limit"})
	PushTargets       = promauto.NewGauge(prometheus.GaugeOpts{Name: "botwarden_push_targets", Help: "Push targets with live rate limit state"})
	ErrorsTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "botwarden_errors_total", Help: "Errors by type"}, []string{"type"})
	LoginDuration     = promauto.NewHistogram(prometheus.HistogramOpts{Name: "botwarden_login_duration_seconds", Help: "Session login duration seconds", Buckets: prometheus.ExponentialBuckets(0.05, 2, 12)})
)
