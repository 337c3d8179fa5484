package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	DomainTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_domain_transitions_total",
			Help: "Domain status transitions, by resulting status.",
		},
		[]string{"service", "to"},
	)

	DomainChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_domain_checks_total",
			Help: "Verification poll attempts, by outcome.",
		},
		[]string{"service", "result"},
	)

	DNSPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_dns_publish_total",
			Help: "DNS record publish attempts, by result.",
		},
		[]string{"service", "result"},
	)

	EmailsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_emails_total",
			Help: "Email send attempts, by result.",
		},
		[]string{"service", "result"},
	)

	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_auth_attempts_total",
			Help: "Credential authentication attempts, by result.",
		},
		[]string{"service", "result"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_rate_limited_total",
			Help: "Requests rejected by a rate limit window.",
		},
		[]string{"service", "scope"},
	)

	AuditDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_audit_dropped_total",
			Help: "Audit entries dropped because the queue was full or the write failed.",
		},
		[]string{"service"},
	)

	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailgate_job_runs_total",
			Help: "Background job runs, by job name and result.",
		},
		[]string{"service", "job", "result"},
	)

	JobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailgate_job_duration_seconds",
			Help:    "Duration of background job runs.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "job"},
	)
)

func MustRegister(serviceName string) {
	labels := prometheus.Labels{"service": serviceName}

	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(labels)
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(labels).(*prometheus.HistogramVec)
	DomainTransitionsTotal = DomainTransitionsTotal.MustCurryWith(labels)
	DomainChecksTotal = DomainChecksTotal.MustCurryWith(labels)
	DNSPublishTotal = DNSPublishTotal.MustCurryWith(labels)
	EmailsTotal = EmailsTotal.MustCurryWith(labels)
	AuthAttemptsTotal = AuthAttemptsTotal.MustCurryWith(labels)
	RateLimitedTotal = RateLimitedTotal.MustCurryWith(labels)
	AuditDroppedTotal = AuditDroppedTotal.MustCurryWith(labels)
	JobRunsTotal = JobRunsTotal.MustCurryWith(labels)
	JobDurationSeconds = JobDurationSeconds.MustCurryWith(labels).(*prometheus.HistogramVec)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		DomainTransitionsTotal,
		DomainChecksTotal,
		DNSPublishTotal,
		EmailsTotal,
		AuthAttemptsTotal,
		RateLimitedTotal,
		AuditDroppedTotal,
		JobRunsTotal,
		JobDurationSeconds,
	)
}
