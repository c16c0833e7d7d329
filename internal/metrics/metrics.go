package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	PullCount         prometheus.Counter
	PullFailures      prometheus.Counter
	EmailsIngested    prometheus.Counter
	EmailsDuplicate   prometheus.Counter
	Classifications   *prometheus.CounterVec
	ClassifyFailures  prometheus.Counter
	LinksCreated      *prometheus.CounterVec
	PropagatedEmails  prometheus.Counter
	ProcessingTime    prometheus.Histogram
	SyncJobs          *prometheus.CounterVec
	SyncedEmails      prometheus.Counter
	ActiveSyncWorkers prometheus.Gauge
	RemindersSent     prometheus.Counter
	ReminderFailures  prometheus.Counter
	DocumentsExpired  prometheus.Counter
	QueueSize         *prometheus.GaugeVec
}

// NewMetrics registers the service metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PullCount: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_pull_count",
			Help: "Total number of inbox fetch operations",
		}),
		PullFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_pull_failures",
			Help: "Total number of failed inbox fetch operations",
		}),
		EmailsIngested: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_emails_ingested_total",
			Help: "Total number of new emails stored",
		}),
		EmailsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_emails_duplicate_total",
			Help: "Total number of ingested emails already known by provider id",
		}),
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_mail_router_classifications_total",
			Help: "Classification decisions by resulting state and rule",
		}, []string{"state", "rule"}),
		ClassifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_classify_failures_total",
			Help: "Emails parked as uncertain because classification failed",
		}),
		LinksCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_mail_router_links_created_total",
			Help: "Email to case links created by match type",
		}, []string{"match_type"}),
		PropagatedEmails: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_propagated_emails_total",
			Help: "Conversation siblings classified by thread continuity",
		}),
		ProcessingTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "case_mail_router_processing_duration_seconds",
			Help:    "Time spent ingesting and classifying one email",
			Buckets: prometheus.DefBuckets,
		}),
		SyncJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "case_mail_router_sync_jobs_total",
			Help: "Historical sync jobs by terminal status",
		}, []string{"status"}),
		SyncedEmails: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_synced_emails_total",
			Help: "Messages processed by historical sync",
		}),
		ActiveSyncWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "case_mail_router_active_sync_workers",
			Help: "Historical sync jobs currently running",
		}),
		RemindersSent: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_reminders_sent_total",
			Help: "Document request notifications dispatched",
		}),
		ReminderFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_reminder_failures_total",
			Help: "Document request notifications that failed to send",
		}),
		DocumentsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "case_mail_router_documents_expired_total",
			Help: "Document requests given up on",
		}),
		QueueSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "case_mail_router_queue_size",
			Help: "Non-archived emails by classification state",
		}, []string{"state"}),
	}
}
