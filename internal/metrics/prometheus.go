package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a repository instance
type Metrics struct {
	// Commit metrics
	CommitsTotal        prometheus.Counter
	CommitFailuresTotal *prometheus.CounterVec
	CommitDuration      prometheus.Histogram

	// Lock metrics
	LocksAcquiredTotal  prometheus.Counter
	LockViolationsTotal prometheus.Counter
	ActiveLocks         prometheus.Gauge

	// Journal metrics
	JournalAppendsTotal       prometheus.Counter
	JournalAppendFailuresTotal prometheus.Counter
	JournalAppendDuration     prometheus.Histogram
	JournalHeadRevision       prometheus.Gauge

	// Sync metrics
	SyncPassesTotal    prometheus.Counter
	SyncRecordsApplied prometheus.Counter
	SyncDuration       prometheus.Histogram
	LocalRevision      prometheus.Gauge

	// Cluster metrics
	GossipMembersTotal prometheus.Gauge

	// System metrics
	MemoryUsageBytes   prometheus.Gauge
	GoroutinesTotal    prometheus.Gauge
	DiskUsedBytes      prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(nodeID string) *Metrics {
	labels := prometheus.Labels{"cluster_node_id": nodeID}

	return &Metrics{
		CommitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "treestore",
			Subsystem:   "repository",
			Name:        "commits_total",
			Help:        "Total number of committed write transactions",
			ConstLabels: labels,
		}),
		CommitFailuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "treestore",
			Subsystem:   "repository",
			Name:        "commit_failures_total",
			Help:        "Total number of failed commits by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "treestore",
			Subsystem:   "repository",
			Name:        "commit_duration_seconds",
			Help:        "Histogram of commit durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		LocksAcquiredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "treestore",
			Subsystem:   "lock",
			Name:        "acquired_total",
			Help:        "Total number of node locks granted",
			ConstLabels: labels,
		}),
		LockViolationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "treestore",
			Subsystem:   "lock",
			Name:        "violations_total",
			Help:        "Total number of rejected lock requests",
			ConstLabels: labels,
		}),
		ActiveLocks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "treestore",
			Subsystem:   "lock",
			Name:        "active",
			Help:        "Number of lock entries currently held",
			ConstLabels: labels,
		}),
		JournalAppendsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "treestore",
			Subsystem:   "journal",
			Name:        "appends_total",
			Help:        "Total number of journal records appended",
			ConstLabels: labels,
		}),
		JournalAppendFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "treestore",
			Subsystem:   "journal",
			Name:        "append_failures_total",
			Help:        "Total number of failed journal appends",
			ConstLabels: labels,
		}),
		JournalAppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "treestore",
			Subsystem:   "journal",
			Name:        "append_duration_seconds",
			Help:        "Histogram of journal append durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		JournalHeadRevision: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "treestore",
			Subsystem:   "journal",
			Name:        "head_revision",
			Help:        "Highest revision appended to the journal",
			ConstLabels: labels,
		}),
		SyncPassesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "treestore",
			Subsystem:   "sync",
			Name:        "passes_total",
			Help:        "Total number of journal sync passes",
			ConstLabels: labels,
		}),
		SyncRecordsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace:   "treestore",
			Subsystem:   "sync",
			Name:        "records_applied_total",
			Help:        "Total number of foreign journal records applied",
			ConstLabels: labels,
		}),
		SyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "treestore",
			Subsystem:   "sync",
			Name:        "duration_seconds",
			Help:        "Histogram of sync pass durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		LocalRevision: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "treestore",
			Subsystem:   "sync",
			Name:        "local_revision",
			Help:        "Last journal revision consumed by this node",
			ConstLabels: labels,
		}),
		GossipMembersTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "treestore",
			Subsystem:   "cluster",
			Name:        "gossip_members",
			Help:        "Number of known cluster members",
			ConstLabels: labels,
		}),
		MemoryUsageBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "treestore",
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Current heap allocation in bytes",
			ConstLabels: labels,
		}),
		GoroutinesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "treestore",
			Subsystem:   "system",
			Name:        "goroutines",
			Help:        "Current number of goroutines",
			ConstLabels: labels,
		}),
		DiskUsedBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "treestore",
			Subsystem:   "system",
			Name:        "disk_used_bytes",
			Help:        "Used bytes on the data filesystem",
			ConstLabels: labels,
		}),
		DiskAvailableBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace:   "treestore",
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Available bytes on the data filesystem",
			ConstLabels: labels,
		}),
	}
}

// UpdateSystemStats updates system-level gauges
func (m *Metrics) UpdateSystemStats(diskUsed, diskAvailable, memoryAlloc int64, goroutines int) {
	m.DiskUsedBytes.Set(float64(diskUsed))
	m.DiskAvailableBytes.Set(float64(diskAvailable))
	m.MemoryUsageBytes.Set(float64(memoryAlloc))
	m.GoroutinesTotal.Set(float64(goroutines))
}
