package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsEnqueued tracks attempts accepted by the retry queue per badge tier
	AttemptsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minter_attempts_enqueued_total",
			Help: "Total number of mint attempts enqueued",
		},
		[]string{"tier"},
	)

	// AttemptsCompleted tracks attempts that reached Completed
	AttemptsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minter_attempts_completed_total",
			Help: "Total number of mint attempts completed",
		},
		[]string{"tier"},
	)

	// AttemptsAbandoned tracks attempts given up on, by reason (max_retries, permanent)
	AttemptsAbandoned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minter_attempts_abandoned_total",
			Help: "Total number of mint attempts abandoned",
		},
		[]string{"reason"},
	)

	// ProofsVerified tracks proof verification verdicts
	ProofsVerified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minter_proof_verifications_total",
			Help: "Total number of proof verifications by result",
		},
		[]string{"result"},
	)

	// MintFailures tracks failed mint calls by kind (transient, permanent)
	MintFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minter_mint_failures_total",
			Help: "Total number of failed mint submissions",
		},
		[]string{"kind"},
	)

	// MintLatency tracks the time from submission to confirmed receipt
	MintLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minter_mint_latency_seconds",
			Help:    "Mint submission latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"backend"},
	)

	// QueueSize tracks the retry queue working set size
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minter_queue_size",
			Help: "Number of attempts in the retry queue working set",
		},
	)

	// QueueTickDuration tracks how long one scheduling tick takes
	QueueTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "minter_queue_tick_duration_seconds",
			Help:    "Duration of a retry queue processing tick",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// RecoveryMissedEvents tracks events found by recovery scans
	RecoveryMissedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minter_recovery_missed_events_total",
			Help: "Total number of missed run events discovered by recovery",
		},
	)

	// RecoveryChunkFailures tracks log query chunks that failed during a scan
	RecoveryChunkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minter_recovery_chunk_failures_total",
			Help: "Total number of failed recovery scan chunks",
		},
	)

	// UndecodableLogs tracks RunCompleted logs skipped because they did not decode
	UndecodableLogs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minter_undecodable_logs_total",
			Help: "Total number of RunCompleted logs skipped as undecodable",
		},
	)

	// RecoveryCheckpoint tracks the persisted recovery checkpoint block
	RecoveryCheckpoint = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minter_recovery_checkpoint_block",
			Help: "Last block fully scanned by recovery",
		},
	)

	// ChainLatestBlock tracks the latest block height seen on chain
	ChainLatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minter_chain_latest_block",
			Help: "Latest block height of the chain",
		},
	)

	// RPCCallsTotal tracks RPC calls per provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minter_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "minter_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "minter_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "minter_db_connection_pool_usage_percent",
			Help: "Database connection pool usage in percent",
		},
	)

	// MissedEventsPruned tracks processed missed events removed by retention
	MissedEventsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "minter_missed_events_pruned_total",
			Help: "Total number of processed missed events pruned",
		},
	)
)
