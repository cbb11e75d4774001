package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine metrics. Collectors work unregistered, so tests and library users
// that never call Init still get working counters.
var (
	postingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dea_postings_total",
			Help: "Total postings written, by kind (ledger or account).",
		},
		[]string{"kind"},
	)

	entriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dea_journal_entries_total",
		Help: "Total journal entries created.",
	})

	auditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dea_audits_total",
			Help: "Total balance statements created, by subject (account or ledger).",
		},
		[]string{"subject"},
	)

	reversalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dea_reversals_total",
		Help: "Total posting reversals emitted by document edits and deletes.",
	})

	discardsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dea_discarded_postings_total",
		Help: "Total snapshot-locked posting sets discarded on document edit.",
	})

	balanceReadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dea_balance_read_duration_seconds",
		Help:    "Latency of baseline-plus-delta balance reads.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init registers the engine metrics in the default registry. Call once.
func Init() {
	prometheus.MustRegister(postingsTotal, entriesTotal, auditsTotal,
		reversalsTotal, discardsTotal, balanceReadDuration)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func PostingRecorded(kind string)        { postingsTotal.WithLabelValues(kind).Inc() }
func EntryCreated()                      { entriesTotal.Inc() }
func AuditRecorded(subject string)       { auditsTotal.WithLabelValues(subject).Inc() }
func ReversalRecorded()                  { reversalsTotal.Inc() }
func DiscardRecorded()                   { discardsTotal.Inc() }
func ObserveBalanceRead(d time.Duration) { balanceReadDuration.Observe(d.Seconds()) }
