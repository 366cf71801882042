package metrics

import (
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	MetricsNamespace = "lisa"
)

var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

// Metrics holds the runner collectors. All methods are safe on a nil receiver
// so callers that run without metrics can pass nil.
type Metrics struct {
	log log.Logger

	errorsTotal     *prometheus.CounterVec
	poolAvailable   *prometheus.GaugeVec
	suiteRuns       *prometheus.CounterVec
	suiteDuration   *prometheus.HistogramVec
	runnerFailures  *prometheus.CounterVec
	parserFailures  prometheus.Counter
	provisionedVMs  prometheus.Counter
	runSuitesTotal  *prometheus.GaugeVec
	runDurationSecs *prometheus.GaugeVec
}

// New registers the runner collectors with reg.
func New(reg prometheus.Registerer, logger log.Logger) *Metrics {
	if logger == nil {
		logger = log.New()
	}
	factory := promauto.With(reg)
	return &Metrics{
		log: logger,
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "errors_total",
			Help:      "Count of errors",
		}, []string{"error"}),
		poolAvailable: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "pool_available",
			Help:      "Handles currently available in a resource pool",
		}, []string{"pool"}),
		suiteRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "suite_runs_total",
			Help:      "Suites run, by result",
		}, []string{"suite", "result"}),
		suiteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "suite_runner_duration_seconds",
			Help:      "Wall time of the LISA runner per suite",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}, []string{"suite"}),
		runnerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "runner_failures_total",
			Help:      "LISA runner invocations that exited non-zero or failed to start",
		}, []string{"suite"}),
		parserFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "parser_failures_total",
			Help:      "Result parser invocations that failed",
		}),
		provisionedVMs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "provisioned_vms_total",
			Help:      "VMs created from a cloned VHD",
		}),
		runSuitesTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_suites",
			Help:      "Suites of the last run, by outcome",
		}, []string{"run_id", "outcome"}),
		runDurationSecs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the last run",
		}, []string{"run_id"}),
	}
}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func (m *Metrics) RecordError(label string) {
	if m == nil {
		return
	}
	m.log.Debug("metric inc", "m", "errors_total", "error", label)
	m.errorsTotal.WithLabelValues(label).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func (m *Metrics) RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	m.RecordError(label + "." + errToLabel(err))
}

// PoolAvailable has the signature of pool.Observer.
func (m *Metrics) PoolAvailable(pool string, available int) {
	if m == nil {
		return
	}
	m.poolAvailable.WithLabelValues(pool).Set(float64(available))
}

func (m *Metrics) RecordSuite(suite string, ok bool, runnerDuration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.suiteRuns.WithLabelValues(suite, result).Inc()
	m.suiteDuration.WithLabelValues(suite).Observe(runnerDuration.Seconds())
}

func (m *Metrics) RecordRunnerFailure(suite string) {
	if m == nil {
		return
	}
	m.runnerFailures.WithLabelValues(suite).Inc()
}

func (m *Metrics) RecordParserFailure() {
	if m == nil {
		return
	}
	m.parserFailures.Inc()
}

func (m *Metrics) RecordProvisionedVM() {
	if m == nil {
		return
	}
	m.provisionedVMs.Inc()
}

func (m *Metrics) RecordRun(runID string, total, failed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.runSuitesTotal.WithLabelValues(runID, "total").Set(float64(total))
	m.runSuitesTotal.WithLabelValues(runID, "failed").Set(float64(failed))
	m.runDurationSecs.WithLabelValues(runID).Set(duration.Seconds())
}
