package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bridge_relayer"

type RelayerMetrics struct {
	chainHeightGauge   *prometheus.GaugeVec
	scanCursorGauge    *prometheus.GaugeVec
	depositsCounter    *prometheus.CounterVec
	scanErrorsCounter  *prometheus.CounterVec
	distributedCounter *prometheus.CounterVec
	failedCounter      *prometheus.CounterVec
	skippedCounter     *prometheus.CounterVec
	pendingGauge       prometheus.Gauge
}

// NewRelayerMetrics registers the relayer metrics with reg. A nil reg registers nothing.
func NewRelayerMetrics(reg prometheus.Registerer) *RelayerMetrics {
	factory := promauto.With(reg)
	m := RelayerMetrics{
		// scanning
		chainHeightGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_chain_height", namespace),
			Help: "The latest known height of the chain",
		}, []string{"chain"}),
		scanCursorGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_scan_cursor", namespace),
			Help: "The last fully scanned block of the chain",
		}, []string{"chain"}),
		depositsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_deposits_recorded_total", namespace),
			Help: "Deposits stored for the first time",
		}, []string{"chain"}),
		scanErrorsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_scan_errors_total", namespace),
			Help: "Failed height queries, log queries and log decodes",
		}, []string{"chain"}),
		// distribution
		distributedCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_distributions_total", namespace),
			Help: "Releases completed on the destination chain",
		}, []string{"chain"}),
		failedCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_distribution_failures_total", namespace),
			Help: "Release attempts that failed and will be retried",
		}, []string{"chain"}),
		skippedCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_deposits_skipped_total", namespace),
			Help: "Deposits marked processed without a release",
		}, []string{"chain"}),
		pendingGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_pending_deposits", namespace),
			Help: "Unprocessed deposits seen by the last distribution cycle",
		}),
	}
	return &m
}

func (m *RelayerMetrics) SetChainHeight(chain string, height uint64) {
	m.chainHeightGauge.WithLabelValues(chain).Set(float64(height))
}

func (m *RelayerMetrics) SetScanCursor(chain string, height uint64) {
	m.scanCursorGauge.WithLabelValues(chain).Set(float64(height))
}

func (m *RelayerMetrics) IncDepositsRecorded(chain string) {
	m.depositsCounter.WithLabelValues(chain).Inc()
}

func (m *RelayerMetrics) IncScanErrors(chain string) {
	m.scanErrorsCounter.WithLabelValues(chain).Inc()
}

func (m *RelayerMetrics) IncDistributed(chain string) {
	m.distributedCounter.WithLabelValues(chain).Inc()
}

func (m *RelayerMetrics) IncDistributionFailures(chain string) {
	m.failedCounter.WithLabelValues(chain).Inc()
}

func (m *RelayerMetrics) IncSkipped(chain string) {
	m.skippedCounter.WithLabelValues(chain).Inc()
}

func (m *RelayerMetrics) SetPendingDeposits(count int) {
	m.pendingGauge.Set(float64(count))
}
