package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/meterbridge/pkg/iammeter_modbus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	NAMESPACE = "meterbridge"

	RESULT_SUCCESS = "success"
	RESULT_NO_DATA = "no_data"
	RESULT_FAILURE = "failure"
)

type Metrics struct {
	registry      *prometheus.Registry
	pollTotal     *prometheus.CounterVec
	reading       *prometheus.GaugeVec
	statisticSum  *prometheus.GaugeVec
	modbusSeconds *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry, together with the Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "poll_total",
			Help:      "Coordinator refreshes by entry and result.",
		}, []string{"entry", "result"}),
		reading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "reading",
			Help:      "Last decoded meter value.",
		}, []string{"entry", "key"}),
		statisticSum: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: NAMESPACE,
			Name:      "statistic_sum",
			Help:      "Running sum of a long-term statistic.",
		}, []string{"statistic_id"}),
		modbusSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Name:      "modbus_call_seconds",
			Help:      "Duration of Modbus client calls.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}, []string{"entry", "call"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pollTotal, m.reading, m.statisticSum, m.modbusSeconds,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObservePoll(entry string, result string) {
	if m == nil {
		return
	}
	m.pollTotal.WithLabelValues(entry, result).Inc()
}

func (m *Metrics) SetReadings(entry string, values map[string]float64) {
	if m == nil {
		return
	}
	for key, value := range values {
		m.reading.WithLabelValues(entry, key).Set(value)
	}
}

func (m *Metrics) SetStatisticSum(statisticId string, sum float64) {
	if m == nil {
		return
	}
	m.statisticSum.WithLabelValues(statisticId).Set(sum)
}

// ModbusInstrument times Modbus calls of one entry.
func (m *Metrics) ModbusInstrument(entry string) *iammeter_modbus.ModbusInstrument {
	if m == nil {
		return nil
	}
	return &iammeter_modbus.ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			m.modbusSeconds.WithLabelValues(entry, fnName).Observe(readTime.Seconds())
		},
	}
}
