package world

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — Prometheus-счётчики планировщика и пула. Все методы
// безопасны на nil-приёмнике: компоненты работают и без метрик.
type Metrics struct {
	requests  prometheus.Counter
	dropped   prometheus.Counter
	results   prometheus.Counter
	restored  prometheus.Counter
	triangles prometheus.Counter
	chunks    *prometheus.GaugeVec
}

// NewMetrics создаёт и регистрирует метрики в переданном реестре.
// nil означает реестр по умолчанию.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain_world",
			Name:      "mesh_requests_total",
			Help:      "Запросы на мешинг, принятые очередью пула.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain_world",
			Name:      "mesh_requests_dropped_total",
			Help:      "Запросы, отброшенные переполненной очередью.",
		}),
		results: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain_world",
			Name:      "mesh_results_total",
			Help:      "Готовые меши, принятые планировщиком.",
		}),
		restored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain_world",
			Name:      "mesh_restored_total",
			Help:      "Меши, поднятые из кэша выгрузки без экстракции.",
		}),
		triangles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain_world",
			Name:      "mesh_triangles_total",
			Help:      "Суммарное число треугольников в принятых мешах.",
		}),
		chunks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "terrain_world",
			Name:      "chunks",
			Help:      "Число чанков в реестре по состояниям.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.requests, m.dropped, m.results, m.restored, m.triangles, m.chunks)
	return m
}

// RequestSubmitted учитывает запрос, принятый очередью пула.
func (m *Metrics) RequestSubmitted() {
	if m == nil {
		return
	}
	m.requests.Inc()
}

// RequestDropped учитывает запрос, не влезший в очередь.
func (m *Metrics) RequestDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// ResultAccepted учитывает принятый меш и его треугольники.
func (m *Metrics) ResultAccepted(triangles int) {
	if m == nil {
		return
	}
	m.results.Inc()
	m.triangles.Add(float64(triangles))
}

// ChunkRestored учитывает попадание в кэш выгрузки.
func (m *Metrics) ChunkRestored() {
	if m == nil {
		return
	}
	m.restored.Inc()
}

// ObserveRegistry обновляет гейджи состояний реестра.
func (m *Metrics) ObserveRegistry(st SchedulerStats) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(StatePending.String()).Set(float64(st.Pending))
	m.chunks.WithLabelValues(StateReady.String()).Set(float64(st.Ready))
	m.chunks.WithLabelValues(StateActive.String()).Set(float64(st.Active))
	m.chunks.WithLabelValues(StateMarkedForUnload.String()).Set(float64(st.Marked))
}
