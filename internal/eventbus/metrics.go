package eventbus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsExporter инкапсулирует Prometheus-метрики шины и периодически
// обновляет их из Stats. Экспортер не делает предположений о конкретной
// реализации шины — он опирается исключительно на интерфейс EventBus.
type MetricsExporter struct {
	bus  EventBus
	log  *zap.Logger
	quit chan struct{}
	done chan struct{}
	// Prometheus metrics
	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetricsExporter создаёт экспортер, но не запускает HTTP-сервер.
func NewMetricsExporter(bus EventBus, log *zap.Logger) *MetricsExporter {
	me := &MetricsExporter{
		bus:  bus,
		log:  log,
		quit: make(chan struct{}),
		done: make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain_events",
			Name:      "published_total",
			Help:      "Общее число опубликованных событий террейна.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain_events",
			Name:      "consumed_total",
			Help:      "Общее число доставленных событий подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain_events",
			Name:      "dropped_total",
			Help:      "Событий, отброшенных ограничением back-pressure.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain_events",
			Name:      "inflight",
			Help:      "Количество событий в очереди (не доставленных).",
		}),
	}

	prometheus.MustRegister(me.published, me.consumed, me.dropped, me.inflight)
	return me
}

// StartHTTP запускает HTTP-эндпоинт Prometheus на указанном адресе (например, ":2112").
// Метод неблокирующий: HTTP-сервер стартует в отдельной горутине.
func (m *MetricsExporter) StartHTTP(addr string) {
	go func() {
		m.log.Info("📈 Prometheus /metrics доступен", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			m.log.Error("ошибка Prometheus HTTP сервера", zap.Error(err))
		}
	}()
	go m.loop()
}

// Start запускает только цикл обновления метрик, без HTTP.
func (m *MetricsExporter) Start() {
	go m.loop()
}

// Stop останавливает обновление метрик.
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer close(m.done)

	// Для коррекции Counter нужно хранить прошлое значение и прибавлять дельту.
	var prev Stats

	for {
		select {
		case <-ticker.C:
			stats := m.bus.Metrics()

			deltaPub := stats.Published - prev.Published
			deltaCons := stats.Consumed - prev.Consumed
			deltaDrop := stats.Dropped - prev.Dropped

			if deltaPub > 0 {
				m.published.Add(float64(deltaPub))
			}
			if deltaCons > 0 {
				m.consumed.Add(float64(deltaCons))
			}
			if deltaDrop > 0 {
				m.dropped.Add(float64(deltaDrop))
			}

			m.inflight.Set(float64(stats.InFlight))

			prev = stats
		case <-m.quit:
			return
		}
	}
}
