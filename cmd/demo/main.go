package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/extract"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/observability"
	"github.com/annel0/voxel-terrain/internal/stability"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/world"
)

// uploadedChunk — учёт «загруженного в рендер» меша. Демо не рисует,
// но честно проходит весь цикл: подтверждение, выгрузка, кэширование.
type uploadedChunk struct {
	handle  string
	lod     int
	version uint64
	mesh    mesh.CombinedMesh
}

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML-конфигурации (пусто — значения по умолчанию)")
		duration   = flag.Duration("duration", 30*time.Second, "длительность облёта камеры")
		tick       = flag.Duration("tick", 50*time.Millisecond, "период тика планировщика")
	)
	flag.Parse()

	// === КОНФИГУРАЦИЯ ===
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
		}
		cfg = loaded
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logger.Sync()

	logger.Info("🏔️ Запуск демо стриминга террейна...",
		zap.Int64("seed", cfg.Terrain.Seed),
		zap.Float64("view_distance", cfg.Scheduler.ViewDistance),
		zap.Int("max_lod", cfg.Scheduler.MaxLOD),
		zap.Duration("duration", *duration))

	ctx := context.Background()

	// === ИНИЦИАЛИЗАЦИЯ КОМПОНЕНТОВ ===

	// Шина событий и слушатель, печатающий события в лог
	bus := eventbus.NewMemoryBus(cfg.EventBus.Buffer, cfg.EventBus.DropPriority)
	if err := eventbus.StartLoggingListener(bus, logger); err != nil {
		logger.Warn("Слушатель событий не запустился", zap.Error(err))
	}

	// Prometheus-метрики по желанию
	var exporter *eventbus.MetricsExporter
	var worldMetrics *world.Metrics
	if cfg.Metrics.Enabled {
		exporter = eventbus.NewMetricsExporter(bus, logger)
		exporter.StartHTTP(cfg.Metrics.GetAddr())
		worldMetrics = world.NewMetrics(nil)
	}

	// Трассировка OTLP по желанию
	var shutdownTelemetry func(context.Context) error
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err = observability.InitTelemetry(ctx, cfg.Telemetry.Service, logger)
		if err != nil {
			logger.Error("❌ Ошибка инициализации телеметрии", zap.Error(err))
		}
	}

	// Поле, слои правок и кисть
	field := terrain.NewField(cfg.Terrain)
	mods := terrain.NewModificationLayer(cfg.Grid)
	tex := terrain.NewTextureLayer(cfg.Grid)
	history := terrain.NewUndoHistory(mods, tex, 64)
	brush := terrain.NewBrush(mods, tex, history, bus, logger)
	resolver := stability.NewResolver(field, mods, cfg.Grid, cfg.Stability, bus, logger)

	// Пул мешинга, кэш выгрузки, планировщик и пост-обработка
	pool := world.NewPool(cfg.Pool, cfg.Grid, field, extract.NewMarchingTets(), logger)
	cache := world.NewMeshCache(cfg.Cache)
	sched := world.NewScheduler(cfg.Scheduler, cfg.Grid, mods, pool, cache, bus, logger, worldMetrics)
	pipe := mesh.NewPipeline(cfg.Mesh, logger)

	// Воркеры крутятся в своей горутине, управляющий поток только
	// кладёт запросы и забирает результаты.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		for {
			select {
			case <-workerCtx.Done():
				return
			default:
			}
			if pool.ProcessRequests() == 0 {
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()

	logger.Info("✅ Все компоненты готовы, камера выходит на орбиту")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// === ОБЛЁТ КАМЕРЫ ===
	// Камера описывает круг над точкой (0,0): чанки входят в радиус
	// обзора и покидают его, по пути демонстрируются правки кистью,
	// обвал и откат.
	orbitRadius := cfg.Scheduler.ViewDistance * 0.4
	cameraHeight := float32(cfg.Terrain.BaseHeight + cfg.Terrain.Amplitude + 16)
	totalTicks := int(*duration / *tick)
	if totalTicks < 1 {
		totalTicks = 1
	}

	uploaded := make(map[vec.Vec3]uploadedChunk)
	ticker := time.NewTicker(*tick)
	defer ticker.Stop()

	var processedTris int
	interrupted := false

loop:
	for i := 0; i < totalTicks && !interrupted; i++ {
		select {
		case sig := <-sigCh:
			logger.Info("📡 Получен сигнал, завершение облёта...", zap.String("signal", sig.String()))
			interrupted = true
			continue loop
		case <-ticker.C:
		}

		angle := 2 * math.Pi * float64(i) / float64(totalTicks)
		camera := mgl32.Vec3{
			float32(orbitRadius * math.Cos(angle)),
			cameraHeight,
			float32(orbitRadius * math.Sin(angle)),
		}
		version := mods.Version()

		rep := sched.Update(ctx, camera)

		// Свежие меши прогоняются через пост-обработку и «загружаются».
		for _, res := range rep.Results {
			if res.Empty() {
				sched.Acknowledge(res.Coord)
				continue
			}
			piece := mesh.Piece{Vertices: res.Positions, Normals: res.Normals, Indices: res.Indices}
			combined, stats := pipe.Process([]mesh.Piece{piece})
			processedTris += stats.OutputTriangles
			if handle := sched.Acknowledge(res.Coord); handle != "" {
				uploaded[res.Coord] = uploadedChunk{handle: handle, lod: res.LOD, version: res.Version, mesh: combined}
			}
		}

		// Меши из кэша выгрузки уже обработаны, им хватает подтверждения.
		for _, r := range rep.Restored {
			if handle := sched.Acknowledge(r.Coord); handle != "" {
				uploaded[r.Coord] = uploadedChunk{handle: handle, lod: r.LOD, version: version, mesh: r.Mesh}
			}
		}

		// Выгруженные чанки уходят в кэш и снимаются с учёта.
		for _, un := range rep.Unload {
			if up, ok := uploaded[un.Coord]; ok {
				cache.Store(un.Coord, up.lod, up.version, &up.mesh)
				delete(uploaded, un.Coord)
			}
			sched.ReleaseChunk(un.Coord)
		}

		switch i {
		case totalTicks * 3 / 10:
			// Висящий в воздухе диск: после правки его опустит обвал.
			fp := terrain.DiscFootprint(vec.Vec3{X: 6, Y: 48, Z: 6}, 4, 3, 60)
			_, touched := brush.Commit(ctx, terrain.BrushBuild, fp, 2)
			report := resolver.Resolve(ctx, fp)
			sched.Invalidate(touched)
			sched.Invalidate(report.Touched)
		case totalTicks * 6 / 10:
			// Кратер на поверхности.
			fp := terrain.DiscFootprint(vec.Vec3{X: -10, Y: 2, Z: -10}, 5, 4, 40)
			_, touched := brush.Commit(ctx, terrain.BrushDig, fp, 0)
			report := resolver.Resolve(ctx, fp)
			sched.Invalidate(touched)
			sched.Invalidate(report.Touched)
		case totalTicks * 8 / 10:
			// Откат последней правки.
			if touched, ok := brush.Undo(); ok {
				logger.Info("↩️ Правка отменена", zap.Int("chunks", len(touched)))
				sched.Invalidate(touched)
			}
		case totalTicks * 9 / 10:
			// И её повтор.
			if touched, ok := brush.Redo(); ok {
				logger.Info("↪️ Правка повторена", zap.Int("chunks", len(touched)))
				sched.Invalidate(touched)
			}
		}

		if i > 0 && i%40 == 0 {
			logger.Info("🌍 "+sched.Stats().String(),
				zap.Int("uploaded", len(uploaded)),
				zap.Int("cache_entries", cache.Stats().Entries))
		}
	}

	// === GRACEFUL SHUTDOWN ===
	logger.Debug("Остановка компонентов...")

	stopWorkers()
	workerWG.Wait()
	pool.Close()
	pipe.Close()

	if exporter != nil {
		exporter.Stop()
	}
	if shutdownTelemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("❌ Ошибка остановки телеметрии", zap.Error(err))
		}
		cancel()
	}

	poolStats := pool.Stats()
	cacheStats := cache.Stats()
	logger.Info("📊 Итоги облёта",
		zap.Uint64("extracted", poolStats.Extracted),
		zap.Uint64("empty", poolStats.Empty),
		zap.Uint64("failed", poolStats.Failed),
		zap.Int("processed_triangles", processedTris),
		zap.Uint64("cache_hits", cacheStats.Hits),
		zap.Uint64("cache_misses", cacheStats.Misses))
	logger.Info("👋 Демо успешно остановлено")
}
