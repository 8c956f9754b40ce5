package world

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// Scheduler ведёт реестр чанков вокруг камеры: решает, какие чанки нужны
// и на каком уровне детализации, раздаёт запросы пулу воркеров и собирает
// готовые меши. Состояние чанков мутируется только управляющим потоком
// (Update, Acknowledge, ReleaseChunk вызываются с него); мьютекс защищает
// конкурентные чтения статистики из других горутин.
type Scheduler struct {
	cfg  config.SchedulerConfig
	grid config.GridConfig

	mods    *terrain.ModificationLayer
	pool    *Pool
	cache   *MeshCache
	bus     eventbus.EventBus
	log     *zap.Logger
	metrics *Metrics

	mu       sync.RWMutex
	registry map[vec.Vec3]*Chunk
	frame    uint64

	heightChunks int // чанки с Y вне [0, heightChunks) не запрашиваются
}

// UpdateReport — итоги одного тика планировщика.
type UpdateReport struct {
	Results   []MeshResult   // свежие меши из пула, в порядке получения
	Restored  []RestoredMesh // меши, поднятые из кэша выгрузки
	Unload    []UnloadNotice // чанки, помеченные на выгрузку в этом тике
	Requested int
	Dropped   int
}

// SchedulerStats — срез состояния реестра.
type SchedulerStats struct {
	Frame   uint64
	Total   int
	Pending int
	Ready   int
	Active  int
	Marked  int
}

func (s SchedulerStats) String() string {
	return fmt.Sprintf("Чанки: %d всего, %d в работе, %d готово, %d активно, %d на выгрузку (тик %d)",
		s.Total, s.Pending, s.Ready, s.Active, s.Marked, s.Frame)
}

// NewScheduler создаёт планировщик. Кэш, шина и метрики опциональны.
func NewScheduler(cfg config.SchedulerConfig, grid config.GridConfig, mods *terrain.ModificationLayer,
	pool *Pool, cache *MeshCache, bus eventbus.EventBus, log *zap.Logger, metrics *Metrics) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	heightChunks := (grid.WorldHeight + grid.Resolution - 1) / grid.Resolution
	if heightChunks < 1 {
		heightChunks = 1
	}
	return &Scheduler{
		cfg:          cfg,
		grid:         grid,
		mods:         mods,
		pool:         pool,
		cache:        cache,
		bus:          bus,
		log:          log,
		metrics:      metrics,
		registry:     make(map[vec.Vec3]*Chunk),
		heightChunks: heightChunks,
	}
}

// LODForDistance вычисляет уровень детализации по расстоянию до камеры.
// Внутри базовой дистанции детализация максимальна, дальше каждое
// удвоение расстояния добавляет уровень.
func LODForDistance(dist, base float64, maxLOD int) int {
	if base <= 0 || dist <= base {
		return 0
	}
	lod := int(math.Floor(math.Log2(dist / base)))
	if lod < 0 {
		lod = 0
	}
	if lod > maxLOD {
		lod = maxLOD
	}
	return lod
}

// Update выполняет один тик планировщика: вычисляет желаемое множество
// чанков, ставит недостающие в очередь мешинга, принимает готовые
// результаты и помечает на выгрузку чанки, покинувшие радиус обзора.
func (s *Scheduler) Update(ctx context.Context, camera mgl32.Vec3) UpdateReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame++

	var report UpdateReport
	desired := s.desiredChunks(camera)
	version := s.mods.Version()

	// Фаза 1: запросы на недостающие чанки. Снапшот слоя берётся лениво
	// и один на тик, запросы делят его через счётчик ссылок.
	var snap *terrain.LayerSnapshot
	for coord, lod := range desired {
		ch, exists := s.registry[coord]
		if exists {
			ch.LastAccessFrame = s.frame
			if ch.State == StatePending {
				continue // уже в работе
			}
			if ch.LOD == lod && ch.State != StateMarkedForUnload && !ch.Dirty {
				continue // актуален
			}
		}

		mask := s.transitionMask(coord, lod, desired)

		// Кэш выгрузки: совпадение координаты, LOD и версии слоя
		// позволяет пропустить экстракцию целиком.
		if s.cache != nil {
			if m, ok := s.cache.Load(coord, lod, version); ok {
				ch = s.ensureChunk(ch, coord, exists)
				ch.LOD = lod
				ch.State = StateReady
				ch.Dirty = false
				ch.TransitionSides = mask
				ch.Triangles = m.TriangleCount()
				report.Restored = append(report.Restored, RestoredMesh{Coord: coord, LOD: lod, Mesh: m})
				s.metrics.ChunkRestored()
				s.publish(ctx, eventbus.NewEnvelope("scheduler", eventbus.EventChunkReady,
					eventbus.PriorityNormal, eventbus.ChunkReadyPayload{Coord: coord, LOD: lod, Triangles: ch.Triangles}))
				continue
			}
		}

		if snap == nil {
			snap = s.mods.Snapshot()
		}
		snap.Retain()
		req := MeshRequest{Coord: coord, LOD: lod, TransitionMask: mask, Version: version, Mods: snap}
		if !s.pool.TrySubmit(req) {
			// Очередь полна: тихо отбрасываем, чанк запросится на
			// следующем тике.
			req.Release()
			report.Dropped++
			s.metrics.RequestDropped()
			s.publish(ctx, eventbus.NewEnvelope("scheduler", eventbus.EventRequestDropped,
				eventbus.PriorityLow, eventbus.RequestDroppedPayload{Coord: coord, LOD: lod}))
			continue
		}
		report.Requested++
		s.metrics.RequestSubmitted()

		ch = s.ensureChunk(ch, coord, exists)
		if ch.State == StateMarkedForUnload {
			ch.MeshHandle = "" // прежний хэндл уже передан потребителю
		}
		ch.State = StatePending
		ch.Dirty = false
	}
	if snap != nil {
		snap.Release()
	}

	// Фаза 2: приём готовых мешей, не больше ResultBatch за тик.
	limit := s.cfg.ResultBatch
	if limit <= 0 {
		limit = 16
	}
	for len(report.Results) < limit {
		res, ok := s.pool.TryReceive()
		if !ok {
			break
		}
		ch, exists := s.registry[res.Coord]
		if !exists {
			continue // чанк успели снять с учёта, результат устарел
		}
		ch.LOD = res.LOD
		ch.TransitionSides = res.TransitionSides
		ch.Triangles = res.TriangleCount()
		ch.State = StateReady
		ch.LastAccessFrame = s.frame
		report.Results = append(report.Results, res)
		s.metrics.ResultAccepted(ch.Triangles)
		s.publish(ctx, eventbus.NewEnvelope("scheduler", eventbus.EventChunkReady,
			eventbus.PriorityNormal, eventbus.ChunkReadyPayload{Coord: res.Coord, LOD: res.LOD, Triangles: ch.Triangles}))
	}

	// Фаза 3: пометка чанков, покинувших радиус. Pending не трогаем,
	// их результат ещё в пути.
	for coord, ch := range s.registry {
		if _, ok := desired[coord]; ok {
			continue
		}
		if ch.State == StatePending || ch.State == StateMarkedForUnload {
			continue
		}
		ch.State = StateMarkedForUnload
		report.Unload = append(report.Unload, UnloadNotice{Coord: coord, LOD: ch.LOD, Handle: ch.MeshHandle})
		s.publish(ctx, eventbus.NewEnvelope("scheduler", eventbus.EventChunkUnloaded,
			eventbus.PriorityNormal, eventbus.ChunkUnloadedPayload{Coord: coord, Handle: ch.MeshHandle}))
	}

	s.metrics.ObserveRegistry(s.countsLocked())
	return report
}

// ensureChunk возвращает существующую запись либо регистрирует новую.
func (s *Scheduler) ensureChunk(ch *Chunk, coord vec.Vec3, exists bool) *Chunk {
	if exists {
		return ch
	}
	ch = &Chunk{Coord: coord, State: StatePending, LastAccessFrame: s.frame}
	s.registry[coord] = ch
	return ch
}

// desiredChunks перечисляет чанки в радиусе обзора и их уровни
// детализации. Кандидаты берутся из куба со стороной
// 2*(ceil(view/chunk)+1)+1 вокруг камеры и фильтруются по настоящему
// расстоянию до центра чанка.
func (s *Scheduler) desiredChunks(camera mgl32.Vec3) map[vec.Vec3]int {
	size := float64(s.grid.ChunkSize())
	view := s.cfg.ViewDistance
	radius := int(math.Ceil(view/size)) + 1

	cx := int(math.Floor(float64(camera.X()) / size))
	cy := int(math.Floor(float64(camera.Y()) / size))
	cz := int(math.Floor(float64(camera.Z()) / size))

	desired := make(map[vec.Vec3]int)
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			y := cy + dy
			if y < 0 || y >= s.heightChunks {
				continue
			}
			for dz := -radius; dz <= radius; dz++ {
				coord := vec.Vec3{X: cx + dx, Y: y, Z: cz + dz}
				ddx := (float64(coord.X)+0.5)*size - float64(camera.X())
				ddy := (float64(coord.Y)+0.5)*size - float64(camera.Y())
				ddz := (float64(coord.Z)+0.5)*size - float64(camera.Z())
				dist := math.Sqrt(ddx*ddx + ddy*ddy + ddz*ddz)
				if dist > view {
					continue
				}
				desired[coord] = LODForDistance(dist, s.cfg.BaseDistance, s.cfg.MaxLOD)
			}
		}
	}
	return desired
}

// transitionMask собирает маску сторон, за которыми в желаемом множестве
// стоит сосед со строго меньшим LOD. Бит i соответствует i-му смещению
// из vec.Neighbors6. Маска доводится до рендера как есть: сшивкой швов
// между уровнями занимается он.
func (s *Scheduler) transitionMask(coord vec.Vec3, lod int, desired map[vec.Vec3]int) uint8 {
	var mask uint8
	for i, off := range vec.Neighbors6 {
		if nLod, ok := desired[coord.Add(off)]; ok && nLod < lod {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Invalidate помечает меши перечисленных чанков устаревшими после правки
// слоя. Помеченный чанк перезапрашивается на ближайшем тике; приехавший
// тем временем старый результат принимается, но метка сохраняется, и чанк
// уходит на повторную экстракцию. Координаты вне реестра игнорируются.
// Возвращает число помеченных записей.
func (s *Scheduler) Invalidate(coords []vec.Vec3) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for _, coord := range coords {
		if ch, ok := s.registry[coord]; ok && !ch.Dirty {
			ch.Dirty = true
			marked++
		}
	}
	return marked
}

// Acknowledge подтверждает загрузку меша рендером: чанк переходит из
// Ready в Active и получает хэндл ресурса. Пустая строка означает, что
// чанк не найден либо подтверждать нечего.
func (s *Scheduler) Acknowledge(coord vec.Vec3) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.registry[coord]
	if !ok || ch.State != StateReady {
		return ""
	}
	ch.State = StateActive
	ch.MeshHandle = uuid.New().String()
	ch.LastAccessFrame = s.frame
	return ch.MeshHandle
}

// ReleaseChunk снимает чанк с учёта после выгрузки ресурса рендером.
// Разрешено только из Active и MarkedForUnload: чанк с несданным или
// ещё не собранным мешем освобождать нельзя.
func (s *Scheduler) ReleaseChunk(coord vec.Vec3) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.registry[coord]
	if !ok {
		return false
	}
	if ch.State != StateActive && ch.State != StateMarkedForUnload {
		return false
	}
	delete(s.registry, coord)
	return true
}

// ChunkInfo возвращает копию учётной записи чанка.
func (s *Scheduler) ChunkInfo(coord vec.Vec3) (Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch, ok := s.registry[coord]; ok {
		return *ch, true
	}
	return Chunk{}, false
}

// Stats возвращает срез состояния реестра.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countsLocked()
}

func (s *Scheduler) countsLocked() SchedulerStats {
	st := SchedulerStats{Frame: s.frame, Total: len(s.registry)}
	for _, ch := range s.registry {
		switch ch.State {
		case StatePending:
			st.Pending++
		case StateReady:
			st.Ready++
		case StateActive:
			st.Active++
		case StateMarkedForUnload:
			st.Marked++
		}
	}
	return st
}

func (s *Scheduler) publish(ctx context.Context, ev *eventbus.Envelope) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Debug("🌍 Событие планировщика не опубликовано", zap.Error(err))
	}
}
