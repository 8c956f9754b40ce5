package world

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/extract"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

// Pool — пул мешинг-воркеров. Планировщик кладёт запросы неблокирующей
// отправкой, воркеры забирают их партиями и возвращают результаты через
// такой же ограниченный канал. Переполнение любой из очередей не
// блокирует управляющий поток: запрос просто отбрасывается и будет
// повторён на следующем тике.
type Pool struct {
	field     *terrain.Field
	extractor extract.Extractor
	grid      config.GridConfig

	requests chan MeshRequest
	results  chan MeshResult

	parallelism int
	minBatch    int

	exec pond.Pool
	log  *zap.Logger

	extracted atomic.Uint64
	emptied   atomic.Uint64
	failed    atomic.Uint64
}

// PoolStats — счётчики работы пула.
type PoolStats struct {
	Workers        int
	Extracted      uint64
	Empty          uint64 // чанки без поверхности
	Failed         uint64
	QueuedRequests int
	QueuedResults  int
}

// DefaultWorkerCount подбирает число воркеров под машину: три четверти
// физических ядер, но не меньше двух. Если gopsutil не смог определить
// топологию, берём число логических процессоров.
func DefaultWorkerCount() int {
	cores, err := cpu.Counts(false)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}
	n := cores * 3 / 4
	if n < 2 {
		n = 2
	}
	return n
}

// NewPool создаёт пул с указанной конфигурацией. Нулевые значения
// заменяются рабочими умолчаниями.
func NewPool(cfg config.PoolConfig, grid config.GridConfig, field *terrain.Field, ex extract.Extractor, log *zap.Logger) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = config.WorkerCountFromEnv()
	}
	if workers <= 0 {
		workers = DefaultWorkerCount()
	}
	reqQueue := cfg.RequestQueue
	if reqQueue <= 0 {
		reqQueue = workers * 2
	}
	resQueue := cfg.ResultQueue
	if resQueue <= 0 {
		resQueue = workers * 2
	}
	minBatch := cfg.MinBatch
	if minBatch <= 0 {
		minBatch = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		field:       field,
		extractor:   ex,
		grid:        grid,
		requests:    make(chan MeshRequest, reqQueue),
		results:     make(chan MeshResult, resQueue),
		parallelism: workers,
		minBatch:    minBatch,
		exec:        pond.NewPool(workers),
		log:         log,
	}
}

// TrySubmit кладёт запрос в очередь без блокировки. false означает, что
// очередь полна; снапшот запроса остаётся на совести вызывающего.
func (p *Pool) TrySubmit(req MeshRequest) bool {
	select {
	case p.requests <- req:
		return true
	default:
		return false
	}
}

// TryReceive снимает один готовый результат без блокировки.
func (p *Pool) TryReceive() (MeshResult, bool) {
	select {
	case res := <-p.results:
		return res, true
	default:
		return MeshResult{}, false
	}
}

// ProcessRequests забирает из очереди партию запросов и выполняет их
// параллельно, блокируясь до завершения всей партии. Размер партии не
// меньше minBatch и не меньше числа воркеров, чтобы не гонять пул ради
// одного чанка. Возвращает число обработанных запросов.
func (p *Pool) ProcessRequests() int {
	limit := p.parallelism
	if limit < p.minBatch {
		limit = p.minBatch
	}
	batch := make([]MeshRequest, 0, limit)
collect:
	for len(batch) < limit {
		select {
		case req := <-p.requests:
			batch = append(batch, req)
		default:
			break collect
		}
	}
	if len(batch) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for _, req := range batch {
		req := req
		wg.Add(1)
		p.exec.Submit(func() {
			defer wg.Done()
			p.process(req)
		})
	}
	wg.Wait()
	return len(batch)
}

// process выполняет одну экстракцию и отправляет результат.
func (p *Pool) process(req MeshRequest) {
	defer req.Release()

	out, err := p.extractor.Extract(p.sampler(req.Mods), p.block(req), 0, req.TransitionMask)
	if err != nil {
		p.failed.Add(1)
		p.log.Warn("⚙️ Экстракция чанка не удалась",
			zap.Int("x", req.Coord.X),
			zap.Int("y", req.Coord.Y),
			zap.Int("z", req.Coord.Z),
			zap.Int("lod", req.LOD),
			zap.Error(err))
		return
	}
	p.extracted.Add(1)
	if out.Empty() {
		p.emptied.Add(1)
	}

	res := MeshResult{
		Coord:           req.Coord,
		LOD:             req.LOD,
		TransitionSides: req.TransitionMask,
		Version:         req.Version,
		Positions:       out.Positions,
		Normals:         out.Normals,
		Indices:         out.Indices,
	}
	select {
	case p.results <- res:
	default:
		// Канал результатов полон, чанк будет запрошен заново позже
		p.log.Debug("⚙️ Результат мешинга отброшен: очередь полна",
			zap.Int("x", req.Coord.X),
			zap.Int("y", req.Coord.Y),
			zap.Int("z", req.Coord.Z))
	}
}

// sampler строит функцию выборки поля с наложенным снапшотом правок.
// Пустой снапшот обходится без поиска по чанкам.
func (p *Pool) sampler(snap *terrain.LayerSnapshot) extract.SampleFunc {
	if snap == nil || snap.Empty() {
		return p.field.Sample
	}
	return func(x, y, z float32) float32 {
		return p.field.SampleWithMods(x, y, z, snap)
	}
}

// block переводит координату чанка и LOD в блок экстракции. Размер блока
// в мировых единицах постоянный, меняется только число ячеек: каждый
// уровень LOD уменьшает подразбиение вдвое.
func (p *Pool) block(req MeshRequest) extract.Block {
	size := p.grid.ChunkSize()
	sub := p.grid.Resolution >> uint(req.LOD)
	if sub < 1 {
		sub = 1
	}
	return extract.Block{
		Origin: mgl32.Vec3{
			float32(req.Coord.X) * size,
			float32(req.Coord.Y) * size,
			float32(req.Coord.Z) * size,
		},
		Size:         size,
		Subdivisions: sub,
	}
}

// Drain освобождает снапшоты запросов, оставшихся в очереди.
// Возвращает число выброшенных запросов.
func (p *Pool) Drain() int {
	n := 0
	for {
		select {
		case req := <-p.requests:
			req.Release()
			n++
		default:
			return n
		}
	}
}

// Stats возвращает срез счётчиков пула.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:        p.parallelism,
		Extracted:      p.extracted.Load(),
		Empty:          p.emptied.Load(),
		Failed:         p.failed.Load(),
		QueuedRequests: len(p.requests),
		QueuedResults:  len(p.results),
	}
}

// Close дожидается завершения запущенных задач и выбрасывает остаток
// очереди, освобождая снапшоты.
func (p *Pool) Close() {
	p.exec.StopAndWait()
	p.Drain()
}
