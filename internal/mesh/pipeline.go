package mesh

import (
	"runtime"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/annel0/voxel-terrain/internal/config"
)

// Stats — итоги одного прогона пайплайна.
type Stats struct {
	Pieces          int
	InputTriangles  int
	AfterWeld       int
	AfterDecimate   int
	DroppedDegen    int
	DroppedSliver   int
	DroppedSmall    int
	DroppedPinched  int
	DroppedRibbon   int
	OutputTriangles int
	OutputVertices  int
	Elapsed         time.Duration
}

// Pipeline прогоняет батч свежих чанков через все стадии пост-обработки:
// слияние, выравнивание шовных нормалей, сварку, необязательную децимацию
// с чистками и пересчёт нормалей.
type Pipeline struct {
	cfg  config.MeshConfig
	log  *zap.Logger
	pool pond.Pool
}

// NewPipeline собирает пайплайн. Внутренний пул параллелит пересчёт
// нормалей; закрывается вызовом Close.
func NewPipeline(cfg config.MeshConfig, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		cfg:  cfg,
		log:  log,
		pool: pond.NewPool(runtime.NumCPU()),
	}
}

// Close останавливает внутренний пул, дождавшись хвоста задач.
func (p *Pipeline) Close() {
	p.pool.StopAndWait()
}

// Process выполняет полный проход пост-обработки над батчем кусков.
func (p *Pipeline) Process(pieces []Piece) (CombinedMesh, Stats) {
	start := time.Now()
	stats := Stats{Pieces: len(pieces)}

	m := Merge(pieces)
	stats.InputTriangles = m.TriangleCount()
	if m.Empty() {
		stats.Elapsed = time.Since(start)
		return m, stats
	}

	AverageBoundaryNormals(&m, p.cfg.WeldTolerance)
	Weld(&m, p.cfg.WeldTolerance)
	stats.AfterWeld = m.TriangleCount()

	if p.cfg.DecimateRatio > 0 && p.cfg.DecimateRatio < 1 {
		target := int(float64(stats.AfterWeld) * p.cfg.DecimateRatio)
		Simplify(&m, target, p.cfg.TargetError)

		stats.DroppedDegen = DropDegenerateTriangles(&m, p.cfg.AreaEpsilon)
		stats.DroppedSliver = DropSliverTriangles(&m, p.cfg.AspectLimit, p.cfg.AreaEpsilon)
		stats.DroppedSmall = DropSmallComponents(&m, p.cfg.MinComponent)
		stats.DroppedPinched = DropPinchedComponents(&m, p.cfg.MinEdgeComponent)
		stats.DroppedRibbon = DropRibbonComponents(&m, p.cfg.RibbonRatio)
		stats.AfterDecimate = m.TriangleCount()
	}

	CompactVertices(&m)
	recomputeNormals(&m, p.cfg.SharpAngleDeg, p.cfg.AreaEpsilon, p.pool)

	stats.OutputTriangles = m.TriangleCount()
	stats.OutputVertices = len(m.Vertices)
	stats.Elapsed = time.Since(start)

	p.log.Debug("🧵 Пайплайн меша завершён",
		zap.Int("pieces", stats.Pieces),
		zap.Int("in_tris", stats.InputTriangles),
		zap.Int("out_tris", stats.OutputTriangles),
		zap.Int("out_verts", stats.OutputVertices),
		zap.Duration("elapsed", stats.Elapsed))

	return m, stats
}
