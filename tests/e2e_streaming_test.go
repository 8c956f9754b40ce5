package tests

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/extract"
	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/stability"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/vec"
	"github.com/annel0/voxel-terrain/internal/world"
)

// streamingStack — полный конвейер террейна, как его собирает cmd/demo:
// поле, слои правок, кисть, обвал, пул мешинга, кэш и планировщик.
type streamingStack struct {
	cfg      *config.Config
	field    *terrain.Field
	mods     *terrain.ModificationLayer
	brush    *terrain.Brush
	resolver *stability.Resolver
	pool     *world.Pool
	cache    *world.MeshCache
	sched    *world.Scheduler
	bus      eventbus.EventBus
}

func newStreamingStack(t *testing.T) *streamingStack {
	t.Helper()

	// Плоская поверхность на y=8: геометрия чанков предсказуема,
	// а физика обвала считается руками.
	cfg := config.Default()
	cfg.Terrain.Amplitude = 0
	cfg.Terrain.BaseHeight = 8
	cfg.Terrain.CarveWeight = 0
	cfg.Grid = config.GridConfig{Resolution: 16, VoxelSize: 1, WorldHeight: 64}
	cfg.Scheduler = config.SchedulerConfig{ViewDistance: 24, BaseDistance: 64, MaxLOD: 4, ResultBatch: 64}
	cfg.Pool = config.PoolConfig{Workers: 2, RequestQueue: 64, ResultQueue: 64, MinBatch: 1}

	bus := eventbus.NewMemoryBus(256, 0)
	field := terrain.NewField(cfg.Terrain)
	mods := terrain.NewModificationLayer(cfg.Grid)
	tex := terrain.NewTextureLayer(cfg.Grid)
	history := terrain.NewUndoHistory(mods, tex, 16)
	brush := terrain.NewBrush(mods, tex, history, bus, nil)
	resolver := stability.NewResolver(field, mods, cfg.Grid, cfg.Stability, bus, nil)

	pool := world.NewPool(cfg.Pool, cfg.Grid, field, extract.NewMarchingTets(), nil)
	t.Cleanup(pool.Close)
	cache := world.NewMeshCache(cfg.Cache)
	sched := world.NewScheduler(cfg.Scheduler, cfg.Grid, mods, pool, cache, bus, nil, nil)

	return &streamingStack{
		cfg:      cfg,
		field:    field,
		mods:     mods,
		brush:    brush,
		resolver: resolver,
		pool:     pool,
		cache:    cache,
		sched:    sched,
		bus:      bus,
	}
}

// settle гоняет цикл тиков, пока все зарегистрированные чанки не станут
// Active. Возвращает все меши, принятые по пути.
func (s *streamingStack) settle(t *testing.T, camera mgl32.Vec3) []world.MeshResult {
	t.Helper()
	ctx := context.Background()
	var results []world.MeshResult
	for i := 0; i < 50; i++ {
		rep := s.sched.Update(ctx, camera)
		for _, res := range rep.Results {
			s.sched.Acknowledge(res.Coord)
			results = append(results, res)
		}
		for _, r := range rep.Restored {
			s.sched.Acknowledge(r.Coord)
		}
		for _, un := range rep.Unload {
			s.sched.ReleaseChunk(un.Coord)
		}
		st := s.sched.Stats()
		if st.Total > 0 && st.Active == st.Total {
			return results
		}
		s.pool.ProcessRequests()
	}
	t.Fatalf("планировщик не сошёлся: %s", s.sched.Stats())
	return nil
}

func resultMesh(res world.MeshResult) mesh.CombinedMesh {
	return mesh.CombinedMesh{Vertices: res.Positions, Normals: res.Normals, Indices: res.Indices}
}

// TestTerrainStreamingE2E проводит конвейер через полный сценарий:
// стриминг вокруг камеры, выгрузка с кэшированием, возврат из кэша,
// правка кистью с обвалом и откат.
func TestTerrainStreamingE2E(t *testing.T) {
	s := newStreamingStack(t)
	ctx := context.Background()
	home := mgl32.Vec3{8, 8, 8}

	// === СТРИМИНГ ВОКРУГ КАМЕРЫ ===
	baseline := s.settle(t, home)
	st := s.sched.Stats()
	assert.Equal(t, 14, st.Total, "в радиусе 24 от (8,8,8) лежит 14 чанков")
	assert.Equal(t, 14, st.Active)

	byCoord := make(map[vec.Vec3]world.MeshResult, len(baseline))
	surfaced := 0
	for _, res := range baseline {
		byCoord[res.Coord] = res
		if !res.Empty() {
			surfaced++
		}
	}
	require.Len(t, baseline, 14, "каждый чанк отдаёт ровно один меш")
	assert.Equal(t, 9, surfaced, "поверхность y=8 пересекает только нижний слой чанков")
	flatHome := byCoord[vec.Vec3{}]
	require.False(t, flatHome.Empty())

	// === ВЫГРУЗКА И ВОЗВРАТ ИЗ КЭША ===
	// Камера уходит: все 14 чанков помечаются за один тик, непустые меши
	// уезжают в кэш выгрузки.
	far := mgl32.Vec3{808, 8, 8}
	rep := s.sched.Update(ctx, far)
	require.Len(t, rep.Unload, 14)
	for _, un := range rep.Unload {
		if res, ok := byCoord[un.Coord]; ok && !res.Empty() {
			m := resultMesh(res)
			s.cache.Store(un.Coord, res.LOD, res.Version, &m)
		}
		require.True(t, s.sched.ReleaseChunk(un.Coord))
	}
	assert.Equal(t, 9, s.cache.Stats().Entries)
	s.settle(t, far)

	// Камера возвращается: непустые чанки поднимаются из кэша без
	// экстракции, пустые переизвлекаются.
	rep = s.sched.Update(ctx, home)
	assert.Len(t, rep.Restored, 9, "все кэшированные меши совпали по версии слоя")
	assert.Equal(t, 5, rep.Requested, "пустые меши в кэш не попадают")
	assert.Equal(t, uint64(9), s.cache.Stats().Hits)
	for _, r := range rep.Restored {
		require.NotEmpty(t, s.sched.Acknowledge(r.Coord))
	}
	for _, un := range rep.Unload {
		require.True(t, s.sched.ReleaseChunk(un.Coord))
	}
	s.settle(t, home)

	// === ПРАВКА С ОБВАЛОМ ===
	collapseCh := make(chan eventbus.CollapseResolvedPayload, 1)
	sub, err := s.bus.Subscribe(ctx, eventbus.Filter{Types: []string{eventbus.EventCollapseResolved}},
		func(_ context.Context, ev *eventbus.Envelope) {
			if p, ok := ev.Payload.(eventbus.CollapseResolvedPayload); ok {
				select {
				case collapseCh <- p:
				default:
				}
			}
		})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// Диск 13 колонок высотой 2 висит в воздухе на y=40.
	fp := terrain.DiscFootprint(vec.Vec3{X: 8, Y: 40, Z: 8}, 2, 2, 60)
	version, touched := s.brush.Commit(ctx, terrain.BrushBuild, fp, 1)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, 0, s.sched.Invalidate(touched), "чанк y=2 за радиусом обзора и не зарегистрирован")

	report := s.resolver.Resolve(ctx, fp)
	assert.Equal(t, 1, report.FloatingComponents)
	assert.Equal(t, 1, report.ComponentsDropped)
	assert.Equal(t, 26, report.VoxelsMoved)
	require.Contains(t, report.Touched, vec.Vec3{})
	assert.Equal(t, 1, s.sched.Invalidate(report.Touched))

	select {
	case p := <-collapseCh:
		assert.Equal(t, 1, p.Components)
		assert.NotEmpty(t, p.Touched)
	case <-time.After(2 * time.Second):
		t.Fatal("событие обвала не дошло до подписчика")
	}

	// Масса приземлилась на поверхность: колонка высотой 2 начиная с y=8.
	snap := s.mods.Snapshot()
	assert.Negative(t, s.field.SampleWithMods(8, 8, 8, snap), "низ упавшего диска лежит на поверхности")
	assert.Negative(t, s.field.SampleWithMods(8, 9, 8, snap))
	assert.Positive(t, s.field.SampleWithMods(8, 40, 8, snap), "исходная позиция снова воздух")
	snap.Release()

	remeshed := s.settle(t, home)
	require.Len(t, remeshed, 1, "перестраивается только чанк с приземлившейся массой")
	landed := remeshed[0]
	assert.Equal(t, vec.Vec3{}, landed.Coord)
	assert.Equal(t, uint64(2), landed.Version, "меш собран поверх слоя после обвала")
	assert.False(t, landed.Empty())

	// === ОТКАТ ===
	// Undo возвращает слой к состоянию до правки, то есть и до обвала.
	undone, ok := s.brush.Undo()
	require.True(t, ok)
	assert.Positive(t, s.sched.Invalidate(undone))

	restored := s.settle(t, home)
	require.Len(t, restored, 1)
	assert.Equal(t, flatHome.TriangleCount(), restored[0].TriangleCount(),
		"после отката геометрия совпадает с исходной равниной")

	t.Logf("✅ E2E пройден: стриминг 14 чанков, кэш 9 попаданий, обвал 26 вокселей, откат вернул равнину")
}
