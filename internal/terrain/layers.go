package terrain

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// VoxelMod — разреженная правка одного вокселя. Композиция с процедурным
// полем: visual = base*(1-blend) + (base+sdf_delta)*blend, что сводится к
// base + sdf_delta*blend.
type VoxelMod struct {
	SDFDelta float32
	Blend    float32 // [0,1]
	Texture  uint8
}

// EffectiveDelta возвращает вклад правки в видимое SDF.
func (m VoxelMod) EffectiveDelta() float32 {
	return m.SDFDelta * clamp01(m.Blend)
}

// Apply применяет правку к процедурному значению SDF.
func (m VoxelMod) Apply(base float32) float32 {
	return base + m.EffectiveDelta()
}

type chunkMods map[int]VoxelMod

// ModificationLayer — живой слой правок: разреженное отображение
// чанк → (локальный индекс → VoxelMod). Мутации приходят только с
// управляющего потока (кисть, гравитация, undo); воркеры читают
// неизменяемые снапшоты.
type ModificationLayer struct {
	resolution int
	voxelSize  float32

	mu      sync.RWMutex
	chunks  map[vec.Vec3]chunkMods
	version atomic.Uint64
}

// NewModificationLayer создаёт пустой слой поверх заданной сетки.
func NewModificationLayer(grid config.GridConfig) *ModificationLayer {
	return &ModificationLayer{
		resolution: grid.Resolution,
		voxelSize:  grid.VoxelSize,
		chunks:     make(map[vec.Vec3]chunkMods),
	}
}

// Resolution возвращает число вокселей на ребро чанка.
func (l *ModificationLayer) Resolution() int { return l.resolution }

// VoxelSize возвращает размер вокселя в мировых единицах.
func (l *ModificationLayer) VoxelSize() float32 { return l.voxelSize }

// Version возвращает текущую версию слоя. Версия растёт на каждом коммите.
func (l *ModificationLayer) Version() uint64 { return l.version.Load() }

// Get возвращает правку вокселя по мировым решёточным координатам.
func (l *ModificationLayer) Get(voxel vec.Vec3) (VoxelMod, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lookupMod(l.chunks, l.resolution, voxel)
}

// Apply атомарно применяет пакет правок и удалений, поднимая версию один раз.
// Возвращает новую версию слоя.
func (l *ModificationLayer) Apply(set map[vec.Vec3]VoxelMod, remove []vec.Vec3) uint64 {
	l.mu.Lock()
	for voxel, mod := range set {
		mod.Blend = clamp01(mod.Blend)
		storeMod(l.chunks, l.resolution, voxel, mod)
	}
	for _, voxel := range remove {
		deleteMod(l.chunks, l.resolution, voxel)
	}
	l.mu.Unlock()
	return l.version.Add(1)
}

// Snapshot делает неизменяемую копию слоя для воркеров и undo-истории.
// Счётчик ссылок снапшота начинается с 1 (владение у вызывающего).
func (l *ModificationLayer) Snapshot() *LayerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := &LayerSnapshot{
		resolution: l.resolution,
		voxelSize:  l.voxelSize,
		chunks:     copyChunks(l.chunks),
		version:    l.version.Load(),
	}
	snap.refs.Store(1)
	return snap
}

// Restore копирует содержимое снапшота обратно в живой слой (undo/redo).
func (l *ModificationLayer) Restore(snap *LayerSnapshot) uint64 {
	l.mu.Lock()
	l.chunks = copyChunks(snap.chunks)
	l.mu.Unlock()
	return l.version.Add(1)
}

// ChunkCoords возвращает координаты всех чанков, содержащих правки.
func (l *ModificationLayer) ChunkCoords() []vec.Vec3 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	coords := make([]vec.Vec3, 0, len(l.chunks))
	for c := range l.chunks {
		coords = append(coords, c)
	}
	return coords
}

//================ Снапшот =================//

// LayerSnapshot — неизменяемый срез слоя правок. Безопасен для
// конкурентного чтения; время жизни отслеживается счётчиком ссылок.
type LayerSnapshot struct {
	resolution int
	voxelSize  float32
	chunks     map[vec.Vec3]chunkMods
	version    uint64
	refs       atomic.Int32
}

// Version возвращает версию слоя на момент снапшота.
func (s *LayerSnapshot) Version() uint64 { return s.version }

// Retain увеличивает счётчик ссылок (снапшот уходит в очередь запросов
// или в undo-стек).
func (s *LayerSnapshot) Retain() { s.refs.Add(1) }

// Release уменьшает счётчик ссылок. Память освобождает GC; счётчик нужен,
// чтобы владельцы могли проверять баланс удержаний в тестах и статистике.
func (s *LayerSnapshot) Release() {
	if s.refs.Add(-1) < 0 {
		s.refs.Store(0)
	}
}

// Refs возвращает текущее число удержаний.
func (s *LayerSnapshot) Refs() int32 { return s.refs.Load() }

// Get возвращает правку вокселя в снапшоте.
func (s *LayerSnapshot) Get(voxel vec.Vec3) (VoxelMod, bool) {
	return lookupMod(s.chunks, s.resolution, voxel)
}

// Empty сообщает, пуст ли снапшот.
func (s *LayerSnapshot) Empty() bool { return len(s.chunks) == 0 }

// ForEach обходит все правки снапшота в произвольном порядке.
func (s *LayerSnapshot) ForEach(fn func(voxel vec.Vec3, mod VoxelMod)) {
	for chunk, mods := range s.chunks {
		base := chunk.Scale(s.resolution)
		for idx, mod := range mods {
			fn(base.Add(vec.FromLocalIndex(idx, s.resolution)), mod)
		}
	}
}

// deltaAt возвращает эффективную дельту в узле решётки (0 для нетронутых).
func (s *LayerSnapshot) deltaAt(ix, iy, iz int) float32 {
	mod, ok := lookupMod(s.chunks, s.resolution, vec.Vec3{X: ix, Y: iy, Z: iz})
	if !ok {
		return 0
	}
	return mod.EffectiveDelta()
}

// TrilinearDelta - трилинейная интерполяция эффективной дельты между восемью
// окружающими узлами воксельной решётки.
func (s *LayerSnapshot) TrilinearDelta(x, y, z float32) float32 {
	if len(s.chunks) == 0 {
		return 0
	}

	px := float64(x / s.voxelSize)
	py := float64(y / s.voxelSize)
	pz := float64(z / s.voxelSize)

	x0 := int(math.Floor(px))
	y0 := int(math.Floor(py))
	z0 := int(math.Floor(pz))

	fx := float32(px - float64(x0))
	fy := float32(py - float64(y0))
	fz := float32(pz - float64(z0))

	c000 := s.deltaAt(x0, y0, z0)
	c100 := s.deltaAt(x0+1, y0, z0)
	c010 := s.deltaAt(x0, y0+1, z0)
	c110 := s.deltaAt(x0+1, y0+1, z0)
	c001 := s.deltaAt(x0, y0, z0+1)
	c101 := s.deltaAt(x0+1, y0, z0+1)
	c011 := s.deltaAt(x0, y0+1, z0+1)
	c111 := s.deltaAt(x0+1, y0+1, z0+1)

	c00 := lerp32(c000, c100, fx)
	c10 := lerp32(c010, c110, fx)
	c01 := lerp32(c001, c101, fx)
	c11 := lerp32(c011, c111, fx)

	c0 := lerp32(c00, c10, fy)
	c1 := lerp32(c01, c11, fy)

	return lerp32(c0, c1, fz)
}

//================ Вспомогательные =================//

func lookupMod(chunks map[vec.Vec3]chunkMods, resolution int, voxel vec.Vec3) (VoxelMod, bool) {
	chunk := voxel.ToChunkCoords(resolution)
	mods, ok := chunks[chunk]
	if !ok {
		return VoxelMod{}, false
	}
	mod, ok := mods[voxel.LocalInChunk(resolution).LocalIndex(resolution)]
	return mod, ok
}

func storeMod(chunks map[vec.Vec3]chunkMods, resolution int, voxel vec.Vec3, mod VoxelMod) {
	chunk := voxel.ToChunkCoords(resolution)
	mods, ok := chunks[chunk]
	if !ok {
		mods = make(chunkMods)
		chunks[chunk] = mods
	}
	mods[voxel.LocalInChunk(resolution).LocalIndex(resolution)] = mod
}

func deleteMod(chunks map[vec.Vec3]chunkMods, resolution int, voxel vec.Vec3) {
	chunk := voxel.ToChunkCoords(resolution)
	mods, ok := chunks[chunk]
	if !ok {
		return
	}
	delete(mods, voxel.LocalInChunk(resolution).LocalIndex(resolution))
	if len(mods) == 0 {
		delete(chunks, chunk)
	}
}

func copyChunks(src map[vec.Vec3]chunkMods) map[vec.Vec3]chunkMods {
	dst := make(map[vec.Vec3]chunkMods, len(src))
	for coord, mods := range src {
		cp := make(chunkMods, len(mods))
		for idx, mod := range mods {
			cp[idx] = mod
		}
		dst[coord] = cp
	}
	return dst
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func lerp32(a, b, t float32) float32 {
	return a + t*(b-a)
}
