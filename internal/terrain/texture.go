package terrain

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// TextureChannels — число текстурных каналов, смешиваемых на воксель.
const TextureChannels = 4

// TextureWeights — нормированные веса смешивания текстурных каналов.
// Нетронутый воксель имеет вес 1 у нулевого канала.
type TextureWeights [TextureChannels]float32

// DefaultWeights возвращает веса нетронутого вокселя.
func DefaultWeights() TextureWeights {
	return TextureWeights{1, 0, 0, 0}
}

// ChannelWeights возвращает веса с полным заполнением одного канала.
func ChannelWeights(channel uint8) TextureWeights {
	var w TextureWeights
	w[int(channel)%TextureChannels] = 1
	return w
}

// Normalized приводит сумму весов к единице. Нулевая или отрицательная
// сумма заменяется весами по умолчанию.
func (w TextureWeights) Normalized() TextureWeights {
	var sum float32
	for i := 0; i < TextureChannels; i++ {
		if w[i] < 0 {
			w[i] = 0
		}
		sum += w[i]
	}
	if sum <= 0 {
		return DefaultWeights()
	}
	for i := 0; i < TextureChannels; i++ {
		w[i] /= sum
	}
	return w
}

// Dominant возвращает индекс канала с наибольшим весом.
func (w TextureWeights) Dominant() uint8 {
	best := 0
	for i := 1; i < TextureChannels; i++ {
		if w[i] > w[best] {
			best = i
		}
	}
	return uint8(best)
}

type chunkWeights map[int]TextureWeights

// TextureLayer — разреженный слой текстурных весов, устроен так же,
// как ModificationLayer: чанк → (локальный индекс → веса).
type TextureLayer struct {
	resolution int
	voxelSize  float32

	mu      sync.RWMutex
	chunks  map[vec.Vec3]chunkWeights
	version atomic.Uint64
}

// NewTextureLayer создаёт пустой текстурный слой поверх заданной сетки.
func NewTextureLayer(grid config.GridConfig) *TextureLayer {
	return &TextureLayer{
		resolution: grid.Resolution,
		voxelSize:  grid.VoxelSize,
		chunks:     make(map[vec.Vec3]chunkWeights),
	}
}

// Version возвращает текущую версию слоя.
func (l *TextureLayer) Version() uint64 { return l.version.Load() }

// Get возвращает веса вокселя. Для нетронутых вокселей ok == false.
func (l *TextureLayer) Get(voxel vec.Vec3) (TextureWeights, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	chunk := voxel.ToChunkCoords(l.resolution)
	mods, ok := l.chunks[chunk]
	if !ok {
		return DefaultWeights(), false
	}
	w, ok := mods[voxel.LocalInChunk(l.resolution).LocalIndex(l.resolution)]
	if !ok {
		return DefaultWeights(), false
	}
	return w, true
}

// Apply атомарно записывает пакет весов (с нормировкой) и поднимает версию.
func (l *TextureLayer) Apply(set map[vec.Vec3]TextureWeights) uint64 {
	l.mu.Lock()
	for voxel, w := range set {
		chunk := voxel.ToChunkCoords(l.resolution)
		mods, ok := l.chunks[chunk]
		if !ok {
			mods = make(chunkWeights)
			l.chunks[chunk] = mods
		}
		mods[voxel.LocalInChunk(l.resolution).LocalIndex(l.resolution)] = w.Normalized()
	}
	l.mu.Unlock()
	return l.version.Add(1)
}

// Snapshot делает неизменяемую копию слоя. Счётчик ссылок начинается с 1.
func (l *TextureLayer) Snapshot() *TextureSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	chunks := make(map[vec.Vec3]chunkWeights, len(l.chunks))
	for coord, mods := range l.chunks {
		cp := make(chunkWeights, len(mods))
		for idx, w := range mods {
			cp[idx] = w
		}
		chunks[coord] = cp
	}
	snap := &TextureSnapshot{
		resolution: l.resolution,
		voxelSize:  l.voxelSize,
		chunks:     chunks,
		version:    l.version.Load(),
	}
	snap.refs.Store(1)
	return snap
}

// Restore копирует содержимое снапшота обратно в живой слой.
func (l *TextureLayer) Restore(snap *TextureSnapshot) uint64 {
	chunks := make(map[vec.Vec3]chunkWeights, len(snap.chunks))
	for coord, mods := range snap.chunks {
		cp := make(chunkWeights, len(mods))
		for idx, w := range mods {
			cp[idx] = w
		}
		chunks[coord] = cp
	}
	l.mu.Lock()
	l.chunks = chunks
	l.mu.Unlock()
	return l.version.Add(1)
}

// TextureSnapshot — неизменяемый срез текстурного слоя.
type TextureSnapshot struct {
	resolution int
	voxelSize  float32
	chunks     map[vec.Vec3]chunkWeights
	version    uint64
	refs       atomic.Int32
}

// Version возвращает версию слоя на момент снапшота.
func (s *TextureSnapshot) Version() uint64 { return s.version }

// Retain увеличивает счётчик ссылок.
func (s *TextureSnapshot) Retain() { s.refs.Add(1) }

// Release уменьшает счётчик ссылок.
func (s *TextureSnapshot) Release() {
	if s.refs.Add(-1) < 0 {
		s.refs.Store(0)
	}
}

// Empty сообщает, пуст ли снапшот.
func (s *TextureSnapshot) Empty() bool { return len(s.chunks) == 0 }

func (s *TextureSnapshot) weightsAt(ix, iy, iz int) TextureWeights {
	voxel := vec.Vec3{X: ix, Y: iy, Z: iz}
	mods, ok := s.chunks[voxel.ToChunkCoords(s.resolution)]
	if !ok {
		return DefaultWeights()
	}
	w, ok := mods[voxel.LocalInChunk(s.resolution).LocalIndex(s.resolution)]
	if !ok {
		return DefaultWeights()
	}
	return w
}

// SampleWeights — трилинейная интерполяция весов между восемью узлами
// решётки с финальной нормировкой.
func (s *TextureSnapshot) SampleWeights(x, y, z float32) TextureWeights {
	if len(s.chunks) == 0 {
		return DefaultWeights()
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

	var out TextureWeights
	corners := [8]struct {
		w      TextureWeights
		weight float32
	}{
		{s.weightsAt(x0, y0, z0), (1 - fx) * (1 - fy) * (1 - fz)},
		{s.weightsAt(x0+1, y0, z0), fx * (1 - fy) * (1 - fz)},
		{s.weightsAt(x0, y0+1, z0), (1 - fx) * fy * (1 - fz)},
		{s.weightsAt(x0+1, y0+1, z0), fx * fy * (1 - fz)},
		{s.weightsAt(x0, y0, z0+1), (1 - fx) * (1 - fy) * fz},
		{s.weightsAt(x0+1, y0, z0+1), fx * (1 - fy) * fz},
		{s.weightsAt(x0, y0+1, z0+1), (1 - fx) * fy * fz},
		{s.weightsAt(x0+1, y0+1, z0+1), fx * fy * fz},
	}
	for _, c := range corners {
		for i := 0; i < TextureChannels; i++ {
			out[i] += c.w[i] * c.weight
		}
	}
	return out.Normalized()
}
