package world

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/s2"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// MeshCache хранит сжатые меши выгруженных чанков. Возврат чанка в
// радиус обзора обходится распаковкой вместо повторной экстракции и
// пайплайна. Записи привязаны к версии слоя модификаций: после правки
// старый меш считается устаревшим. Вытеснение — по давности обращения.
type MeshCache struct {
	capacity int

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
	tick    uint64
	hits    uint64
	misses  uint64
}

type cacheKey struct {
	coord vec.Vec3
	lod   int
}

type cacheEntry struct {
	packed  []byte
	version uint64
	used    uint64
}

// CacheStats — счётчики кэша выгрузки.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// NewMeshCache создаёт кэш. Нулевая ёмкость выключает его: Store
// ничего не делает, Load всегда промахивается.
func NewMeshCache(cfg config.CacheConfig) *MeshCache {
	return &MeshCache{
		capacity: cfg.Capacity,
		entries:  make(map[cacheKey]*cacheEntry),
	}
}

// Store сериализует меш, сжимает его s2 и кладёт в кэш, вытесняя при
// необходимости самую давнюю запись. Пустые меши не хранятся.
func (c *MeshCache) Store(coord vec.Vec3, lod int, version uint64, m *mesh.CombinedMesh) {
	if c == nil || c.capacity <= 0 || m == nil || m.Empty() {
		return
	}
	packed := s2.Encode(nil, encodeMesh(m))

	key := cacheKey{coord: coord, lod: lod}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{packed: packed, version: version, used: c.tick}
}

// Load возвращает меш для координаты, LOD и версии слоя. Запись с
// другой версией устарела: она удаляется, а вызов считается промахом.
func (c *MeshCache) Load(coord vec.Vec3, lod int, version uint64) (mesh.CombinedMesh, bool) {
	if c == nil || c.capacity <= 0 {
		return mesh.CombinedMesh{}, false
	}
	key := cacheKey{coord: coord, lod: lod}

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && e.version != version {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.misses++
		c.mu.Unlock()
		return mesh.CombinedMesh{}, false
	}
	c.hits++
	c.tick++
	e.used = c.tick
	packed := e.packed
	c.mu.Unlock()

	raw, err := s2.Decode(nil, packed)
	if err != nil {
		return mesh.CombinedMesh{}, false
	}
	m, err := decodeMesh(raw)
	if err != nil {
		return mesh.CombinedMesh{}, false
	}
	return m, true
}

// Stats возвращает счётчики кэша.
func (c *MeshCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

func (c *MeshCache) evictOldestLocked() {
	var oldest cacheKey
	var oldestUsed uint64 = math.MaxUint64
	for k, e := range c.entries {
		if e.used < oldestUsed {
			oldestUsed = e.used
			oldest = k
		}
	}
	delete(c.entries, oldest)
}

const meshHeaderLen = 8

// encodeMesh пакует меш в плоский буфер: счётчики вершин и индексов,
// затем позиции, нормали и индексы, всё little-endian.
func encodeMesh(m *mesh.CombinedMesh) []byte {
	verts := len(m.Vertices)
	idx := len(m.Indices)
	buf := make([]byte, meshHeaderLen+verts*24+idx*4)
	binary.LittleEndian.PutUint32(buf[0:], uint32(verts))
	binary.LittleEndian.PutUint32(buf[4:], uint32(idx))

	off := meshHeaderLen
	for _, p := range m.Vertices {
		off = putVec3(buf, off, p)
	}
	for i := 0; i < verts; i++ {
		var n mgl32.Vec3
		if i < len(m.Normals) {
			n = m.Normals[i]
		}
		off = putVec3(buf, off, n)
	}
	for _, i := range m.Indices {
		binary.LittleEndian.PutUint32(buf[off:], i)
		off += 4
	}
	return buf
}

// decodeMesh восстанавливает меш из буфера encodeMesh.
func decodeMesh(raw []byte) (mesh.CombinedMesh, error) {
	if len(raw) < meshHeaderLen {
		return mesh.CombinedMesh{}, fmt.Errorf("буфер меша усечён: %d байт", len(raw))
	}
	verts := int(binary.LittleEndian.Uint32(raw[0:]))
	idx := int(binary.LittleEndian.Uint32(raw[4:]))
	want := meshHeaderLen + verts*24 + idx*4
	if len(raw) != want {
		return mesh.CombinedMesh{}, fmt.Errorf("размер буфера меша %d, ожидалось %d", len(raw), want)
	}

	m := mesh.CombinedMesh{
		Vertices: make([]mgl32.Vec3, verts),
		Normals:  make([]mgl32.Vec3, verts),
		Indices:  make([]uint32, idx),
	}
	off := meshHeaderLen
	for i := range m.Vertices {
		m.Vertices[i], off = getVec3(raw, off)
	}
	for i := range m.Normals {
		m.Normals[i], off = getVec3(raw, off)
	}
	for i := range m.Indices {
		m.Indices[i] = binary.LittleEndian.Uint32(raw[off:])
		off += 4
	}
	return m, nil
}

func putVec3(buf []byte, off int, v mgl32.Vec3) int {
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v.X()))
	binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(v.Y()))
	binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(v.Z()))
	return off + 12
}

func getVec3(buf []byte, off int) (mgl32.Vec3, int) {
	return mgl32.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])),
		math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(buf[off+8:])),
	}, off + 12
}
