package mesh

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// quantKey квантует позицию в ячейку решётки с шагом tolerance.
// Вершины одной ячейки считаются совпадающими.
func quantKey(p mgl32.Vec3, tolerance float32) [3]int32 {
	inv := 1 / tolerance
	return [3]int32{
		int32(math.Round(float64(p.X() * inv))),
		int32(math.Round(float64(p.Y() * inv))),
		int32(math.Round(float64(p.Z() * inv))),
	}
}

// GenerateRemap строит переотображение вершин на канонические слоты:
// все вершины одной ячейки квантования делят слот. Возвращает число
// уникальных слотов и remap старый индекс → слот.
func GenerateRemap(vertices []mgl32.Vec3, tolerance float32) (int, []uint32) {
	if tolerance <= 0 {
		tolerance = 1e-3
	}
	slots := make(map[[3]int32]uint32, len(vertices))
	remap := make([]uint32, len(vertices))
	next := uint32(0)
	for i, v := range vertices {
		key := quantKey(v, tolerance)
		slot, ok := slots[key]
		if !ok {
			slot = next
			next++
			slots[key] = slot
		}
		remap[i] = slot
	}
	return int(next), remap
}

// Weld сваривает почти совпадающие вершины. Позицию слота задаёт первая
// попавшая в него вершина; нормали всех сведённых вершин суммируются, а
// не перезаписываются, и нормируются заново. Треугольники, схлопнувшиеся
// в ребро или точку, выбрасываются. Повторная сварка ничего не меняет:
// представители слотов остаются в своих ячейках квантования.
func Weld(m *CombinedMesh, tolerance float32) {
	unique, remap := GenerateRemap(m.Vertices, tolerance)

	verts := make([]mgl32.Vec3, unique)
	normals := make([]mgl32.Vec3, unique)
	seen := make([]bool, unique)

	for i, slot := range remap {
		if !seen[slot] {
			verts[slot] = m.Vertices[i]
			seen[slot] = true
		}
		normals[slot] = normals[slot].Add(m.Normals[i])
	}
	for i, n := range normals {
		if n.LenSqr() < normalEpsSq {
			normals[i] = normalUp
			continue
		}
		normals[i] = n.Normalize()
	}

	indices := make([]uint32, 0, len(m.Indices))
	for i := 0; i+2 < len(m.Indices); i += 3 {
		a := remap[m.Indices[i]]
		b := remap[m.Indices[i+1]]
		c := remap[m.Indices[i+2]]
		if a == b || b == c || a == c {
			continue
		}
		indices = append(indices, a, b, c)
	}

	m.Vertices = verts
	m.Normals = normals
	m.Indices = indices
}
