// Package mesh — пост-обработка треугольных мешей после полигонизации:
// слияние чанков, выравнивание нормалей на швах, сварка вершин,
// децимация с топологическими чистками и пересчёт нормалей.
// Все стадии сохраняют инварианты: длина индексов кратна трём, каждый
// индекс меньше числа вершин, выжившие нормали единичны.
package mesh

import (
	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"
)

// Piece — сырой меш одного чанка, как его отдал полигонизатор.
type Piece struct {
	Vertices []mgl32.Vec3
	Normals  []mgl32.Vec3
	Indices  []uint32
}

// CombinedMesh — промежуточный аккумулятор пайплайна. Живёт только
// внутри пост-обработки, наружу уходят готовые массивы.
type CombinedMesh struct {
	Vertices []mgl32.Vec3
	Normals  []mgl32.Vec3
	Indices  []uint32
}

// TriangleCount возвращает число треугольников.
func (m *CombinedMesh) TriangleCount() int { return len(m.Indices) / 3 }

// Empty сообщает, пуст ли меш.
func (m *CombinedMesh) Empty() bool { return len(m.Indices) == 0 }

// Merge склеивает меши чанков в один: вершины и нормали конкатенируются,
// индексы каждого куска сдвигаются на базу. Треугольник, чей индекс
// выходит за диапазон вершин собственного куска, отбрасывается молча.
func Merge(pieces []Piece) CombinedMesh {
	var total, totalIdx int
	for _, p := range pieces {
		total += len(p.Vertices)
		totalIdx += len(p.Indices)
	}

	out := CombinedMesh{
		Vertices: make([]mgl32.Vec3, 0, total),
		Normals:  make([]mgl32.Vec3, 0, total),
		Indices:  make([]uint32, 0, totalIdx),
	}

	for _, p := range pieces {
		base := uint32(len(out.Vertices))
		limit := uint32(len(p.Vertices))

		out.Vertices = append(out.Vertices, p.Vertices...)
		if len(p.Normals) == len(p.Vertices) {
			out.Normals = append(out.Normals, p.Normals...)
		} else {
			// Кусок без нормалей получает заглушки, пересчёт закроет их позже.
			for range p.Vertices {
				out.Normals = append(out.Normals, mgl32.Vec3{0, 1, 0})
			}
		}

		for i := 0; i+2 < len(p.Indices); i += 3 {
			a, b, c := p.Indices[i], p.Indices[i+1], p.Indices[i+2]
			if a >= limit || b >= limit || c >= limit {
				continue
			}
			out.Indices = append(out.Indices, base+a, base+b, base+c)
		}
	}
	return out
}

// triangleCross возвращает векторное произведение рёбер (удвоенную
// площадь с направлением) и float64-вершины треугольника t.
func triangleCross(m *CombinedMesh, t int) (r3.Vec, [3]r3.Vec) {
	a := toR3(m.Vertices[m.Indices[t*3]])
	b := toR3(m.Vertices[m.Indices[t*3+1]])
	c := toR3(m.Vertices[m.Indices[t*3+2]])
	return b.Sub(a).Cross(c.Sub(a)), [3]r3.Vec{a, b, c}
}

func toR3(v mgl32.Vec3) r3.Vec {
	return r3.Vec{X: float64(v.X()), Y: float64(v.Y()), Z: float64(v.Z())}
}

// CompactVertices выбрасывает вершины, на которые не ссылается ни один
// индекс, и перенумеровывает оставшиеся.
func CompactVertices(m *CombinedMesh) {
	used := make([]bool, len(m.Vertices))
	for _, i := range m.Indices {
		used[i] = true
	}

	remap := make([]uint32, len(m.Vertices))
	next := uint32(0)
	for i, u := range used {
		if !u {
			continue
		}
		remap[i] = next
		m.Vertices[next] = m.Vertices[i]
		m.Normals[next] = m.Normals[i]
		next++
	}
	m.Vertices = m.Vertices[:next]
	m.Normals = m.Normals[:next]

	for i, idx := range m.Indices {
		m.Indices[i] = remap[idx]
	}
}
