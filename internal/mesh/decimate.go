package mesh

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Simplify сжимает меш к целевому числу треугольников, схлопывая самые
// короткие внутренние рёбра. Вершины на границе меша (ребро с единственным
// треугольником) заморожены: стыки с соседними батчами не должны ползти.
// targetError задаёт максимальную длину схлопываемого ребра в долях
// диагонали ограничивающего бокса.
func Simplify(m *CombinedMesh, targetTriangles int, targetError float64) {
	if m.TriangleCount() <= targetTriangles || targetTriangles < 0 {
		return
	}

	maxEdge := targetError * bboxDiagonal(m)
	if maxEdge <= 0 {
		return
	}

	uf := NewUnionFind(len(m.Vertices))

	for pass := 0; pass < 64; pass++ {
		canon := func(i uint32) int { return uf.Find(int(i)) }

		locked := lockBorderVertices(m, canon)

		type candidate struct {
			a, b   int
			length float64
		}
		seen := make(map[[2]int]struct{})
		var cands []candidate
		for i := 0; i+2 < len(m.Indices); i += 3 {
			for k := 0; k < 3; k++ {
				a := canon(m.Indices[i+k])
				b := canon(m.Indices[i+(k+1)%3])
				if a == b || locked[a] || locked[b] {
					continue
				}
				key := edgeKey(a, b)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				l := r3.Norm(toR3(m.Vertices[a]).Sub(toR3(m.Vertices[b])))
				if l <= maxEdge {
					cands = append(cands, candidate{a: a, b: b, length: l})
				}
			}
		}
		if len(cands) == 0 {
			break
		}
		sort.Slice(cands, func(i, j int) bool { return cands[i].length < cands[j].length })

		// Бюджет прохода: каждое схлопывание убирает примерно два треугольника.
		budget := (m.TriangleCount() - targetTriangles + 1) / 2
		if budget < 1 {
			break
		}

		touched := make(map[int]bool)
		collapsed := 0
		for _, c := range cands {
			if collapsed >= budget {
				break
			}
			a, b := uf.Find(c.a), uf.Find(c.b)
			if a == b || touched[a] || touched[b] || locked[a] || locked[b] {
				continue
			}
			mid := m.Vertices[a].Add(m.Vertices[b]).Mul(0.5)
			sum := m.Normals[a].Add(m.Normals[b])

			uf.Union(a, b)
			root := uf.Find(a)
			m.Vertices[root] = mid
			if sum.LenSqr() < normalEpsSq {
				m.Normals[root] = normalUp
			} else {
				m.Normals[root] = sum.Normalize()
			}
			touched[root] = true
			collapsed++
		}
		if collapsed == 0 {
			break
		}

		rewriteCollapsed(m, uf)
		if m.TriangleCount() <= targetTriangles {
			break
		}
	}
}

// rewriteCollapsed проводит индексы через корни union-find и выбрасывает
// схлопнувшиеся треугольники.
func rewriteCollapsed(m *CombinedMesh, uf *UnionFind) {
	kept := m.Indices[:0]
	for i := 0; i+2 < len(m.Indices); i += 3 {
		a := uint32(uf.Find(int(m.Indices[i])))
		b := uint32(uf.Find(int(m.Indices[i+1])))
		c := uint32(uf.Find(int(m.Indices[i+2])))
		if a == b || b == c || a == c {
			continue
		}
		kept = append(kept, a, b, c)
	}
	m.Indices = kept
}

// lockBorderVertices находит вершины на открытой границе меша:
// оба конца ребра, принадлежащего ровно одному треугольнику.
func lockBorderVertices(m *CombinedMesh, canon func(uint32) int) map[int]bool {
	edgeCount := make(map[[2]int]int)
	for i := 0; i+2 < len(m.Indices); i += 3 {
		for k := 0; k < 3; k++ {
			a := canon(m.Indices[i+k])
			b := canon(m.Indices[i+(k+1)%3])
			if a == b {
				continue
			}
			edgeCount[edgeKey(a, b)]++
		}
	}
	locked := make(map[int]bool)
	for edge, count := range edgeCount {
		if count == 1 {
			locked[edge[0]] = true
			locked[edge[1]] = true
		}
	}
	return locked
}

func edgeKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func bboxDiagonal(m *CombinedMesh) float64 {
	if len(m.Vertices) == 0 {
		return 0
	}
	min, max := toR3(m.Vertices[0]), toR3(m.Vertices[0])
	for _, v := range m.Vertices[1:] {
		p := toR3(v)
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		min.Z = math.Min(min.Z, p.Z)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
		max.Z = math.Max(max.Z, p.Z)
	}
	return r3.Norm(max.Sub(min))
}

//================ Чистки после децимации =================//

// DropDegenerateTriangles выбрасывает треугольники нулевой и почти нулевой
// площади. Возвращает число удалённых.
func DropDegenerateTriangles(m *CombinedMesh, areaEps float64) int {
	return filterTriangles(m, func(t int) bool {
		cross, _ := triangleCross(m, t)
		return r3.Norm(cross)/2 >= areaEps
	})
}

// DropSliverTriangles выбрасывает иглы: треугольники с отношением
// longest_edge²/(2·area) выше предела.
func DropSliverTriangles(m *CombinedMesh, aspectLimit, areaEps float64) int {
	return filterTriangles(m, func(t int) bool {
		cross, v := triangleCross(m, t)
		area := r3.Norm(cross) / 2
		if area < areaEps {
			return false
		}
		longest := math.Max(
			r3.Norm2(v[1].Sub(v[0])),
			math.Max(r3.Norm2(v[2].Sub(v[1])), r3.Norm2(v[0].Sub(v[2]))),
		)
		return longest/(2*area) <= aspectLimit
	})
}

// DropSmallComponents выбрасывает мелкие компоненты связности по общим
// вершинам (достаточно одной общей вершины, чтобы считаться связанными).
// Самая большая компонента не удаляется никогда.
func DropSmallComponents(m *CombinedMesh, minTriangles int) int {
	tris := m.TriangleCount()
	if tris == 0 || minTriangles <= 0 {
		return 0
	}

	uf := NewUnionFind(len(m.Vertices))
	for i := 0; i+2 < len(m.Indices); i += 3 {
		uf.Union(int(m.Indices[i]), int(m.Indices[i+1]))
		uf.Union(int(m.Indices[i+1]), int(m.Indices[i+2]))
	}

	counts := make(map[int]int)
	for t := 0; t < tris; t++ {
		counts[uf.Find(int(m.Indices[t*3]))]++
	}
	largest := largestComponent(counts)

	return filterTriangles(m, func(t int) bool {
		root := uf.Find(int(m.Indices[t*3]))
		return root == largest || counts[root] >= minTriangles
	})
}

// DropPinchedComponents — вторая, более строгая группировка: компоненты
// по ПОЛНЫМ общим рёбрам. Ловит куски, висящие на единственной общей
// вершине, которые группировка по вершинам считает одним целым.
func DropPinchedComponents(m *CombinedMesh, minTriangles int) int {
	tris := m.TriangleCount()
	if tris == 0 || minTriangles <= 0 {
		return 0
	}

	uf := edgeAdjacency(m)
	counts := make(map[int]int)
	for t := 0; t < tris; t++ {
		counts[uf.Find(t)]++
	}
	largest := largestComponent(counts)

	return filterTriangles(m, func(t int) bool {
		root := uf.Find(t)
		return root == largest || counts[root] >= minTriangles
	})
}

// DropRibbonComponents выбрасывает компоненты-ленты: ограничивающий бокс
// с отношением среднего размера к наибольшему ниже порога. Самая большая
// компонента неприкосновенна.
func DropRibbonComponents(m *CombinedMesh, ratio float64) int {
	tris := m.TriangleCount()
	if tris == 0 || ratio <= 0 {
		return 0
	}

	uf := edgeAdjacency(m)
	counts := make(map[int]int)
	type bbox struct{ min, max r3.Vec }
	boxes := make(map[int]*bbox)

	for t := 0; t < tris; t++ {
		root := uf.Find(t)
		counts[root]++
		bb, ok := boxes[root]
		for k := 0; k < 3; k++ {
			p := toR3(m.Vertices[m.Indices[t*3+k]])
			if !ok {
				boxes[root] = &bbox{min: p, max: p}
				bb, ok = boxes[root], true
				continue
			}
			bb.min.X = math.Min(bb.min.X, p.X)
			bb.min.Y = math.Min(bb.min.Y, p.Y)
			bb.min.Z = math.Min(bb.min.Z, p.Z)
			bb.max.X = math.Max(bb.max.X, p.X)
			bb.max.Y = math.Max(bb.max.Y, p.Y)
			bb.max.Z = math.Max(bb.max.Z, p.Z)
		}
	}
	largest := largestComponent(counts)

	ribbon := make(map[int]bool, len(boxes))
	for root, bb := range boxes {
		if root == largest {
			continue
		}
		ext := bb.max.Sub(bb.min)
		dims := []float64{ext.X, ext.Y, ext.Z}
		sort.Float64s(dims)
		// Поверхность в 3D-боксе почти всегда плоская по одной оси, поэтому
		// лента определяется отношением среднего размера к наибольшему.
		if dims[2] > 0 && dims[1]/dims[2] < ratio {
			ribbon[root] = true
		}
	}

	return filterTriangles(m, func(t int) bool {
		return !ribbon[uf.Find(t)]
	})
}

// edgeAdjacency строит union-find по треугольникам, связанным общим ребром.
func edgeAdjacency(m *CombinedMesh) *UnionFind {
	tris := m.TriangleCount()
	uf := NewUnionFind(tris)
	owner := make(map[[2]int]int)
	for t := 0; t < tris; t++ {
		for k := 0; k < 3; k++ {
			a := int(m.Indices[t*3+k])
			b := int(m.Indices[t*3+(k+1)%3])
			key := edgeKey(a, b)
			if first, ok := owner[key]; ok {
				uf.Union(first, t)
			} else {
				owner[key] = t
			}
		}
	}
	return uf
}

func largestComponent(counts map[int]int) int {
	largest, best := -1, -1
	for root, n := range counts {
		if n > best {
			largest, best = root, n
		}
	}
	return largest
}

// filterTriangles оставляет треугольники, прошедшие предикат.
// Возвращает число удалённых.
func filterTriangles(m *CombinedMesh, keep func(t int) bool) int {
	tris := m.TriangleCount()
	kept := m.Indices[:0]
	removed := 0
	for t := 0; t < tris; t++ {
		if keep(t) {
			kept = append(kept, m.Indices[t*3], m.Indices[t*3+1], m.Indices[t*3+2])
		} else {
			removed++
		}
	}
	m.Indices = kept
	return removed
}
