package mesh

import (
	"math"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"
)

var normalUp = mgl32.Vec3{0, 1, 0}

const normalEpsSq = 1e-12

// AverageBoundaryNormals выравнивает нормали на швах: вершины группируются
// пространственным хэшем по квантованной позиции, в группах из двух и
// более участников нормаль каждого заменяется нормированной суммой группы.
// Дубликаты на шве — продукт независимого мешинга соседних чанков, поэтому
// стадия обязана идти до сварки, которая эти дубликаты уничтожит.
func AverageBoundaryNormals(m *CombinedMesh, tolerance float32) {
	if tolerance <= 0 {
		tolerance = 1e-3
	}
	groups := make(map[[3]int32][]int, len(m.Vertices))
	for i, v := range m.Vertices {
		key := quantKey(v, tolerance)
		groups[key] = append(groups[key], i)
	}

	for _, members := range groups {
		if len(members) < 2 {
			continue
		}
		var sum mgl32.Vec3
		for _, i := range members {
			sum = sum.Add(m.Normals[i])
		}
		// Противонаправленные нормали гасят друг друга: такую группу не трогаем.
		if sum.LenSqr() < normalEpsSq {
			continue
		}
		n := sum.Normalize()
		for _, i := range members {
			m.Normals[i] = n
		}
	}
}

// RecomputeNormals пересчитывает нормали с нуля по граням меша.
func RecomputeNormals(m *CombinedMesh, sharpAngleDeg float64, areaEps float64) {
	recomputeNormals(m, sharpAngleDeg, areaEps, nil)
}

// recomputeNormals — общая реализация; ненулевой pool распараллеливает
// развязку вершин по диапазонам.
//
// Нормаль грани берётся невзвешенной (векторное произведение рёбер несёт
// площадь в длине). Вершина усредняет нормали инцидентных граней, исключая
// грань, острую относительно КАЖДОЙ из остальных; если исключение опустошило
// набор, берётся грань наибольшей площади.
func recomputeNormals(m *CombinedMesh, sharpAngleDeg float64, areaEps float64, pool pond.Pool) {
	tris := m.TriangleCount()
	if tris == 0 {
		return
	}
	if areaEps <= 0 {
		areaEps = 1e-10
	}

	faceCross := make([]r3.Vec, tris)
	faceUnit := make([]r3.Vec, tris)
	faceArea := make([]float64, tris)
	for t := 0; t < tris; t++ {
		cross, _ := triangleCross(m, t)
		faceCross[t] = cross
		l := r3.Norm(cross)
		faceArea[t] = l / 2
		if l > 0 {
			faceUnit[t] = cross.Scale(1 / l)
		}
	}

	// Вырожденные грани не участвуют: их «нормаль» — шум, который ломал бы
	// и усреднение, и тест на остроту.
	incident := make([][]int32, len(m.Vertices))
	for t := 0; t < tris; t++ {
		if faceArea[t] < areaEps {
			continue
		}
		for k := 0; k < 3; k++ {
			v := m.Indices[t*3+k]
			incident[v] = append(incident[v], int32(t))
		}
	}

	cosSharp := math.Cos(sharpAngleDeg * math.Pi / 180)

	resolveRange := func(lo, hi int) {
		for v := lo; v < hi; v++ {
			m.Normals[v] = resolveVertexNormal(faceCross, faceUnit, faceArea, incident[v], cosSharp)
		}
	}

	if pool == nil || len(m.Vertices) < 4096 {
		resolveRange(0, len(m.Vertices))
		return
	}

	const stride = 2048
	var wg sync.WaitGroup
	for lo := 0; lo < len(m.Vertices); lo += stride {
		lo := lo
		hi := lo + stride
		if hi > len(m.Vertices) {
			hi = len(m.Vertices)
		}
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			resolveRange(lo, hi)
		})
	}
	wg.Wait()
}

func resolveVertexNormal(faceCross, faceUnit []r3.Vec, faceArea []float64, inc []int32, cosSharp float64) mgl32.Vec3 {
	if len(inc) == 0 {
		return normalUp
	}

	var sum r3.Vec
	used := 0
	for _, t := range inc {
		sharp := len(inc) > 1
		for _, o := range inc {
			if o == t {
				continue
			}
			if faceUnit[t].Dot(faceUnit[o]) >= cosSharp {
				sharp = false
				break
			}
		}
		if sharp {
			continue
		}
		sum = sum.Add(faceCross[t])
		used++
	}

	if used == 0 {
		best := inc[0]
		for _, t := range inc[1:] {
			if faceArea[t] > faceArea[best] {
				best = t
			}
		}
		sum = faceCross[best]
	}

	l := r3.Norm(sum)
	if l < 1e-12 {
		return normalUp
	}
	return mgl32.Vec3{float32(sum.X / l), float32(sum.Y / l), float32(sum.Z / l)}
}
