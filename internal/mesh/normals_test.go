package mesh

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestAverageBoundaryNormals(t *testing.T) {
	m := CombinedMesh{
		Vertices: []mgl32.Vec3{
			{0, 0, 0}, {1, 0, 0}, {0, 0, 1},
			{0, 0, 0}, {-1, 0, 0}, {0, 0, -1}, // дубликат вершины 0 из соседнего чанка
		},
		Normals: []mgl32.Vec3{
			{1, 0, 0}, {0, 1, 0}, {0, 1, 0},
			{0, 0, 1}, {0, 1, 0}, {0, 1, 0},
		},
		Indices: []uint32{0, 1, 2, 3, 4, 5},
	}
	AverageBoundaryNormals(&m, 0.001)

	want := mgl32.Vec3{1, 0, 1}.Normalize()
	for _, i := range []int{0, 3} {
		assert.InDelta(t, float64(want.X()), float64(m.Normals[i].X()), 1e-6,
			"оба дубликата получают нормированную сумму группы")
		assert.InDelta(t, float64(want.Z()), float64(m.Normals[i].Z()), 1e-6)
	}
	assert.Equal(t, mgl32.Vec3{0, 1, 0}, m.Normals[1], "одиночные вершины не трогаются")
}

func TestAverageBoundaryNormalsSkipsCancellation(t *testing.T) {
	m := CombinedMesh{
		Vertices: []mgl32.Vec3{{0, 0, 0}, {0, 0, 0}},
		Normals:  []mgl32.Vec3{{0, 1, 0}, {0, -1, 0}},
		Indices:  nil,
	}
	AverageBoundaryNormals(&m, 0.001)

	assert.Equal(t, mgl32.Vec3{0, 1, 0}, m.Normals[0], "взаимогасящая группа остаётся как была")
	assert.Equal(t, mgl32.Vec3{0, -1, 0}, m.Normals[1])
}

func TestRecomputeNormalsFlatGrid(t *testing.T) {
	p := gridPiece(mgl32.Vec3{0, 0, 0}, 4, 4)
	m := Merge([]Piece{p})

	// Портим нормали: пересчёт обязан восстановить вектор вверх.
	for i := range m.Normals {
		m.Normals[i] = mgl32.Vec3{1, 0, 0}
	}
	RecomputeNormals(&m, 70, 1e-10)
	requireMeshInvariants(t, &m)

	for i, n := range m.Normals {
		assert.InDelta(t, 1, float64(n.Y()), 1e-5, "нормаль %d плоской сетки должна смотреть вверх", i)
	}
}

// Вершина на остром гребне: каждая из двух граней острая относительно
// другой, набор пустеет, поэтому берётся грань наибольшей площади.
func TestRecomputeNormalsSharpCreaseFallsBack(t *testing.T) {
	m := CombinedMesh{
		Vertices: []mgl32.Vec3{
			{0, 0, 0}, {4, 0, 0}, // общее ребро
			{0, 0, 4},            // большая горизонтальная грань
			{0, 1, 0},            // маленькая вертикальная грань
		},
		Normals: make([]mgl32.Vec3, 4),
		Indices: []uint32{
			0, 2, 1, // горизонтальная, нормаль вверх, площадь 8
			0, 1, 3, // вертикальная, нормаль +Z, площадь 2
		},
	}
	RecomputeNormals(&m, 70, 1e-10)
	requireMeshInvariants(t, &m)

	for _, i := range []int{0, 1} {
		assert.InDelta(t, 1, float64(m.Normals[i].Y()), 1e-5,
			"вершина гребня берёт нормаль большей грани")
	}
	assert.InDelta(t, 1, float64(m.Normals[3].Z()), 1e-5, "вершина только вертикальной грани")
}

func TestRecomputeNormalsIgnoresDegenerateFaces(t *testing.T) {
	m := CombinedMesh{
		Vertices: []mgl32.Vec3{
			{0, 0, 0}, {1, 0, 0}, {0, 0, 1},
			{2, 0, 0}, // коллинеарная точка для вырожденной грани
		},
		Normals: make([]mgl32.Vec3, 4),
		Indices: []uint32{
			0, 2, 1,
			0, 1, 3, // нулевая площадь: все три точки на оси X
		},
	}
	RecomputeNormals(&m, 70, 1e-10)
	requireMeshInvariants(t, &m)

	assert.InDelta(t, 1, float64(m.Normals[0].Y()), 1e-5, "вырожденная грань не участвует в усреднении")
	assert.Equal(t, normalUp, m.Normals[3], "вершина без валидных граней получает вектор вверх")
}

func TestRecomputeNormalsEmptyMesh(t *testing.T) {
	m := CombinedMesh{}
	RecomputeNormals(&m, 70, 1e-10)
	assert.True(t, m.Empty())
}
