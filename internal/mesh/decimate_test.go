package mesh

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplifyReachesTarget(t *testing.T) {
	m := Merge([]Piece{gridPiece(mgl32.Vec3{0, 0, 0}, 16, 16)})
	n := m.TriangleCount()
	require.Equal(t, 512, n)

	target := n / 2
	Simplify(&m, target, 1.0)
	requireMeshInvariants(t, &m)

	assert.LessOrEqual(t, m.TriangleCount(), target, "децимация обязана дойти до цели")
	assert.Greater(t, m.TriangleCount(), 0, "меш не должен исчезнуть целиком")
}

func TestSimplifyLocksBorder(t *testing.T) {
	m := Merge([]Piece{gridPiece(mgl32.Vec3{0, 0, 0}, 8, 8)})
	Simplify(&m, m.TriangleCount()/2, 1.0)
	CompactVertices(&m)

	// Все четыре угла сетки обязаны пережить децимацию нетронутыми.
	corners := []mgl32.Vec3{{0, 0, 0}, {8, 0, 0}, {0, 0, 8}, {8, 0, 8}}
	for _, corner := range corners {
		found := false
		for _, v := range m.Vertices {
			if v.Sub(corner).Len() < 1e-6 {
				found = true
				break
			}
		}
		assert.True(t, found, "граничная вершина %v сдвинута или удалена", corner)
	}
}

func TestSimplifyRespectsErrorLimit(t *testing.T) {
	m := Merge([]Piece{gridPiece(mgl32.Vec3{0, 0, 0}, 8, 8)})
	before := m.TriangleCount()

	// Нулевой предел ошибки запрещает любые схлопывания.
	Simplify(&m, before/2, 0)
	assert.Equal(t, before, m.TriangleCount())
}

func TestSimplifyNoopBelowTarget(t *testing.T) {
	m := Merge([]Piece{gridPiece(mgl32.Vec3{0, 0, 0}, 2, 2)})
	before := m.TriangleCount()
	Simplify(&m, before, 1.0)
	assert.Equal(t, before, m.TriangleCount())
}

func TestDropDegenerateTriangles(t *testing.T) {
	m := CombinedMesh{
		Vertices: []mgl32.Vec3{
			{0, 0, 0}, {1, 0, 0}, {0, 0, 1},
			{2, 0, 0}, {3, 0, 0},
		},
		Normals: []mgl32.Vec3{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}},
		Indices: []uint32{
			0, 2, 1, // нормальный
			0, 3, 4, // коллинеарный, нулевая площадь
		},
	}
	dropped := DropDegenerateTriangles(&m, 1e-10)

	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, m.TriangleCount())
	requireMeshInvariants(t, &m)
}

func TestDropSliverTriangles(t *testing.T) {
	m := CombinedMesh{
		Vertices: []mgl32.Vec3{
			{0, 0, 0}, {1, 0, 0}, {0, 0, 1}, // равнобедренный, аспект скромный
			{10, 0, 0}, {20, 0, 0}, {15, 0, 0.01}, // игла: длинная и почти плоская
		},
		Normals: []mgl32.Vec3{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}},
		Indices: []uint32{0, 2, 1, 3, 5, 4},
	}
	dropped := DropSliverTriangles(&m, 40, 1e-10)

	assert.Equal(t, 1, dropped, "игла с аспектом ~1000 выброшена")
	assert.Equal(t, 1, m.TriangleCount())
}

func TestDropSmallComponents(t *testing.T) {
	big := gridPiece(mgl32.Vec3{0, 0, 0}, 4, 4) // 32 треугольника
	tiny := gridPiece(mgl32.Vec3{100, 0, 0}, 1, 1)

	m := Merge([]Piece{big, tiny})
	dropped := DropSmallComponents(&m, 8)

	assert.Equal(t, 2, dropped, "мелкий островок из двух треугольников удалён")
	assert.Equal(t, 32, m.TriangleCount())
}

func TestDropSmallComponentsSparesLargest(t *testing.T) {
	only := gridPiece(mgl32.Vec3{0, 0, 0}, 1, 1)
	m := Merge([]Piece{only})

	dropped := DropSmallComponents(&m, 100)
	assert.Zero(t, dropped, "самая большая компонента неприкосновенна даже ниже порога")
}

func TestDropPinchedComponents(t *testing.T) {
	// Компонента A: два треугольника с общим ребром. Компонента B: один
	// треугольник, касающийся A единственной вершиной (0,0,0).
	m := CombinedMesh{
		Vertices: []mgl32.Vec3{
			{0, 0, 0}, {1, 0, 0}, {0, 0, 1}, {1, 0, 1},
			{-1, 0, 0}, {-1, 0, -1},
		},
		Normals: []mgl32.Vec3{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0}},
		Indices: []uint32{
			0, 2, 1,
			1, 2, 3,
			0, 4, 5,
		},
	}

	// По общим вершинам это одна компонента: порог её не берёт.
	vm := CombinedMesh{Vertices: m.Vertices, Normals: m.Normals, Indices: append([]uint32(nil), m.Indices...)}
	assert.Zero(t, DropSmallComponents(&vm, 2), "группировка по вершинам не видит перешейка")

	// По общим рёбрам перешеек разрезается, хвост удаляется.
	dropped := DropPinchedComponents(&m, 2)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 2, m.TriangleCount())
}

func TestDropRibbonComponents(t *testing.T) {
	big := gridPiece(mgl32.Vec3{0, 0, 0}, 6, 6)        // компактный квадрат, самая большая
	ribbon := gridPiece(mgl32.Vec3{100, 0, 0}, 30, 1)  // лента 30×1
	compact := gridPiece(mgl32.Vec3{-100, 0, 0}, 2, 2) // маленькая, но компактная

	m := Merge([]Piece{big, ribbon, compact})
	dropped := DropRibbonComponents(&m, 0.1)

	assert.Equal(t, 60, dropped, "лента удалена целиком")
	assert.Equal(t, 72+8, m.TriangleCount(), "квадраты выжили")
}

func TestDropRibbonSparesLargest(t *testing.T) {
	ribbon := gridPiece(mgl32.Vec3{0, 0, 0}, 30, 1)
	m := Merge([]Piece{ribbon})

	dropped := DropRibbonComponents(&m, 0.5)
	assert.Zero(t, dropped, "единственная и самая большая компонента остаётся")
}
