package mesh

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gridPiece строит плоскую сетку nx×nz ячеек в плоскости y с шагом 1,
// начиная с origin. Нормали смотрят вверх, обход треугольников против
// часовой стрелки при взгляде сверху.
func gridPiece(origin mgl32.Vec3, nx, nz int) Piece {
	var p Piece
	for z := 0; z <= nz; z++ {
		for x := 0; x <= nx; x++ {
			p.Vertices = append(p.Vertices, mgl32.Vec3{
				origin.X() + float32(x),
				origin.Y(),
				origin.Z() + float32(z),
			})
			p.Normals = append(p.Normals, mgl32.Vec3{0, 1, 0})
		}
	}
	stride := uint32(nx + 1)
	for z := 0; z < nz; z++ {
		for x := 0; x < nx; x++ {
			v00 := uint32(z)*stride + uint32(x)
			v10 := v00 + 1
			v01 := v00 + stride
			v11 := v01 + 1
			p.Indices = append(p.Indices, v00, v01, v10, v10, v01, v11)
		}
	}
	return p
}

func requireMeshInvariants(t *testing.T, m *CombinedMesh) {
	t.Helper()
	require.Zero(t, len(m.Indices)%3, "длина индексов должна делиться на 3")
	for _, i := range m.Indices {
		require.Less(t, int(i), len(m.Vertices), "индекс вне диапазона вершин")
	}
	require.Len(t, m.Normals, len(m.Vertices))
	for i, n := range m.Normals {
		l := float64(n.Len())
		assert.InDelta(t, 1.0, l, 0.01, "нормаль %d не единичная: %v", i, n)
	}
}

func TestMergeRebasesIndices(t *testing.T) {
	a := gridPiece(mgl32.Vec3{0, 0, 0}, 2, 2)
	b := gridPiece(mgl32.Vec3{10, 0, 0}, 1, 1)

	m := Merge([]Piece{a, b})
	requireMeshInvariants(t, &m)

	assert.Len(t, m.Vertices, len(a.Vertices)+len(b.Vertices))
	assert.Equal(t, a.Indices[0], m.Indices[0], "индексы первого куска не смещаются")

	base := uint32(len(a.Vertices))
	secondStart := len(a.Indices)
	assert.Equal(t, base+b.Indices[0], m.Indices[secondStart], "индексы второго куска смещены на базу")
}

func TestMergeDropsOutOfRangeTriangles(t *testing.T) {
	a := gridPiece(mgl32.Vec3{0, 0, 0}, 1, 1)
	broken := Piece{
		Vertices: []mgl32.Vec3{{0, 5, 0}, {1, 5, 0}, {0, 5, 1}},
		Normals:  []mgl32.Vec3{{0, 1, 0}, {0, 1, 0}, {0, 1, 0}},
		// Второй треугольник ссылается на несуществующую вершину 7.
		Indices: []uint32{0, 1, 2, 0, 1, 7},
	}

	m := Merge([]Piece{a, broken})
	requireMeshInvariants(t, &m)
	assert.Equal(t, len(a.Indices)/3+1, m.TriangleCount(), "битый треугольник отброшен, валидный выжил")
}

func TestMergePadsMissingNormals(t *testing.T) {
	p := Piece{
		Vertices: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 0, 1}},
		Indices:  []uint32{0, 1, 2},
	}
	m := Merge([]Piece{p})
	requireMeshInvariants(t, &m)
}

func TestCompactVertices(t *testing.T) {
	m := CombinedMesh{
		Vertices: []mgl32.Vec3{{0, 0, 0}, {9, 9, 9}, {1, 0, 0}, {0, 0, 1}},
		Normals:  []mgl32.Vec3{{0, 1, 0}, {1, 0, 0}, {0, 1, 0}, {0, 1, 0}},
		// Вершина 1 не используется.
		Indices: []uint32{0, 2, 3},
	}
	CompactVertices(&m)

	require.Len(t, m.Vertices, 3)
	assert.Equal(t, []uint32{0, 1, 2}, m.Indices)
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, m.Vertices[1], "выжившие вершины сдвинуты без потерь")
	requireMeshInvariants(t, &m)
}

func TestUnionFind(t *testing.T) {
	uf := NewUnionFind(8)
	require.Equal(t, 8, uf.Components())

	uf.Union(0, 1)
	uf.Union(1, 2)
	uf.Union(5, 6)

	assert.True(t, uf.Connected(0, 2))
	assert.False(t, uf.Connected(0, 5))
	assert.Equal(t, 5, uf.Components())

	sizes := uf.Sizes()
	assert.Equal(t, 3, sizes[uf.Find(0)])
	assert.Equal(t, 2, sizes[uf.Find(5)])
	assert.Equal(t, 1, sizes[uf.Find(7)])

	// Повторное объединение внутри множества ничего не меняет.
	uf.Union(0, 2)
	assert.Equal(t, 5, uf.Components())
}

func TestUnionFindDeepChainCompression(t *testing.T) {
	const n = 10000
	uf := NewUnionFind(n)
	for i := 1; i < n; i++ {
		uf.Union(i-1, i)
	}
	root := uf.Find(0)
	for i := 0; i < n; i += 997 {
		assert.Equal(t, root, uf.Find(i), "вся цепочка должна сойтись к одному корню")
	}
	assert.Equal(t, 1, uf.Components())
}
