package mesh

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"

	"github.com/annel0/voxel-terrain/internal/config"
)

func TestPipelineProcessBatch(t *testing.T) {
	cfg := config.Default().Mesh
	p := NewPipeline(cfg, nil)
	defer p.Close()

	a := gridPiece(mgl32.Vec3{0, 0, 0}, 4, 4)
	b := gridPiece(mgl32.Vec3{4, 0, 0}, 4, 4)

	m, stats := p.Process([]Piece{a, b})
	requireMeshInvariants(t, &m)

	assert.Equal(t, 2, stats.Pieces)
	assert.Equal(t, 64, stats.InputTriangles)
	assert.Equal(t, 64, stats.OutputTriangles, "без децимации треугольники сохраняются")
	assert.Equal(t, 45, stats.OutputVertices, "шов из пяти дубликатов сварен")
	assert.Equal(t, len(m.Vertices), stats.OutputVertices)

	for _, n := range m.Normals {
		assert.InDelta(t, 1, float64(n.Y()), 1e-5, "плоский мир остаётся плоским после пайплайна")
	}
}

func TestPipelineDecimates(t *testing.T) {
	cfg := config.Default().Mesh
	cfg.DecimateRatio = 0.5
	p := NewPipeline(cfg, nil)
	defer p.Close()

	piece := gridPiece(mgl32.Vec3{0, 0, 0}, 16, 16)
	m, stats := p.Process([]Piece{piece})
	requireMeshInvariants(t, &m)

	assert.LessOrEqual(t, stats.OutputTriangles, stats.AfterWeld/2+stats.AfterWeld/10,
		"итог не должен превышать цель больше чем на люфт")
	assert.Positive(t, stats.OutputTriangles)
}

func TestPipelineEmptyBatch(t *testing.T) {
	p := NewPipeline(config.Default().Mesh, nil)
	defer p.Close()

	m, stats := p.Process(nil)
	assert.True(t, m.Empty())
	assert.Zero(t, stats.OutputTriangles)

	m, stats = p.Process([]Piece{{}})
	assert.True(t, m.Empty())
	assert.Equal(t, 1, stats.Pieces)
}
