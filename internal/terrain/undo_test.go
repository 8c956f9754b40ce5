package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/vec"
)

func undoFixture(t *testing.T, limit int) (*ModificationLayer, *TextureLayer, *UndoHistory) {
	t.Helper()
	mods := NewModificationLayer(testGrid())
	tex := NewTextureLayer(testGrid())
	return mods, tex, NewUndoHistory(mods, tex, limit)
}

// commitDelta имитирует коммит кисти: снапшот до правки, затем правка.
func commitDelta(h *UndoHistory, mods *ModificationLayer, voxel vec.Vec3, delta float32) {
	h.RecordBefore()
	mods.Apply(map[vec.Vec3]VoxelMod{voxel: {SDFDelta: delta, Blend: 1}}, nil)
}

func TestUndoRedoCycle(t *testing.T) {
	mods, _, h := undoFixture(t, 8)
	voxel := vec.Vec3{X: 2, Y: 2, Z: 2}

	commitDelta(h, mods, voxel, 1)
	commitDelta(h, mods, voxel, 5)

	mod, _ := mods.Get(voxel)
	require.Equal(t, float32(5), mod.SDFDelta)

	require.True(t, h.Undo())
	mod, _ = mods.Get(voxel)
	assert.Equal(t, float32(1), mod.SDFDelta, "после undo видна предыдущая правка")

	require.True(t, h.Undo())
	_, ok := mods.Get(voxel)
	assert.False(t, ok, "после второго undo слой пуст")

	assert.False(t, h.Undo(), "глубже истории откатиться нельзя")

	require.True(t, h.Redo())
	mod, _ = mods.Get(voxel)
	assert.Equal(t, float32(1), mod.SDFDelta)

	require.True(t, h.Redo())
	mod, _ = mods.Get(voxel)
	assert.Equal(t, float32(5), mod.SDFDelta)

	assert.False(t, h.Redo(), "redo исчерпан")
}

func TestUndoLimitEvictsOldest(t *testing.T) {
	mods, _, h := undoFixture(t, 2)
	voxel := vec.Vec3{X: 0, Y: 0, Z: 0}

	commitDelta(h, mods, voxel, 1)
	commitDelta(h, mods, voxel, 2)
	commitDelta(h, mods, voxel, 3)

	past, _ := h.Depth()
	assert.Equal(t, 2, past, "история обрезана до лимита")

	require.True(t, h.Undo())
	require.True(t, h.Undo())
	assert.False(t, h.Undo(), "самое старое состояние вытеснено")

	mod, _ := mods.Get(voxel)
	assert.Equal(t, float32(1), mod.SDFDelta, "откат остановился на вытесненной границе")
}

func TestNewCommitClearsRedo(t *testing.T) {
	mods, _, h := undoFixture(t, 8)
	voxel := vec.Vec3{X: 4, Y: 4, Z: 4}

	commitDelta(h, mods, voxel, 1)
	require.True(t, h.Undo())
	_, future := h.Depth()
	require.Equal(t, 1, future)

	commitDelta(h, mods, voxel, 9)
	_, future = h.Depth()
	assert.Zero(t, future, "новая правка делает redo недостижимым")
	assert.False(t, h.Redo())
}

func TestUndoCoversTextureLayer(t *testing.T) {
	mods, tex, h := undoFixture(t, 4)
	voxel := vec.Vec3{X: 6, Y: 1, Z: 6}

	h.RecordBefore()
	mods.Apply(map[vec.Vec3]VoxelMod{voxel: {SDFDelta: -1, Blend: 1}}, nil)
	tex.Apply(map[vec.Vec3]TextureWeights{voxel: ChannelWeights(2)})

	require.True(t, h.Undo())
	_, ok := tex.Get(voxel)
	assert.False(t, ok, "откат должен затрагивать и текстурный слой")

	require.True(t, h.Redo())
	w, ok := tex.Get(voxel)
	require.True(t, ok)
	assert.Equal(t, ChannelWeights(2), w)
}
