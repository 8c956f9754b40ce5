package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxel-terrain/internal/vec"
)

func TestLayerApplyGetRemove(t *testing.T) {
	layer := NewModificationLayer(testGrid())
	voxel := vec.Vec3{X: -3, Y: 17, Z: 40}

	_, ok := layer.Get(voxel)
	require.False(t, ok, "пустой слой не должен содержать правок")

	v1 := layer.Apply(map[vec.Vec3]VoxelMod{voxel: {SDFDelta: -2.5, Blend: 1, Texture: 2}}, nil)
	mod, ok := layer.Get(voxel)
	require.True(t, ok)
	assert.Equal(t, float32(-2.5), mod.SDFDelta)
	assert.Equal(t, uint8(2), mod.Texture)

	v2 := layer.Apply(nil, []vec.Vec3{voxel})
	_, ok = layer.Get(voxel)
	assert.False(t, ok, "после удаления правки быть не должно")
	assert.Greater(t, v2, v1, "каждый коммит поднимает версию")
	assert.Empty(t, layer.ChunkCoords(), "пустой чанк должен исчезать из карты")
}

func TestLayerClampsBlend(t *testing.T) {
	layer := NewModificationLayer(testGrid())
	layer.Apply(map[vec.Vec3]VoxelMod{
		{X: 0}: {SDFDelta: 1, Blend: 7},
		{X: 1}: {SDFDelta: 1, Blend: -3},
	}, nil)

	mod, _ := layer.Get(vec.Vec3{X: 0})
	assert.Equal(t, float32(1), mod.Blend)
	mod, _ = layer.Get(vec.Vec3{X: 1})
	assert.Equal(t, float32(0), mod.Blend)
}

func TestSnapshotIsolation(t *testing.T) {
	layer := NewModificationLayer(testGrid())
	voxel := vec.Vec3{X: 5, Y: 5, Z: 5}
	layer.Apply(map[vec.Vec3]VoxelMod{voxel: {SDFDelta: 1, Blend: 1}}, nil)

	snap := layer.Snapshot()
	defer snap.Release()

	// Мутации живого слоя не должны просачиваться в снапшот.
	layer.Apply(map[vec.Vec3]VoxelMod{voxel: {SDFDelta: 99, Blend: 1}}, nil)
	layer.Apply(map[vec.Vec3]VoxelMod{{X: 100}: {SDFDelta: 5, Blend: 1}}, nil)

	mod, ok := snap.Get(voxel)
	require.True(t, ok)
	assert.Equal(t, float32(1), mod.SDFDelta)
	_, ok = snap.Get(vec.Vec3{X: 100})
	assert.False(t, ok)
}

func TestSnapshotRefCounting(t *testing.T) {
	layer := NewModificationLayer(testGrid())
	snap := layer.Snapshot()

	assert.Equal(t, int32(1), snap.Refs(), "создатель владеет первой ссылкой")
	snap.Retain()
	assert.Equal(t, int32(2), snap.Refs())
	snap.Release()
	snap.Release()
	assert.Equal(t, int32(0), snap.Refs())
}

func TestRestoreRoundTrip(t *testing.T) {
	layer := NewModificationLayer(testGrid())
	voxel := vec.Vec3{X: 1, Y: 2, Z: 3}
	layer.Apply(map[vec.Vec3]VoxelMod{voxel: {SDFDelta: -4, Blend: 0.5}}, nil)

	snap := layer.Snapshot()
	defer snap.Release()

	layer.Apply(nil, []vec.Vec3{voxel})
	_, ok := layer.Get(voxel)
	require.False(t, ok)

	layer.Restore(snap)
	mod, ok := layer.Get(voxel)
	require.True(t, ok)
	assert.Equal(t, float32(-4), mod.SDFDelta)
	assert.Equal(t, float32(0.5), mod.Blend)
}

func TestForEachRebuildsWorldCoords(t *testing.T) {
	layer := NewModificationLayer(testGrid())
	voxels := []vec.Vec3{
		{X: 0, Y: 0, Z: 0},
		{X: -1, Y: 5, Z: 31},
		{X: 100, Y: -17, Z: -100},
	}
	set := make(map[vec.Vec3]VoxelMod, len(voxels))
	for i, v := range voxels {
		set[v] = VoxelMod{SDFDelta: float32(i + 1), Blend: 1}
	}
	layer.Apply(set, nil)

	snap := layer.Snapshot()
	defer snap.Release()

	got := make(map[vec.Vec3]float32)
	snap.ForEach(func(voxel vec.Vec3, mod VoxelMod) {
		got[voxel] = mod.SDFDelta
	})

	require.Len(t, got, len(voxels))
	for i, v := range voxels {
		assert.Equal(t, float32(i+1), got[v], "воксель %v восстановлен неверно", v)
	}
}

func TestTrilinearDelta(t *testing.T) {
	layer := NewModificationLayer(testGrid())
	layer.Apply(map[vec.Vec3]VoxelMod{
		{X: 5, Y: 5, Z: 5}: {SDFDelta: -2, Blend: 1},
	}, nil)
	snap := layer.Snapshot()
	defer snap.Release()

	assert.InDelta(t, -2, snap.TrilinearDelta(5, 5, 5), 1e-6, "в узле решётки вес единичный")
	assert.InDelta(t, -1, snap.TrilinearDelta(5.5, 5, 5), 1e-6, "середина ребра")
	assert.InDelta(t, -0.5, snap.TrilinearDelta(4.25, 5, 5), 1e-6)
	assert.InDelta(t, -0.25, snap.TrilinearDelta(5.5, 5.5, 5.5), 1e-6, "центр куба делит на восемь")
	assert.Zero(t, snap.TrilinearDelta(20, 20, 20), "вне окрестности правки дельта нулевая")
}

func TestTrilinearDeltaScalesWithBlend(t *testing.T) {
	layer := NewModificationLayer(testGrid())
	layer.Apply(map[vec.Vec3]VoxelMod{
		{X: 0, Y: 0, Z: 0}: {SDFDelta: 8, Blend: 0.25},
	}, nil)
	snap := layer.Snapshot()
	defer snap.Release()

	assert.InDelta(t, 2, snap.TrilinearDelta(0, 0, 0), 1e-6, "видимая дельта = delta*blend")
}

func TestEmptySnapshotFastPath(t *testing.T) {
	layer := NewModificationLayer(testGrid())
	snap := layer.Snapshot()
	defer snap.Release()

	assert.True(t, snap.Empty())
	assert.Zero(t, snap.TrilinearDelta(1.5, 2.5, 3.5))
}
