package vec

import "testing"

func TestToChunkCoords(t *testing.T) {
	cases := []struct {
		world Vec3
		size  int
		want  Vec3
	}{
		{Vec3{0, 0, 0}, 16, Vec3{0, 0, 0}},
		{Vec3{15, 15, 15}, 16, Vec3{0, 0, 0}},
		{Vec3{16, 0, 0}, 16, Vec3{1, 0, 0}},
		{Vec3{-1, 0, 0}, 16, Vec3{-1, 0, 0}},
		{Vec3{-16, -17, 31}, 16, Vec3{-1, -2, 1}},
		{Vec3{-33, 5, -1}, 32, Vec3{-2, 0, -1}},
	}

	for _, c := range cases {
		got := c.world.ToChunkCoords(c.size)
		if !got.Equals(c.want) {
			t.Errorf("ToChunkCoords(%v, size=%d) = %v, ожидалось %v", c.world, c.size, got, c.want)
		}
	}
}

func TestLocalInChunk(t *testing.T) {
	cases := []struct {
		world Vec3
		size  int
		want  Vec3
	}{
		{Vec3{0, 0, 0}, 16, Vec3{0, 0, 0}},
		{Vec3{17, 1, 15}, 16, Vec3{1, 1, 15}},
		{Vec3{-1, -16, -17}, 16, Vec3{15, 0, 15}},
	}

	for _, c := range cases {
		got := c.world.LocalInChunk(c.size)
		if !got.Equals(c.want) {
			t.Errorf("LocalInChunk(%v, size=%d) = %v, ожидалось %v", c.world, c.size, got, c.want)
		}
		if got.X < 0 || got.X >= c.size || got.Y < 0 || got.Y >= c.size || got.Z < 0 || got.Z >= c.size {
			t.Errorf("локальные координаты %v вне диапазона [0,%d)", got, c.size)
		}
	}
}

func TestLocalIndexRoundTrip(t *testing.T) {
	const size = 8
	for idx := 0; idx < size*size*size; idx++ {
		local := FromLocalIndex(idx, size)
		if got := local.LocalIndex(size); got != idx {
			t.Fatalf("индекс %d после round-trip стал %d (локальные %v)", idx, got, local)
		}
	}
}

func TestNeighbors6Order(t *testing.T) {
	// Биты переходных граней опираются на этот порядок: -X,+X,-Y,+Y,-Z,+Z.
	want := [6]Vec3{{X: -1}, {X: 1}, {Y: -1}, {Y: 1}, {Z: -1}, {Z: 1}}
	if Neighbors6 != want {
		t.Fatalf("порядок Neighbors6 нарушен: %v", Neighbors6)
	}
}
