package vec

import "math"

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется и для мировых вокселей, и для координат чанков.
type Vec3 struct {
	X int
	Y int
	Z int
}

// Neighbors6 перечисляет шесть гранёвых соседей вокселя в порядке
// -X, +X, -Y, +Y, -Z, +Z. Порядок фиксирован: по нему нумеруются
// биты переходных граней чанка.
var Neighbors6 = [6]Vec3{
	{X: -1}, {X: 1},
	{Y: -1}, {Y: 1},
	{Z: -1}, {Z: 1},
}

// ToVec2 проецирует Vec3 на плоскость XZ (колонка мира).
func (v Vec3) ToVec2() Vec2 {
	return Vec2{X: v.X, Y: v.Z}
}

// ToChunkCoords преобразует мировые воксельные координаты в координаты чанка.
// size — число вокселей на ребро чанка. Деление с округлением вниз,
// поэтому отрицательные координаты попадают в правильный чанк.
func (v Vec3) ToChunkCoords(size int) Vec3 {
	return Vec3{
		X: floorDiv(v.X, size),
		Y: floorDiv(v.Y, size),
		Z: floorDiv(v.Z, size),
	}
}

// LocalInChunk возвращает локальные координаты вокселя внутри его чанка.
func (v Vec3) LocalInChunk(size int) Vec3 {
	c := v.ToChunkCoords(size)
	return Vec3{
		X: v.X - c.X*size,
		Y: v.Y - c.Y*size,
		Z: v.Z - c.Z*size,
	}
}

// LocalIndex линеаризует локальные координаты в индекс внутри чанка
// (порядок x + y*size + z*size²).
func (v Vec3) LocalIndex(size int) int {
	return v.X + v.Y*size + v.Z*size*size
}

// FromLocalIndex восстанавливает локальные координаты из линейного индекса.
func FromLocalIndex(idx, size int) Vec3 {
	return Vec3{
		X: idx % size,
		Y: (idx / size) % size,
		Z: idx / (size * size),
	}
}

// DistanceTo возвращает евклидово расстояние до другого вектора
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает другой вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Scale умножает вектор на скаляр
func (v Vec3) Scale(s int) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// floorDiv — целочисленное деление с округлением к минус бесконечности.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
