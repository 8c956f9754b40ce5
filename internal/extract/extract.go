// Package extract изолирует полигонизацию изоповерхности за узким
// контрактом: скалярное поле плюс блок на входе, сырой треугольный суп
// на выходе. Ядру всё равно, какой алгоритм стоит за контрактом;
// подготовка замыкания поля и чистка вырожденных нормалей происходят здесь.
package extract

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// SampleFunc — чистая функция поля. Вызывается конкурентно из воркеров,
// поэтому обязана быть свободной от побочных эффектов.
type SampleFunc func(x, y, z float32) float32

// Транзитные грани блока. Биты соответствуют порядку vec.Neighbors6.
const (
	SideNegX uint8 = 1 << iota
	SidePosX
	SideNegY
	SidePosY
	SideNegZ
	SidePosZ
)

// Block — кубический регион извлечения: начало в мировых координатах,
// длина ребра и число ячеек на ребро.
type Block struct {
	Origin       mgl32.Vec3
	Size         float32
	Subdivisions int
}

// CellSize возвращает шаг ячейки в мировых единицах.
func (b Block) CellSize() float32 {
	if b.Subdivisions <= 0 {
		return 0
	}
	return b.Size / float32(b.Subdivisions)
}

// Output — сырой результат полигонизации.
type Output struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Indices   []uint32
}

// Empty сообщает, пуст ли результат (блок целиком в воздухе или в породе).
func (o Output) Empty() bool { return len(o.Indices) == 0 }

// TriangleCount возвращает число треугольников.
func (o Output) TriangleCount() int { return len(o.Indices) / 3 }

// Extractor — контракт полигонизатора. Внутренности алгоритма ядро
// не интересуют; важен только формат входа и выхода.
type Extractor interface {
	Extract(sample SampleFunc, block Block, isovalue float32, transitionMask uint8) (Output, error)
}

// defaultUp — запасная нормаль для вырожденных (нулевых) нормалей.
var defaultUp = mgl32.Vec3{0, 1, 0}

const degenerateNormalSq = 1e-12

// Sanitize чинит результат на границе контракта: вырожденные нормали
// заменяются вектором вверх, остальные нормируются, треугольники с
// индексами вне диапазона вершин отбрасываются.
func Sanitize(out *Output) {
	for i, n := range out.Normals {
		if n.LenSqr() < degenerateNormalSq {
			out.Normals[i] = defaultUp
			continue
		}
		out.Normals[i] = n.Normalize()
	}

	limit := uint32(len(out.Positions))
	kept := out.Indices[:0]
	for i := 0; i+2 < len(out.Indices); i += 3 {
		a, b, c := out.Indices[i], out.Indices[i+1], out.Indices[i+2]
		if a >= limit || b >= limit || c >= limit {
			continue
		}
		kept = append(kept, a, b, c)
	}
	out.Indices = kept
}

// validateBlock отсекает бессмысленные блоки до запуска алгоритма.
func validateBlock(b Block) error {
	if b.Subdivisions <= 0 {
		return fmt.Errorf("block: subdivisions должен быть > 0, получено %d", b.Subdivisions)
	}
	if b.Size <= 0 {
		return fmt.Errorf("block: size должен быть > 0, получено %g", b.Size)
	}
	return nil
}
