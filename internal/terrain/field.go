package terrain

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/config"
)

// Field — SDF террейна: отрицательные значения внутри породы,
// положительные в воздухе, ноль на поверхности. Составляется из
// высотного шума, опционального 3D-шума пещер и CSG-пересечения с
// ограничивающим коробом.
type Field struct {
	noise  *NoiseField
	hasBox bool
	boxMin mgl32.Vec3
	boxMax mgl32.Vec3
	smooth float32
}

// NewField собирает поле из конфигурации. Короб расширяется на Margin,
// чтобы защитная полоса сэмплирования у края мира всё ещё видела смену знака.
func NewField(cfg config.TerrainConfig) *Field {
	f := &Field{
		noise: NewNoiseField(cfg),
	}
	if cfg.Box != nil {
		m := cfg.Box.Margin
		f.hasBox = true
		f.boxMin = mgl32.Vec3{cfg.Box.Min[0] - m, cfg.Box.Min[1] - m, cfg.Box.Min[2] - m}
		f.boxMax = mgl32.Vec3{cfg.Box.Max[0] + m, cfg.Box.Max[1] + m, cfg.Box.Max[2] + m}
		f.smooth = cfg.Box.SmoothK
	}
	return f
}

// Sample возвращает значение SDF в мировой точке. Функция чистая и
// детерминированная; NaN-координаты заменяются нулём, а не распространяются.
func (f *Field) Sample(x, y, z float32) float32 {
	x = sanitize(x)
	y = sanitize(y)
	z = sanitize(z)

	height := f.noise.SurfaceHeight(float64(x), float64(z))
	terrain := float64(y) - height + f.noise.Carve(float64(x), float64(y), float64(z))

	if !f.hasBox {
		return float32(terrain)
	}

	box := boxSDF(mgl32.Vec3{x, y, z}, f.boxMin, f.boxMax)
	return smoothMax(float32(terrain), box, f.smooth)
}

// SampleWithMods добавляет к процедурному полю трилинейную дельту слоя
// правок. snap == nil означает чистое процедурное поле.
func (f *Field) SampleWithMods(x, y, z float32, snap *LayerSnapshot) float32 {
	base := f.Sample(x, y, z)
	if snap == nil {
		return base
	}
	return base + snap.TrilinearDelta(x, y, z)
}

// smoothMax — сглаженное CSG-пересечение. При k≤0 вырождается в жёсткий max,
// иначе полиномиальный переход шириной k.
func smoothMax(a, b, k float32) float32 {
	if k <= 0 {
		if a > b {
			return a
		}
		return b
	}
	h := mgl32.Clamp(0.5+0.5*(b-a)/k, 0, 1)
	return a*(1-h) + b*h + k*h*(1-h)
}

// boxSDF — точное SDF осевого короба: отрицательно внутри, расстояние
// до ближайшей грани снаружи.
func boxSDF(p, min, max mgl32.Vec3) float32 {
	center := min.Add(max).Mul(0.5)
	half := max.Sub(min).Mul(0.5)

	qx := abs32(p.X()-center.X()) - half.X()
	qy := abs32(p.Y()-center.Y()) - half.Y()
	qz := abs32(p.Z()-center.Z()) - half.Z()

	ox := max32(qx, 0)
	oy := max32(qy, 0)
	oz := max32(qz, 0)
	outside := float32(math.Sqrt(float64(ox*ox + oy*oy + oz*oz)))

	inside := min32(max32(qx, max32(qy, qz)), 0)
	return outside + inside
}

func sanitize(v float32) float32 {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return 0
	}
	return v
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
