// Package terrain реализует SDF-поле процедурного террейна и разреженные
// слои правок поверх него. Поле чистое и детерминированное: один и тот же
// сид даёт одну и ту же поверхность, сэмплирование безопасно из любого
// числа горутин.
package terrain

import (
	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"

	"github.com/annel0/voxel-terrain/internal/config"
)

const (
	perlinAlpha   = 2.0 // сглаживание шума
	perlinBeta    = 2.0 // частота шума
	perlinOctaves = 3   // внутренние октавы генератора
)

// NoiseField держит инициализированные генераторы шума. Экземпляр
// неизменяем после создания, поэтому его можно читать конкурентно.
type NoiseField struct {
	perlin  *perlin.Perlin
	simplex opensimplex.Noise32
	cfg     config.TerrainConfig
}

// NewNoiseField создаёт генераторы с сидом из конфигурации.
func NewNoiseField(cfg config.TerrainConfig) *NoiseField {
	return &NoiseField{
		perlin:  perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, cfg.Seed),
		simplex: opensimplex.New32(cfg.Seed),
		cfg:     cfg,
	}
}

// SurfaceHeight возвращает высоту поверхности в точке (x,z): базовая
// высота плюс фрактальная сумма октав перлин-шума. Сумма нормируется на
// накопленную амплитуду, чтобы результат оставался в [-1,1] до масштабирования.
func (n *NoiseField) SurfaceHeight(x, z float64) float64 {
	frequency := n.cfg.Frequency
	amplitude := 1.0
	noiseSum := 0.0
	maxAmplitude := 0.0

	for i := 0; i < n.cfg.Octaves; i++ {
		noiseSum += n.perlin.Noise2D(x*frequency, z*frequency) * amplitude
		maxAmplitude += amplitude
		amplitude *= n.cfg.Persistence
		frequency *= n.cfg.Lacunarity
	}

	if maxAmplitude == 0 {
		return n.cfg.BaseHeight
	}
	return n.cfg.BaseHeight + (noiseSum/maxAmplitude)*n.cfg.Amplitude
}

// Carve возвращает трёхмерную шумовую добавку к SDF (пещеры и навесы).
// При нулевом весе добавка отключена и поле остаётся чисто высотным.
func (n *NoiseField) Carve(x, y, z float64) float64 {
	if n.cfg.CarveWeight == 0 {
		return 0
	}
	f := n.cfg.CarveFrequency
	return float64(n.simplex.Eval3(float32(x*f), float32(y*f), float32(z*f))) * n.cfg.CarveWeight
}
