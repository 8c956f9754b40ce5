package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации террейн-движка.
// Все подсистемы получают свои секции по значению: обратных ссылок
// на общий объект нет, компоненты не знают друг о друге.
type Config struct {
	Terrain   TerrainConfig   `yaml:"terrain"`
	Grid      GridConfig      `yaml:"grid"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pool      PoolConfig      `yaml:"pool"`
	Mesh      MeshConfig      `yaml:"mesh"`
	Stability StabilityConfig `yaml:"stability"`
	Cache     CacheConfig     `yaml:"cache"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TerrainConfig параметры процедурного поля.
type TerrainConfig struct {
	Seed        int64   `yaml:"seed"`
	Octaves     int     `yaml:"octaves"`
	Persistence float64 `yaml:"persistence"`
	Lacunarity  float64 `yaml:"lacunarity"`
	Frequency   float64 `yaml:"frequency"`
	Amplitude   float64 `yaml:"amplitude"`
	BaseHeight  float64 `yaml:"base_height"`

	// Вес 3D-шума пещер. 0 — пещеры отключены, поле чисто высотное.
	CarveWeight    float64 `yaml:"carve_weight"`
	CarveFrequency float64 `yaml:"carve_frequency"`

	// Ограничивающий короб (CSG-пересечение). nil — без короба.
	Box *BoxConfig `yaml:"box"`
}

// BoxConfig короб, обрезающий поле по жёстким границам мира.
type BoxConfig struct {
	Min     [3]float32 `yaml:"min"`
	Max     [3]float32 `yaml:"max"`
	SmoothK float32    `yaml:"smooth_k"` // ≤0 — жёсткий max
	Margin  float32    `yaml:"margin"`   // расширение под защитную полосу сэмплирования
}

// GridConfig дискретизация мира.
type GridConfig struct {
	Resolution  int     `yaml:"resolution"`   // вокселей на ребро чанка
	VoxelSize   float32 `yaml:"voxel_size"`   // мировых единиц на воксель
	WorldHeight int     `yaml:"world_height"` // высота мира в вокселях
}

// ChunkSize возвращает размер чанка в мировых единицах.
func (g GridConfig) ChunkSize() float32 {
	return float32(g.Resolution) * g.VoxelSize
}

// SchedulerConfig стриминг чанков вокруг камеры.
type SchedulerConfig struct {
	ViewDistance float64 `yaml:"view_distance"`
	BaseDistance float64 `yaml:"base_distance"`
	MaxLOD       int     `yaml:"max_lod"`
	ResultBatch  int     `yaml:"result_batch"` // максимум результатов за один Update
}

// PoolConfig пул мешинг-воркеров.
type PoolConfig struct {
	Workers      int `yaml:"workers"` // 0 — авто: max(2, физ.ядра*3/4)
	RequestQueue int `yaml:"request_queue"`
	ResultQueue  int `yaml:"result_queue"`
	MinBatch     int `yaml:"min_batch"`
}

// MeshConfig пост-обработка меша.
type MeshConfig struct {
	WeldTolerance    float32 `yaml:"weld_tolerance"`
	DecimateRatio    float64 `yaml:"decimate_ratio"` // доля треугольников-цели, 0 — без децимации
	TargetError      float64 `yaml:"target_error"`
	AspectLimit      float64 `yaml:"aspect_limit"`
	MinComponent     int     `yaml:"min_component"`      // порог компонент по общим вершинам
	MinEdgeComponent int     `yaml:"min_edge_component"` // порог компонент по общим рёбрам
	RibbonRatio      float64 `yaml:"ribbon_ratio"`
	SharpAngleDeg    float64 `yaml:"sharp_angle_deg"`
	AreaEpsilon      float64 `yaml:"area_epsilon"`
}

// StabilityConfig гравитационная проверка после правок.
type StabilityConfig struct {
	SeedRows  int `yaml:"seed_rows"`  // нижние ряды-источники заливки
	MarginMin int `yaml:"margin_min"` // границы горизонтального запаса скана
	MarginMax int `yaml:"margin_max"`
}

// CacheConfig кэш выгруженных мешей.
type CacheConfig struct {
	Capacity int `yaml:"capacity"` // записей; 0 — кэш отключён
}

// EventBusConfig внутренняя шина событий террейна.
type EventBusConfig struct {
	Buffer       int `yaml:"buffer"`
	DropPriority int `yaml:"drop_priority"` // события с приоритетом ниже — дропаются при переполнении
}

// LogConfig структурированное логирование.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // пусто — только консоль
}

// MetricsConfig Prometheus-экспорт.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// GetAddr возвращает адрес метрик с приоритетом: config -> env -> default.
func (m *MetricsConfig) GetAddr() string {
	if m.Addr != "" {
		return m.Addr
	}
	if envVal := os.Getenv("TERRAIN_METRICS_ADDR"); envVal != "" {
		return envVal
	}
	return ":2112"
}

// TelemetryConfig трассировка OTLP.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
}

// Default возвращает конфигурацию с рабочими значениями по умолчанию.
func Default() *Config {
	return &Config{
		Terrain: TerrainConfig{
			Seed:           1337,
			Octaves:        4,
			Persistence:    0.5,
			Lacunarity:     2.0,
			Frequency:      0.01,
			Amplitude:      24.0,
			BaseHeight:     0.0,
			CarveWeight:    0.0,
			CarveFrequency: 0.05,
		},
		Grid: GridConfig{
			Resolution:  16,
			VoxelSize:   1.0,
			WorldHeight: 128,
		},
		Scheduler: SchedulerConfig{
			ViewDistance: 256,
			BaseDistance: 64,
			MaxLOD:       4,
			ResultBatch:  32,
		},
		Pool: PoolConfig{
			Workers:      0,
			RequestQueue: 256,
			ResultQueue:  256,
			MinBatch:     4,
		},
		Mesh: MeshConfig{
			WeldTolerance:    0.001,
			DecimateRatio:    0,
			TargetError:      0.01,
			AspectLimit:      40.0,
			MinComponent:     8,
			MinEdgeComponent: 4,
			RibbonRatio:      0.02,
			SharpAngleDeg:    70.0,
			AreaEpsilon:      1e-10,
		},
		Stability: StabilityConfig{
			SeedRows:  2,
			MarginMin: 8,
			MarginMax: 32,
		},
		Cache: CacheConfig{
			Capacity: 128,
		},
		EventBus: EventBusConfig{
			Buffer:       1024,
			DropPriority: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
			Service: "voxel-terrain",
		},
	}
}

// Validate проверяет согласованность значений. Нарушение — ошибка запуска,
// а не тихое падение в рантайме.
func (c *Config) Validate() error {
	if c.Grid.Resolution <= 0 {
		return fmt.Errorf("grid.resolution должен быть > 0, получено %d", c.Grid.Resolution)
	}
	if c.Grid.VoxelSize <= 0 {
		return fmt.Errorf("grid.voxel_size должен быть > 0, получено %g", c.Grid.VoxelSize)
	}
	if c.Grid.WorldHeight <= 0 {
		return fmt.Errorf("grid.world_height должен быть > 0, получено %d", c.Grid.WorldHeight)
	}
	if c.Scheduler.BaseDistance <= 0 {
		return fmt.Errorf("scheduler.base_distance должен быть > 0, получено %g", c.Scheduler.BaseDistance)
	}
	if c.Scheduler.ViewDistance < c.Scheduler.BaseDistance {
		return fmt.Errorf("scheduler.view_distance (%g) меньше base_distance (%g)",
			c.Scheduler.ViewDistance, c.Scheduler.BaseDistance)
	}
	if c.Scheduler.MaxLOD < 0 {
		return fmt.Errorf("scheduler.max_lod не может быть отрицательным")
	}
	if c.Pool.RequestQueue <= 0 || c.Pool.ResultQueue <= 0 {
		return fmt.Errorf("pool.request_queue и pool.result_queue должны быть > 0")
	}
	if c.Mesh.WeldTolerance <= 0 {
		return fmt.Errorf("mesh.weld_tolerance должен быть > 0, получено %g", c.Mesh.WeldTolerance)
	}
	if c.Mesh.DecimateRatio < 0 || c.Mesh.DecimateRatio > 1 {
		return fmt.Errorf("mesh.decimate_ratio должен лежать в [0,1], получено %g", c.Mesh.DecimateRatio)
	}
	if c.Terrain.Octaves <= 0 {
		return fmt.Errorf("terrain.octaves должен быть > 0, получено %d", c.Terrain.Octaves)
	}
	if c.Terrain.Box != nil {
		for i := 0; i < 3; i++ {
			if c.Terrain.Box.Min[i] >= c.Terrain.Box.Max[i] {
				return fmt.Errorf("terrain.box: min[%d] >= max[%d]", i, i)
			}
		}
	}
	if c.Stability.MarginMin > c.Stability.MarginMax {
		return fmt.Errorf("stability.margin_min (%d) больше margin_max (%d)",
			c.Stability.MarginMin, c.Stability.MarginMax)
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV TERRAIN_CONFIG или возвращает дефолты.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TERRAIN_CONFIG")
		if path == "" {
			return cfg, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WorkerCountFromEnv возвращает переопределение числа воркеров из окружения
// (TERRAIN_WORKERS), 0 если не задано.
func WorkerCountFromEnv() int {
	if envVal := os.Getenv("TERRAIN_WORKERS"); envVal != "" {
		if n, err := strconv.Atoi(envVal); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
