package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/extract"
	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/terrain"
)

const defaultOutput = "terrain.obj"

// terrain-export полигонизирует квадрат чанков вокруг заданной точки и
// пишет результат в Wavefront OBJ. Все чанки региона проходят через
// пост-обработку одним батчем, поэтому швы между ними завариваются.
func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML-конфигурации (пусто — значения по умолчанию)")
		output     = flag.String("out", defaultOutput, "файл OBJ для записи")
		centerX    = flag.Int("cx", 0, "X центрального чанка")
		centerZ    = flag.Int("cz", 0, "Z центрального чанка")
		radius     = flag.Int("radius", 2, "радиус региона в чанках")
		lod        = flag.Int("lod", 0, "уровень детализации (0 — максимальный)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
		}
		cfg = loaded
	}

	logger, err := logging.New(cfg.Log.Level, "")
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logger.Sync()

	field := terrain.NewField(cfg.Terrain)
	extractor := extract.NewMarchingTets()

	size := cfg.Grid.ChunkSize()
	sub := cfg.Grid.Resolution >> *lod
	if sub < 1 {
		sub = 1
	}
	heightChunks := (cfg.Grid.WorldHeight + cfg.Grid.Resolution - 1) / cfg.Grid.Resolution

	var pieces []mesh.Piece
	for cx := *centerX - *radius; cx <= *centerX+*radius; cx++ {
		for cz := *centerZ - *radius; cz <= *centerZ+*radius; cz++ {
			for cy := 0; cy < heightChunks; cy++ {
				block := extract.Block{
					Origin:       mgl32.Vec3{float32(cx) * size, float32(cy) * size, float32(cz) * size},
					Size:         size,
					Subdivisions: sub,
				}
				out, err := extractor.Extract(field.Sample, block, 0, 0)
				if err != nil {
					log.Fatalf("❌ Ошибка экстракции чанка (%d,%d,%d): %v", cx, cy, cz, err)
				}
				if out.Empty() {
					continue
				}
				pieces = append(pieces, mesh.Piece{Vertices: out.Positions, Normals: out.Normals, Indices: out.Indices})
			}
		}
	}
	if len(pieces) == 0 {
		log.Fatalf("❌ Регион пуст: поверхность не пересекает ни один чанк")
	}

	pipe := mesh.NewPipeline(cfg.Mesh, logger)
	defer pipe.Close()
	combined, stats := pipe.Process(pieces)

	if err := writeOBJ(*output, &combined); err != nil {
		log.Fatalf("❌ Ошибка записи OBJ: %v", err)
	}

	fmt.Printf("Экспортировано в %s\n", *output)
	fmt.Printf("  Чанков с поверхностью: %d\n", stats.Pieces)
	fmt.Printf("  Треугольников: %d -> %d (сварка швов и чистка)\n", stats.InputTriangles, stats.OutputTriangles)
	fmt.Printf("  Вершин: %d\n", stats.OutputVertices)
	fmt.Printf("  Время пост-обработки: %v\n", stats.Elapsed)
}

// writeOBJ пишет меш в Wavefront OBJ: позиции, нормали и грани
// с индексацией от единицы.
func writeOBJ(path string, m *mesh.CombinedMesh) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("создание файла: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# voxel-terrain export: %d vertices, %d triangles\n", len(m.Vertices), m.TriangleCount())
	for _, v := range m.Vertices {
		fmt.Fprintf(w, "v %g %g %g\n", v.X(), v.Y(), v.Z())
	}
	for _, n := range m.Normals {
		fmt.Fprintf(w, "vn %g %g %g\n", n.X(), n.Y(), n.Z())
	}
	for i := 0; i+2 < len(m.Indices); i += 3 {
		a, b, c := m.Indices[i]+1, m.Indices[i+1]+1, m.Indices[i+2]+1
		fmt.Fprintf(w, "f %d//%d %d//%d %d//%d\n", a, a, b, b, c, c)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("запись файла: %w", err)
	}
	return nil
}
