package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxel-terrain/internal/mesh"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// ChunkState описывает жизненный цикл чанка в реестре планировщика.
//
// Переходы: Pending -> Ready (пришёл меш), Ready -> Active (рендер
// подтвердил загрузку), Ready/Active -> MarkedForUnload (чанк покинул
// радиус обзора). Снятие с учёта разрешено только из Active и
// MarkedForUnload.
type ChunkState int32

const (
	StatePending         ChunkState = iota // запрос на мешинг в очереди или в работе
	StateReady                             // меш собран, ждёт загрузки рендером
	StateActive                            // ресурс загружен, чанк виден
	StateMarkedForUnload                   // покинул желаемое множество
)

func (s ChunkState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateMarkedForUnload:
		return "marked_for_unload"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Chunk — учётная запись чанка. Мутируется только управляющим потоком
// планировщика, поэтому собственного мьютекса не несёт.
type Chunk struct {
	Coord           vec.Vec3
	LOD             int        // уровень детализации текущего меша
	State           ChunkState
	Dirty           bool       // правка слоя обесценила текущий меш
	TransitionSides uint8      // маска сторон с более детальными соседями
	Triangles       int        // размер последнего принятого меша
	MeshHandle      string     // идентификатор ресурса рендера, выдаётся в Acknowledge
	LastAccessFrame uint64     // тик планировщика, на котором чанк был нужен
}

// MeshRequest — задание мешинг-воркеру. Снапшот слоя модификаций
// разделяется между заданиями одного тика через счётчик ссылок: каждый
// запрос держит свою ссылку и освобождает её после экстракции.
type MeshRequest struct {
	Coord          vec.Vec3
	LOD            int
	TransitionMask uint8
	Version        uint64 // версия слоя модификаций на момент постановки
	Mods           *terrain.LayerSnapshot
}

// Release возвращает ссылку на снапшот. Вызывается воркером после
// экстракции либо владельцем очереди, если запрос так и не был выполнен.
func (r *MeshRequest) Release() {
	if r.Mods != nil {
		r.Mods.Release()
		r.Mods = nil
	}
}

// MeshResult — сырой меш чанка до пост-обработки. Пустые меши (чанк
// целиком в воздухе или в породе) тоже доставляются: планировщику нужно
// перевести чанк в Ready даже когда рисовать нечего.
type MeshResult struct {
	Coord           vec.Vec3
	LOD             int
	TransitionSides uint8
	Version         uint64
	Positions       []mgl32.Vec3
	Normals         []mgl32.Vec3
	Indices         []uint32
}

// Empty сообщает, что поверхность блок не пересекает.
func (r MeshResult) Empty() bool { return len(r.Indices) == 0 }

// TriangleCount возвращает число треугольников результата.
func (r MeshResult) TriangleCount() int { return len(r.Indices) / 3 }

// RestoredMesh — меш, восстановленный из кэша выгрузки. Экстракция и
// пайплайн не выполнялись, потребитель загружает его как есть.
type RestoredMesh struct {
	Coord vec.Vec3
	LOD   int
	Mesh  mesh.CombinedMesh
}

// UnloadNotice — чанк, ресурс которого потребитель должен выгрузить.
type UnloadNotice struct {
	Coord  vec.Vec3
	LOD    int
	Handle string
}
