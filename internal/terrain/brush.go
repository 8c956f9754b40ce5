package terrain

import (
	"context"

	"go.uber.org/zap"

	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// BrushMode определяет знак правки SDF.
type BrushMode int

const (
	// BrushDig выталкивает поверхность наружу (положительная дельта, воздух).
	BrushDig BrushMode = iota
	// BrushBuild вдавливает поверхность внутрь (отрицательная дельта, порода).
	BrushBuild
)

func (m BrushMode) String() string {
	if m == BrushBuild {
		return "build"
	}
	return "dig"
}

// Footprint — зафиксированный отпечаток кисти: XZ-ячейки, базовая высота,
// число затронутых рядов и сила правки.
type Footprint struct {
	Cells       []vec.Vec2
	BaseY       int
	HeightDelta int
	Strength    float32
}

// Empty сообщает, пуст ли отпечаток (пустая правка игнорируется).
func (f Footprint) Empty() bool {
	return len(f.Cells) == 0 || f.HeightDelta <= 0 || f.Strength <= 0
}

// Bounds возвращает XZ-границы отпечатка включительно.
func (f Footprint) Bounds() (min, max vec.Vec2) {
	if len(f.Cells) == 0 {
		return vec.Vec2{}, vec.Vec2{}
	}
	min, max = f.Cells[0], f.Cells[0]
	for _, c := range f.Cells[1:] {
		if c.X < min.X {
			min.X = c.X
		}
		if c.X > max.X {
			max.X = c.X
		}
		if c.Y < min.Y {
			min.Y = c.Y
		}
		if c.Y > max.Y {
			max.Y = c.Y
		}
	}
	return min, max
}

// Extent возвращает наибольший размер отпечатка по XZ в вокселях.
func (f Footprint) Extent() int {
	min, max := f.Bounds()
	dx := max.X - min.X + 1
	dz := max.Y - min.Y + 1
	if dz > dx {
		return dz
	}
	return dx
}

// Voxels перечисляет все воксели отпечатка.
func (f Footprint) Voxels() []vec.Vec3 {
	out := make([]vec.Vec3, 0, len(f.Cells)*f.HeightDelta)
	for _, cell := range f.Cells {
		for dy := 0; dy < f.HeightDelta; dy++ {
			out = append(out, vec.Vec3{X: cell.X, Y: f.BaseY + dy, Z: cell.Y})
		}
	}
	return out
}

// DiscFootprint строит круглый отпечаток радиуса radius вокруг центра.
func DiscFootprint(center vec.Vec3, radius, height int, strength float32) Footprint {
	base := center.ToVec2()
	cells := make([]vec.Vec2, 0, (2*radius+1)*(2*radius+1))
	for dx := -radius; dx <= radius; dx++ {
		for dz := -radius; dz <= radius; dz++ {
			if dx*dx+dz*dz <= radius*radius {
				cells = append(cells, base.Add(vec.Vec2{X: dx, Y: dz}))
			}
		}
	}
	return Footprint{Cells: cells, BaseY: center.Y, HeightDelta: height, Strength: strength}
}

// Brush применяет отпечатки к слоям правок и текстур, ведёт undo-историю
// и публикует события коммитов.
type Brush struct {
	mods    *ModificationLayer
	tex     *TextureLayer
	history *UndoHistory
	bus     eventbus.EventBus
	log     *zap.Logger
}

// NewBrush собирает кисть. bus и history могут быть nil (автономные тесты).
func NewBrush(mods *ModificationLayer, tex *TextureLayer, history *UndoHistory, bus eventbus.EventBus, log *zap.Logger) *Brush {
	if log == nil {
		log = zap.NewNop()
	}
	return &Brush{mods: mods, tex: tex, history: history, bus: bus, log: log}
}

// Commit применяет отпечаток одним атомарным пакетом. Возвращает новую
// версию слоя и координаты чанков, которым нужен новый меш. Пустой
// отпечаток — no-op.
func (b *Brush) Commit(ctx context.Context, mode BrushMode, fp Footprint, texture uint8) (uint64, []vec.Vec3) {
	if fp.Empty() {
		b.log.Debug("Пустой отпечаток кисти, правка пропущена")
		return b.mods.Version(), nil
	}

	if b.history != nil {
		b.history.RecordBefore()
	}

	sign := float32(1)
	if mode == BrushBuild {
		sign = -1
	}

	voxels := fp.Voxels()
	set := make(map[vec.Vec3]VoxelMod, len(voxels))
	var texSet map[vec.Vec3]TextureWeights
	if mode == BrushBuild && b.tex != nil {
		texSet = make(map[vec.Vec3]TextureWeights, len(voxels))
	}

	for _, voxel := range voxels {
		mod, _ := b.mods.Get(voxel)
		mod.SDFDelta += sign * fp.Strength
		mod.Blend = 1
		mod.Texture = texture
		set[voxel] = mod
		if texSet != nil {
			texSet[voxel] = ChannelWeights(texture)
		}
	}

	version := b.mods.Apply(set, nil)
	if texSet != nil {
		b.tex.Apply(texSet)
	}

	touched := TouchedChunks(voxels, b.mods.Resolution())

	b.log.Info("✏️ Правка зафиксирована",
		zap.String("mode", mode.String()),
		zap.Int("cells", len(fp.Cells)),
		zap.Int("voxels", len(voxels)),
		zap.Uint64("version", version),
		zap.Int("chunks", len(touched)))

	if b.bus != nil {
		ev := eventbus.NewEnvelope("brush", eventbus.EventEditCommitted, eventbus.PriorityNormal,
			eventbus.EditCommittedPayload{
				Cells:    len(fp.Cells),
				Strength: fp.Strength,
				Version:  version,
			})
		if err := b.bus.Publish(ctx, ev); err != nil {
			b.log.Warn("Не удалось опубликовать событие правки", zap.Error(err))
		}
	}

	return version, touched
}

// Undo откатывает последний коммит. Возвращает чанки, затронутые на
// момент отката (все чанки с правками до и после), и признак успеха.
func (b *Brush) Undo() ([]vec.Vec3, bool) {
	if b.history == nil {
		return nil, false
	}
	before := b.mods.ChunkCoords()
	if !b.history.Undo() {
		return nil, false
	}
	return unionChunks(before, b.mods.ChunkCoords()), true
}

// Redo повторяет отменённый коммит.
func (b *Brush) Redo() ([]vec.Vec3, bool) {
	if b.history == nil {
		return nil, false
	}
	before := b.mods.ChunkCoords()
	if !b.history.Redo() {
		return nil, false
	}
	return unionChunks(before, b.mods.ChunkCoords()), true
}

// TouchedChunks возвращает чанки, меш которых зависит от перечисленных
// вокселей. Трилинейная выборка дотягивается на один воксель, поэтому
// правка на границе чанка задевает и соседей.
func TouchedChunks(voxels []vec.Vec3, resolution int) []vec.Vec3 {
	seen := make(map[vec.Vec3]struct{})
	for _, v := range voxels {
		lo := vec.Vec3{X: v.X - 1, Y: v.Y - 1, Z: v.Z - 1}.ToChunkCoords(resolution)
		hi := vec.Vec3{X: v.X + 1, Y: v.Y + 1, Z: v.Z + 1}.ToChunkCoords(resolution)
		for cx := lo.X; cx <= hi.X; cx++ {
			for cy := lo.Y; cy <= hi.Y; cy++ {
				for cz := lo.Z; cz <= hi.Z; cz++ {
					seen[vec.Vec3{X: cx, Y: cy, Z: cz}] = struct{}{}
				}
			}
		}
	}
	out := make([]vec.Vec3, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}

func unionChunks(a, b []vec.Vec3) []vec.Vec3 {
	seen := make(map[vec.Vec3]struct{}, len(a)+len(b))
	for _, c := range a {
		seen[c] = struct{}{}
	}
	for _, c := range b {
		seen[c] = struct{}{}
	}
	out := make([]vec.Vec3, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}
