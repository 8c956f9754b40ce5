// Package stability реализует гравитационную проверку после правок:
// «висящая» масса, оторванная от опоры, опускается до ближайшей
// поверхности. Пол ищется заливкой от нижних рядов скан-региона, так
// что потолки и навесы, связанные с опорами, не считаются висящими.
package stability

import (
	"context"

	"go.uber.org/zap"

	"github.com/annel0/voxel-terrain/internal/config"
	"github.com/annel0/voxel-terrain/internal/eventbus"
	"github.com/annel0/voxel-terrain/internal/terrain"
	"github.com/annel0/voxel-terrain/internal/vec"
)

// Resolver выполняет проверку устойчивости над полем и слоем правок.
type Resolver struct {
	field *terrain.Field
	mods  *terrain.ModificationLayer
	grid  config.GridConfig
	cfg   config.StabilityConfig
	bus   eventbus.EventBus
	log   *zap.Logger
}

// Report — итоги одной проверки.
type Report struct {
	Scanned            int // вокселей в скан-регионе
	Solid              int
	Grounded           int
	FloatingComponents int // компонент без опоры, включая пропущенные
	ComponentsDropped  int
	VoxelsMoved        int        // перемещённых записей слоя
	Touched            []vec.Vec3 // чанки, требующие ремешинга
}

// NewResolver создаёт проверку. Шина и логгер опциональны.
func NewResolver(field *terrain.Field, mods *terrain.ModificationLayer, grid config.GridConfig,
	cfg config.StabilityConfig, bus eventbus.EventBus, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{field: field, mods: mods, grid: grid, cfg: cfg, bus: bus, log: log}
}

// region — плотная решётка скан-региона. Локальный индекс считается как
// (y*nz+z)*nx+x.
type region struct {
	x0, z0     int
	nx, ny, nz int
	solid      []bool
	grounded   []bool
}

func (r *region) index(x, y, z int) int { return (y*r.nz+z)*r.nx + x }

func (r *region) voxel(idx int) vec.Vec3 {
	x := idx % r.nx
	rest := idx / r.nx
	z := rest % r.nz
	y := rest / r.nz
	return vec.Vec3{X: r.x0 + x, Y: y, Z: r.z0 + z}
}

// scanMargin возвращает горизонтальный запас скан-региона вокруг
// отпечатка.
func scanMargin(extent int, cfg config.StabilityConfig) int {
	m := extent * 2
	if m < cfg.MarginMin {
		m = cfg.MarginMin
	}
	if m > cfg.MarginMax {
		m = cfg.MarginMax
	}
	return m
}

// Resolve запускает проверку для зафиксированного отпечатка кисти.
// Пустой отпечаток и регион без единого опорного вокселя считаются
// no-op: лучше не трогать террейн, чем уронить легитимный рельеф.
func (r *Resolver) Resolve(ctx context.Context, fp terrain.Footprint) Report {
	var rep Report
	if fp.Empty() {
		return rep
	}

	min, max := fp.Bounds()
	margin := scanMargin(fp.Extent(), r.cfg)
	reg := &region{
		x0: min.X - margin,
		z0: min.Y - margin,
		nx: max.X - min.X + 1 + margin*2,
		ny: r.grid.WorldHeight,
		nz: max.Y - min.Y + 1 + margin*2,
	}
	reg.solid = make([]bool, reg.nx*reg.ny*reg.nz)
	reg.grounded = make([]bool, len(reg.solid))
	rep.Scanned = len(reg.solid)

	snap := r.mods.Snapshot()
	defer snap.Release()

	r.fillSolid(reg, snap, &rep)
	seeds := r.floodGrounded(reg, &rep)
	if seeds == 0 {
		r.log.Debug("🪨 В скан-регионе нет опоры, проверка пропущена",
			zap.Int("scanned", rep.Scanned), zap.Int("solid", rep.Solid))
		return rep
	}

	set := make(map[vec.Vec3]terrain.VoxelMod)
	var sources []vec.Vec3
	visited := make([]bool, len(reg.solid))
	for idx := range reg.solid {
		if !reg.solid[idx] || reg.grounded[idx] || visited[idx] {
			continue
		}
		component := collectComponent(reg, visited, idx)
		rep.FloatingComponents++

		if !r.componentEdited(component, reg, snap) {
			continue // артефакт границы скана, не настоящая висящая масса
		}
		drop := r.componentDrop(component, reg)
		if drop <= 0 {
			continue
		}
		rep.ComponentsDropped++
		rep.VoxelsMoved += r.moveComponent(component, reg, snap, drop, set, &sources)
	}

	if len(set) == 0 && len(sources) == 0 {
		return rep
	}

	// Источник стирается, только если на него не приземлилась чужая
	// запись: совпадение решается последней записью.
	removes := make([]vec.Vec3, 0, len(sources))
	touched := make([]vec.Vec3, 0, len(sources)+len(set))
	for _, src := range sources {
		touched = append(touched, src)
		if _, isDst := set[src]; !isDst {
			removes = append(removes, src)
		}
	}
	for dst := range set {
		touched = append(touched, dst)
	}

	version := r.mods.Apply(set, removes)
	rep.Touched = terrain.TouchedChunks(touched, r.grid.Resolution)

	r.log.Info("🪨 Висящая масса опущена",
		zap.Int("components", rep.ComponentsDropped),
		zap.Int("moved", rep.VoxelsMoved),
		zap.Int("chunks", len(rep.Touched)),
		zap.Uint64("version", version))
	r.publish(ctx, eventbus.NewEnvelope("stability", eventbus.EventCollapseResolved,
		eventbus.PriorityHigh, eventbus.CollapseResolvedPayload{
			Components: rep.ComponentsDropped,
			Touched:    rep.Touched,
		}))
	return rep
}

// fillSolid размечает твёрдые воксели: SDF с правками в центре вокселя
// строго отрицателен.
func (r *Resolver) fillSolid(reg *region, snap *terrain.LayerSnapshot, rep *Report) {
	vs := r.grid.VoxelSize
	for y := 0; y < reg.ny; y++ {
		for z := 0; z < reg.nz; z++ {
			for x := 0; x < reg.nx; x++ {
				wx := float32(reg.x0+x) * vs
				wy := float32(y) * vs
				wz := float32(reg.z0+z) * vs
				if r.field.SampleWithMods(wx, wy, wz, snap) < 0 {
					reg.solid[reg.index(x, y, z)] = true
					rep.Solid++
				}
			}
		}
	}
}

// floodGrounded заливает опору шестисвязным обходом из твёрдых вокселей
// нижних рядов. Боковые и верхняя границы региона семенами не являются.
func (r *Resolver) floodGrounded(reg *region, rep *Report) int {
	seedRows := r.cfg.SeedRows
	if seedRows <= 0 {
		seedRows = 1
	}
	if seedRows > reg.ny {
		seedRows = reg.ny
	}

	queue := make([]int, 0, reg.nx*reg.nz*seedRows)
	for y := 0; y < seedRows; y++ {
		for z := 0; z < reg.nz; z++ {
			for x := 0; x < reg.nx; x++ {
				idx := reg.index(x, y, z)
				if reg.solid[idx] && !reg.grounded[idx] {
					reg.grounded[idx] = true
					queue = append(queue, idx)
				}
			}
		}
	}
	seeds := len(queue)

	for len(queue) > 0 {
		idx := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		v := reg.voxel(idx)
		for _, off := range vec.Neighbors6 {
			n := v.Add(off)
			lx := n.X - reg.x0
			lz := n.Z - reg.z0
			if lx < 0 || lx >= reg.nx || n.Y < 0 || n.Y >= reg.ny || lz < 0 || lz >= reg.nz {
				continue
			}
			nIdx := reg.index(lx, n.Y, lz)
			if reg.solid[nIdx] && !reg.grounded[nIdx] {
				reg.grounded[nIdx] = true
				queue = append(queue, nIdx)
			}
		}
	}

	for _, g := range reg.grounded {
		if g {
			rep.Grounded++
		}
	}
	return seeds
}

// collectComponent собирает шестисвязную компоненту твёрдых вокселей
// без опоры, начиная с idx.
func collectComponent(reg *region, visited []bool, idx int) []int {
	visited[idx] = true
	component := []int{idx}
	queue := []int{idx}
	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		v := reg.voxel(cur)
		for _, off := range vec.Neighbors6 {
			n := v.Add(off)
			lx := n.X - reg.x0
			lz := n.Z - reg.z0
			if lx < 0 || lx >= reg.nx || n.Y < 0 || n.Y >= reg.ny || lz < 0 || lz >= reg.nz {
				continue
			}
			nIdx := reg.index(lx, n.Y, lz)
			if reg.solid[nIdx] && !reg.grounded[nIdx] && !visited[nIdx] {
				visited[nIdx] = true
				component = append(component, nIdx)
				queue = append(queue, nIdx)
			}
		}
	}
	return component
}

// componentEdited проверяет, содержит ли компонента хотя бы один воксель
// с записью в слое правок.
func (r *Resolver) componentEdited(component []int, reg *region, snap *terrain.LayerSnapshot) bool {
	for _, idx := range component {
		if _, ok := snap.Get(reg.voxel(idx)); ok {
			return true
		}
	}
	return false
}

// componentDrop вычисляет безопасную дистанцию падения: по каждой
// XZ-колонке компоненты берётся зазор до ближайшей опоры снизу, итог —
// минимум по колонкам, чтобы не пробить поддержку.
func (r *Resolver) componentDrop(component []int, reg *region) int {
	lowest := make(map[[2]int]int)
	for _, idx := range component {
		v := reg.voxel(idx)
		key := [2]int{v.X - reg.x0, v.Z - reg.z0}
		if y, ok := lowest[key]; !ok || v.Y < y {
			lowest[key] = v.Y
		}
	}

	drop := reg.ny
	for key, lowY := range lowest {
		columnDrop := lowY // до пола региона, если опоры нет
		for y := lowY - 1; y >= 0; y-- {
			if reg.grounded[reg.index(key[0], y, key[1])] {
				columnDrop = lowY - (y + 1)
				break
			}
		}
		if columnDrop < drop {
			drop = columnDrop
		}
	}
	return drop
}

// moveComponent переносит записи слоя компоненты на drop вокселей вниз.
// Для каждой записи читается текущий визуальный SDF источника, затем
// формула смешивания обращается против процедурного значения точки
// назначения, чтобы на новом месте воспроизвести ту же видимую величину.
func (r *Resolver) moveComponent(component []int, reg *region, snap *terrain.LayerSnapshot,
	drop int, set map[vec.Vec3]terrain.VoxelMod, sources *[]vec.Vec3) int {
	vs := r.grid.VoxelSize
	moved := 0
	for _, idx := range component {
		src := reg.voxel(idx)
		mod, ok := snap.Get(src)
		if !ok {
			continue // воксель твёрд только за счёт шума, записи нет
		}
		dst := vec.Vec3{X: src.X, Y: src.Y - drop, Z: src.Z}

		visual := r.field.SampleWithMods(float32(src.X)*vs, float32(src.Y)*vs, float32(src.Z)*vs, snap)
		baseDst := r.field.Sample(float32(dst.X)*vs, float32(dst.Y)*vs, float32(dst.Z)*vs)
		blend := mod.Blend
		if blend > 1 {
			blend = 1
		}
		if blend <= 0 {
			blend = 1 // запись без веса переносится как полная
		}
		set[dst] = terrain.VoxelMod{
			SDFDelta: (visual - baseDst) / blend,
			Blend:    blend,
			Texture:  mod.Texture,
		}
		*sources = append(*sources, src)
		moved++
	}
	return moved
}

func (r *Resolver) publish(ctx context.Context, ev *eventbus.Envelope) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, ev); err != nil {
		r.log.Warn("🪨 Событие обвала не опубликовано", zap.Error(err))
	}
}
