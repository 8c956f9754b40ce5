package extract

import (
	"github.com/go-gl/mathgl/mgl32"
)

// MarchingTets полигонизует изоповерхность маршем тетраэдров: каждая
// ячейка режется на шесть тетраэдров вокруг главной диагонали (разбиение
// Куна), пересечения рёбер считаются линейной интерполяцией. Разбиение
// одинаково во всех ячейках, поэтому диагонали на общих гранях совпадают
// и меш ячеек сшивается без щелей. Соседние блоки сэмплируют одну и ту же
// решётку — их граничные вершины выходят побайтово близкими, дальше их
// склеивает сварка пайплайна.
type MarchingTets struct{}

// NewMarchingTets возвращает полигонизатор по умолчанию.
func NewMarchingTets() *MarchingTets { return &MarchingTets{} }

// Углы ячейки кодируются битами: бит 0 — x, бит 1 — y, бит 2 — z.
var tetSplit = [6][4]int{
	{0, 1, 3, 7},
	{0, 1, 5, 7},
	{0, 2, 3, 7},
	{0, 2, 6, 7},
	{0, 4, 5, 7},
	{0, 4, 6, 7},
}

// Extract реализует контракт Extractor.
//
// TODO: транзитные ячейки в духе Transvoxel для граней из transitionMask;
// пока маска уходит дальше как провенанс, сшивку LOD-границ делает рендерер.
func (mt *MarchingTets) Extract(sample SampleFunc, block Block, isovalue float32, transitionMask uint8) (Output, error) {
	if err := validateBlock(block); err != nil {
		return Output{}, err
	}

	n := block.Subdivisions
	dim := n + 1
	cs := block.CellSize()

	// Решётка значений поля по углам ячеек. Значения смещены на изоуровень,
	// так что поверхность всегда проходит через ноль.
	values := make([]float32, dim*dim*dim)
	idx := func(x, y, z int) int { return x + y*dim + z*dim*dim }

	anyNeg, anyPos := false, false
	for z := 0; z < dim; z++ {
		wz := block.Origin.Z() + float32(z)*cs
		for y := 0; y < dim; y++ {
			wy := block.Origin.Y() + float32(y)*cs
			for x := 0; x < dim; x++ {
				wx := block.Origin.X() + float32(x)*cs
				v := sample(wx, wy, wz) - isovalue
				values[idx(x, y, z)] = v
				if v < 0 {
					anyNeg = true
				} else {
					anyPos = true
				}
			}
		}
	}

	// Блок целиком в породе или в воздухе: пустой меш — валидный результат.
	if !anyNeg || !anyPos {
		return Output{}, nil
	}

	st := &tetState{
		block:  block,
		cs:     cs,
		dim:    dim,
		values: values,
		cache:  make(map[[2]int32]uint32),
	}

	var corners [8]int32
	var vals [8]float32
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				for c := 0; c < 8; c++ {
					cx := x + (c & 1)
					cy := y + (c >> 1 & 1)
					cz := z + (c >> 2 & 1)
					gi := int32(idx(cx, cy, cz))
					corners[c] = gi
					vals[c] = values[gi]
				}
				for _, tet := range tetSplit {
					st.emitTet(corners, vals, tet)
				}
			}
		}
	}

	out := Output{
		Positions: st.positions,
		Normals:   make([]mgl32.Vec3, len(st.positions)),
		Indices:   st.indices,
	}
	for i, p := range out.Positions {
		out.Normals[i] = gradientNormal(sample, p, cs)
	}
	orientTriangles(&out)
	Sanitize(&out)
	return out, nil
}

// orientTriangles разворачивает грани по градиенту поля: шесть тетраэдров
// разбиения чередуют ориентацию, поэтому сырой порядок обхода даёт
// перемешанный winding. Грань с нормалью против усреднённого градиента
// переворачивается.
func orientTriangles(out *Output) {
	for i := 0; i+2 < len(out.Indices); i += 3 {
		a, b, c := out.Indices[i], out.Indices[i+1], out.Indices[i+2]
		ab := out.Positions[b].Sub(out.Positions[a])
		ac := out.Positions[c].Sub(out.Positions[a])
		grad := out.Normals[a].Add(out.Normals[b]).Add(out.Normals[c])
		if ab.Cross(ac).Dot(grad) < 0 {
			out.Indices[i+1], out.Indices[i+2] = c, b
		}
	}
}

// tetState накапливает вершины и индексы одного блока. Кэш по парам
// глобальных узлов решётки не даёт плодить дубликаты на общих рёбрах.
type tetState struct {
	block  Block
	cs     float32
	dim    int
	values []float32
	cache  map[[2]int32]uint32

	positions []mgl32.Vec3
	indices   []uint32
}

func (st *tetState) emitTet(corners [8]int32, vals [8]float32, tet [4]int) {
	var mask int
	for i, c := range tet {
		if vals[c] < 0 {
			mask |= 1 << i
		}
	}
	if mask == 0 || mask == 0xF {
		return
	}

	inside := make([]int, 0, 3)
	outside := make([]int, 0, 3)
	for i, c := range tet {
		if mask&(1<<i) != 0 {
			inside = append(inside, c)
		} else {
			outside = append(outside, c)
		}
	}

	switch len(inside) {
	case 1:
		a := st.edgeVertex(corners, vals, inside[0], outside[0])
		b := st.edgeVertex(corners, vals, inside[0], outside[1])
		c := st.edgeVertex(corners, vals, inside[0], outside[2])
		st.indices = append(st.indices, a, b, c)
	case 3:
		a := st.edgeVertex(corners, vals, outside[0], inside[0])
		b := st.edgeVertex(corners, vals, outside[0], inside[1])
		c := st.edgeVertex(corners, vals, outside[0], inside[2])
		st.indices = append(st.indices, a, c, b)
	case 2:
		ac := st.edgeVertex(corners, vals, inside[0], outside[0])
		ad := st.edgeVertex(corners, vals, inside[0], outside[1])
		bc := st.edgeVertex(corners, vals, inside[1], outside[0])
		bd := st.edgeVertex(corners, vals, inside[1], outside[1])
		st.indices = append(st.indices, ac, ad, bd)
		st.indices = append(st.indices, ac, bd, bc)
	}
}

// edgeVertex возвращает индекс вершины на ребре (a,b), создавая её при
// первом обращении. Точка пересечения: t = va/(va-vb).
func (st *tetState) edgeVertex(corners [8]int32, vals [8]float32, a, b int) uint32 {
	ga, gb := corners[a], corners[b]
	key := [2]int32{ga, gb}
	if ga > gb {
		key = [2]int32{gb, ga}
	}
	if id, ok := st.cache[key]; ok {
		return id
	}

	va, vb := vals[a], vals[b]
	t := float32(0.5)
	if diff := va - vb; diff != 0 {
		t = va / diff
	}
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	pa := st.latticePoint(ga)
	pb := st.latticePoint(gb)
	pos := pa.Add(pb.Sub(pa).Mul(t))

	id := uint32(len(st.positions))
	st.positions = append(st.positions, pos)
	st.cache[key] = id
	return id
}

func (st *tetState) latticePoint(gi int32) mgl32.Vec3 {
	i := int(gi)
	x := i % st.dim
	y := (i / st.dim) % st.dim
	z := i / (st.dim * st.dim)
	return mgl32.Vec3{
		st.block.Origin.X() + float32(x)*st.cs,
		st.block.Origin.Y() + float32(y)*st.cs,
		st.block.Origin.Z() + float32(z)*st.cs,
	}
}

// gradientNormal — нормаль из центральной разности поля. Вырожденный
// градиент заменяется вектором вверх ещё до общей чистки.
func gradientNormal(sample SampleFunc, p mgl32.Vec3, cs float32) mgl32.Vec3 {
	eps := cs * 0.5
	g := mgl32.Vec3{
		sample(p.X()+eps, p.Y(), p.Z()) - sample(p.X()-eps, p.Y(), p.Z()),
		sample(p.X(), p.Y()+eps, p.Z()) - sample(p.X(), p.Y()-eps, p.Z()),
		sample(p.X(), p.Y(), p.Z()+eps) - sample(p.X(), p.Y(), p.Z()-eps),
	}
	if g.LenSqr() < degenerateNormalSq {
		return defaultUp
	}
	return g.Normalize()
}
