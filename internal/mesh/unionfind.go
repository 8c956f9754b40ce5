package mesh

// UnionFind — система непересекающихся множеств для группировки связных
// треугольников. Find итеративный: сначала подъём к корню, затем вторым
// проходом сжатие пути; объединение по рангу.
type UnionFind struct {
	parent []int
	rank   []uint8
	comps  int
}

// NewUnionFind создаёт n одиночных множеств.
func NewUnionFind(n int) *UnionFind {
	uf := &UnionFind{
		parent: make([]int, n),
		rank:   make([]uint8, n),
		comps:  n,
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

// Find возвращает корень множества элемента x.
func (uf *UnionFind) Find(x int) int {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		uf.parent[x], x = root, uf.parent[x]
	}
	return root
}

// Union объединяет множества элементов a и b.
func (uf *UnionFind) Union(a, b int) {
	ra, rb := uf.Find(a), uf.Find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
	uf.comps--
}

// Connected проверяет, лежат ли элементы в одном множестве.
func (uf *UnionFind) Connected(a, b int) bool {
	return uf.Find(a) == uf.Find(b)
}

// Components возвращает число оставшихся множеств.
func (uf *UnionFind) Components() int { return uf.comps }

// Sizes возвращает размер множества для каждого корня.
func (uf *UnionFind) Sizes() map[int]int {
	sizes := make(map[int]int)
	for i := range uf.parent {
		sizes[uf.Find(i)]++
	}
	return sizes
}
