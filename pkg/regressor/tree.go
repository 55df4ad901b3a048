package regressor

import (
	"sort"
)

// Node is one tree node. Left == 0 marks a leaf; the root is node 0 and is
// never a child.
type Node struct {
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

// Tree is a binary regression tree. Samples with x[Feature] <= Threshold
// go left.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks x down to a leaf.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Left == 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Leaves counts leaf nodes.
func (t *Tree) Leaves() int {
	c := 0
	for _, n := range t.Nodes {
		if n.Left == 0 {
			c++
		}
	}
	return c
}

type growth int

const (
	leafWise growth = iota
	depthWise
	oblivious
)

// binner discretizes every feature into at most maxBins quantile bins.
// cuts[f] holds ascending thresholds; bin b covers values <= cuts[f][b].
type binner struct {
	cuts [][]float64
}

func newBinner(X [][]float64, maxBins int) *binner {
	if maxBins < 2 {
		maxBins = 2
	}
	d := len(X[0])
	b := &binner{cuts: make([][]float64, d)}
	col := make([]float64, len(X))
	for f := 0; f < d; f++ {
		for i, row := range X {
			col[i] = row[f]
		}
		b.cuts[f] = quantileCuts(col, maxBins)
	}
	return b
}

func quantileCuts(col []float64, maxBins int) []float64 {
	vals := append([]float64(nil), col...)
	sort.Float64s(vals)
	distinct := vals[:0]
	for i, v := range vals {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) < 2 {
		return nil
	}

	var cuts []float64
	if len(distinct) <= maxBins {
		for i := 1; i < len(distinct); i++ {
			cuts = append(cuts, (distinct[i-1]+distinct[i])/2)
		}
		return cuts
	}
	for k := 1; k < maxBins; k++ {
		i := k * len(distinct) / maxBins
		c := (distinct[i-1] + distinct[i]) / 2
		if len(cuts) == 0 || c > cuts[len(cuts)-1] {
			cuts = append(cuts, c)
		}
	}
	return cuts
}

// transform returns feature-major bin indices.
func (b *binner) transform(X [][]float64) [][]uint16 {
	out := make([][]uint16, len(b.cuts))
	for f, cuts := range b.cuts {
		out[f] = make([]uint16, len(X))
		for i, row := range X {
			out[f][i] = uint16(sort.SearchFloat64s(cuts, row[f]))
		}
	}
	return out
}

type split struct {
	feature int
	bin     int
	gain    float64
	ok      bool
}

// grower fits one tree to grad over the sampled rows and features.
type grower struct {
	bins     [][]uint16
	cuts     [][]float64
	grad     []float64
	features []int
	params   Params
	leaf     func(rows []int) float64
}

func (g *grower) threshold(s split) float64 { return g.cuts[s.feature][s.bin] }

func (g *grower) score(sum float64, n int) float64 {
	denom := float64(n) + g.params.Lambda
	if n == 0 || denom <= 0 {
		return 0
	}
	return sum * sum / denom
}

func (g *grower) histogram(rows []int, f int) ([]float64, []int) {
	nb := len(g.cuts[f]) + 1
	sum := make([]float64, nb)
	cnt := make([]int, nb)
	col := g.bins[f]
	for _, r := range rows {
		b := col[r]
		sum[b] += g.grad[r]
		cnt[b]++
	}
	return sum, cnt
}

func (g *grower) total(rows []int) float64 {
	s := 0.0
	for _, r := range rows {
		s += g.grad[r]
	}
	return s
}

func (g *grower) minGain() float64 {
	if g.params.MinGain > 1e-12 {
		return g.params.MinGain
	}
	return 1e-12
}

func (g *grower) bestSplit(rows []int) split {
	minLeaf := g.params.MinSamplesLeaf
	if minLeaf < 1 {
		minLeaf = 1
	}
	n := len(rows)
	best := split{}
	if n < 2*minLeaf {
		return best
	}
	G := g.total(rows)
	parent := g.score(G, n)

	for _, f := range g.features {
		if len(g.cuts[f]) == 0 {
			continue
		}
		sum, cnt := g.histogram(rows, f)
		gl, nl := 0.0, 0
		for b := 0; b < len(sum)-1; b++ {
			gl += sum[b]
			nl += cnt[b]
			if nl < minLeaf {
				continue
			}
			nr := n - nl
			if nr < minLeaf {
				break
			}
			gain := g.score(gl, nl) + g.score(G-gl, nr) - parent
			if gain > best.gain {
				best = split{feature: f, bin: b, gain: gain}
			}
		}
	}
	best.ok = best.gain > g.minGain()
	return best
}

func (g *grower) partition(rows []int, s split) (left, right []int) {
	col := g.bins[s.feature]
	for _, r := range rows {
		if int(col[r]) <= s.bin {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	return left, right
}

func (g *grower) grow(kind growth, rows []int) Tree {
	switch kind {
	case leafWise:
		return g.growLeafWise(rows)
	case oblivious:
		return g.growOblivious(rows)
	default:
		return g.growDepthWise(rows)
	}
}

// growLeafWise repeatedly splits the leaf with the largest gain until
// NumLeaves is reached.
func (g *grower) growLeafWise(rows []int) Tree {
	type candidate struct {
		node  int
		rows  []int
		depth int
		split split
	}

	t := Tree{Nodes: []Node{{}}}
	open := []candidate{{node: 0, rows: rows, split: g.bestSplit(rows)}}

	maxLeaves := g.params.NumLeaves
	if maxLeaves < 2 {
		maxLeaves = 2
	}
	for leaves := 1; leaves < maxLeaves; leaves++ {
		pick := -1
		for i, c := range open {
			if !c.split.ok {
				continue
			}
			if g.params.MaxDepth > 0 && c.depth >= g.params.MaxDepth {
				continue
			}
			if pick < 0 || c.split.gain > open[pick].split.gain {
				pick = i
			}
		}
		if pick < 0 {
			break
		}
		c := open[pick]
		open = append(open[:pick], open[pick+1:]...)

		left, right := g.partition(c.rows, c.split)
		li := len(t.Nodes)
		t.Nodes = append(t.Nodes, Node{}, Node{})
		t.Nodes[c.node] = Node{Feature: c.split.feature, Threshold: g.threshold(c.split), Left: li, Right: li + 1}
		open = append(open,
			candidate{node: li, rows: left, depth: c.depth + 1, split: g.bestSplit(left)},
			candidate{node: li + 1, rows: right, depth: c.depth + 1, split: g.bestSplit(right)},
		)
	}

	for _, c := range open {
		t.Nodes[c.node].Value = g.leaf(c.rows)
	}
	return t
}

// growDepthWise splits every node level by level down to MaxDepth.
func (g *grower) growDepthWise(rows []int) Tree {
	t := Tree{Nodes: []Node{{}}}
	maxDepth := g.params.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 6
	}

	var grow func(node int, rows []int, depth int)
	grow = func(node int, rows []int, depth int) {
		if depth < maxDepth {
			if s := g.bestSplit(rows); s.ok {
				left, right := g.partition(rows, s)
				li := len(t.Nodes)
				t.Nodes = append(t.Nodes, Node{}, Node{})
				t.Nodes[node] = Node{Feature: s.feature, Threshold: g.threshold(s), Left: li, Right: li + 1}
				grow(li, left, depth+1)
				grow(li+1, right, depth+1)
				return
			}
		}
		t.Nodes[node].Value = g.leaf(rows)
	}
	grow(0, rows, 0)
	return t
}

// growOblivious uses one (feature, threshold) pair per level across all
// nodes of that level, so the tree is symmetric.
func (g *grower) growOblivious(rows []int) Tree {
	maxDepth := g.params.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 6
	}

	parts := [][]int{rows}
	var levels []split
	for depth := 0; depth < maxDepth; depth++ {
		best := split{}
		for _, f := range g.features {
			nb := len(g.cuts[f]) + 1
			if nb < 2 {
				continue
			}
			gains := make([]float64, nb-1)
			for _, part := range parts {
				sum, cnt := g.histogram(part, f)
				G, n := 0.0, 0
				for b := range sum {
					G += sum[b]
					n += cnt[b]
				}
				parent := g.score(G, n)
				gl, nl := 0.0, 0
				for b := 0; b < nb-1; b++ {
					gl += sum[b]
					nl += cnt[b]
					gains[b] += g.score(gl, nl) + g.score(G-gl, n-nl) - parent
				}
			}
			for b, gain := range gains {
				if gain > best.gain {
					best = split{feature: f, bin: b, gain: gain}
				}
			}
		}
		if best.gain <= g.minGain() {
			break
		}
		best.ok = true
		levels = append(levels, best)

		next := make([][]int, 0, 2*len(parts))
		for _, part := range parts {
			l, r := g.partition(part, best)
			next = append(next, l, r)
		}
		parts = next
	}

	t := Tree{}
	var build func(depth, part int) int
	build = func(depth, part int) int {
		idx := len(t.Nodes)
		t.Nodes = append(t.Nodes, Node{})
		if depth == len(levels) {
			t.Nodes[idx].Value = g.leaf(parts[part])
			return idx
		}
		s := levels[depth]
		l := build(depth+1, 2*part)
		r := build(depth+1, 2*part+1)
		t.Nodes[idx] = Node{Feature: s.feature, Threshold: g.threshold(s), Left: l, Right: r}
		return idx
	}
	build(0, 0)
	return t
}
