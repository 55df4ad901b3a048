package regressor

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

type loss int

const (
	squaredError loss = iota
	absoluteError
)

// GBDT is a fitted gradient-boosted tree ensemble.
type GBDT struct {
	Kind         Backend `json:"backend"`
	Init         float64 `json:"init"`
	LearningRate float64 `json:"learning_rate"`
	Features     int     `json:"features"`
	Trees        []Tree  `json:"trees"`
}

func (m *GBDT) Backend() Backend { return m.Kind }

// Predict returns one prediction per row of X.
func (m *GBDT) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = m.predictRow(x)
	}
	return out
}

func (m *GBDT) predictRow(x []float64) float64 {
	v := m.Init
	for i := range m.Trees {
		v += m.LearningRate * m.Trees[i].Predict(x)
	}
	return v
}

type booster struct {
	backend Backend
	params  Params
	growth  growth
	loss    loss
}

func (b *booster) Backend() Backend { return b.backend }

func (b *booster) minRows() int {
	n := 2 * b.params.MinSamplesLeaf
	if n < 10 {
		n = 10
	}
	return n
}

// Fit boosts trees on the negative gradient of the loss. Squared error
// fits residuals; absolute error fits their sign and sets each leaf to the
// median residual of its rows.
func (b *booster) Fit(X [][]float64, y []float64) (Model, error) {
	d, err := checkShape(X, y)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.backend, err)
	}
	n := len(y)
	if n < b.minRows() {
		return nil, fmt.Errorf("%s: %d rows, need %d: %w", b.backend, n, b.minRows(), ErrInsufficientData)
	}

	p := b.params
	if p.Rounds <= 0 {
		return nil, fmt.Errorf("%s: rounds must be positive", b.backend)
	}
	rng := rand.New(rand.NewSource(p.Seed))
	bn := newBinner(X, p.MaxBins)
	bins := bn.transform(X)

	m := &GBDT{Kind: b.backend, LearningRate: p.LearningRate, Features: d}
	if b.loss == absoluteError {
		m.Init = median(y)
	} else {
		m.Init = mean(y)
	}

	F := make([]float64, n)
	for i := range F {
		F[i] = m.Init
	}
	grad := make([]float64, n)
	resid := make([]float64, n)

	for round := 0; round < p.Rounds; round++ {
		for i := range y {
			resid[i] = y[i] - F[i]
			if b.loss == absoluteError {
				grad[i] = sign(resid[i])
			} else {
				grad[i] = resid[i]
			}
		}

		g := &grower{
			bins:     bins,
			cuts:     bn.cuts,
			grad:     grad,
			features: sampleIndices(rng, d, p.Colsample),
			params:   p,
		}
		if b.loss == absoluteError {
			g.params.Lambda = 0
			g.leaf = func(rows []int) float64 { return medianOf(resid, rows) }
		} else {
			g.leaf = func(rows []int) float64 {
				if len(rows) == 0 {
					return 0
				}
				return g.total(rows) / (float64(len(rows)) + p.Lambda)
			}
		}

		tree := g.grow(b.growth, sampleIndices(rng, n, p.Subsample))
		for i, x := range X {
			F[i] += p.LearningRate * tree.Predict(x)
		}
		m.Trees = append(m.Trees, tree)
	}
	return m, nil
}

// sampleIndices draws round(frac*n) indices without replacement, sorted.
// frac >= 1 returns all indices without consuming randomness.
func sampleIndices(rng *rand.Rand, n int, frac float64) []int {
	if frac <= 0 || frac >= 1 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	k := int(math.Round(frac * float64(n)))
	if k < 1 {
		k = 1
	}
	out := rng.Perm(n)[:k]
	sort.Ints(out)
	return out
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}

func median(x []float64) float64 {
	rows := make([]int, len(x))
	for i := range rows {
		rows[i] = i
	}
	return medianOf(x, rows)
}

func medianOf(x []float64, rows []int) float64 {
	if len(rows) == 0 {
		return 0
	}
	vals := make([]float64, len(rows))
	for i, r := range rows {
		vals[i] = x[r]
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}
