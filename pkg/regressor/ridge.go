package regressor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// RidgeModel is an L2-regularized linear model fitted on standardized
// features. Coef is expressed in the original feature scale.
type RidgeModel struct {
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
}

func (m *RidgeModel) Backend() Backend { return Ridge }

func (m *RidgeModel) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		v := m.Intercept
		for j, c := range m.Coef {
			v += c * x[j]
		}
		out[i] = v
	}
	return out
}

type ridge struct {
	alpha float64
}

func (r *ridge) Backend() Backend { return Ridge }

// Fit solves (XᵀX + αI)w = Xᵀy on centred, scaled columns with a Cholesky
// factorization. Constant columns get a zero coefficient.
func (r *ridge) Fit(X [][]float64, y []float64) (Model, error) {
	d, err := checkShape(X, y)
	if err != nil {
		return nil, fmt.Errorf("ridge: %w", err)
	}
	n := len(y)
	if n < 2 {
		return nil, fmt.Errorf("ridge: %d rows: %w", n, ErrInsufficientData)
	}
	if d == 0 {
		return &RidgeModel{Intercept: stat.Mean(y, nil)}, nil
	}
	alpha := r.alpha
	if alpha <= 0 {
		alpha = 1e-6
	}

	means := make([]float64, d)
	scales := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		means[j], scales[j] = stat.MeanStdDev(col, nil)
		if scales[j] == 0 {
			scales[j] = 1
		}
	}

	xs := mat.NewDense(n, d, nil)
	for i, row := range X {
		for j, v := range row {
			xs.Set(i, j, (v-means[j])/scales[j])
		}
	}
	ymean := stat.Mean(y, nil)
	yc := mat.NewVecDense(n, nil)
	for i, v := range y {
		yc.SetVec(i, v-ymean)
	}

	gram := mat.NewSymDense(d, nil)
	gram.SymOuterK(1, xs.T())
	for j := 0; j < d; j++ {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(xs.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, errors.New("ridge: gram matrix is not positive definite")
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return nil, fmt.Errorf("ridge: solve: %w", err)
	}

	m := &RidgeModel{Intercept: ymean, Coef: make([]float64, d)}
	for j := 0; j < d; j++ {
		m.Coef[j] = w.AtVec(j) / scales[j]
		m.Intercept -= m.Coef[j] * means[j]
	}
	return m, nil
}
