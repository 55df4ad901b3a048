package regressor

import (
	"fmt"
	"math"

	"inbound-forecaster/pkg/evaluation"
)

// LightGBMGrid is the tuning grid: leaves {15,31} x learning rate
// {0.05,0.1} x subsample/colsample {0.8,1.0} x min leaf {5,10}.
func LightGBMGrid(base Params) []Params {
	var grid []Params
	for _, leaves := range []int{15, 31} {
		for _, lr := range []float64{0.05, 0.1} {
			for _, sub := range []float64{0.8, 1.0} {
				for _, minLeaf := range []int{5, 10} {
					p := base
					p.NumLeaves = leaves
					p.LearningRate = lr
					p.Subsample = sub
					p.Colsample = sub
					p.MinSamplesLeaf = minLeaf
					grid = append(grid, p)
				}
			}
		}
	}
	return grid
}

// TuneResult is the winning grid point.
type TuneResult struct {
	Params Params
	MAE    float64
	Tried  int
}

// Tune fits every grid point on the training rows and keeps the one with
// the lowest validation MAE. Ties keep the earlier grid point. Grid points
// that fail to fit are skipped.
func Tune(b Backend, grid []Params, Xtr [][]float64, ytr []float64, Xva [][]float64, yva []float64) (*TuneResult, error) {
	if len(yva) == 0 {
		return nil, fmt.Errorf("tune %s: empty validation set: %w", b, ErrInsufficientData)
	}
	best := &TuneResult{MAE: math.Inf(1)}
	var lastErr error
	for _, p := range grid {
		r, err := New(b, p)
		if err != nil {
			return nil, err
		}
		m, err := r.Fit(Xtr, ytr)
		if err != nil {
			lastErr = err
			continue
		}
		best.Tried++
		if mae := evaluation.MAE(yva, m.Predict(Xva)); mae < best.MAE {
			best.MAE = mae
			best.Params = p
		}
	}
	if best.Tried == 0 {
		return nil, fmt.Errorf("tune %s: no grid point fit: %w", b, lastErr)
	}
	return best, nil
}
