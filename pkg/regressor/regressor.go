package regressor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInsufficientData is returned by Fit when there are too few rows for
// the backend. Callers fall through to the next backend.
var ErrInsufficientData = errors.New("insufficient training data")

// Backend identifies a regression implementation.
type Backend string

const (
	// Auto tries LightGBM, XGBoost, CatBoost and GBR in order.
	Auto     Backend = "auto"
	LightGBM Backend = "lgbm"
	XGBoost  Backend = "xgb"
	CatBoost Backend = "cat"
	// GBR is gradient boosting with absolute-error loss.
	GBR   Backend = "gbr"
	Ridge Backend = "ridge"
)

// Priority is the order Auto tries backends in.
var Priority = []Backend{LightGBM, XGBoost, CatBoost, GBR}

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case Auto, LightGBM, XGBoost, CatBoost, GBR, Ridge:
		return b, nil
	case "":
		return Auto, nil
	default:
		return "", fmt.Errorf("unknown regressor backend %q", s)
	}
}

// Model is a fitted regressor.
type Model interface {
	Predict(X [][]float64) []float64
	Backend() Backend
}

// Regressor fits a Model on a feature matrix. Rows of X are samples.
type Regressor interface {
	Fit(X [][]float64, y []float64) (Model, error)
	Backend() Backend
}

// New returns the regressor for a concrete backend.
func New(b Backend, p Params) (Regressor, error) {
	switch b {
	case LightGBM:
		return &booster{backend: b, params: p, growth: leafWise, loss: squaredError}, nil
	case XGBoost:
		return &booster{backend: b, params: p, growth: depthWise, loss: squaredError}, nil
	case CatBoost:
		return &booster{backend: b, params: p, growth: oblivious, loss: squaredError}, nil
	case GBR:
		return &booster{backend: b, params: p, growth: depthWise, loss: absoluteError}, nil
	case Ridge:
		return &ridge{alpha: p.Lambda}, nil
	default:
		return nil, fmt.Errorf("backend %q has no direct regressor", b)
	}
}

// Params are the hyperparameters shared by the boosted backends. Ridge
// only reads Lambda.
type Params struct {
	Rounds         int     `json:"rounds" yaml:"rounds"`
	LearningRate   float64 `json:"learning_rate" yaml:"learning_rate"`
	NumLeaves      int     `json:"num_leaves" yaml:"num_leaves"`
	MaxDepth       int     `json:"max_depth" yaml:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	Subsample      float64 `json:"subsample" yaml:"subsample"`
	Colsample      float64 `json:"colsample" yaml:"colsample"`
	Lambda         float64 `json:"lambda" yaml:"lambda"`
	MinGain        float64 `json:"min_gain" yaml:"min_gain"`
	MaxBins        int     `json:"max_bins" yaml:"max_bins"`
	Seed           int64   `json:"seed" yaml:"seed"`
}

// DefaultParams returns the stock hyperparameters of a backend.
func DefaultParams(b Backend, seed int64) Params {
	switch b {
	case XGBoost:
		return Params{Rounds: 400, LearningRate: 0.05, MaxDepth: 6, MinSamplesLeaf: 1,
			Subsample: 0.8, Colsample: 0.8, Lambda: 1, MaxBins: 64, Seed: seed}
	case CatBoost:
		return Params{Rounds: 500, LearningRate: 0.05, MaxDepth: 6, MinSamplesLeaf: 1,
			Subsample: 0.8, Colsample: 1, Lambda: 3, MaxBins: 64, Seed: seed}
	case GBR:
		return Params{Rounds: 300, LearningRate: 0.05, MaxDepth: 3, MinSamplesLeaf: 1,
			Subsample: 1, Colsample: 1, MaxBins: 64, Seed: seed}
	case Ridge:
		return Params{Lambda: 1, Seed: seed}
	default:
		return Params{Rounds: 400, LearningRate: 0.05, NumLeaves: 31, MaxDepth: -1, MinSamplesLeaf: 5,
			Subsample: 0.8, Colsample: 0.8, MaxBins: 64, Seed: seed}
	}
}

func checkShape(X [][]float64, y []float64) (int, error) {
	if len(X) != len(y) {
		return 0, fmt.Errorf("feature rows (%d) and targets (%d) differ", len(X), len(y))
	}
	if len(X) == 0 {
		return 0, ErrInsufficientData
	}
	d := len(X[0])
	for i, row := range X {
		if len(row) != d {
			return 0, fmt.Errorf("row %d has %d features, want %d", i, len(row), d)
		}
	}
	return d, nil
}
