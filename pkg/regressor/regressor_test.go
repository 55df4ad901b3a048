package regressor

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"

	"inbound-forecaster/pkg/evaluation"
)

// stepData has a piecewise-constant target driven by feature 0 and a
// linear term on feature 1; feature 2 is noise.
func stepData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		a, b, c := rng.Float64()*10, rng.Float64()*5, rng.Float64()
		X[i] = []float64{a, b, c}
		y[i] = 2 * b
		if a > 5 {
			y[i] += 20
		}
	}
	return X, y
}

func TestBoostedBackends_LearnStepFunction(t *testing.T) {
	Xtr, ytr := stepData(300, 1)
	Xte, yte := stepData(100, 2)

	for _, b := range []Backend{LightGBM, XGBoost, CatBoost, GBR} {
		t.Run(string(b), func(t *testing.T) {
			r, err := New(b, DefaultParams(b, 42))
			if err != nil {
				t.Fatalf("New(%s) failed: %v", b, err)
			}
			m, err := r.Fit(Xtr, ytr)
			if err != nil {
				t.Fatalf("Fit failed: %v", err)
			}
			if m.Backend() != b {
				t.Errorf("model backend = %s, want %s", m.Backend(), b)
			}
			mae := evaluation.MAE(yte, m.Predict(Xte))
			// The target has a standard deviation above 10.
			if mae > 3 {
				t.Errorf("test MAE too high: %.3f", mae)
			}
		})
	}
}

func TestRidge_RecoversLinearModel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	X := make([][]float64, 200)
	y := make([]float64, 200)
	for i := range X {
		a, b := rng.Float64()*10, rng.Float64()*100
		X[i] = []float64{a, b, 7}
		y[i] = 3*a - 0.5*b + 4
	}
	r, _ := New(Ridge, Params{Lambda: 1e-6})
	m, err := r.Fit(X, y)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	rm := m.(*RidgeModel)
	if math.Abs(rm.Coef[0]-3) > 1e-3 || math.Abs(rm.Coef[1]+0.5) > 1e-3 {
		t.Errorf("unexpected coefficients %v", rm.Coef)
	}
	if rm.Coef[2] != 0 {
		t.Errorf("constant column should get a zero coefficient, got %v", rm.Coef[2])
	}
	if math.Abs(rm.Intercept-4) > 1e-2 {
		t.Errorf("intercept = %v, want 4", rm.Intercept)
	}
}

func TestFit_InsufficientData(t *testing.T) {
	X, y := stepData(4, 1)
	r, _ := New(LightGBM, DefaultParams(LightGBM, 42))
	if _, err := r.Fit(X, y); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
	r, _ = New(Ridge, DefaultParams(Ridge, 42))
	if _, err := r.Fit(X[:1], y[:1]); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData from ridge, got %v", err)
	}
	if _, err := r.Fit(X, y[:2]); err == nil {
		t.Error("expected a shape error")
	}
}

func TestChain_FallsBackToRidge(t *testing.T) {
	X, y := stepData(6, 5)
	c := NewChain(Auto, 42, nil)

	var failed []Backend
	c.OnFallback = func(b Backend, err error) {
		if !errors.Is(err, ErrInsufficientData) {
			t.Errorf("unexpected error from %s: %v", b, err)
		}
		failed = append(failed, b)
	}
	m, err := c.Fit(X, y)
	if err != nil {
		t.Fatalf("Chain.Fit failed: %v", err)
	}
	if m.Backend() != Ridge {
		t.Errorf("expected ridge fallback, got %s", m.Backend())
	}
	want := []Backend{LightGBM, XGBoost, CatBoost, GBR}
	if len(failed) != len(want) {
		t.Fatalf("expected fallbacks %v, got %v", want, failed)
	}
	for i := range want {
		if failed[i] != want[i] {
			t.Errorf("fallback %d = %s, want %s", i, failed[i], want[i])
		}
	}
}

func TestChain_Order(t *testing.T) {
	tests := []struct {
		primary Backend
		want    []Backend
	}{
		{Auto, []Backend{LightGBM, XGBoost, CatBoost, GBR, Ridge}},
		{GBR, []Backend{GBR, Ridge}},
		{Ridge, []Backend{Ridge}},
	}
	for _, tt := range tests {
		t.Run(string(tt.primary), func(t *testing.T) {
			c := NewChain(tt.primary, 42, nil)
			if len(c.Backends) != len(tt.want) {
				t.Fatalf("order = %v, want %v", c.Backends, tt.want)
			}
			for i := range tt.want {
				if c.Backends[i] != tt.want[i] {
					t.Errorf("order = %v, want %v", c.Backends, tt.want)
				}
			}
		})
	}
}

func TestFit_Deterministic(t *testing.T) {
	X, y := stepData(120, 9)
	fit := func() []float64 {
		r, _ := New(LightGBM, DefaultParams(LightGBM, 42))
		m, err := r.Fit(X, y)
		if err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		return m.Predict(X[:10])
	}
	a, b := fit(), fit()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("prediction %d differs between identical fits: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestTree_Shapes(t *testing.T) {
	X, y := stepData(200, 4)
	tests := []struct {
		backend   Backend
		maxLeaves int
	}{
		{LightGBM, 31},
		{XGBoost, 64},
		{CatBoost, 64},
	}
	for _, tt := range tests {
		t.Run(string(tt.backend), func(t *testing.T) {
			p := DefaultParams(tt.backend, 42)
			p.Rounds = 5
			r, _ := New(tt.backend, p)
			m, err := r.Fit(X, y)
			if err != nil {
				t.Fatalf("Fit failed: %v", err)
			}
			for _, tree := range m.(*GBDT).Trees {
				if l := tree.Leaves(); l < 1 || l > tt.maxLeaves {
					t.Errorf("tree has %d leaves, max %d", l, tt.maxLeaves)
				}
			}
			if _, err := json.Marshal(m); err != nil {
				t.Errorf("model does not serialize: %v", err)
			}
		})
	}
}

func TestTune_PicksLowestMAE(t *testing.T) {
	Xtr, ytr := stepData(150, 11)
	Xva, yva := stepData(40, 12)
	base := DefaultParams(LightGBM, 42)
	base.Rounds = 50
	grid := LightGBMGrid(base)
	if len(grid) != 16 {
		t.Fatalf("grid size = %d, want 16", len(grid))
	}

	res, err := Tune(LightGBM, grid, Xtr, ytr, Xva, yva)
	if err != nil {
		t.Fatalf("Tune failed: %v", err)
	}
	if res.Tried != 16 {
		t.Errorf("tried %d grid points, want 16", res.Tried)
	}
	for _, p := range grid {
		r, _ := New(LightGBM, p)
		m, _ := r.Fit(Xtr, ytr)
		if mae := evaluation.MAE(yva, m.Predict(Xva)); mae < res.MAE-1e-12 {
			t.Errorf("grid point %+v beats the winner: %v < %v", p, mae, res.MAE)
		}
	}
}

func TestParseBackend(t *testing.T) {
	if b, err := ParseBackend(" LGBM "); err != nil || b != LightGBM {
		t.Errorf("ParseBackend(LGBM) = %v, %v", b, err)
	}
	if b, _ := ParseBackend(""); b != Auto {
		t.Errorf("empty backend should be auto, got %s", b)
	}
	if _, err := ParseBackend("svm"); err == nil {
		t.Error("expected an error for an unknown backend")
	}
}
