package ensemble

import (
	"math"
	"math/rand"
	"testing"

	"inbound-forecaster/pkg/evaluation"
	"inbound-forecaster/pkg/regressor"
)

func seriesData(n int, seed int64) ([][]float64, []float64, []string) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := range X {
		dow := float64(i % 7)
		noise := rng.Float64()
		X[i] = []float64{dow, float64(i), noise}
		y[i] = 10 + 3*dow + noise
	}
	return X, y, []string{"dow", "t", "noise"}
}

func fastOptions() Options {
	opts := DefaultOptions(42)
	opts.Params = map[regressor.Backend]regressor.Params{}
	for _, b := range opts.Bases {
		p := regressor.DefaultParams(b, 42)
		p.Rounds = 60
		opts.Params[b] = p
	}
	return opts
}

func TestForwardChainingSplits(t *testing.T) {
	folds := ForwardChainingSplits(100, 4)
	if len(folds) != 4 {
		t.Fatalf("got %d folds, want 4", len(folds))
	}
	if folds[0].TrainEnd != 20 || folds[3].TestEnd != 100 {
		t.Errorf("unexpected folds %+v", folds)
	}
	for i := 1; i < len(folds); i++ {
		if folds[i].TrainEnd != folds[i-1].TestEnd {
			t.Errorf("fold %d does not chain: %+v", i, folds)
		}
	}
	if ForwardChainingSplits(3, 5) != nil {
		t.Error("expected no folds for a tiny series")
	}
}

func TestFitStack_TrainsMeta(t *testing.T) {
	X, y, cols := seriesData(150, 1)
	art, err := FitStack(X, y, cols, fastOptions())
	if err != nil {
		t.Fatalf("FitStack failed: %v", err)
	}
	st, ok := art.(*Stack)
	if !ok {
		t.Fatalf("expected *Stack, got %T", art)
	}
	if st.Meta == nil || len(st.MetaOrder) < 2 {
		t.Fatalf("expected a meta-model over >= 2 bases, got %s", st.Describe())
	}
	pred, err := art.Predict(MatrixDesign(X, cols))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for i, v := range pred {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("prediction %d is not finite: %v", i, v)
		}
	}
	if mae := evaluation.MAE(y, pred); mae > 2 {
		t.Errorf("in-sample MAE too high: %.3f", mae)
	}
}

func TestFitStackOOF_SkipsShortFolds(t *testing.T) {
	X, y, cols := seriesData(120, 2)
	opts := fastOptions()
	opts.MinTrain = 60

	art, err := FitStackOOF(X, y, cols, opts)
	if err != nil {
		t.Fatalf("FitStackOOF failed: %v", err)
	}
	st, ok := art.(*Stack)
	if !ok || st.Kind != KindStackOOF {
		t.Fatalf("expected a stackoof Stack, got %T", art)
	}
	for _, b := range st.Bases {
		if len(b.Columns) != len(cols) {
			t.Errorf("base %s lost its training columns", b.Name)
		}
	}
}

func TestFitStackOOF_DropsBaseMissingAFold(t *testing.T) {
	X, y, cols := seriesData(120, 3)
	opts := fastOptions()
	opts.MinTrain = 20
	// CatBoost needs more rows than the first retained fold offers.
	p := opts.Params[regressor.CatBoost]
	p.MinSamplesLeaf = 15
	opts.Params[regressor.CatBoost] = p

	var failed []regressor.Backend
	opts.OnFallback = func(b regressor.Backend, err error) { failed = append(failed, b) }

	art, err := FitStackOOF(X, y, cols, opts)
	if err != nil {
		t.Fatalf("FitStackOOF failed: %v", err)
	}
	st := art.(*Stack)
	for _, name := range st.MetaOrder {
		if name == string(regressor.CatBoost) {
			t.Errorf("cat failed a fold but still feeds the meta-model: %v", st.MetaOrder)
		}
	}
	if len(failed) == 0 {
		t.Error("expected the failing fold to be reported")
	}
}

func TestFitStack_SingleBaseSkipsMeta(t *testing.T) {
	X, y, cols := seriesData(100, 4)
	opts := fastOptions()
	opts.Bases = []regressor.Backend{regressor.GBR}

	art, err := FitStack(X, y, cols, opts)
	if err != nil {
		t.Fatalf("FitStack failed: %v", err)
	}
	st := art.(*Stack)
	if st.Meta != nil || len(st.Bases) != 1 {
		t.Errorf("expected one base without meta, got %s", st.Describe())
	}
}

func TestFitStackOOF_NoUsableFoldFallsBack(t *testing.T) {
	X, y, cols := seriesData(30, 5)
	opts := fastOptions()
	opts.MinTrain = 1000

	art, err := FitStackOOF(X, y, cols, opts)
	if err != nil {
		t.Fatalf("FitStackOOF failed: %v", err)
	}
	single, ok := art.(*Single)
	if !ok {
		t.Fatalf("expected a Single fallback, got %T", art)
	}
	if single.Model.Backend() != regressor.LightGBM {
		t.Errorf("expected the first base backend, got %s", single.Model.Backend())
	}
	pred, err := art.Predict(MatrixDesign(X, cols))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	for _, v := range pred {
		if math.IsNaN(v) {
			t.Fatal("fallback produced NaN")
		}
	}
}

func TestMatrixDesign_UnknownColumn(t *testing.T) {
	X, _, cols := seriesData(5, 6)
	if _, err := MatrixDesign(X, cols)([]string{"missing"}); err == nil {
		t.Error("expected an error for an unknown column")
	}
}
