package ensemble

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"inbound-forecaster/pkg/logger"
	"inbound-forecaster/pkg/regressor"
)

const (
	KindStack    = "stack"
	KindStackOOF = "stackoof"
)

// Options configure stacking.
type Options struct {
	// Bases are the candidate base backends, in preference order.
	Bases []regressor.Backend
	// Params overrides per-backend hyperparameters.
	Params map[regressor.Backend]regressor.Params
	Seed   int64

	// ValidationDays is the tail length of the single-split stack.
	ValidationDays int
	// Splits is the number of forward-chaining folds of stackoof.
	Splits int
	// MinTrain is the shortest train prefix a fold may use.
	MinTrain int
	// MetaAlpha is the ridge penalty of the meta-model.
	MetaAlpha float64

	Logger     *logger.Logger
	OnFallback func(failed regressor.Backend, err error)
}

// DefaultOptions stacks LightGBM, XGBoost, CatBoost and absolute-loss GBR.
func DefaultOptions(seed int64) Options {
	return Options{
		Bases:          []regressor.Backend{regressor.LightGBM, regressor.XGBoost, regressor.CatBoost, regressor.GBR},
		Seed:           seed,
		ValidationDays: 28,
		Splits:         5,
		MinTrain:       56,
		MetaAlpha:      1.0,
	}
}

func (o *Options) log() *logger.Logger {
	if o.Logger == nil {
		return logger.NewNop()
	}
	return o.Logger
}

func (o *Options) params(b regressor.Backend) regressor.Params {
	if p, ok := o.Params[b]; ok {
		return p
	}
	return regressor.DefaultParams(b, o.Seed)
}

func (o *Options) fitBase(b regressor.Backend, X [][]float64, y []float64) (regressor.Model, error) {
	r, err := regressor.New(b, o.params(b))
	if err != nil {
		return nil, err
	}
	m, err := r.Fit(X, y)
	if err != nil && o.OnFallback != nil {
		o.OnFallback(b, err)
	}
	return m, err
}

// FitStack fits base models on all but the last ValidationDays rows, trains
// the meta-model on their tail predictions and refits the bases on every
// row. X rows must be in chronological order.
func FitStack(X [][]float64, y []float64, columns []string, opts Options) (Artifact, error) {
	log := opts.log().WithFields("method", KindStack)
	n := len(y)
	val := opts.ValidationDays
	if n-val < opts.MinTrain {
		val = n - opts.MinTrain
	}
	if val < 2 {
		log.Warnw("Not enough history for a validation tail, using a single base model", "rows", n)
		return fallbackSingle(X, y, columns, opts)
	}

	cut := n - val
	preds := make(map[regressor.Backend][]float64)
	for _, b := range opts.Bases {
		m, err := opts.fitBase(b, X[:cut], y[:cut])
		if err != nil {
			log.Warnw("Base model failed on train prefix", "backend", b, "error", err)
			continue
		}
		preds[b] = m.Predict(X[cut:])
	}

	var order []regressor.Backend
	for _, b := range opts.Bases {
		if _, ok := preds[b]; ok {
			order = append(order, b)
		}
	}
	return assemble(KindStack, X, y, columns, order, preds, y[cut:], opts)
}

// FitStackOOF builds out-of-fold base predictions with forward-chaining
// splits. Folds whose train prefix is shorter than MinTrain are skipped and
// only bases that fit in every retained fold feed the meta-model.
func FitStackOOF(X [][]float64, y []float64, columns []string, opts Options) (Artifact, error) {
	log := opts.log().WithFields("method", KindStackOOF)
	n := len(y)
	folds := ForwardChainingSplits(n, opts.Splits)

	var (
		common  sets.Set[string]
		oofRows []int
		oof     = make(map[regressor.Backend][]float64)
	)
	retained := 0
	for _, f := range folds {
		if f.TrainEnd < opts.MinTrain {
			log.Debugw("Skipping short fold", "train", f.TrainEnd, "min_train", opts.MinTrain)
			continue
		}
		ok := sets.New[string]()
		foldPreds := make(map[regressor.Backend][]float64)
		for _, b := range opts.Bases {
			m, err := opts.fitBase(b, X[:f.TrainEnd], y[:f.TrainEnd])
			if err != nil {
				log.Warnw("Base model failed in fold", "backend", b, "train", f.TrainEnd, "error", err)
				continue
			}
			foldPreds[b] = m.Predict(X[f.TrainEnd:f.TestEnd])
			ok.Insert(string(b))
		}
		if common == nil {
			common = ok
		} else {
			common = common.Intersection(ok)
		}
		for b, p := range foldPreds {
			if len(oof[b]) < len(oofRows) {
				// A base that missed an earlier fold can never be common.
				continue
			}
			oof[b] = append(oof[b], p...)
		}
		for i := f.TrainEnd; i < f.TestEnd; i++ {
			oofRows = append(oofRows, i)
		}
		retained++
	}

	if retained == 0 {
		log.Warnw("No fold has enough training rows, using a single base model", "rows", n, "min_train", opts.MinTrain)
		return fallbackSingle(X, y, columns, opts)
	}

	var order []regressor.Backend
	for _, b := range opts.Bases {
		if common.Has(string(b)) && len(oof[b]) == len(oofRows) {
			order = append(order, b)
		}
	}
	actual := make([]float64, len(oofRows))
	for i, r := range oofRows {
		actual[i] = y[r]
	}
	log.Infow("Out-of-fold predictions ready", "folds", retained, "rows", len(oofRows), "bases", len(order))
	return assemble(KindStackOOF, X, y, columns, order, oof, actual, opts)
}

// assemble refits the usable bases on all rows and trains the meta-model
// when at least two base columns exist.
func assemble(kind string, X [][]float64, y []float64, columns []string, order []regressor.Backend,
	held map[regressor.Backend][]float64, actual []float64, opts Options) (Artifact, error) {
	log := opts.log().WithFields("method", kind)

	st := &Stack{Kind: kind}
	for _, b := range order {
		m, err := opts.fitBase(b, X, y)
		if err != nil {
			log.Warnw("Base model failed on full history", "backend", b, "error", err)
			continue
		}
		st.Bases = append(st.Bases, Base{Name: string(b), Model: m, Columns: columns})
	}

	switch len(st.Bases) {
	case 0:
		log.Warn("No usable base model columns, using the first base that fits")
		return fallbackSingle(X, y, columns, opts)
	case 1:
		log.Infow("Single usable base model, meta-model skipped", "backend", st.Bases[0].Name)
		return st, nil
	}

	meta := make([][]float64, len(actual))
	for i := range meta {
		meta[i] = make([]float64, len(st.Bases))
		for j, b := range st.Bases {
			meta[i][j] = held[regressor.Backend(b.Name)][i]
		}
	}
	r, err := regressor.New(regressor.Ridge, regressor.Params{Lambda: opts.MetaAlpha})
	if err != nil {
		return nil, err
	}
	m, err := r.Fit(meta, actual)
	if err != nil {
		log.Warnw("Meta-model failed, using the first base model", "error", err)
		st.Bases = st.Bases[:1]
		return st, nil
	}
	st.Meta = m
	for _, b := range st.Bases {
		st.MetaOrder = append(st.MetaOrder, b.Name)
	}
	return st, nil
}

// fallbackSingle fits the first base that succeeds on all rows, ending
// with ridge.
func fallbackSingle(X [][]float64, y []float64, columns []string, opts Options) (Artifact, error) {
	c := &regressor.Chain{
		Backends:   append(append([]regressor.Backend(nil), opts.Bases...), regressor.Ridge),
		Params:     opts.Params,
		Seed:       opts.Seed,
		Logger:     opts.log(),
		OnFallback: opts.OnFallback,
	}
	if c.Params == nil {
		c.Params = map[regressor.Backend]regressor.Params{}
	}
	m, err := c.Fit(X, y)
	if err != nil {
		return nil, fmt.Errorf("stacking fallback: %w", err)
	}
	return &Single{Model: m, Columns: columns}, nil
}

// Fold is one forward-chaining split: train on [0, TrainEnd), test on
// [TrainEnd, TestEnd).
type Fold struct {
	TrainEnd int
	TestEnd  int
}

// ForwardChainingSplits divides n rows into splits equal test blocks at the
// end of the series, each trained on everything before it.
func ForwardChainingSplits(n, splits int) []Fold {
	if splits < 1 || n < splits+1 {
		return nil
	}
	size := n / (splits + 1)
	first := n - splits*size
	folds := make([]Fold, 0, splits)
	for k := 0; k < splits; k++ {
		start := first + k*size
		folds = append(folds, Fold{TrainEnd: start, TestEnd: start + size})
	}
	return folds
}
