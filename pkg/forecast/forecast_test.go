package forecast

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/holiday"
	"inbound-forecaster/pkg/regressor"
	"inbound-forecaster/pkg/reservation"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func syntheticRecords(days int) []reservation.DailyRecord {
	rng := rand.New(rand.NewSource(1))
	start := date("2024-01-01")
	recs := make([]reservation.DailyRecord, 0, days)
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		base := 30.0
		if features.Weekday(d) >= 5 {
			base = 8
		}
		count := math.Round(base + rng.Float64()*6)
		recs = append(recs, reservation.DailyRecord{
			Date:         d,
			ReserveCount: count,
			ReserveSum:   count * 2.5,
			FixedRatio:   0.3 + 0.2*rng.Float64(),
		})
	}
	return recs
}

func fastConfig(method Method) Config {
	cfg := DefaultConfig()
	cfg.Method = method
	cfg.Calendar = holiday.Japan()
	cfg.Params = map[regressor.Backend]regressor.Params{}
	for _, b := range []regressor.Backend{regressor.LightGBM, regressor.XGBoost, regressor.CatBoost, regressor.GBR} {
		p := regressor.DefaultParams(b, cfg.RandomState)
		p.Rounds = 40
		cfg.Params[b] = p
	}
	return cfg
}

func checkRows(t *testing.T, rows []Row, start time.Time, days int) {
	t.Helper()
	if len(rows) != days {
		t.Fatalf("got %d rows, want %d", len(rows), days)
	}
	for i, r := range rows {
		if want := start.AddDate(0, 0, i); !r.Date.Equal(want) {
			t.Errorf("row %d date %s, want %s", i, r.Date.Format(dateLayout), want.Format(dateLayout))
		}
		for _, tgt := range features.Targets {
			v := r.Value(tgt)
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				t.Errorf("%s %s = %v out of bounds", r.Date.Format(dateLayout), tgt, v)
			}
		}
		if r.FixedRatio > 1 {
			t.Errorf("fixed ratio %v above 1", r.FixedRatio)
		}
	}
}

func TestRun_EndToEndGBRNoBlend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = MethodGBR
	cfg.BlendNaive = false
	cfg.Horizon = Horizon{FutureDays: 7}

	res, err := New(cfg, nil).Run(context.Background(), syntheticRecords(90))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	checkRows(t, res.Rows, date("2024-03-31"), 7)
	for _, tgt := range features.Targets {
		if res.Alpha(tgt) != 1 {
			t.Errorf("%s alpha = %v without blending, want 1", tgt, res.Alpha(tgt))
		}
		if res.Targets[tgt].Model != string(regressor.GBR) {
			t.Errorf("%s model = %s, want gbr", tgt, res.Targets[tgt].Model)
		}
	}
	if res.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestRun_Deterministic(t *testing.T) {
	cfg := fastConfig(MethodLGBM)
	cfg.Horizon = Horizon{FutureDays: 5}
	recs := syntheticRecords(100)

	a, err := New(cfg, nil).Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	b, err := New(cfg, nil).Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ManualString(a.Rows) != ManualString(b.Rows) {
		t.Errorf("identical runs differ:\n%s\n%s", ManualString(a.Rows), ManualString(b.Rows))
	}
	for _, tgt := range features.Targets {
		if a.Alpha(tgt) != b.Alpha(tgt) {
			t.Errorf("%s alpha differs: %v vs %v", tgt, a.Alpha(tgt), b.Alpha(tgt))
		}
	}
}

func TestRun_BlendLearnsAlphaInRange(t *testing.T) {
	cfg := fastConfig(MethodAuto)
	cfg.LeakAudit = true

	res, err := New(cfg, nil).Run(context.Background(), syntheticRecords(120))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	checkRows(t, res.Rows, date("2024-04-30"), DefaultHorizonDays)
	for _, tgt := range features.Targets {
		s := res.Targets[tgt]
		if s.Blend.Alpha < 0 || s.Blend.Alpha > 1 {
			t.Errorf("%s alpha %v outside [0,1]", tgt, s.Blend.Alpha)
		}
		if s.Blend.Defaulted {
			t.Errorf("%s alpha defaulted with a 28-day tail", tgt)
		}
	}
	if res.Audit == nil || len(res.Audit.Dates) != cfg.LeakAuditSamples {
		t.Errorf("expected an audit over %d dates", cfg.LeakAuditSamples)
	}
}

func TestRun_RowsComposeModelAndBaseline(t *testing.T) {
	cfg := fastConfig(MethodLGBM)
	cfg.Horizon = Horizon{FutureDays: 5}

	res, err := New(cfg, nil).Run(context.Background(), syntheticRecords(100))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Details) != len(res.Rows) {
		t.Fatalf("%d details for %d rows", len(res.Details), len(res.Rows))
	}
	for i, row := range res.Rows {
		d := res.Details[i]
		for _, tgt := range features.Targets {
			a := res.Alpha(tgt)
			want := tgt.Clip(a*d.Model[tgt] + (1-a)*d.Naive[tgt])
			if math.Abs(row.Value(tgt)-want) > 1e-9 {
				t.Errorf("%s %s = %v, want %v", row.Date.Format(dateLayout), tgt, row.Value(tgt), want)
			}
			switch a {
			case 1:
				if row.Value(tgt) != d.Model[tgt] {
					t.Errorf("alpha 1 must return the model output")
				}
			case 0:
				if row.Value(tgt) != tgt.Clip(d.Naive[tgt]) {
					t.Errorf("alpha 0 must return the baseline")
				}
			}
		}
	}
}

func TestRun_TrainEndAndExplicitRange(t *testing.T) {
	cfg := fastConfig(MethodXGB)
	cfg.TrainEnd = date("2024-03-15")
	cfg.Horizon = Horizon{Start: date("2024-03-18"), End: date("2024-03-20")}

	res, err := New(cfg, nil).Run(context.Background(), syntheticRecords(100))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.TrainEnd.Equal(cfg.TrainEnd) {
		t.Errorf("train end = %s, want 2024-03-15", res.TrainEnd.Format(dateLayout))
	}
	checkRows(t, res.Rows, date("2024-03-18"), 3)
}

func TestRun_StackMethods(t *testing.T) {
	for _, m := range []Method{MethodStack, MethodStackOOF} {
		t.Run(string(m), func(t *testing.T) {
			cfg := fastConfig(m)
			cfg.BlendNaive = false
			cfg.Horizon = Horizon{FutureDays: 3}
			res, err := New(cfg, nil).Run(context.Background(), syntheticRecords(160))
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			checkRows(t, res.Rows, date("2024-06-09"), 3)
			if !strings.HasPrefix(res.Targets[features.TargetCount].Model, string(m)) {
				t.Errorf("unexpected model description %q", res.Targets[features.TargetCount].Model)
			}
		})
	}
}

func TestRun_EmptyHistory(t *testing.T) {
	_, err := New(DefaultConfig(), nil).Run(context.Background(), nil)
	if !errors.Is(err, ErrEmptyHistory) {
		t.Errorf("expected ErrEmptyHistory, got %v", err)
	}
}

func TestHorizon_Resolve(t *testing.T) {
	last := date("2024-03-31")
	tests := []struct {
		name      string
		h         Horizon
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{"default week", Horizon{}, "2024-04-01", "2024-04-07", false},
		{"future days", Horizon{FutureDays: 3}, "2024-04-01", "2024-04-03", false},
		{"explicit range", Horizon{Start: date("2024-04-10"), End: date("2024-04-12")}, "2024-04-10", "2024-04-12", false},
		{"end only", Horizon{End: date("2024-04-02")}, "2024-04-01", "2024-04-02", false},
		{"start only", Horizon{Start: date("2024-05-01")}, "2024-05-01", "2024-05-07", false},
		{"both forms", Horizon{FutureDays: 3, Start: date("2024-04-10")}, "", "", true},
		{"reversed", Horizon{Start: date("2024-04-10"), End: date("2024-04-09")}, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := tt.h.Resolve(last)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidHorizon) {
					t.Errorf("expected ErrInvalidHorizon, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if start.Format(dateLayout) != tt.wantStart || end.Format(dateLayout) != tt.wantEnd {
				t.Errorf("got %s..%s, want %s..%s", start.Format(dateLayout), end.Format(dateLayout), tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestManualString(t *testing.T) {
	rows := []Row{
		{Date: date("2024-04-01"), ReserveCount: 12.4, ReserveSum: 30.456, FixedRatio: 0.33333},
		{Date: date("2024-04-02"), ReserveCount: 0, ReserveSum: 0, FixedRatio: 1},
	}
	want := "2024-04-01=12,30.46,0.333;2024-04-02=0,0.00,1.000"
	if got := ManualString(rows); got != want {
		t.Errorf("ManualString = %q, want %q", got, want)
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod("StackOOF"); err != nil || m != MethodStackOOF {
		t.Errorf("ParseMethod(StackOOF) = %v, %v", m, err)
	}
	if _, err := ParseMethod("prophet"); err == nil {
		t.Error("expected an error for an unknown method")
	}
}

func TestBacktest(t *testing.T) {
	cfg := fastConfig(MethodGBR)
	bt, err := New(cfg, nil).Backtest(context.Background(), syntheticRecords(110), BacktestConfig{Folds: 2, Step: 7, Horizon: 7})
	if err != nil {
		t.Fatalf("Backtest failed: %v", err)
	}
	if len(bt.Folds) != 2 {
		t.Fatalf("got %d folds, want 2", len(bt.Folds))
	}
	if !bt.Folds[1].Cutoff.After(bt.Folds[0].Cutoff) {
		t.Error("cutoffs should increase")
	}
	for _, tgt := range features.Targets {
		s := bt.Overall[tgt]
		if s.Model.N != 14 || s.Naive.N != 14 || s.Blend.N != 14 {
			t.Errorf("%s scored %d/%d/%d points, want 14", tgt, s.Model.N, s.Naive.N, s.Blend.N)
		}
	}
}
