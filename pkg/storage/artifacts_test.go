package storage

import (
	"path/filepath"
	"testing"
	"time"

	"inbound-forecaster/pkg/blend"
	"inbound-forecaster/pkg/ensemble"
	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/forecast"
	"inbound-forecaster/pkg/regressor"
)

func TestArtifactStore_SaveAndLoad(t *testing.T) {
	day := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	res := &forecast.Result{
		RunID:      "abc",
		Method:     forecast.MethodGBR,
		TrainStart: day.AddDate(0, 0, -89),
		TrainEnd:   day,
		Columns:    []string{"dow"},
		Targets: map[features.Target]*forecast.TargetSummary{
			features.TargetCount: {Model: "ridge", Blend: blend.Result{Alpha: 0.6}},
		},
		Artifacts: map[features.Target]ensemble.Artifact{
			features.TargetCount: &ensemble.Single{
				Model:   &regressor.RidgeModel{Intercept: 3, Coef: []float64{1.5}},
				Columns: []string{"dow"},
			},
		},
	}

	s := NewArtifactStore()
	path := filepath.Join(t.TempDir(), "models", "latest.json")
	if err := s.SaveToFile(path); err == nil {
		t.Error("expected an error when nothing was trained")
	}
	s.Put(res)
	if err := s.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded := NewArtifactStore()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	b := loaded.Bundle()
	if b == nil || b.RunID != "abc" || b.TrainTo != "2024-03-31" {
		t.Fatalf("unexpected bundle %+v", b)
	}
	e, ok := b.Targets["reserve_count"]
	if !ok || e.Alpha != 0.6 || e.Model != "ridge" {
		t.Errorf("unexpected entry %+v", e)
	}
	art, ok := e.Artifact.(map[string]any)
	if !ok || art["columns"] == nil {
		t.Errorf("artifact not decoded as an object: %#v", e.Artifact)
	}

	if err := NewArtifactStore().LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Errorf("missing file should not be an error: %v", err)
	}
}
