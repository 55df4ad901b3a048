package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"inbound-forecaster/pkg/features"
	"inbound-forecaster/pkg/forecast"
)

// Entry is the stored model of one target.
type Entry struct {
	Model     string  `json:"model"`
	Alpha     float64 `json:"alpha"`
	Defaulted bool    `json:"alpha_defaulted"`
	// Artifact is the fitted model. After LoadFromFile it holds the decoded
	// JSON object rather than a typed model.
	Artifact any `json:"artifact"`
}

// Bundle is everything trained in one run.
type Bundle struct {
	RunID     string           `json:"run_id"`
	Method    string           `json:"method"`
	SavedAt   time.Time        `json:"saved_at"`
	TrainFrom string           `json:"train_from"`
	TrainTo   string           `json:"train_to"`
	Columns   []string         `json:"columns"`
	Targets   map[string]Entry `json:"targets"`
}

// ArtifactStore keeps the latest trained bundle in memory and dumps it as
// JSON on request.
type ArtifactStore struct {
	mu     sync.RWMutex // guards bundle
	bundle *Bundle
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{}
}

// Put replaces the stored bundle with the artifacts of res.
func (s *ArtifactStore) Put(res *forecast.Result) {
	b := &Bundle{
		RunID:     res.RunID,
		Method:    string(res.Method),
		SavedAt:   time.Now().UTC(),
		TrainFrom: res.TrainStart.Format(time.DateOnly),
		TrainTo:   res.TrainEnd.Format(time.DateOnly),
		Columns:   res.Columns,
		Targets:   make(map[string]Entry, len(features.Targets)),
	}
	for _, t := range features.Targets {
		art, ok := res.Artifacts[t]
		if !ok {
			continue
		}
		e := Entry{Artifact: art, Alpha: res.Alpha(t)}
		if s, ok := res.Targets[t]; ok {
			e.Model = s.Model
			e.Defaulted = s.Blend.Defaulted
		}
		b.Targets[string(t)] = e
	}

	s.mu.Lock()
	s.bundle = b
	s.mu.Unlock()
}

// Bundle returns the stored bundle, nil when empty.
func (s *ArtifactStore) Bundle() *Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bundle
}

// SaveToFile writes the bundle as indented JSON, creating the directory.
func (s *ArtifactStore) SaveToFile(filename string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bundle == nil {
		return fmt.Errorf("no trained models to save")
	}

	data, err := json.MarshalIndent(s.bundle, "", " ")
	if err != nil {
		return fmt.Errorf("encode models: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

// LoadFromFile reads a bundle written by SaveToFile. A missing file leaves
// the store empty.
func (s *ArtifactStore) LoadFromFile(filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	s.bundle = &b
	return nil
}
