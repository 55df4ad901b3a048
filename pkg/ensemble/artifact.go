package ensemble

import (
	"fmt"
	"strings"

	"inbound-forecaster/pkg/regressor"
)

// Design returns the model matrix for an ordered column list. Every model
// is evaluated on exactly the columns it was trained with.
type Design func(columns []string) ([][]float64, error)

// Artifact is a trained per-target model.
type Artifact interface {
	Predict(design Design) ([]float64, error)
	Describe() string
}

// Single is one regressor with its training columns.
type Single struct {
	Model   regressor.Model `json:"model"`
	Columns []string        `json:"columns"`
}

func (s *Single) Predict(design Design) ([]float64, error) {
	X, err := design(s.Columns)
	if err != nil {
		return nil, err
	}
	return s.Model.Predict(X), nil
}

func (s *Single) Describe() string { return string(s.Model.Backend()) }

// Base is one named member of a stack.
type Base struct {
	Name    string          `json:"name"`
	Model   regressor.Model `json:"model"`
	Columns []string        `json:"columns"`
}

// Stack combines base predictions with a ridge meta-model trained on
// held-out predictions. With no Meta the first base is used alone.
type Stack struct {
	Kind      string          `json:"kind"`
	Bases     []Base          `json:"bases"`
	Meta      regressor.Model `json:"meta,omitempty"`
	MetaOrder []string        `json:"meta_order,omitempty"`
}

func (s *Stack) Predict(design Design) ([]float64, error) {
	if len(s.Bases) == 0 {
		return nil, fmt.Errorf("%s: no base models", s.Kind)
	}
	preds := make(map[string][]float64, len(s.Bases))
	for _, b := range s.Bases {
		X, err := design(b.Columns)
		if err != nil {
			return nil, fmt.Errorf("%s base %s: %w", s.Kind, b.Name, err)
		}
		preds[b.Name] = b.Model.Predict(X)
	}
	if s.Meta == nil {
		return preds[s.Bases[0].Name], nil
	}

	n := len(preds[s.Bases[0].Name])
	meta := make([][]float64, n)
	for i := range meta {
		meta[i] = make([]float64, len(s.MetaOrder))
		for j, name := range s.MetaOrder {
			p, ok := preds[name]
			if !ok {
				return nil, fmt.Errorf("%s: meta input %s has no base model", s.Kind, name)
			}
			meta[i][j] = p[i]
		}
	}
	return s.Meta.Predict(meta), nil
}

func (s *Stack) Describe() string {
	names := make([]string, len(s.Bases))
	for i, b := range s.Bases {
		names[i] = b.Name
	}
	if s.Meta == nil {
		return fmt.Sprintf("%s(%s)", s.Kind, strings.Join(names, ","))
	}
	return fmt.Sprintf("%s(%s->ridge)", s.Kind, strings.Join(s.MetaOrder, ","))
}

// MatrixDesign serves a fixed matrix whose columns are named by all.
func MatrixDesign(X [][]float64, all []string) Design {
	pos := make(map[string]int, len(all))
	for i, c := range all {
		pos[c] = i
	}
	return func(columns []string) ([][]float64, error) {
		idx := make([]int, len(columns))
		for j, c := range columns {
			i, ok := pos[c]
			if !ok {
				return nil, fmt.Errorf("unknown feature column %q", c)
			}
			idx[j] = i
		}
		out := make([][]float64, len(X))
		for r, row := range X {
			out[r] = make([]float64, len(idx))
			for j, i := range idx {
				out[r][j] = row[i]
			}
		}
		return out, nil
	}
}
