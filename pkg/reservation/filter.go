package reservation

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// RowFilter is a compiled boolean expression evaluated against every raw
// reservation row, e.g. `row["状態"] != "キャンセル" && count > 0`.
//
// The expression sees:
//
//	date  time.Time          parsed reservation date
//	count float64            parsed quantity (1 when the column is absent)
//	fixed bool               parsed fixed-customer flag
//	row   map[string]string  raw cells keyed by header
type RowFilter struct {
	source  string
	program *vm.Program
}

// NewRowFilter compiles source. An empty source yields a nil filter that
// keeps every row.
func NewRowFilter(source string) (*RowFilter, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, nil
	}

	program, err := expr.Compile(source, expr.Env(filterEnv{}.sample()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile row filter %q: %w", source, err)
	}
	return &RowFilter{source: source, program: program}, nil
}

// Source returns the original expression text.
func (f *RowFilter) Source() string {
	if f == nil {
		return ""
	}
	return f.source
}

// keep reports whether the row passes the filter. A nil filter keeps all.
func (f *RowFilter) keep(env filterEnv) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, env.toMap())
	if err != nil {
		return false, fmt.Errorf("evaluate row filter %q: %w", f.source, err)
	}
	keep, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("row filter %q returned %T, want bool", f.source, out)
	}
	return keep, nil
}

type filterEnv struct {
	date  time.Time
	count float64
	fixed bool
	row   map[string]string
}

func (filterEnv) sample() map[string]interface{} {
	return map[string]interface{}{
		"date":  time.Time{},
		"count": 0.0,
		"fixed": false,
		"row":   map[string]string{},
	}
}

func (e filterEnv) toMap() map[string]interface{} {
	return map[string]interface{}{
		"date":  e.date,
		"count": e.count,
		"fixed": e.fixed,
		"row":   e.row,
	}
}
