package reservation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
	"k8s.io/apimachinery/pkg/util/sets"
)

// ErrDateColumnNotFound is returned when no header matches the date column.
var ErrDateColumnNotFound = errors.New("reservation date column not found")

// ColumnSpec names a logical column and the header aliases accepted for it.
type ColumnSpec struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Candidates returns the name followed by the aliases, blanks removed.
func (c ColumnSpec) Candidates() []string {
	out := make([]string, 0, len(c.Aliases)+1)
	for _, s := range append([]string{c.Name}, c.Aliases...) {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// Default column specs, matching the Shogun reservation export headers.
var (
	DefaultDateColumn = ColumnSpec{
		Name:    "予約日",
		Aliases: []string{"予約日付", "搬入予定日", "日付", "reserve_date", "reservation_date", "date"},
	}
	DefaultCountColumn = ColumnSpec{
		Name:    "台数",
		Aliases: []string{"予約台数", "件数", "vehicle_count", "reserve_count", "qty", "quantity", "count"},
	}
	DefaultFixedColumn = ColumnSpec{
		Name:    "固定客",
		Aliases: []string{"固定客フラグ", "固定", "is_fixed_customer", "is_fixed", "fixed"},
	}
)

// ColumnMap holds resolved header indexes; -1 marks an absent column.
type ColumnMap struct {
	Date  int
	Count int
	Fixed int
}

// NormalizeKey folds a header or alias into its comparison form: NFKC,
// full-width folded, lower-case, without spaces, underscores, brackets or
// punctuation.
func NormalizeKey(s string) string {
	s = norm.NFKC.String(width.Fold.String(s))
	s = strings.TrimPrefix(s, "\ufeff")
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ResolveColumns maps the three logical columns onto header indexes. Each
// lookup tries the exact header, then the normalized name and aliases, then
// a normalized prefix match. Only a missing date column is an error.
func ResolveColumns(header []string, date, count, fixed ColumnSpec) (ColumnMap, error) {
	index := make([]string, len(header))
	for i, h := range header {
		index[i] = NormalizeKey(h)
	}

	taken := sets.New[int]()
	m := ColumnMap{Date: -1, Count: -1, Fixed: -1}

	m.Date = lookup(header, index, date, taken)
	if m.Date < 0 {
		return m, fmt.Errorf("%w: tried %v in header %v", ErrDateColumnNotFound, date.Candidates(), header)
	}
	taken.Insert(m.Date)

	if m.Count = lookup(header, index, count, taken); m.Count >= 0 {
		taken.Insert(m.Count)
	}
	if m.Fixed = lookup(header, index, fixed, taken); m.Fixed >= 0 {
		taken.Insert(m.Fixed)
	}
	return m, nil
}

func lookup(header, index []string, spec ColumnSpec, taken sets.Set[int]) int {
	if spec.Name != "" {
		for i, h := range header {
			if h == spec.Name && !taken.Has(i) {
				return i
			}
		}
	}

	keys := make([]string, 0, len(spec.Candidates()))
	for _, c := range spec.Candidates() {
		if k := NormalizeKey(c); k != "" {
			keys = append(keys, k)
		}
	}

	for _, k := range keys {
		for i, h := range index {
			if h == k && !taken.Has(i) {
				return i
			}
		}
	}
	for _, k := range keys {
		for i, h := range index {
			if strings.HasPrefix(h, k) && !taken.Has(i) {
				return i
			}
		}
	}
	return -1
}
