package reservation

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/width"
)

var parenthetical = regexp.MustCompile(`[（(][^）)]*[）)]`)

var dateLayouts = []string{
	"2006/1/2",
	"2006-1-2",
	"2006.1.2",
	"2006年1月2日",
	"2006/01/02",
	"2006-01-02",
}

// ParseDate converts a Shogun export date cell into a midnight UTC date.
// It strips weekday annotations such as "(水)", folds full-width digits,
// tries slash/dash/dot/kanji layouts and finally compact YYYYMMDD. The
// boolean is false when nothing matched.
func ParseDate(s string) (time.Time, bool) {
	s = parenthetical.ReplaceAllString(s, "")
	s = strings.TrimSpace(width.Fold.String(s))
	if s == "" {
		return time.Time{}, false
	}

	datePart := s
	if i := strings.IndexAny(datePart, " T"); i > 0 {
		datePart = datePart[:i]
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, datePart); err == nil {
			return truncateDay(t), true
		}
	}

	compact := strings.TrimSuffix(datePart, ".0")
	if len(compact) == 8 && isDigits(compact) {
		if t, err := time.Parse("20060102", compact); err == nil {
			return truncateDay(t), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
