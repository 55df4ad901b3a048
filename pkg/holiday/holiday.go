package holiday

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Calendar reports whether a calendar date is a non-working holiday.
type Calendar interface {
	IsHoliday(t time.Time) bool
	Name() string
}

// None is the degraded calendar: every day is a regular day.
type None struct{}

func (None) IsHoliday(time.Time) bool { return false }
func (None) Name() string             { return "none" }

// Static holds an explicit list of dates, typically company closures read
// from configuration.
type Static struct {
	days map[civilDate]struct{}
}

// NewStatic parses YYYY-MM-DD strings into a Static calendar.
func NewStatic(dates []string) (*Static, error) {
	s := &Static{days: make(map[civilDate]struct{}, len(dates))}
	for _, d := range dates {
		t, err := time.Parse("2006-01-02", strings.TrimSpace(d))
		if err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", d, err)
		}
		s.days[dateOf(t)] = struct{}{}
	}
	return s, nil
}

func (s *Static) IsHoliday(t time.Time) bool {
	_, ok := s.days[dateOf(t)]
	return ok
}

func (s *Static) Name() string { return "static" }

// Union is a holiday on any member calendar.
type Union []Calendar

func (u Union) IsHoliday(t time.Time) bool {
	for _, c := range u {
		if c.IsHoliday(t) {
			return true
		}
	}
	return false
}

func (u Union) Name() string {
	names := make([]string, len(u))
	for i, c := range u {
		names[i] = c.Name()
	}
	return strings.Join(names, "+")
}

// ByName returns the calendar registered under name ("jp" or "none").
func ByName(name string) (Calendar, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "jp", "japan":
		return Japan(), nil
	case "none", "off":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown holiday calendar %q", name)
	}
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

// JapanCalendar implements the national holidays of Japan (国民の祝日)
// including substitute holidays (振替休日) and citizens' holidays
// (国民の休日). Rules are valid from 1980 through 2099; years are computed
// lazily and memoized.
type JapanCalendar struct {
	mu    sync.Mutex
	years map[int]map[civilDate]string
}

// Japan returns a fresh Japanese national holiday calendar.
func Japan() *JapanCalendar {
	return &JapanCalendar{years: make(map[int]map[civilDate]string)}
}

func (j *JapanCalendar) Name() string { return "jp" }

func (j *JapanCalendar) IsHoliday(t time.Time) bool {
	_, ok := j.HolidayName(t)
	return ok
}

// HolidayName returns the holiday's name for t, if any.
func (j *JapanCalendar) HolidayName(t time.Time) (string, bool) {
	d := dateOf(t)
	j.mu.Lock()
	defer j.mu.Unlock()
	days, ok := j.years[d.year]
	if !ok {
		days = japaneseHolidays(d.year)
		j.years[d.year] = days
	}
	name, ok := days[d]
	return name, ok
}

func japaneseHolidays(year int) map[civilDate]string {
	h := make(map[civilDate]string)
	add := func(m time.Month, day int, name string) {
		h[civilDate{year, m, day}] = name
	}

	add(time.January, 1, "元日")
	if year >= 2000 {
		add(time.January, nthMonday(year, time.January, 2), "成人の日")
	} else {
		add(time.January, 15, "成人の日")
	}
	add(time.February, 11, "建国記念の日")
	switch {
	case year >= 2020:
		add(time.February, 23, "天皇誕生日")
	case year >= 1989 && year <= 2018:
		add(time.December, 23, "天皇誕生日")
	}
	add(time.March, vernalEquinox(year), "春分の日")
	switch {
	case year >= 2007:
		add(time.April, 29, "昭和の日")
		add(time.May, 4, "みどりの日")
	case year >= 1989:
		add(time.April, 29, "みどりの日")
	default:
		add(time.April, 29, "天皇誕生日")
	}
	add(time.May, 3, "憲法記念日")
	add(time.May, 5, "こどもの日")

	switch year {
	case 2020:
		add(time.July, 23, "海の日")
		add(time.July, 24, "スポーツの日")
		add(time.August, 10, "山の日")
	case 2021:
		add(time.July, 22, "海の日")
		add(time.July, 23, "スポーツの日")
		add(time.August, 8, "山の日")
	default:
		switch {
		case year >= 2003:
			add(time.July, nthMonday(year, time.July, 3), "海の日")
		case year >= 1996:
			add(time.July, 20, "海の日")
		}
		if year >= 2016 {
			add(time.August, 11, "山の日")
		}
		switch {
		case year >= 2020:
			add(time.October, nthMonday(year, time.October, 2), "スポーツの日")
		case year >= 2000:
			add(time.October, nthMonday(year, time.October, 2), "体育の日")
		default:
			add(time.October, 10, "体育の日")
		}
	}

	if year >= 2003 {
		add(time.September, nthMonday(year, time.September, 3), "敬老の日")
	} else {
		add(time.September, 15, "敬老の日")
	}
	add(time.September, autumnalEquinox(year), "秋分の日")
	add(time.November, 3, "文化の日")
	add(time.November, 23, "勤労感謝の日")

	if year == 2019 {
		add(time.May, 1, "天皇の即位の日")
		add(time.October, 22, "即位礼正殿の儀の行われる日")
	}

	// 国民の休日: a weekday sandwiched between two holidays.
	if year >= 1986 {
		start := time.Date(year, time.January, 2, 0, 0, 0, 0, time.UTC)
		for d := start; d.Year() == year; d = d.AddDate(0, 0, 1) {
			cd := dateOf(d)
			if _, ok := h[cd]; ok || d.Weekday() == time.Sunday {
				continue
			}
			_, prev := h[dateOf(d.AddDate(0, 0, -1))]
			_, next := h[dateOf(d.AddDate(0, 0, 1))]
			if prev && next {
				h[cd] = "国民の休日"
			}
		}
	}

	// 振替休日: a holiday falling on Sunday moves to the next non-holiday.
	if year >= 1973 {
		var subs []civilDate
		for cd := range h {
			t := time.Date(cd.year, cd.month, cd.day, 0, 0, 0, 0, time.UTC)
			if t.Weekday() != time.Sunday {
				continue
			}
			next := t.AddDate(0, 0, 1)
			for {
				if _, ok := h[dateOf(next)]; !ok {
					break
				}
				next = next.AddDate(0, 0, 1)
			}
			if next.Year() == year {
				subs = append(subs, dateOf(next))
			}
		}
		for _, s := range subs {
			h[s] = "振替休日"
		}
	}

	return h
}

func nthMonday(year int, month time.Month, n int) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(time.Monday) - int(first.Weekday()) + 7) % 7
	return 1 + offset + 7*(n-1)
}

func vernalEquinox(year int) int {
	y := float64(year - 1980)
	return int(math.Floor(20.8431 + 0.242194*y - math.Floor(y/4)))
}

func autumnalEquinox(year int) int {
	y := float64(year - 1980)
	return int(math.Floor(23.2488 + 0.242194*y - math.Floor(y/4)))
}
