package features

import (
	"math"
	"time"

	"inbound-forecaster/pkg/holiday"
)

// CalendarColumns are the calendar feature names in frame order.
var CalendarColumns = []string{
	"dow", "iso_week", "month", "day", "day_of_year",
	"is_weekend", "is_holiday", "near_weekend",
	"dow_sin", "dow_cos", "woy_sin", "woy_cos",
	"month_sin", "month_cos", "dom_sin", "dom_cos", "doy_sin", "doy_cos",
	"is_month_start", "is_month_end", "is_workday",
	"holiday_x_workday", "holiday_x_weekend", "pre_holiday", "post_holiday",
}

// Weekday returns Monday=0 ... Sunday=6.
func Weekday(d time.Time) int {
	return (int(d.Weekday()) + 6) % 7
}

// CalendarRow computes the calendar features of d. It depends on nothing
// but the date and the holiday calendar.
func CalendarRow(d time.Time, cal holiday.Calendar) []float64 {
	if cal == nil {
		cal = holiday.None{}
	}

	dow := Weekday(d)
	_, week := d.ISOWeek()
	month := int(d.Month())
	day := d.Day()
	doy := d.YearDay()
	daysInMonth := time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()

	weekend := dow >= 5
	hol := cal.IsHoliday(d)
	near := weekend || dow == 0 || dow == 4
	workday := !weekend && !hol

	return []float64{
		float64(dow),
		float64(week),
		float64(month),
		float64(day),
		float64(doy),
		b2f(weekend),
		b2f(hol),
		b2f(near),
		math.Sin(2 * math.Pi * float64(dow) / 7),
		math.Cos(2 * math.Pi * float64(dow) / 7),
		math.Sin(2 * math.Pi * float64(week) / 52),
		math.Cos(2 * math.Pi * float64(week) / 52),
		math.Sin(2 * math.Pi * float64(month-1) / 12),
		math.Cos(2 * math.Pi * float64(month-1) / 12),
		math.Sin(2 * math.Pi * float64(day-1) / float64(daysInMonth)),
		math.Cos(2 * math.Pi * float64(day-1) / float64(daysInMonth)),
		math.Sin(2 * math.Pi * float64(doy-1) / 365.25),
		math.Cos(2 * math.Pi * float64(doy-1) / 365.25),
		b2f(day == 1),
		b2f(day == daysInMonth),
		b2f(workday),
		b2f(hol && !weekend),
		b2f(hol && weekend),
		b2f(cal.IsHoliday(d.AddDate(0, 0, 1))),
		b2f(cal.IsHoliday(d.AddDate(0, 0, -1))),
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
