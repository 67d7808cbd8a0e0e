package util

import "time"

// TradingCalendar answers which calendar dates are full NYSE trading
// sessions. Weekends and full-session holidays are closed; early-close days
// still count as trading days for daily-bar coverage purposes.
type TradingCalendar struct{}

// NewTradingCalendar returns the NYSE calendar.
func NewTradingCalendar() *TradingCalendar {
	return &TradingCalendar{}
}

// nyseHolidays lists full-session NYSE closures, 2020 through 2026.
// Observed dates are used where a holiday falls on a weekend.
var nyseHolidays = map[string]bool{
	// 2020
	"2020-01-01": true, "2020-01-20": true, "2020-02-17": true,
	"2020-04-10": true, "2020-05-25": true, "2020-07-03": true,
	"2020-09-07": true, "2020-11-26": true, "2020-12-25": true,
	// 2021
	"2021-01-01": true, "2021-01-18": true, "2021-02-15": true,
	"2021-04-02": true, "2021-05-31": true, "2021-07-05": true,
	"2021-09-06": true, "2021-11-25": true, "2021-12-24": true,
	// 2022
	"2022-01-17": true, "2022-02-21": true, "2022-04-15": true,
	"2022-05-30": true, "2022-06-20": true, "2022-07-04": true,
	"2022-09-05": true, "2022-11-24": true, "2022-12-26": true,
	// 2023
	"2023-01-02": true, "2023-01-16": true, "2023-02-20": true,
	"2023-04-07": true, "2023-05-29": true, "2023-06-19": true,
	"2023-07-04": true, "2023-09-04": true, "2023-11-23": true,
	"2023-12-25": true,
	// 2024
	"2024-01-01": true, "2024-01-15": true, "2024-02-19": true,
	"2024-03-29": true, "2024-05-27": true, "2024-06-19": true,
	"2024-07-04": true, "2024-09-02": true, "2024-11-28": true,
	"2024-12-25": true,
	// 2025
	"2025-01-01": true, "2025-01-09": true, "2025-01-20": true,
	"2025-02-17": true, "2025-04-18": true, "2025-05-26": true,
	"2025-06-19": true, "2025-07-04": true, "2025-09-01": true,
	"2025-11-27": true, "2025-12-25": true,
	// 2026
	"2026-01-01": true, "2026-01-19": true, "2026-02-16": true,
	"2026-04-03": true, "2026-05-25": true, "2026-06-19": true,
	"2026-07-03": true, "2026-09-07": true, "2026-11-26": true,
	"2026-12-25": true,
}

// IsTradingDay reports whether the UTC calendar date of t is an NYSE
// trading session.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	u := t.UTC()
	switch u.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !nyseHolidays[u.Format("2006-01-02")]
}

// NextTradingDay returns the first trading date strictly after t, at
// midnight UTC.
func (tc *TradingCalendar) NextTradingDay(t time.Time) time.Time {
	u := t.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	for {
		d = d.AddDate(0, 0, 1)
		if tc.IsTradingDay(d) {
			return d
		}
	}
}

// TradingDays enumerates every trading date in [start, end], inclusive, at
// midnight UTC in ascending order.
func (tc *TradingCalendar) TradingDays(start, end time.Time) []time.Time {
	s := start.UTC()
	e := end.UTC()
	d := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC)

	var days []time.Time
	for !d.After(last) {
		if tc.IsTradingDay(d) {
			days = append(days, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return days
}

// LatestFinishedTradingDay returns the most recent trading date whose
// session has fully closed as of now (UTC). A session is treated as closed
// after 21:00 UTC, past the 16:00 ET close in either DST regime.
func (tc *TradingCalendar) LatestFinishedTradingDay(now time.Time) time.Time {
	u := now.UTC()
	d := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	if !tc.IsTradingDay(d) || u.Hour() < 21 {
		d = d.AddDate(0, 0, -1)
	}
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
